package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const fileExt = ".json"

// FileStore persists each key as one file in a directory. Writes go to a
// temporary file that is renamed over the target, so readers never observe a
// partially written value.
type FileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OpenFileStore opens (creating if needed) a directory-backed store
func OpenFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("kv directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create kv directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Key/value store opened")

	return &FileStore{
		dir:   dir,
		cache: make(map[string]string),
	}, nil
}

// Dir returns the backing directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *FileStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return v, true, nil
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = string(data)
	s.mu.Unlock()

	return string(data), true, nil
}

func (s *FileStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync key %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}

	// Cache before rename so the watcher recognises the resulting event as our own
	s.cache[key] = value
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		delete(s.cache, key)
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace key %s: %w", key, err)
	}

	return nil
}

func (s *FileStore) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, key)
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list kv directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if key, ok := keyFromFile(entry.Name()); ok && !entry.IsDir() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// keyFromFile maps a directory entry name back to its key, skipping temp files
func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, fileExt)
	if validateKey(key) != nil {
		return "", false
	}
	return key, true
}

// Watch starts observing the directory for edits made by other processes.
// onChange is called with the key whenever a value changes or disappears
// without going through this store. Calling Watch twice is a no-op.
func (s *FileStore) Watch(onChange func(key string)) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = w
	s.cancel = cancel

	s.wg.Add(1)
	go s.eventLoop(ctx, w, onChange)

	log.Debug().Str("dir", s.dir).Msg("Watching key/value store for external changes")
	return nil
}

// Close stops the watcher, if running
func (s *FileStore) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher == nil {
		return nil
	}

	s.cancel()
	err := s.watcher.Close()
	s.wg.Wait()
	s.watcher = nil
	return err
}

func (s *FileStore) eventLoop(ctx context.Context, w *fsnotify.Watcher, onChange func(string)) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if key, changed := s.handleEvent(event); changed && onChange != nil {
				onChange(key)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Key/value watcher error")
		}
	}
}

// handleEvent reconciles the cache with the file behind event and reports
// whether the value differs from what this store last wrote or read.
func (s *FileStore) handleEvent(event fsnotify.Event) (string, bool) {
	key, ok := keyFromFile(filepath.Base(event.Name))
	if !ok {
		return "", false
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := os.Stat(event.Name); errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			_, cached := s.cache[key]
			delete(s.cache, key)
			s.mu.Unlock()
			return key, cached
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}

	data, err := os.ReadFile(event.Name)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cache[key]; ok && current == string(data) {
		return "", false
	}
	s.cache[key] = string(data)

	log.Debug().Str("key", key).Msg("External key/value change detected")
	return key, true
}
