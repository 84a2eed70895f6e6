package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/saltyorg/cookieshop/internal/kvstore"
)

// SessionKey is the key/value slot holding the signed-in user
const SessionKey = "app_current_user"

// Session is the active-user pointer. It is read by every authenticated
// operation and written by login, logout and profile updates.
type Session struct {
	mu   sync.RWMutex
	slot kvstore.Store
	user *User
}

// NewSession creates a session persisted in slot. Call Load to restore a
// previous session.
func NewSession(slot kvstore.Store) *Session {
	return &Session{slot: slot}
}

// Load restores the persisted user. A missing or "null" slot means nobody is
// signed in.
func (s *Session) Load() error {
	raw, ok, err := s.slot.Get(SessionKey)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var user *User
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return nil
}

// Save replaces the active user (nil signs out) and persists it
func (s *Session) Save(user *User) error {
	var stored *User
	if user != nil {
		u := *user
		stored = &u
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.slot.Set(SessionKey, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.user = stored
	return nil
}

// Current returns a copy of the active user, or nil
func (s *Session) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsCurrent reports whether userID is the active user
func (s *Session) IsCurrent(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.ID == userID
}
