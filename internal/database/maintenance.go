package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// sqliteUpkeep runs in order: refresh planner stats, then rebuild the file
// to reclaim pages freed by deletes
var sqliteUpkeep = []struct{ name, stmt string }{
	{"optimize", "PRAGMA optimize"},
	{"vacuum", "VACUUM"},
}

// Optimize refreshes planner statistics and compacts the database file.
// VACUUM needs no open transaction, so callers must not hold one.
func (b *SQLiteBackend) Optimize(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	for _, step := range sqliteUpkeep {
		start := time.Now()
		if _, err := db.ExecContext(ctx, step.stmt); err != nil {
			return fmt.Errorf("failed to %s database: %w", step.name, err)
		}
		log.Debug().Str("step", step.name).Dur("duration", time.Since(start)).Msg("Database maintenance step done")
	}
	return nil
}

// Optimize rewrites every bucket in canonical form and drops rows whose
// parent row no longer exists, which happens when buckets are edited outside
// this process.
func (b *KVBackend) Optimize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	v := newKVView(b)
	for _, t := range schema {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := v.table(t)
		if err != nil {
			return fmt.Errorf("failed to optimize %s: %w", t.Name, err)
		}

		kept := make([]Row, 0, len(rows))
		for _, r := range rows {
			col, err := v.missingParent(t, r)
			if err != nil {
				return fmt.Errorf("failed to optimize %s: %w", t.Name, err)
			}
			if col != "" {
				continue
			}
			kept = append(kept, r)
		}
		if dropped := len(rows) - len(kept); dropped > 0 {
			log.Warn().Str("table", t.Name).Int("rows", dropped).Msg("Dropped orphaned rows")
		}
		v.put(t, kept)
	}

	if err := v.flush(); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}
	return nil
}
