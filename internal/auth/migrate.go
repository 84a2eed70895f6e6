package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/store"
)

// MigratePlaintextPasswords replaces every plaintext password with a bcrypt
// hash. SHA-256 digests cannot be rehashed without the password and are left
// for Login to upgrade. Returns the number of migrated and failed accounts.
func MigratePlaintextPasswords(ctx context.Context, st *store.Store, sess *store.Session, hasher *Hasher) (int, int, error) {
	users, err := st.GetAllUsers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list users for password migration: %w", err)
	}

	var migrated, failed int
	for _, user := range users {
		if user.Password == "" || isBcrypt(user.Password) || isSHA256(user.Password) {
			continue
		}

		hash, err := hasher.Hash(user.Password)
		if err != nil {
			failed++
			log.Warn().Str("user_id", user.ID).Err(err).Msg("Failed to hash password during migration")
			continue
		}

		if _, err := st.UpdateUser(ctx, sess, user.ID, store.UserPatch{Password: &hash}); err != nil {
			failed++
			log.Warn().Str("user_id", user.ID).Err(err).Msg("Failed to update password during migration")
			continue
		}

		migrated++
	}

	if migrated > 0 {
		log.Info().Int("count", migrated).Msg("Migrated plaintext passwords to bcrypt")
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Msg("Some passwords could not be migrated; they will be upgraded on next login")
	}

	return migrated, failed, nil
}
