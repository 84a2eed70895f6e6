package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/database"
)

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetAllUsers returns every user
func (s *Store) GetAllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, database.Select{
		Table:   database.TableUsers,
		OrderBy: []database.Order{database.Asc("createdAt")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, userFromRow(r))
	}
	return users, nil
}

// GetUserByID returns the user with id, or nil
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, database.Eq("id", id))
}

// GetUserByEmail returns the user whose email matches ignoring case and
// surrounding whitespace, or nil
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, database.EqFold("email", NormalizeEmail(email)))
}

func (s *Store) findUser(ctx context.Context, where ...database.Cond) (*User, error) {
	rows, err := s.db.Query(ctx, database.Select{Table: database.TableUsers, Where: where, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := userFromRow(rows[0])
	return &u, nil
}

// CreateUser inserts a user with a normalized email, a fresh id and creation
// time. It does not check for an existing account first; a duplicate email
// is rejected by the unique index with ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	user := User{
		ID:           s.newID(PrefixUser),
		Name:         in.Name,
		Email:        NormalizeEmail(in.Email),
		Password:     in.Password,
		ProfileImage: in.ProfileImage,
		Phone:        in.Phone,
		Address:      in.Address,
		CreatedAt:    s.timestamp(),
	}

	_, err := s.db.Run(ctx, database.InsertRow(database.TableUsers,
		database.Set("id", user.ID),
		database.Set("name", user.Name),
		database.Set("email", user.Email),
		database.Set("password", user.Password),
		database.Set("profileImage", nullable(user.ProfileImage)),
		database.Set("phone", nullable(user.Phone)),
		database.Set("address", nullable(user.Address)),
		database.Set("createdAt", user.CreatedAt),
	))
	if err != nil {
		if errors.Is(err, database.ErrConstraint) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, user.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Debug().Str("user_id", user.ID).Msg("User created")
	return &user, nil
}

// UpdateUser merges patch over the stored user and writes the full record
// back. The session is refreshed when id is the active user. Returns nil
// when the user does not exist.
func (s *Store) UpdateUser(ctx context.Context, sess *Session, id string, patch UserPatch) (*User, error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&user.Name, patch.Name)
	apply(&user.Password, patch.Password)
	apply(&user.ProfileImage, patch.ProfileImage)
	apply(&user.Phone, patch.Phone)
	apply(&user.Address, patch.Address)
	if patch.Email != nil {
		user.Email = NormalizeEmail(*patch.Email)
	}

	_, err = s.db.Run(ctx, database.Update{
		Table: database.TableUsers,
		Set: []database.Assignment{
			database.Set("name", user.Name),
			database.Set("email", user.Email),
			database.Set("password", user.Password),
			database.Set("profileImage", nullable(user.ProfileImage)),
			database.Set("phone", nullable(user.Phone)),
			database.Set("address", nullable(user.Address)),
		},
		Where: []database.Cond{database.Eq("id", id)},
	})
	if err != nil {
		if errors.Is(err, database.ErrConstraint) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, user.Email)
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if sess != nil && sess.IsCurrent(id) {
		if err := sess.Save(user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// DeleteUser removes a user together with their cart, favorites and orders.
// Reports whether a user was removed.
func (s *Store) DeleteUser(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Run(ctx, database.Delete{
		Table: database.TableUsers,
		Where: []database.Cond{database.Eq("id", id)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return res.Changes > 0, nil
}

// ClearAllUsers removes every user and signs out
func (s *Store) ClearAllUsers(ctx context.Context, sess *Session) error {
	res, err := s.db.Run(ctx, database.Delete{Table: database.TableUsers})
	if err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	log.Info().Int64("users", res.Changes).Msg("All users cleared")

	if sess != nil {
		return sess.Save(nil)
	}
	return nil
}

// Login promotes the user whose email matches ignoring case and whose stored
// password equals password exactly. Hash verification happens in the caller
// before this is reached. Returns nil when nothing matches.
func (s *Store) Login(ctx context.Context, sess *Session, email, password string) (*User, error) {
	user, err := s.findUser(ctx,
		database.EqFold("email", NormalizeEmail(email)),
		database.Eq("password", password),
	)
	if err != nil || user == nil {
		return nil, err
	}

	if sess != nil {
		if err := sess.Save(user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Logout clears the active user
func (s *Store) Logout(_ context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	return sess.Save(nil)
}

// SetCurrentUser replaces the active user
func (s *Store) SetCurrentUser(_ context.Context, sess *Session, user *User) error {
	if sess == nil {
		return nil
	}
	return sess.Save(user)
}
