package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/store"
)

const (
	// MinNameLength is the shortest accepted display name, after trimming
	MinNameLength = 2
	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 6
)

var (
	// ErrInvalidInput is returned when signup fields fail validation
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned when signing up with a registered email
	ErrEmailTaken = errors.New("email already registered")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service handles signup, login and logout against the store
type Service struct {
	store  *store.Store
	hasher *Hasher
}

// NewService creates a new auth service
func NewService(st *store.Store, hasher *Hasher) *Service {
	if hasher == nil {
		hasher = NewHasher(BcryptCost)
	}
	return &Service{store: st, hasher: hasher}
}

// Hasher returns the password hasher
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// ValidateSignup checks the signup fields
func ValidateSignup(name, email, password string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	return validatePassword(password)
}

// ValidatePatch applies the signup rules to every field the patch sets
func ValidatePatch(patch store.UserPatch) error {
	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return err
		}
	}
	if patch.Email != nil {
		if err := validateEmail(*patch.Email); err != nil {
			return err
		}
	}
	if patch.Password != nil {
		return validatePassword(*patch.Password)
	}
	return nil
}

func validateName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < MinNameLength {
		return fmt.Errorf("%w: name must be at least %d characters", ErrInvalidInput, MinNameLength)
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	return nil
}

// Signup creates an account with a hashed password and signs it in
func (s *Service) Signup(ctx context.Context, sess *store.Session, name, email, password string) (*store.User, error) {
	if err := ValidateSignup(name, email, password); err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, store.NormalizeEmail(email))
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, store.NewUser{
		Name:     strings.TrimSpace(name),
		Email:    email,
		Password: hash,
	})
	if err != nil {
		// Lost a race with a concurrent signup
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, store.NormalizeEmail(email))
		}
		return nil, err
	}

	if err := s.store.SetCurrentUser(ctx, sess, user); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Msg("User signed up")
	return user, nil
}

// Login verifies credentials and signs the user in. Legacy password forms
// are replaced by a bcrypt hash on success. Returns nil for bad credentials.
func (s *Service) Login(ctx context.Context, sess *store.Session, email, password string) (*store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, nil
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Debug().Msg("Login failed: user not found")
		return nil, nil
	}

	if !s.hasher.Verify(password, user.Password) {
		log.Debug().Str("user_id", user.ID).Msg("Login failed: invalid password")
		return nil, nil
	}

	stored := user.Password
	if s.hasher.NeedsUpgrade(stored) {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.UpdateUser(ctx, sess, user.ID, store.UserPatch{Password: &hash}); err != nil {
			return nil, fmt.Errorf("failed to upgrade password: %w", err)
		}
		stored = hash
		log.Info().Str("user_id", user.ID).Msg("Upgraded stored password to bcrypt")
	}

	return s.store.Login(ctx, sess, user.Email, stored)
}

// Logout signs the active user out
func (s *Service) Logout(ctx context.Context, sess *store.Session) error {
	return s.store.Logout(ctx, sess)
}
