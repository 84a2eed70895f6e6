package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saltyorg/cookieshop/internal/database"
	"github.com/saltyorg/cookieshop/internal/kvstore"
	"github.com/saltyorg/cookieshop/internal/store"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func setup(t *testing.T) (*Service, *store.Store, *store.Session) {
	t.Helper()
	db, err := database.Open(database.Config{Kind: database.KindKV, KV: kvstore.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, nil)
	return NewService(st, NewHasher(bcrypt.MinCost)), st, store.NewSession(kvstore.NewMemoryStore())
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)
	assert.False(t, h.NeedsUpgrade(hash))

	tests := []struct {
		name     string
		password string
		stored   string
		want     bool
		upgrade  bool
	}{
		{"bcrypt match", "secret1", hash, true, false},
		{"bcrypt mismatch", "secret2", hash, false, false},
		{"sha256 match", "secret1", sha256Hex("secret1"), true, true},
		{"sha256 uppercase", "secret1", strings.ToUpper(sha256Hex("secret1")), true, true},
		{"sha256 mismatch", "secret2", sha256Hex("secret1"), false, true},
		{"plaintext match", "secret1", "secret1", true, true},
		{"plaintext mismatch", "secret1", "Secret1", false, true},
		{"empty stored", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Verify(tt.password, tt.stored))
			assert.Equal(t, tt.upgrade, h.NeedsUpgrade(tt.stored))
		})
	}
}

func TestHasher_UpgradesWeakerCost(t *testing.T) {
	weak, err := NewHasher(bcrypt.MinCost).Hash("secret1")
	require.NoError(t, err)

	strong := NewHasher(bcrypt.MinCost + 1)
	assert.True(t, strong.Verify("secret1", weak))
	assert.True(t, strong.NeedsUpgrade(weak))

	assert.Equal(t, BcryptCost, NewHasher(0).Cost())
	assert.Equal(t, BcryptCost, NewHasher(99).Cost())
}

func TestValidateSignup(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		email    string
		password string
		wantErr  bool
	}{
		{"valid", "Jane", "jane@x.com", "secret1", false},
		{"name trimmed too short", " J ", "jane@x.com", "secret1", true},
		{"missing name", "", "jane@x.com", "secret1", true},
		{"missing email", "Jane", "", "secret1", true},
		{"missing password", "Jane", "jane@x.com", "", true},
		{"bad email", "Jane", "jane.x.com", "secret1", true},
		{"short password", "Jane", "jane@x.com", "12345", true},
		{"minimum lengths", "Jo", "j@x.io", "123456", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignup(tt.user, tt.email, tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePatch(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		patch   store.UserPatch
		wantErr bool
	}{
		{"empty patch", store.UserPatch{}, false},
		{"phone only", store.UserPatch{Phone: str("555-0100")}, false},
		{"valid fields", store.UserPatch{Name: str("Jo"), Email: str("jo@x.io"), Password: str("123456")}, false},
		{"empty name", store.UserPatch{Name: str("")}, true},
		{"blank name", store.UserPatch{Name: str("   ")}, true},
		{"empty email", store.UserPatch{Email: str("")}, true},
		{"bad email", store.UserPatch{Email: str("jo.x.io")}, true},
		{"short password", store.UserPatch{Password: str("12345")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatch(tt.patch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignupThenLoginIgnoresEmailCase(t *testing.T) {
	svc, st, sess := setup(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, sess, " Jane ", "jane@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)
	assert.Equal(t, "jane@x.com", user.Email)
	assert.NotEqual(t, "secret1", user.Password)
	require.NotNil(t, sess.Current())
	assert.Equal(t, user.ID, sess.Current().ID)

	_, err = svc.Signup(ctx, sess, "Other Jane", "JANE@X.com", "secret2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	users, err := st.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, svc.Logout(ctx, sess))
	assert.Nil(t, sess.Current())

	got, err := svc.Login(ctx, sess, "JANE@X.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, user.ID, sess.Current().ID)
}

func TestLogin_BadCredentials(t *testing.T) {
	svc, _, sess := setup(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, sess, "Jane", "jane@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, sess))

	for _, tc := range []struct{ email, password string }{
		{"jane@x.com", "wrong1"},
		{"nobody@x.com", "secret1"},
		{"", "secret1"},
		{"jane@x.com", ""},
	} {
		got, err := svc.Login(ctx, sess, tc.email, tc.password)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Nil(t, sess.Current())
}

func TestLogin_UpgradesLegacyPasswords(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"sha256", sha256Hex("secret1")},
		{"plaintext", "secret1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, sess := setup(t)
			ctx := context.Background()

			legacy, err := st.CreateUser(ctx, store.NewUser{Name: "Jane", Email: "jane@x.com", Password: tt.stored})
			require.NoError(t, err)

			got, err := svc.Login(ctx, sess, "jane@x.com", "secret1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, legacy.ID, got.ID)

			stored, err := st.GetUserByID(ctx, legacy.ID)
			require.NoError(t, err)
			assert.NotEqual(t, tt.stored, stored.Password)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret1")))
			assert.Equal(t, stored.Password, sess.Current().Password)
		})
	}
}

func TestMigratePlaintextPasswords(t *testing.T) {
	svc, st, sess := setup(t)
	ctx := context.Background()

	plain, err := st.CreateUser(ctx, store.NewUser{Name: "Plain", Email: "plain@x.com", Password: "secret1"})
	require.NoError(t, err)
	digest, err := st.CreateUser(ctx, store.NewUser{Name: "Digest", Email: "digest@x.com", Password: sha256Hex("secret1")})
	require.NoError(t, err)

	migrated, failed, err := MigratePlaintextPasswords(ctx, st, sess, svc.Hasher())
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)
	assert.Zero(t, failed)

	got, err := st.GetUserByID(ctx, plain.ID)
	require.NoError(t, err)
	assert.True(t, isBcrypt(got.Password))

	got, err = st.GetUserByID(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("secret1"), got.Password)
}

func TestLoadOrCreateToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "admin.token")

	first, err := LoadOrCreateToken(path)
	require.NoError(t, err)
	assert.Len(t, first, TokenLength*2)

	second, err := LoadOrCreateToken(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.True(t, TokenMatches(first, second))
	assert.False(t, TokenMatches(first, "nope"))
	assert.False(t, TokenMatches("", ""))

	empty := filepath.Join(t.TempDir(), "empty.token")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = LoadOrCreateToken(empty)
	assert.Error(t, err)
}
