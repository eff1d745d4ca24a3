package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cashbook-auth/internal/auth"
	"cashbook-auth/internal/domain"
	"cashbook-auth/internal/repository"
	"cashbook-auth/internal/repository/sqlite"
)

type testEnv struct {
	svc    AccountService
	users  repository.UserRepository
	tokens *auth.TokenService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := sqlite.NewUserRepository(db)
	require.NoError(t, users.Init(context.Background()))

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	return testEnv{
		svc:    NewAccountService(users, hasher, tokens, quietLogger()),
		users:  users,
		tokens: tokens,
	}
}

func TestAccountService_Register(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	profile, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Positive(t, profile.ID)
	assert.Equal(t, "Ann", profile.Name)
	assert.Equal(t, "ann@x.com", profile.Email)

	stored, err := env.users.GetByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, stored.Role)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
}

func TestAccountService_RegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, RegisterInput{Name: "Ann Again", Email: " ANN@x.com ", Password: "another1"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestAccountService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cases := []struct {
		name  string
		in    RegisterInput
		field string
		msg   string
	}{
		{"missing name", RegisterInput{Email: "ann@x.com", Password: "secret1"}, "name", "name is required"},
		{"blank name", RegisterInput{Name: "   ", Email: "ann@x.com", Password: "secret1"}, "name", "name is required"},
		{"missing email", RegisterInput{Name: "Ann", Password: "secret1"}, "email", "email is required"},
		{"bad email", RegisterInput{Name: "Ann", Email: "not-an-email", Password: "secret1"}, "email", "Invalid email format"},
		{"short password", RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "12345"}, "password", "password must be at least 6 characters"},
		{"long password", RegisterInput{Name: "Ann", Email: "ann@x.com", Password: strings.Repeat("p", 73)}, "password", "password must be at most 72 bytes"},
		{"multibyte password over byte limit", RegisterInput{Name: "Ann", Email: "ann@x.com", Password: strings.Repeat("é", 40)}, "password", "password must be at most 72 bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, tc.in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.msg, vErr.Fields[tc.field])
		})
	}

	users, err := env.users.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestAccountService_Login(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	profile, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	token, err := env.svc.Login(ctx, LoginInput{Email: "Ann@X.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	identity, err := env.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: profile.ID, Email: "ann@x.com", Role: domain.RoleUser}, identity)
}

func TestAccountService_LoginInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, wrongPassword := env.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "wrong"})
	_, unknownUser := env.svc.Login(ctx, LoginInput{Email: "bob@x.com", Password: "secret1"})

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestAccountService_LoginValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(context.Background(), LoginInput{Email: "", Password: ""})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "email")
	assert.Contains(t, vErr.Fields, "password")
}

func TestAccountService_ProfileAndList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	profile, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	user, err := env.svc.Profile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@x.com", user.Email)
	assert.Empty(t, user.PasswordHash)

	_, err = env.svc.Profile(ctx, profile.ID+100)
	require.ErrorIs(t, err, ErrUserNotFound)

	users, err := env.svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].PasswordHash)
}

func TestAccountService_EnsureAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.svc.EnsureAdmin(ctx, "", "Root@x.com", "rootpass"))
	require.NoError(t, env.svc.EnsureAdmin(ctx, "Root", "root@x.com", "other-pass"))

	users, err := env.users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.Equal(t, "Administrator", users[0].Name)

	token, err := env.svc.Login(ctx, LoginInput{Email: "root@x.com", Password: "rootpass"})
	require.NoError(t, err)
	identity, err := env.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, identity.Role)

	err = env.svc.EnsureAdmin(ctx, "Root", "bad", "rootpass")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

type failingRepo struct {
	repository.UserRepository
	err error
}

func (r failingRepo) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, r.err
}

func TestAccountService_LoginStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("disk on fire")
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)
	svc := NewAccountService(failingRepo{UserRepository: env.users, err: boom}, hasher, env.tokens, quietLogger())

	_, err = svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccountService_RegisterMultibytePasswordAtLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	password := strings.Repeat("é", 36)
	_, err := env.svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.com", Password: password})
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: password})
	require.NoError(t, err)
}

type tooLongHasher struct {
	PasswordHasher
}

func (tooLongHasher) Hash(context.Context, string) (string, error) {
	return "", fmt.Errorf("hash password: %w", bcrypt.ErrPasswordTooLong)
}

func TestAccountService_RegisterHasherLengthRejection(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAccountService(env.users, tooLongHasher{}, env.tokens, quietLogger())

	_, err := svc.Register(context.Background(), RegisterInput{Name: "Ann", Email: "ann@x.com", Password: "secret1"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "password must be at most 72 bytes", vErr.Fields["password"])

	users, err := env.users.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}
