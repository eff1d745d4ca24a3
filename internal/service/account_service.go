package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"cashbook-auth/internal/domain"
	"cashbook-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail is returned when attempting to register an email twice.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrUserNotFound is returned by lookups of a single account.
	ErrUserNotFound = errors.New("user not found")
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

// TokenIssuer issues signed identity tokens.
type TokenIssuer interface {
	Issue(identity domain.Identity) (string, error)
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AccountService describes account registration and authentication.
type AccountService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.PublicProfile, error)
	Login(ctx context.Context, in LoginInput) (string, error)
	Profile(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	EnsureAdmin(ctx context.Context, name, email, password string) error
}

type accountService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	validate *validator.Validate
	logger   *logrus.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(users repository.UserRepository, hasher PasswordHasher, tokens TokenIssuer, logger *logrus.Logger) AccountService {
	if logger == nil {
		logger = logrus.New()
	}
	return &accountService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		validate: newValidator(),
		logger:   logger,
	}
}

func (s *accountService) Register(ctx context.Context, in RegisterInput) (*domain.PublicProfile, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(s.validate, in); err != nil {
		return nil, err
	}

	user, err := s.create(ctx, in.Name, in.Email, in.Password, domain.RoleUser)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	profile := user.Profile()
	return &profile, nil
}

func (s *accountService) create(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	hash, err := s.hasher.Hash(ctx, password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, &ValidationError{Fields: map[string]string{"password": "password must be at most 72 bytes"}}
	}
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *accountService) Login(ctx context.Context, in LoginInput) (string, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(s.validate, in); err != nil {
		return "", err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("lookup user: %w", err)
		}
		// same bcrypt work as a real account so timing does not leak existence
		if _, err := s.hasher.Verify(ctx, in.Password, s.dummy()); err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Identity())
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (s *accountService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(context.Background(), "cashbook-auth-dummy-password")
		if err != nil {
			s.logger.WithError(err).Warn("compute dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash == "" {
		return "$2a$10$"
	}
	return s.dummyHash
}

func (s *accountService) Profile(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *accountService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, len(users))
	for i := range users {
		out[i] = *sanitizeUser(&users[i])
	}
	return out, nil
}

// EnsureAdmin creates an admin account for email unless one with that email
// already exists.
func (s *accountService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	in := RegisterInput{
		Name:     strings.TrimSpace(name),
		Email:    normalizeEmail(email),
		Password: password,
	}
	if in.Name == "" {
		in.Name = "Administrator"
	}
	if err := validateInput(s.validate, in); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if existing.Role != domain.RoleAdmin {
			s.logger.WithField("user_id", existing.ID).Warn("bootstrap admin email belongs to a non-admin account")
		}
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	user, err := s.create(ctx, in.Name, in.Email, in.Password, domain.RoleAdmin)
	if errors.Is(err, ErrDuplicateEmail) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("admin account created")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
