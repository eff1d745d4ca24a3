package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrInvalidHashFormat is returned when verifying against an empty hash.
	ErrInvalidHashFormat = errors.New("invalid password hash format")
)

// PasswordHasher produces and checks bcrypt password hashes.
//
// bcrypt is CPU bound, so at most `workers` computations run at once. A caller
// whose context ends while waiting or hashing gets ctx.Err() back; a
// computation already started runs to completion and its result is dropped.
type PasswordHasher struct {
	cost int
	sem  chan struct{}
}

func NewPasswordHasher(cost, workers int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &PasswordHasher{
		cost: cost,
		sem:  make(chan struct{}, workers),
	}, nil
}

// Hash returns a salted bcrypt hash of password.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	var hash []byte
	err := h.run(ctx, func() error {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), h.cost)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash is a
// mismatch, not an error; an empty hash is ErrInvalidHashFormat.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if hash == "" {
		return false, ErrInvalidHashFormat
	}

	var match bool
	err := h.run(ctx, func() error {
		match = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return match, nil
}

func (h *PasswordHasher) run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case h.sem <- struct{}{}:
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-h.sem }()
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
