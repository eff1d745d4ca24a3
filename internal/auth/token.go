package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cashbook-auth/internal/domain"
)

// DefaultTokenTTL is the lifetime of an issued token.
const DefaultTokenTTL = 60 * time.Minute

var (
	// ErrSigningKeyUnavailable indicates that no signing key was configured.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
	// ErrSigning is returned when a token cannot be produced.
	ErrSigning = errors.New("token signing failed")

	// ErrTokenMalformed matches tokens that cannot be decoded or lack required claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenBadSignature matches tokens whose signature does not verify.
	ErrTokenBadSignature = errors.New("token signature invalid")
	// ErrTokenExpired matches tokens past their exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// TokenErrorKind classifies why a token was rejected.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota + 1
	TokenBadSignature
	TokenExpired
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenMalformed:
		return "malformed"
	case TokenBadSignature:
		return "bad_signature"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenError is returned by Validate. It matches ErrTokenMalformed,
// ErrTokenBadSignature or ErrTokenExpired through errors.Is.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Kind.String()
	}
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool {
	switch target {
	case ErrTokenMalformed:
		return e.Kind == TokenMalformed
	case ErrTokenBadSignature:
		return e.Kind == TokenBadSignature
	case ErrTokenExpired:
		return e.Kind == TokenExpired
	}
	return false
}

type tokenClaims struct {
	UserID int64       `json:"user_id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 identity tokens.
type TokenService struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces the time source used for iat, exp and validation.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(key []byte, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(key) == 0 {
		return nil, ErrSigningKeyUnavailable
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenService{
		key: append([]byte(nil), key...),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token asserting identity.
func (s *TokenService) Issue(identity domain.Identity) (string, error) {
	if len(s.key) == 0 {
		return "", ErrSigningKeyUnavailable
	}
	if identity.UserID <= 0 || strings.TrimSpace(identity.Email) == "" || !identity.Role.Valid() {
		return "", fmt.Errorf("%w: incomplete identity", ErrSigning)
	}

	now := s.now()
	claims := tokenClaims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// Validate checks the signature and expiry of token and returns the
// identity it carries. It never consults storage. A token is expired from
// the instant now reaches exp; no leeway is applied.
func (s *TokenService) Validate(token string) (domain.Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Identity{}, classify(err)
	}

	switch {
	case claims.IssuedAt == nil:
		return domain.Identity{}, &TokenError{Kind: TokenMalformed, Err: errors.New("missing iat claim")}
	case claims.UserID <= 0:
		return domain.Identity{}, &TokenError{Kind: TokenMalformed, Err: errors.New("missing user_id claim")}
	case claims.Email == "":
		return domain.Identity{}, &TokenError{Kind: TokenMalformed, Err: errors.New("missing email claim")}
	case !claims.Role.Valid():
		return domain.Identity{}, &TokenError{Kind: TokenMalformed, Err: fmt.Errorf("invalid role claim %q", claims.Role)}
	case claims.Subject != claims.Email:
		return domain.Identity{}, &TokenError{Kind: TokenMalformed, Err: errors.New("subject does not match email")}
	}

	return domain.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Kind: TokenBadSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: TokenExpired, Err: err}
	default:
		return &TokenError{Kind: TokenMalformed, Err: err}
	}
}
