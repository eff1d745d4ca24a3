package domain

import (
	"fmt"
	"time"
)

// Role is the authorization level attached to an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored or transmitted role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// User represents a registered account of the system.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated subject carried by a token.
type Identity struct {
	UserID int64
	Email  string
	Role   Role
}

// PublicProfile is the part of an account that may leave the service.
type PublicProfile struct {
	ID    int64
	Name  string
	Email string
}

func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

func (u *User) Identity() Identity {
	return Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
	}
}
