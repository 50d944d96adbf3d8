package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by user lookups that match no record.
	ErrNotFound = errors.New("auth: user not found")
	// ErrInvalidCredentials covers both unknown accounts and wrong passwords
	// so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// User is the account record needed by the login and session flows. Full user
// management lives outside this subsystem.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	RoleID           string
	RoleName         string
	RefreshTokenHash string
	IsActive         bool
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserStore describes the persistence operations the auth flows require.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Find(ctx context.Context, id string) (*User, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	SetRefreshTokenHash(ctx context.Context, userID, hash string) error
}
