package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"carelink.org/internal/session"
)

const defaultAccessTTL = 15 * time.Minute

// Service implements the credential and token flows: login issues an access
// JWT, an opaque refresh token and a session token; refresh exchanges the
// stored refresh token for a new access token; logout revokes both.
type Service struct {
	users     UserStore
	sessions  *session.Manager
	now       func() time.Time
	accessTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service.
func NewService(users UserStore, sessions *session.Manager, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	s := &Service{
		users:     users,
		sessions:  sessions,
		now:       time.Now,
		accessTTL: defaultAccessTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// UserSummary is the slice of account data returned to a freshly logged-in
// client.
type UserSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// LoginResult carries all three credentials issued at login.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	SessionToken string      `json:"session_token"`
	User         UserSummary `json:"user"`
}

// Login verifies the credentials and issues tokens plus a session.
func (s *Service) Login(ctx context.Context, email, password, deviceInfo, ipAddress string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	access, err := GenerateToken(user.ID, user.RoleName, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshHash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshTokenHash(ctx, user.ID, refreshHash); err != nil {
		return nil, err
	}

	sessionToken, err := s.sessions.Create(ctx, user.ID, deviceInfo, ipAddress)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionToken: sessionToken,
		User: UserSummary{
			ID:        user.ID,
			Email:     user.Email,
			Role:      normalizeRole(user.RoleName),
			FirstName: user.FirstName,
			LastName:  user.LastName,
		},
	}, nil
}

// Refresh exchanges a stored refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", ErrInvalidToken
	}
	user, err := s.users.FindByRefreshTokenHash(ctx, hashRefreshToken(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", ErrInvalidToken
	}
	return GenerateToken(user.ID, user.RoleName, s.accessTTL)
}

// Logout clears the refresh token and, when a session token is presented,
// invalidates that session.
func (s *Service) Logout(ctx context.Context, userID, sessionToken string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := s.users.SetRefreshTokenHash(ctx, userID, ""); err != nil {
		return err
	}
	if sessionToken = strings.TrimSpace(sessionToken); sessionToken != "" {
		if err := s.sessions.Invalidate(ctx, sessionToken); err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
	}
	return nil
}

// PrincipalFromSession resolves a principal from a session token: the token
// must resolve against the session manager and the owning account must still
// be active. Resolve carries the identity data through from whichever backend
// answered, so a cache outage does not turn a live session into a 401.
func (s *Service) PrincipalFromSession(ctx context.Context, token string) (Principal, error) {
	data, ok, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.users.Find(ctx, data.UserID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if !user.IsActive {
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		UserID:    user.ID,
		Role:      normalizeRole(user.RoleName),
		SessionID: data.SessionID,
	}, nil
}

func newRefreshToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, hashRefreshToken(token), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
