package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"carelink.org/internal/ids"
	"carelink.org/internal/obs"
)

const (
	// MaxConcurrentSessions is a best-effort cap on live sessions per user.
	MaxConcurrentSessions = 3
	// TTL is the total lifetime of a session from creation.
	TTL = 24 * time.Hour

	cacheKeyPrefix = "session:"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidInput = errors.New("session: invalid input")
)

// Session is the durable record of a login. Records are never physically
// deleted; invalidation flips IsActive so the audit trail survives.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Token          string     `json:"-"`
	DeviceInfo     string     `json:"device_info,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Stats summarizes a user's session usage.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	MaxAllowed     int `json:"max_allowed"`
}

// Store describes the durable persistence operations for sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// FindActiveByToken returns the session only when it is active and not
	// yet expired at the given instant.
	FindActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error)
	FindByID(ctx context.Context, id string) (*Session, error)
	// ActiveByUser returns active sessions ordered by last activity,
	// most recent first.
	ActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	TouchActivity(ctx context.Context, token string, at time.Time) error
	MarkInactive(ctx context.Context, token string) error
	// ExpiredActive returns sessions whose expiry has passed but which are
	// still flagged active.
	ExpiredActive(ctx context.Context, now time.Time) ([]*Session, error)
}

// Manager owns the session lifecycle across the durable store and the cache
// mirror. The store is authoritative; the cache self-heals on miss.
type Manager struct {
	store       Store
	cache       Cache
	now         func() time.Time
	ttl         time.Duration
	maxSessions int
	newToken    func() string
}

// Option configures Manager behavior.
type Option func(*Manager) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) error {
		if ttl <= 0 {
			return errors.New("session ttl must be positive")
		}
		m.ttl = ttl
		return nil
	}
}

// WithMaxSessions overrides the concurrent-session cap.
func WithMaxSessions(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.New("session cap must be positive")
		}
		m.maxSessions = n
		return nil
	}
}

// WithTokenGenerator overrides token generation (useful for tests).
func WithTokenGenerator(fn func() string) Option {
	return func(m *Manager) error {
		if fn != nil {
			m.newToken = fn
		}
		return nil
	}
}

// NewManager constructs a Manager over the given store and cache.
func NewManager(store Store, cache Cache, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cache == nil {
		return nil, errors.New("session cache is required")
	}
	m := &Manager{
		store:       store,
		cache:       cache,
		now:         time.Now,
		ttl:         TTL,
		maxSessions: MaxConcurrentSessions,
		newToken:    uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Create opens a new session for the user and returns its opaque token.
//
// The concurrent-session cap is best effort: the count check and the insert
// are separate statements, so two simultaneous logins can both pass the check
// and transiently exceed the cap until the next eviction cycle corrects it.
// A failed cache write does not roll back creation; validation falls back to
// the durable store.
func (m *Manager) Create(ctx context.Context, userID, deviceInfo, ipAddress string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	active, err := m.store.ActiveByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(active) >= m.maxSessions {
		// Evict the session with the oldest last activity, not the oldest
		// creation time.
		oldest := active[len(active)-1]
		if err := m.Invalidate(ctx, oldest.Token); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		obs.SessionEvicted()
	}

	now := m.now().UTC()
	sess := &Session{
		ID:             ids.New(),
		UserID:         userID,
		Token:          m.newToken(),
		DeviceInfo:     strings.TrimSpace(deviceInfo),
		IPAddress:      strings.TrimSpace(ipAddress),
		ExpiresAt:      now.Add(m.ttl),
		LastActivityAt: now,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return "", err
	}

	if err := m.cache.Set(ctx, cacheKey(sess.Token), Entry{UserID: userID, SessionID: sess.ID}, m.ttl); err != nil {
		m.warnCache("session cache write failed", err)
	}
	return sess.Token, nil
}

// Resolve reports whether the token belongs to a live session and returns its
// identity data. The cache is consulted first; a cache hit is trusted without
// re-querying the durable store. On miss the durable store decides and the
// cache is re-hydrated. Cache backend errors degrade to the durable path
// instead of failing the lookup, so a cache outage never invalidates a live
// session; this deliberately masks those outages from callers.
func (m *Manager) Resolve(ctx context.Context, token string) (Entry, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Entry{}, false, nil
	}

	entry, hit, err := m.cache.Get(ctx, cacheKey(token))
	if err != nil {
		m.warnCache("session cache read failed", err)
		hit = false
	}
	if !hit {
		sess, err := m.store.FindActiveByToken(ctx, token, m.now().UTC())
		if errors.Is(err, ErrNotFound) {
			return Entry{}, false, nil
		}
		if err != nil {
			return Entry{}, false, err
		}
		entry = Entry{UserID: sess.UserID, SessionID: sess.ID}
		if err := m.cache.Set(ctx, cacheKey(token), entry, m.ttl); err != nil {
			m.warnCache("session cache rehydrate failed", err)
		}
	}

	// Touch last activity on every successful validation, cache hit or not,
	// so eviction ordering stays meaningful.
	if err := m.store.TouchActivity(ctx, token, m.now().UTC()); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Validate reports whether the token belongs to a live session.
func (m *Manager) Validate(ctx context.Context, token string) (bool, error) {
	_, ok, err := m.Resolve(ctx, token)
	return ok, err
}

// Data returns the cached entry for a token. Callers validate first or
// tolerate a miss.
func (m *Manager) Data(ctx context.Context, token string) (Entry, bool) {
	entry, hit, err := m.cache.Get(ctx, cacheKey(token))
	if err != nil {
		m.warnCache("session cache read failed", err)
		return Entry{}, false
	}
	return entry, hit
}

// Invalidate transitions the session to its terminal inactive state. The
// cache entry is deleted before the durable flip so a stale cache hit can
// never outlive an invalidation.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if err := m.cache.Delete(ctx, cacheKey(token)); err != nil {
		return fmt.Errorf("delete cached session: %w", err)
	}
	return m.store.MarkInactive(ctx, token)
}

// InvalidateByID invalidates one of the user's own sessions by record id.
func (m *Manager) InvalidateByID(ctx context.Context, sessionID, userID string) error {
	sess, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotFound
	}
	return m.Invalidate(ctx, sess.Token)
}

// InvalidateAllForUser invalidates every active session the user holds. Each
// session is handled independently; a failure on one does not undo the
// others.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	sessions, err := m.store.ActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, sess := range sessions {
		if err := m.Invalidate(ctx, sess.Token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CleanupExpired sweeps sessions whose expiry has passed but which are still
// flagged active, and invalidates each. Scheduling is the caller's concern.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ExpiredActive(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	count := 0
	var firstErr error
	for _, sess := range expired {
		if err := m.Invalidate(ctx, sess.Token); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	return count, firstErr
}

// Stats reports the user's active session count against the cap.
func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	count, err := m.store.CountActiveByUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ActiveSessions: count, MaxAllowed: m.maxSessions}, nil
}

// ActiveSessions lists the user's live sessions, most recently used first.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ActiveByUser(ctx, userID)
}

func cacheKey(token string) string {
	return cacheKeyPrefix + token
}

func (m *Manager) warnCache(msg string, err error) {
	obs.LogJSON(map[string]any{
		"ts":    m.now().UTC().Format(time.RFC3339Nano),
		"level": "warn",
		"msg":   msg,
		"error": err.Error(),
	})
}
