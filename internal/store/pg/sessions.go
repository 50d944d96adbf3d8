package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carelink.org/internal/session"
)

// SessionStore is the Postgres-backed durable session store. It shares the
// base store's connection pool.
type SessionStore struct {
	db *sql.DB
}

// Sessions returns the session store facade.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

var _ session.Store = (*SessionStore)(nil)

const sessionColumns = `
	id, user_id, session_token, coalesce(device_info, ''), coalesce(ip_address, ''),
	expires_at, last_activity_at, is_active, created_at, updated_at`

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions
			(id, user_id, session_token, device_info, ip_address, expires_at, last_activity_at, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sess.ID, sess.UserID, sess.Token, nullIfEmpty(sess.DeviceInfo), nullIfEmpty(sess.IPAddress),
		sess.ExpiresAt, sess.LastActivityAt, sess.IsActive, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return session.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *SessionStore) FindActiveByToken(ctx context.Context, token string, now time.Time) (*session.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from user_sessions
		where session_token = $1 and is_active and expires_at > $2
	`, token, now)
	return scanSession(row)
}

func (s *SessionStore) FindByID(ctx context.Context, id string) (*session.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from user_sessions
		where id = $1
	`, id)
	return scanSession(row)
}

func (s *SessionStore) ActiveByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from user_sessions
		where user_id = $1 and is_active
		order by last_activity_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SessionStore) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from user_sessions where user_id = $1 and is_active
	`, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SessionStore) TouchActivity(ctx context.Context, token string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set last_activity_at = $2, updated_at = $2
		where session_token = $1 and is_active
	`, token, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) MarkInactive(ctx context.Context, token string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set is_active = false, updated_at = now()
		where session_token = $1 and is_active
	`, token)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) ExpiredActive(ctx context.Context, now time.Time) ([]*session.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from user_sessions
		where is_active and expires_at <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var sess session.Session
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Token, &sess.DeviceInfo, &sess.IPAddress,
		&sess.ExpiresAt, &sess.LastActivityAt, &sess.IsActive, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*session.Session, error) {
	var sessions []*session.Session
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.Token, &sess.DeviceInfo, &sess.IPAddress,
			&sess.ExpiresAt, &sess.LastActivityAt, &sess.IsActive, &sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
