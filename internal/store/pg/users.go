package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carelink.org/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `
	u.id, u.email, u.password_hash, u.first_name, u.last_name,
	u.role_id, r.name, coalesce(u.refresh_token_hash, ''),
	u.is_active, u.last_login_at, u.created_at, u.updated_at`

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users u
		join roles r on r.id = u.role_id
		where u.email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users u
		join roles r on r.id = u.role_id
		where u.id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) FindByRefreshTokenHash(ctx context.Context, hash string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users u
		join roles r on r.id = u.role_id
		where u.refresh_token_hash = $1
	`, hash)
	return scanUser(row)
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at = $2, updated_at = now()
		where id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) SetRefreshTokenHash(ctx context.Context, userID, hash string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users set refresh_token_hash = nullif($2, ''), updated_at = now()
		where id = $1
	`, userID, hash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		user      auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.RoleID, &user.RoleName, &user.RefreshTokenHash,
		&user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}
