package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"carelink.org/internal/authz"
)

var _ authz.Store = (*Store)(nil)

func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system_role)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.IsSystemRole)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	role, err := s.roleRow(ctx, `where id = $1`, id)
	if err != nil {
		return nil, err
	}
	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	role, err := s.roleRow(ctx, `where name = $1`, name)
	if err != nil {
		return nil, err
	}
	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, is_system_role, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		var (
			role authz.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		perms, err := s.rolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		role.Permissions = perms
	}
	return roles, nil
}

func (s *Store) UpdateRole(ctx context.Context, role *authz.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, is_system_role = $4, updated_at = now()
		where id = $1
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.IsSystemRole)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s not found", authz.ErrNotFound, permID)
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from users where role_id = $1
	`, roleID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm *authz.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, resource, action, code, description)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, perm.ID, perm.Resource, perm.Action, perm.Code, nullIfEmpty(perm.Description))
	if err := row.Scan(&perm.CreatedAt, &perm.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (*authz.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		perm authz.Permission
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, resource, action, code, description, created_at, updated_at
		from permissions
		where id = $1
	`, id).Scan(&perm.ID, &perm.Resource, &perm.Action, &perm.Code, &desc, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		perm.Description = desc.String
	}
	return &perm, nil
}

func (s *Store) FindPermissionsByIDs(ctx context.Context, ids []string) ([]authz.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		select id, resource, action, code, description, created_at, updated_at
		from permissions
		where id in (%s)
		order by code
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, code, description, created_at, updated_at
		from permissions
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) roleRow(ctx context.Context, where string, arg any) (*authz.Role, error) {
	var (
		role authz.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, is_system_role, created_at, updated_at
		from roles
	`+where, arg).Scan(&role.ID, &role.Name, &desc, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return &role, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, p.code, p.description, p.created_at, p.updated_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.code
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		var (
			perm authz.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&perm.ID, &perm.Resource, &perm.Action, &perm.Code, &desc, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			perm.Description = desc.String
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
