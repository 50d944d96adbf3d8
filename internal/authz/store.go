package authz

import "context"

// Store describes the persistence operations for roles and the permission
// catalog. Role reads load the permission set eagerly.
type Store interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
	// ReplaceRolePermissions swaps the role's entire permission set in one
	// transaction; it never merges.
	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	FindPermissionsByIDs(ctx context.Context, ids []string) ([]Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeletePermission(ctx context.Context, id string) error
}
