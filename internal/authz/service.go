package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carelink.org/internal/ids"
)

// Service is the role authority: role and permission CRUD plus the
// authoritative role-to-permission-code lookup used by the guard pipeline.
type Service struct {
	store Store
}

// NewService constructs the role authority.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz store is required")
	}
	return &Service{store: store}, nil
}

// CreateRole registers a new role. Duplicate names conflict.
func (s *Service) CreateRole(ctx context.Context, name, description string, isSystemRole bool) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{
		ID:           ids.New(),
		Name:         name,
		Description:  strings.TrimSpace(description),
		IsSystemRole: isSystemRole,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return s.store.GetRole(ctx, role.ID)
}

// GetRole loads a role with its permission set.
func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

// GetRoleByName loads a role by its unique name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.GetRoleByName(ctx, name)
}

// ListRoles returns all roles with their permission sets.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.ListRoles(ctx)
}

// UpdateRole applies the given field changes. The system flag of a system
// role cannot be cleared.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole && upd.IsSystemRole != nil && !*upd.IsSystemRole {
		return nil, fmt.Errorf("%w: cannot modify system role status", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		role.Name = name
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.IsSystemRole != nil {
		role.IsSystemRole = *upd.IsSystemRole
	}
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	return s.store.GetRole(ctx, id)
}

// DeleteRole removes a role. System roles and roles still referenced by
// users cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: cannot delete system role", ErrInvalidInput)
	}
	count, err := s.store.CountUsersWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: cannot delete role that has users assigned to it", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, role.ID)
}

// AssignPermissions replaces the role's permission set with the resolved
// permissions. If any id is unknown the whole operation fails and the
// existing set is left untouched.
func (s *Service) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	unique := dedupeStrings(permissionIDs)
	perms, err := s.store.FindPermissionsByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	if len(perms) != len(unique) {
		return nil, fmt.Errorf("%w: one or more permission ids are invalid", ErrInvalidInput)
	}
	if err := s.store.ReplaceRolePermissions(ctx, roleID, unique); err != nil {
		return nil, err
	}
	return s.store.GetRole(ctx, roleID)
}

// RemovePermissions drops the named permissions from the role's set.
func (s *Service) RemovePermissions(ctx context.Context, roleID string, permissionIDs []string) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	drop := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		drop[strings.TrimSpace(id)] = struct{}{}
	}
	var remaining []string
	for _, p := range role.Permissions {
		if _, ok := drop[p.ID]; !ok {
			remaining = append(remaining, p.ID)
		}
	}
	if err := s.store.ReplaceRolePermissions(ctx, role.ID, remaining); err != nil {
		return nil, err
	}
	return s.store.GetRole(ctx, role.ID)
}

// PermissionCodes returns the permission codes granted by the role.
func (s *Service) PermissionCodes(ctx context.Context, roleID string) ([]string, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role.PermissionCodes(), nil
}

// PermissionCodesByRole resolves permission codes from a role name. The
// guard pipeline identifies principals by role name, not id.
func (s *Service) PermissionCodesByRole(ctx context.Context, roleName string) ([]string, error) {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return role.PermissionCodes(), nil
}

// RoleHasPermission reports whether the role satisfies the single code.
func (s *Service) RoleHasPermission(ctx context.Context, roleID, code string) (bool, error) {
	codes, err := s.PermissionCodes(ctx, roleID)
	if err != nil {
		return false, err
	}
	return HasPermission(codes, []string{code}), nil
}

// CreatePermission registers a capability; the code is derived from resource
// and action and must be unique.
func (s *Service) CreatePermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if strings.Contains(resource, ":") || strings.Contains(action, ":") {
		return nil, fmt.Errorf("%w: resource and action must not contain ':'", ErrInvalidInput)
	}
	perm := &Permission{
		ID:          ids.New(),
		Resource:    resource,
		Action:      action,
		Code:        resource + ":" + action,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// GetPermission loads a single permission.
func (s *Service) GetPermission(ctx context.Context, id string) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.GetPermission(ctx, id)
}

// ListPermissions returns the whole catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// DeletePermission removes a permission; membership rows cascade.
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.DeletePermission(ctx, id)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
