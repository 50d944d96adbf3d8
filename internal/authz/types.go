package authz

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: conflict")
	ErrInvalidInput = errors.New("authz: invalid input")
)

// Permission is a fine-grained capability identified by its code, which is
// always derivable as resource + ":" + action. Either segment may be the
// literal wildcard "*".
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role groups permissions under a unique name. System roles are seeded and
// cannot be deleted or demoted.
type Role struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	IsSystemRole bool         `json:"is_system_role"`
	Permissions  []Permission `json:"permissions"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RoleUpdate carries optional field changes for a role.
type RoleUpdate struct {
	Name         *string
	Description  *string
	IsSystemRole *bool
}

// PermissionCodes extracts the role's permission codes.
func (r *Role) PermissionCodes() []string {
	if len(r.Permissions) == 0 {
		return nil
	}
	codes := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		codes = append(codes, p.Code)
	}
	return codes
}
