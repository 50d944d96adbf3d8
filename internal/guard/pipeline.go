package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carelink.org/internal/auth"
	"carelink.org/internal/authz"
	"carelink.org/internal/obs"
)

var (
	// ErrUnauthenticated signals a missing or unresolvable identity.
	ErrUnauthenticated = errors.New("guard: unauthenticated")
	// ErrForbidden signals a definitive deny from the role, permission or
	// ownership gate.
	ErrForbidden = errors.New("guard: forbidden")
)

// Requirement is the declarative admission rule attached to a route at
// startup. Empty fields make the corresponding gate a no-op.
type Requirement struct {
	Roles       []string
	Permissions []string
	Ownership   *OwnershipDescriptor
}

// PermissionSource resolves the permission codes granted to a role name.
type PermissionSource interface {
	PermissionCodesByRole(ctx context.Context, roleName string) ([]string, error)
}

// Pipeline runs the ordered guard chain: authentication, role gate,
// permission gate, ownership gate. The first deny short-circuits.
type Pipeline struct {
	permissions PermissionSource
	registry    *Registry
}

// NewPipeline constructs the guard pipeline.
func NewPipeline(permissions PermissionSource, registry *Registry) (*Pipeline, error) {
	if permissions == nil {
		return nil, errors.New("permission source is required")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Pipeline{permissions: permissions, registry: registry}, nil
}

// Authorize evaluates the requirement against the principal. params carries
// the request's resolved path parameters for the ownership gate.
func (p *Pipeline) Authorize(ctx context.Context, principal auth.Principal, req Requirement, params map[string]string) error {
	if strings.TrimSpace(principal.UserID) == "" {
		obs.AuthzDecision("authentication", "deny")
		return ErrUnauthenticated
	}
	obs.AuthzDecision("authentication", "allow")

	if len(req.Roles) > 0 {
		if !containsFold(req.Roles, principal.Role) {
			obs.AuthzDecision("role", "deny")
			return fmt.Errorf("%w: insufficient role", ErrForbidden)
		}
		obs.AuthzDecision("role", "allow")
	}

	// An endpoint that declares no permission requirement admits any
	// authenticated principal. This fail-open default is preserved behavior:
	// an endpoint that forgets to declare a requirement is readable by every
	// authenticated caller.
	if len(req.Permissions) > 0 {
		codes, err := p.permissions.PermissionCodesByRole(ctx, principal.Role)
		if err != nil {
			// Lookup failures deny; they never escape the pipeline.
			obs.AuthzDecision("permission", "deny")
			return fmt.Errorf("%w: insufficient permissions", ErrForbidden)
		}
		if !authz.HasPermission(codes, req.Permissions) {
			obs.AuthzDecision("permission", "deny")
			return fmt.Errorf("%w: insufficient permissions", ErrForbidden)
		}
		obs.AuthzDecision("permission", "allow")
	}

	if req.Ownership != nil {
		if err := p.evaluateOwnership(ctx, principal, req.Ownership, params); err != nil {
			obs.AuthzDecision("ownership", "deny")
			return err
		}
		obs.AuthzDecision("ownership", "allow")
	}
	return nil
}

func (p *Pipeline) evaluateOwnership(ctx context.Context, principal auth.Principal, desc *OwnershipDescriptor, params map[string]string) error {
	resourceID := strings.TrimSpace(params[desc.ParamName])
	if resourceID == "" {
		// A malformed or misrouted descriptor, distinct from "not found".
		// The predicate is never consulted.
		return fmt.Errorf("%w: resource parameter %q not found", ErrForbidden, desc.ParamName)
	}
	pred, ok := p.registry.lookup(desc.Capability, desc.Method)
	if !ok {
		return fmt.Errorf("%w: ownership validation capability not found", ErrForbidden)
	}
	allowed, err := pred(ctx, resourceID, principal.UserID, principal.Role)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			// The predicate supplied a specific user-facing reason.
			return err
		}
		return fmt.Errorf("%w: access denied", ErrForbidden)
	}
	if !allowed {
		return fmt.Errorf("%w: you do not have access to this resource", ErrForbidden)
	}
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
