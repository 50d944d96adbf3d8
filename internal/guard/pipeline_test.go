package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"carelink.org/internal/auth"
)

type stubPermissions struct {
	codes map[string][]string
	err   error
}

func (s *stubPermissions) PermissionCodesByRole(_ context.Context, roleName string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.codes[roleName], nil
}

func newTestPipeline(t *testing.T, perms *stubPermissions, registry *Registry) *Pipeline {
	t.Helper()
	p, err := NewPipeline(perms, registry)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestAuthorizeRequiresPrincipal(t *testing.T) {
	p := newTestPipeline(t, &stubPermissions{}, nil)

	err := p.Authorize(context.Background(), auth.Principal{}, Requirement{}, nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	err = p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "patient"}, Requirement{}, nil)
	if err != nil {
		t.Fatalf("authenticated principal with empty requirement must pass, got %v", err)
	}
}

func TestAuthorizeRoleGate(t *testing.T) {
	p := newTestPipeline(t, &stubPermissions{}, nil)
	req := Requirement{Roles: []string{"admin", "doctor"}}

	if err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "nurse"}, req, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Role comparison ignores case.
	if err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "Doctor"}, req, nil); err != nil {
		t.Fatalf("expected role gate to pass, got %v", err)
	}
}

func TestAuthorizePermissionGate(t *testing.T) {
	perms := &stubPermissions{codes: map[string][]string{
		"doctor": {"patients:read", "patients:update"},
	}}
	p := newTestPipeline(t, perms, nil)
	doctor := auth.Principal{UserID: "u1", Role: "doctor"}

	if err := p.Authorize(context.Background(), doctor, Requirement{Permissions: []string{"patients:read"}}, nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	err := p.Authorize(context.Background(), doctor, Requirement{Permissions: []string{"roles:delete"}}, nil)
	if !errors.Is(err, ErrForbidden) || !strings.Contains(err.Error(), "insufficient permissions") {
		t.Fatalf("expected insufficient permissions, got %v", err)
	}
}

func TestAuthorizePermissionLookupErrorDenies(t *testing.T) {
	lookupErr := errors.New("store unavailable")
	p := newTestPipeline(t, &stubPermissions{err: lookupErr}, nil)

	err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "doctor"},
		Requirement{Permissions: []string{"patients:read"}}, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if errors.Is(err, lookupErr) || strings.Contains(err.Error(), "unavailable") {
		t.Fatalf("store error must not leak to the caller: %v", err)
	}
}

func TestAuthorizeNoDeclaredPermissionsAdmitsAnyRole(t *testing.T) {
	// The role has no grants at all; with nothing declared the gate is a no-op.
	p := newTestPipeline(t, &stubPermissions{codes: map[string][]string{}}, nil)

	if err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "intern"}, Requirement{}, nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestOwnershipMissingParamDeniesWithoutPredicate(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	registry.Register("patients", "access", func(context.Context, string, string, string) (bool, error) {
		calls++
		return true, nil
	})
	p := newTestPipeline(t, &stubPermissions{}, registry)

	req := Requirement{Ownership: &OwnershipDescriptor{Capability: "patients", Method: "access", ParamName: "id"}}
	err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "doctor"}, req, map[string]string{})
	if !errors.Is(err, ErrForbidden) || !strings.Contains(err.Error(), `resource parameter "id" not found`) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("predicate must not run without a resource id, ran %d times", calls)
	}
}

func TestOwnershipUnknownCapabilityDenies(t *testing.T) {
	p := newTestPipeline(t, &stubPermissions{}, NewRegistry())

	req := Requirement{Ownership: &OwnershipDescriptor{Capability: "patients", Method: "access", ParamName: "id"}}
	err := p.Authorize(context.Background(), auth.Principal{UserID: "u1", Role: "doctor"}, req, map[string]string{"id": "p-9"})
	if !errors.Is(err, ErrForbidden) || !strings.Contains(err.Error(), "capability not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOwnershipPredicateOutcomes(t *testing.T) {
	specific := fmt.Errorf("%w: record sealed by court order", ErrForbidden)
	registry := NewRegistry()
	registry.Register("patients", "access", func(_ context.Context, resourceID, userID, _ string) (bool, error) {
		switch resourceID {
		case "mine":
			return userID == "u1", nil
		case "sealed":
			return false, specific
		case "broken":
			return false, errors.New("db timeout")
		}
		return false, nil
	})
	p := newTestPipeline(t, &stubPermissions{}, registry)
	desc := &OwnershipDescriptor{Capability: "patients", Method: "access", ParamName: "id"}
	principal := auth.Principal{UserID: "u1", Role: "patient"}

	if err := p.Authorize(context.Background(), principal, Requirement{Ownership: desc}, map[string]string{"id": "mine"}); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	err := p.Authorize(context.Background(), principal, Requirement{Ownership: desc}, map[string]string{"id": "other"})
	if !errors.Is(err, ErrForbidden) || !strings.Contains(err.Error(), "you do not have access to this resource") {
		t.Fatalf("unexpected error: %v", err)
	}

	// A predicate error wrapping ErrForbidden carries its own message through.
	err = p.Authorize(context.Background(), principal, Requirement{Ownership: desc}, map[string]string{"id": "sealed"})
	if !errors.Is(err, specific) {
		t.Fatalf("expected the predicate's own error, got %v", err)
	}

	// Any other predicate error collapses to a generic deny.
	err = p.Authorize(context.Background(), principal, Requirement{Ownership: desc}, map[string]string{"id": "broken"})
	if !errors.Is(err, ErrForbidden) || strings.Contains(err.Error(), "timeout") {
		t.Fatalf("internal error must not leak: %v", err)
	}
}

func TestRegistryIgnoresInvalidRegistrations(t *testing.T) {
	registry := NewRegistry()
	registry.Register("", "access", func(context.Context, string, string, string) (bool, error) { return true, nil })
	registry.Register("patients", "", func(context.Context, string, string, string) (bool, error) { return true, nil })
	registry.Register("patients", "access", nil)

	if _, ok := registry.lookup("patients", "access"); ok {
		t.Fatal("invalid registrations must not be stored")
	}
}
