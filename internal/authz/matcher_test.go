package authz

import "testing"

func TestHasPermission(t *testing.T) {
	cases := []struct {
		name     string
		granted  []string
		required []string
		want     bool
	}{
		{"exact match", []string{"patients:read"}, []string{"patients:read"}, true},
		{"missing", []string{"patients:read"}, []string{"patients:update"}, false},
		{"resource wildcard", []string{"patients:*"}, []string{"patients:read"}, true},
		{"resource wildcard other resource", []string{"patients:*"}, []string{"roles:read"}, false},
		{"super wildcard grants anything", []string{SuperWildcard}, []string{"patients:read", "roles:delete"}, true},
		{"super wildcard with empty requirement", []string{SuperWildcard}, nil, true},
		{"all required must match", []string{"patients:read"}, []string{"patients:read", "patients:update"}, false},
		{"all required match", []string{"patients:read", "patients:update"}, []string{"patients:read", "patients:update"}, true},
		{"empty requirement", []string{"patients:read"}, nil, true},
		{"empty grants", nil, []string{"patients:read"}, false},
		{"both empty", nil, nil, true},
		{"malformed granted only matches itself", []string{"patients"}, []string{"patients"}, true},
		{"malformed granted is not a wildcard", []string{"patients"}, []string{"patients:read"}, false},
		{"wildcard does not satisfy malformed requirement", []string{"patients:*"}, []string{"patients"}, false},
		{"malformed requirement unmatched", []string{"patients:read"}, []string{"patients"}, false},
		{"wildcard as granted literal star resource", []string{"*:read"}, []string{"patients:read"}, false},
		{"extra colons keep first two segments", []string{"patients:read:all"}, []string{"patients:read"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasPermission(tc.granted, tc.required); got != tc.want {
				t.Fatalf("HasPermission(%v, %v) = %v, want %v", tc.granted, tc.required, got, tc.want)
			}
		})
	}
}
