package authz

import "strings"

// SuperWildcard is the permission code that grants everything.
const SuperWildcard = "*:*"

// HasPermission reports whether the granted codes satisfy every required
// code. A granted code g satisfies a required code r when they match exactly,
// when g shares r's resource with action "*", or when g is "*:*". A granted
// set containing "*:*" satisfies any requirement, including an empty one.
//
// Codes without a ":" separator are malformed; they satisfy only an
// identical malformed code and never act as wildcards.
func HasPermission(granted, required []string) bool {
	for _, g := range granted {
		if g == SuperWildcard {
			return true
		}
	}
	for _, r := range required {
		if !satisfied(granted, r) {
			return false
		}
	}
	return true
}

func satisfied(granted []string, required string) bool {
	rRes, rAct, rOK := splitCode(required)
	for _, g := range granted {
		gRes, gAct, gOK := splitCode(g)
		if !rOK || !gOK {
			if g == required {
				return true
			}
			continue
		}
		switch {
		case gRes == rRes && gAct == rAct:
			return true
		case gRes == rRes && gAct == "*":
			return true
		case gRes == "*" && gAct == "*":
			return true
		}
	}
	return false
}

func splitCode(code string) (resource, action string, ok bool) {
	parts := strings.Split(code, ":")
	if len(parts) < 2 {
		return code, "", false
	}
	return parts[0], parts[1], true
}
