package registry

import (
	"regexp"
	"strings"
)

// rightPattern accepts "domain:resource:action", a "prefix:*" wildcard, or
// bare "*". An "own:" marker restricts the right to caller-owned resources.
var rightPattern = regexp.MustCompile(`^(own:)?(\*|[a-z][a-z0-9_-]*(:[a-z0-9_-]+)*:\*|[a-z][a-z0-9_-]*:[a-z0-9_-]+:[a-z0-9_-]+)$`)

// OwnScopePrefix marks an access right as limited to resources created by
// the holder.
const OwnScopePrefix = "own:"

// ValidRight reports whether raw is a well-formed access right.
func ValidRight(raw string) bool {
	return rightPattern.MatchString(raw)
}

// HasRight reports whether the requested right is covered by the granted set.
//
// A grant matches when it equals the requested right exactly, when it is a
// "prefix:*" wildcard whose prefix covers the request, or when it is the bare
// "*" wildcard. All three conventions appear in stored role definitions, so
// every form is honoured.
func HasRight(granted []string, requested string) bool {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return false
	}
	for _, g := range granted {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if g == "*" || g == requested {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, ":*"); ok {
			if strings.HasPrefix(requested, prefix+":") {
				return true
			}
		}
	}
	return false
}

// HasAnyRight reports whether any of the requested rights is covered.
func HasAnyRight(granted []string, requested ...string) bool {
	for _, r := range requested {
		if HasRight(granted, r) {
			return true
		}
	}
	return false
}
