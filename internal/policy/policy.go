// Package policy decides whether an installed version should move to a
// candidate version.
package policy

import (
	"fmt"
	"strings"
)

// Policy reports whether installed should be replaced by candidate.
type Policy interface {
	ShouldUpdate(installed, candidate string) bool
}

// Names accepted by FromName.
const (
	NameAlways = "always"
	NameForce  = "force"
	NameSemVer = "semver"
)

// Always accepts every candidate.
type Always struct{}

// ShouldUpdate always returns true.
func (Always) ShouldUpdate(string, string) bool { return true }

// String returns the policy name.
func (Always) String() string { return NameAlways }

// SemVer gates updates on which version component moved forward. Only the
// most significant differing component decides.
type SemVer struct {
	Major bool
	Minor bool
	Patch bool
}

// DefaultSemVer accepts patch releases only.
func DefaultSemVer() SemVer {
	return SemVer{Patch: true}
}

// ShouldUpdate compares installed and candidate component-wise.
func (p SemVer) ShouldUpdate(installed, candidate string) bool {
	cur := ParseVersion(installed)
	next := ParseVersion(candidate)

	switch {
	case next[0] > cur[0]:
		return p.Major
	case next[0] < cur[0]:
		return false
	case next[1] > cur[1]:
		return p.Minor
	case next[1] < cur[1]:
		return false
	case next[2] > cur[2]:
		return p.Patch
	default:
		return false
	}
}

func (p SemVer) String() string {
	return fmt.Sprintf("semver(major=%t, minor=%t, patch=%t)", p.Major, p.Minor, p.Patch)
}

// ParseVersion splits a version into major, minor and patch. A leading "v"
// is ignored, missing components are 0, and each component is read from
// its leading decimal digits, so a non-numeric component is 0.
func ParseVersion(v string) [3]int {
	var out [3]int

	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	if v == "" {
		return out
	}

	parts := strings.SplitN(v, ".", 4)
	for i := 0; i < len(out) && i < len(parts); i++ {
		out[i] = leadingInt(parts[i])
	}
	return out
}

func leadingInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		d := int(r - '0')
		if n > (1<<31-1-d)/10 {
			return n
		}
		n = n*10 + d
	}
	return n
}

// FromName builds a policy from its configured name. An empty name means
// semver with the given flags.
func FromName(name string, major, minor, patch bool) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameAlways, NameForce:
		return Always{}, nil
	case NameSemVer, "":
		return SemVer{Major: major, Minor: minor, Patch: patch}, nil
	default:
		return nil, fmt.Errorf("unknown update policy %q (want %q or %q)", name, NameSemVer, NameAlways)
	}
}
