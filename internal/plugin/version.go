package plugin

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// ParseVersion parses a lenient semantic version. A leading "v" is ignored and
// missing minor or patch components default to zero, so "1", "v1.2" and
// "1.2.3-beta.1+build" are all accepted.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}

	core, suffix := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		core, suffix = s[:i], s[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		return nil, fmt.Errorf("invalid version %q", s)
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return nil, fmt.Errorf("invalid version %q", s)
		}
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}

	v, err := semver.NewVersion(strings.Join(parts, ".") + suffix)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// Constraint is one comparison of a version requirement.
type Constraint struct {
	Op      string
	Version *semver.Version
}

// Requirement is a conjunction of constraints. An empty requirement matches
// every version.
type Requirement struct {
	raw         string
	constraints []Constraint
}

// constraintOps is ordered so two-character operators match first.
var constraintOps = []string{">=", "<=", "!=", ">", "<", "^", "~", "="}

// ParseRequirement parses requirements such as ">=1.0.0", "^2.1",
// ">=1.2, <2" or "*".
func ParseRequirement(s string) (Requirement, error) {
	req := Requirement{raw: strings.TrimSpace(s)}
	if req.raw == "" || req.raw == "*" {
		return req, nil
	}

	for _, part := range strings.Split(req.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Requirement{}, fmt.Errorf("invalid requirement %q: empty constraint", s)
		}
		c, err := parseConstraint(part)
		if err != nil {
			return Requirement{}, fmt.Errorf("invalid requirement %q: %w", s, err)
		}
		req.constraints = append(req.constraints, c)
	}
	return req, nil
}

func parseConstraint(s string) (Constraint, error) {
	op := "="
	for _, candidate := range constraintOps {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			s = strings.TrimSpace(s[len(candidate):])
			break
		}
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{Op: op, Version: v}, nil
}

// Satisfied reports whether v meets every constraint.
func (r Requirement) Satisfied(v *semver.Version) bool {
	for _, c := range r.constraints {
		if !c.matches(v) {
			return false
		}
	}
	return true
}

// SatisfiedBy parses version and checks it. Unparsable versions never satisfy
// a non-empty requirement.
func (r Requirement) SatisfiedBy(version string) bool {
	if r.IsAny() {
		return true
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	return r.Satisfied(v)
}

// IsAny reports whether the requirement accepts every version.
func (r Requirement) IsAny() bool {
	return len(r.constraints) == 0
}

func (r Requirement) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

func (c Constraint) matches(v *semver.Version) bool {
	cmp := v.Compare(*c.Version)
	switch c.Op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "^":
		return v.Major == c.Version.Major && cmp >= 0
	case "~":
		return v.Major == c.Version.Major && v.Minor == c.Version.Minor && cmp >= 0
	}
	return false
}
