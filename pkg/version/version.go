// Package version matches package versions against semantic-version ranges.
//
// All functions are pure. Ranges use the npm dialect understood by
// [github.com/Masterminds/semver/v3]: caret (^1.2.0), tilde (~1.0.0),
// x-ranges (1.0.x), comparisons (>=1.0.1, <=1.0.0), hyphen ranges and ||.
// The empty range and "latest" match any version.
package version

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/apm/pkg/errors"
)

// Any is the range that matches every version.
const Any = "*"

// ParseRange compiles a range string. Empty and "latest" compile to [Any].
func ParseRange(rng string) (*semver.Constraints, error) {
	rng = normalizeRange(rng)
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidRange, err, "invalid range %q", rng)
	}
	return c, nil
}

// ValidRange reports whether rng is a parseable range.
func ValidRange(rng string) bool {
	_, err := ParseRange(rng)
	return err == nil
}

func normalizeRange(rng string) string {
	rng = strings.TrimSpace(rng)
	if rng == "" || rng == "latest" {
		return Any
	}
	return rng
}

// Satisfies reports whether version v is matched by rng.
// Unparseable versions or ranges never satisfy.
func Satisfies(v, rng string) bool {
	sv, err := semver.StrictNewVersion(strings.TrimPrefix(v, "v"))
	if err != nil {
		return false
	}
	c, err := ParseRange(rng)
	if err != nil {
		return false
	}
	return c.Check(sv)
}

// MaxSatisfying picks the highest version in versions matched by rng.
// It returns ok=false when the set is empty or nothing matches, and an
// INVALID_RANGE error when rng does not parse. Entries that are not valid
// versions are ignored.
func MaxSatisfying(versions []string, rng string) (string, bool, error) {
	c, err := ParseRange(rng)
	if err != nil {
		return "", false, err
	}
	var best *semver.Version
	var bestRaw string
	for _, raw := range versions {
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			continue
		}
		if !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	if best == nil {
		return "", false, nil
	}
	return bestRaw, true, nil
}

// DefaultRange derives the range used when a dependency is requested without
// one: compatible with the latest known version (same major, >= latest).
func DefaultRange(latest string) string {
	if latest == "" {
		return Any
	}
	return "^" + latest
}

// FormatForSave returns the string written into a descriptor for s.
// A bare version becomes a caret range; anything else passes through.
func FormatForSave(s string) string {
	s = strings.TrimSpace(s)
	if _, err := semver.StrictNewVersion(s); err == nil {
		return "^" + s
	}
	return s
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or higher than b.
// Invalid versions sort before valid ones and compare lexically to each other.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// Greater reports whether a is a strictly higher version than b.
func Greater(a, b string) bool {
	return Compare(a, b) > 0
}

// Latest returns the highest valid version of versions.
func Latest(versions []string) (string, bool) {
	v, ok, _ := MaxSatisfying(versions, Any)
	return v, ok
}

// Sort orders versions ascending by semantic precedence.
func Sort(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) < 0
	})
}
