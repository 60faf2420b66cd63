package criteria

import (
	"fmt"
	"strings"
)

// Version is a dotted version string such as "1.2.10" or "2.0-beta".
type Version struct {
	raw      string
	segments []string
}

// ParseVersion splits s into dot-delimited segments. A leading "v" is ignored.
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "v"), "V")
	if trimmed == "" {
		return Version{}, fmt.Errorf("empty version string")
	}

	segments := strings.Split(trimmed, ".")
	for i, seg := range segments {
		if seg == "" {
			return Version{}, fmt.Errorf("version %q has an empty segment at position %d", s, i)
		}
	}
	return Version{raw: s, segments: segments}, nil
}

// String returns the version as it was parsed.
func (v Version) String() string { return v.raw }

// Compare returns -1, 0 or 1. Segments are compared left to right:
// numerically when both are digit strings, lexically otherwise. Missing
// trailing segments count as "0", so "1.2" equals "1.2.0".
func (v Version) Compare(other Version) int {
	n := max(len(v.segments), len(other.segments))
	for i := range n {
		a, b := segmentAt(v.segments, i), segmentAt(other.segments, i)
		if c := compareSegment(a, b); c != 0 {
			return c
		}
	}
	return 0
}

// CompareVersions parses and compares two version strings. The second return
// value is false when either string is not a valid version.
func CompareVersions(a, b string) (int, bool) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}

func segmentAt(segments []string, i int) string {
	if i < len(segments) {
		return segments[i]
	}
	return "0"
}

func compareSegment(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		// Arbitrary-length digit strings compare by length first.
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
