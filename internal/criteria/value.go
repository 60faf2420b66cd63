package criteria

import (
	"strconv"
	"strings"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

// Kind identifies the type of a resolved Value.
type Kind uint8

const (
	// KindUndefined marks a field that could not be resolved.
	KindUndefined Kind = iota
	KindString
	KindNumber
	KindBool
	KindVersion
	KindDateTime
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindVersion:
		return "version"
	case KindDateTime:
		return "datetime"
	default:
		return "undefined"
	}
}

// Value is the tri-state operand used on both sides of a comparison:
// either undefined, or one concrete typed value.
type Value struct {
	kind    Kind
	str     string
	num     float64
	boolean bool
	version Version
	time    time.Time
}

// Undefined returns the value used for unresolved field paths.
func Undefined() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// VersionOf returns a version value.
func VersionOf(v Version) Value { return Value{kind: KindVersion, version: v} }

// VersionString parses s as a version, yielding Undefined when s is empty or
// malformed.
func VersionString(s string) Value {
	v, err := ParseVersion(s)
	if err != nil {
		return Undefined()
	}
	return VersionOf(v)
}

// DateTime returns a timestamp value.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, time: t} }

// FromCustomData converts a custom data entry into a criteria value.
func FromCustomData(v customdata.Value) Value {
	switch v.Kind() {
	case customdata.KindString:
		s, _ := v.AsString()
		return String(s)
	case customdata.KindInt, customdata.KindFloat:
		f, _ := v.AsFloat()
		return Number(f)
	case customdata.KindBool:
		b, _ := v.AsBool()
		return Bool(b)
	default:
		return Undefined()
	}
}

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsDefined reports whether v holds a concrete value.
func (v Value) IsDefined() bool { return v.kind != KindUndefined }

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconvFloat(v.num)
	case KindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindVersion:
		return v.version.String()
	case KindDateTime:
		return v.time.UTC().Format(time.RFC3339Nano)
	default:
		return "<undefined>"
	}
}

// epochSeconds returns the value as seconds since the Unix epoch for
// datetime and number kinds.
func (v Value) epochSeconds() (float64, bool) {
	switch v.kind {
	case KindDateTime:
		return float64(v.time.UnixNano()) / float64(time.Second), true
	case KindNumber:
		return v.num, true
	default:
		return 0, false
	}
}

// coerceVersions converts a string on one side into a version when the other
// side is a version. Values that cannot be coerced are returned unchanged.
func coerceVersions(a, b Value) (Value, Value) {
	if a.kind == KindVersion && b.kind == KindString {
		if v, err := ParseVersion(b.str); err == nil {
			b = VersionOf(v)
		}
	} else if b.kind == KindVersion && a.kind == KindString {
		if v, err := ParseVersion(a.str); err == nil {
			a = VersionOf(v)
		}
	} else if a.kind == KindVersion && b.kind == KindNumber {
		b = VersionString(strconvFloat(b.num))
	} else if b.kind == KindVersion && a.kind == KindNumber {
		a = VersionString(strconvFloat(a.num))
	}
	return a, b
}

// equalValues compares two defined values. Values of different kinds are
// never equal.
func equalValues(a, b Value) bool {
	a, b = coerceVersions(a, b)
	if a.kind == KindDateTime || b.kind == KindDateTime {
		x, okA := a.epochSeconds()
		y, okB := b.epochSeconds()
		return okA && okB && x == y
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return foldString(a.str) == foldString(b.str)
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.boolean == b.boolean
	case KindVersion:
		return a.version.Compare(b.version) == 0
	default:
		return false
	}
}

// compareValues orders two defined values. The second return value is false
// when the kinds have no defined ordering.
func compareValues(a, b Value) (int, bool) {
	a, b = coerceVersions(a, b)
	if a.kind == KindDateTime || b.kind == KindDateTime {
		x, okA := a.epochSeconds()
		y, okB := b.epochSeconds()
		if !okA || !okB {
			return 0, false
		}
		return compareFloat(x, y), true
	}
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindString:
		return strings.Compare(foldString(a.str), foldString(b.str)), true
	case KindNumber:
		return compareFloat(a.num, b.num), true
	case KindVersion:
		return a.version.Compare(b.version), true
	default:
		return 0, false
	}
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func foldString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func strconvFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
