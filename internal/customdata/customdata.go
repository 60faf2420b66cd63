// Package customdata provides the typed key/value store attached to people,
// devices, events and messages.
//
// Values are restricted to four scalar kinds (string, integer, floating-point,
// boolean). Anything else is rejected at the API boundary with
// ErrInvalidCustomDataType, so targeting criteria never see a value they cannot
// compare.
package customdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// ErrInvalidCustomDataType is returned when a value outside the four supported
// scalar kinds is assigned.
var ErrInvalidCustomDataType = errors.New("invalid custom data type")

// Kind identifies which scalar a Value holds.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
)

// String returns the kind name used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a closed sum over string, int64, float64 and bool.
// The zero Value is invalid and is never stored.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point Value. NaN and the infinities are refused
// when the Value is stored.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ValueOf converts a Go value into a Value.
// It accepts strings, every integer kind, float32/float64, bool and Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		if !x.IsValid() {
			return Value{}, ErrInvalidCustomDataType
		}
		if x.kind == KindFloat {
			return floatValue(x.f)
		}
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return uintValue(x)
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrInvalidCustomDataType, v)
	}
}

// floatValue rejects NaN and the infinities, which have no JSON encoding.
func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite float %v", ErrInvalidCustomDataType, f)
	}
	return Float(f), nil
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: unsigned value %d overflows int64", ErrInvalidCustomDataType, u)
	}
	return Int(int64(u)), nil
}

// Kind reports the scalar kind held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds one of the supported kinds.
func (v Value) IsValid() bool { return v.kind >= KindString && v.kind <= KindBool }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer payload and whether v is an integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the numeric payload for both integers and floats.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean payload and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON encodes the payload as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsValid() {
		return nil, ErrInvalidCustomDataType
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON scalar. Integral numbers become KindInt.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = String(x)
	case bool:
		*v = Bool(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidCustomDataType, x)
		}
		*v = Float(f)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidCustomDataType, raw)
	}
	return nil
}

// CustomData is an insertion-ordered mapping from key to Value.
// Keys are unique; the last write for a key wins and keeps the key's
// original position. The zero value is an empty, usable map.
type CustomData struct {
	keys   []string
	values map[string]Value
}

// New returns an empty CustomData.
func New() CustomData {
	return CustomData{}
}

// FromMap builds a CustomData from a Go map. Keys are inserted in sorted
// order so the result is deterministic.
func FromMap(m map[string]any) (CustomData, error) {
	var cd CustomData
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := cd.Set(k, m[k]); err != nil {
			return CustomData{}, fmt.Errorf("key %q: %w", k, err)
		}
	}
	return cd, nil
}

// Set assigns v to key. It fails with ErrInvalidCustomDataType when v is not
// one of the supported kinds, leaving the map untouched.
func (c *CustomData) Set(key string, v any) error {
	val, err := ValueOf(v)
	if err != nil {
		return err
	}
	c.put(key, val)
	return nil
}

func (c *CustomData) put(key string, val Value) {
	if c.values == nil {
		c.values = make(map[string]Value)
	}
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = val
}

// Get returns the value stored under key.
func (c CustomData) Get(key string) (Value, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *CustomData) Delete(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c CustomData) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of entries.
func (c CustomData) Len() int { return len(c.keys) }

// Clone returns a deep copy.
func (c CustomData) Clone() CustomData {
	var out CustomData
	for _, k := range c.keys {
		out.put(k, c.values[k])
	}
	return out
}

// Equal reports whether both maps hold the same entries in the same order.
func (c CustomData) Equal(other CustomData) bool {
	if len(c.keys) != len(other.keys) {
		return false
	}
	for i, k := range c.keys {
		if other.keys[i] != k || c.values[k] != other.values[k] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object preserving key order.
func (c CustomData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := c.values[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the document's key order.
// A JSON null decodes to an empty map.
func (c *CustomData) UnmarshalJSON(data []byte) error {
	*c = CustomData{}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("custom data must be a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("custom data key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		c.put(key, v)
	}

	_, err = dec.Token()
	return err
}
