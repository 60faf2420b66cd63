package criteria

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ErrUnknownOperator is returned when a criteria document uses an operator tag
// the engine does not implement.
var ErrUnknownOperator = errors.New("unknown criteria operator")

// ErrMalformed is returned for structurally invalid criteria documents.
var ErrMalformed = errors.New("malformed criteria")

var knownOperators = map[Operator]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpLessThan: {}, OpLessOrEqual: {},
	OpGreaterThan: {}, OpGreaterOrEqual: {}, OpExists: {}, OpContains: {},
	OpStartsWith: {}, OpEndsWith: {}, OpIn: {}, OpNotIn: {},
	OpBefore: {}, OpAfter: {},
}

// Parse decodes a criteria document. An empty document or JSON null yields
// criteria that always match.
func Parse(data []byte) (Criteria, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Always(), nil
	}

	root, err := parseObject(trimmed)
	if err != nil {
		return Criteria{}, err
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return Criteria{root: root, raw: raw}, nil
}

// parseObject decodes a JSON object into an implicit And of its entries.
// Keys are visited in sorted order so evaluation order is deterministic.
func parseObject(data []byte) (Clause, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: expected object: %v", ErrMalformed, err)
	}

	clauses := make([]Clause, 0, len(obj))
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		c, err := parseEntry(key, obj[key])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return And{Clauses: clauses}, nil
}

func parseEntry(key string, value json.RawMessage) (Clause, error) {
	switch key {
	case tagAnd, tagOr:
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, fmt.Errorf("%w: %s expects an array: %v", ErrMalformed, key, err)
		}
		subs := make([]Clause, 0, len(items))
		for i, item := range items {
			c, err := parseObject(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			subs = append(subs, c)
		}
		if key == tagAnd {
			return And{Clauses: subs}, nil
		}
		return Or{Clauses: subs}, nil

	case tagNot:
		c, err := parseObject(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return Not{Clause: c}, nil
	}

	if strings.HasPrefix(key, "$") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, key)
	}

	field, err := ParseField(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	conditions, err := parseConditions(value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return Leaf{Field: field, Conditions: conditions}, nil
}

// parseConditions decodes the right-hand side of a field entry. A bare value or
// a typed object ({"_type": ...}) is an implicit $eq.
func parseConditions(data json.RawMessage) ([]Condition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		v, err := parseOperand(trimmed)
		if err != nil {
			return nil, err
		}
		return []Condition{{Op: OpEqual, Operand: v}}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, typed := obj["_type"]; typed {
		v, err := parseOperand(trimmed)
		if err != nil {
			return nil, err
		}
		return []Condition{{Op: OpEqual, Operand: v}}, nil
	}

	conditions := make([]Condition, 0, len(obj))
	for _, tag := range slices.Sorted(maps.Keys(obj)) {
		op := Operator(tag)
		if _, ok := knownOperators[op]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, tag)
		}
		cond, err := parseCondition(op, obj[tag])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag, err)
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func parseCondition(op Operator, data json.RawMessage) (Condition, error) {
	switch op {
	case OpIn, OpNotIn:
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return Condition{}, fmt.Errorf("%w: expects an array: %v", ErrMalformed, err)
		}
		operands := make([]Value, 0, len(items))
		for _, item := range items {
			v, err := parseOperand(item)
			if err != nil {
				return Condition{}, err
			}
			operands = append(operands, v)
		}
		return Condition{Op: op, Operands: operands}, nil

	case OpExists:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Condition{}, fmt.Errorf("%w: expects a boolean", ErrMalformed)
		}
		return Condition{Op: op, Operand: Bool(b)}, nil
	}

	v, err := parseOperand(data)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Op: op, Operand: v}, nil
}

// parseOperand decodes a scalar or a typed object into a Value.
func parseOperand(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch x := raw.(type) {
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad number %s", ErrMalformed, x)
		}
		return Number(f), nil
	case map[string]any:
		return parseTyped(x)
	default:
		return Value{}, fmt.Errorf("%w: unsupported operand %T", ErrMalformed, raw)
	}
}

func parseTyped(obj map[string]any) (Value, error) {
	typ, _ := obj["_type"].(string)
	switch typ {
	case "version":
		s, _ := obj["version"].(string)
		v, err := ParseVersion(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return VersionOf(v), nil
	case "datetime":
		n, ok := obj["sec"].(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("%w: datetime requires numeric sec", ErrMalformed)
		}
		sec, err := n.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return DateTime(time.Unix(0, int64(sec*float64(time.Second))).UTC()), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown typed operand %q", ErrMalformed, typ)
	}
}
