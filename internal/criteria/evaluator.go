package criteria

import (
	"fmt"
	"log/slog"
	"strings"
)

// CurrentTimeField is the field the engine resolves to anchor relative
// $before/$after operands.
var CurrentTimeField = MustField("current_time")

// FieldResolver supplies values for field paths during evaluation.
// Unknown paths must resolve to Undefined.
type FieldResolver interface {
	Resolve(field Field) Value
}

// ResolverFunc adapts a function to FieldResolver.
type ResolverFunc func(field Field) Value

// Resolve calls f.
func (f ResolverFunc) Resolve(field Field) Value { return f(field) }

// MapResolver resolves fields by their raw path. Handy for tests and tools.
type MapResolver map[string]Value

// Resolve looks the raw path up in the map.
func (m MapResolver) Resolve(field Field) Value {
	if v, ok := m[field.Raw]; ok {
		return v
	}
	return Undefined()
}

// operatorFunc applies one condition to a defined field value.
type operatorFunc func(field Value, cond Condition, r FieldResolver) bool

// Engine evaluates criteria trees.
type Engine struct {
	operators map[Operator]operatorFunc
	logger    *slog.Logger
}

// New creates an Engine. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger: logger,
		operators: map[Operator]operatorFunc{
			OpEqual:          evalEqual,
			OpNotEqual:       evalNotEqual,
			OpLessThan:       ordered(func(c int) bool { return c < 0 }),
			OpLessOrEqual:    ordered(func(c int) bool { return c <= 0 }),
			OpGreaterThan:    ordered(func(c int) bool { return c > 0 }),
			OpGreaterOrEqual: ordered(func(c int) bool { return c >= 0 }),
			OpContains:       stringOp(strings.Contains),
			OpStartsWith:     stringOp(strings.HasPrefix),
			OpEndsWith:       stringOp(strings.HasSuffix),
			OpIn:             evalIn,
			OpNotIn:          evalNotIn,
			OpBefore:         temporal(func(c int) bool { return c < 0 }),
			OpAfter:          temporal(func(c int) bool { return c > 0 }),
		},
	}
}

// Evaluate reports whether c matches the state exposed by r using a default
// engine.
func Evaluate(c Criteria, r FieldResolver) bool {
	return New(nil).Evaluate(c, r)
}

// Evaluate walks the criteria tree. It always terminates with a boolean.
func (e *Engine) Evaluate(c Criteria, r FieldResolver) bool {
	if r == nil {
		r = MapResolver(nil)
	}
	return e.evalClause(c.Root(), r)
}

func (e *Engine) evalClause(c Clause, r FieldResolver) bool {
	switch n := c.(type) {
	case And:
		for _, sub := range n.Clauses {
			if !e.evalClause(sub, r) {
				return false
			}
		}
		return true

	case Or:
		if len(n.Clauses) == 0 {
			return true
		}
		for _, sub := range n.Clauses {
			if e.evalClause(sub, r) {
				return true
			}
		}
		return false

	case Not:
		if n.Clause == nil {
			return false
		}
		return !e.evalClause(n.Clause, r)

	case Leaf:
		return e.evalLeaf(n, r)

	default:
		e.logger.Warn("unsupported criteria clause", "type", fmt.Sprintf("%T", c))
		return false
	}
}

func (e *Engine) evalLeaf(leaf Leaf, r FieldResolver) bool {
	value := r.Resolve(leaf.Field)

	for _, cond := range leaf.Conditions {
		match := e.evalCondition(value, cond, r)
		e.logger.Debug("criteria condition evaluated",
			"field", leaf.Field.Raw,
			"op", string(cond.Op),
			"value", value.String(),
			"match", match,
		)
		if !match {
			return false
		}
	}
	return true
}

func (e *Engine) evalCondition(value Value, cond Condition, r FieldResolver) bool {
	if cond.Op == OpExists {
		want := cond.Operand.kind == KindBool && cond.Operand.boolean
		return value.IsDefined() == want
	}

	// Undefined fields fail every comparison other than $exists.
	if !value.IsDefined() {
		return false
	}

	op, ok := e.operators[cond.Op]
	if !ok {
		e.logger.Warn("skipping unknown criteria operator", "op", string(cond.Op))
		return false
	}
	return op(value, cond, r)
}

func evalEqual(field Value, cond Condition, _ FieldResolver) bool {
	return cond.Operand.IsDefined() && equalValues(field, cond.Operand)
}

func evalNotEqual(field Value, cond Condition, _ FieldResolver) bool {
	return cond.Operand.IsDefined() && !equalValues(field, cond.Operand)
}

func evalIn(field Value, cond Condition, _ FieldResolver) bool {
	for _, candidate := range cond.Operands {
		if candidate.IsDefined() && equalValues(field, candidate) {
			return true
		}
	}
	return false
}

func evalNotIn(field Value, cond Condition, r FieldResolver) bool {
	return !evalIn(field, cond, r)
}

func ordered(accept func(int) bool) operatorFunc {
	return func(field Value, cond Condition, _ FieldResolver) bool {
		c, ok := compareValues(field, cond.Operand)
		return ok && accept(c)
	}
}

func stringOp(match func(s, sub string) bool) operatorFunc {
	return func(field Value, cond Condition, _ FieldResolver) bool {
		if field.kind != KindString || cond.Operand.kind != KindString {
			return false
		}
		return match(foldString(field.str), foldString(cond.Operand.str))
	}
}

// temporal compares a datetime field against either an absolute datetime
// operand or a number of seconds relative to current_time.
func temporal(accept func(int) bool) operatorFunc {
	return func(field Value, cond Condition, r FieldResolver) bool {
		fieldSec, ok := field.epochSeconds()
		if !ok {
			return false
		}

		var threshold float64
		switch cond.Operand.kind {
		case KindDateTime:
			threshold, _ = cond.Operand.epochSeconds()
		case KindNumber:
			now, ok := r.Resolve(CurrentTimeField).epochSeconds()
			if !ok {
				return false
			}
			threshold = now + cond.Operand.num
		default:
			return false
		}
		return accept(compareFloat(fieldSec, threshold))
	}
}
