package criteria

import (
	"bytes"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Criteria {
	t.Helper()
	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	return c
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := MapResolver{
		"current_time":                   DateTime(now),
		"app_release/version":            VersionString("2.1"),
		"person/name":                    String("  Alice "),
		"person/custom_data/vip":         Bool(true),
		"person/custom_data/age":         Number(42),
		"device/os_name":                 String("iOS"),
		"time_at_install/total":          DateTime(now.Add(-10 * 24 * time.Hour)),
		"interactions/abc/invokes/total": Number(3),
	}

	tests := []struct {
		name     string
		criteria string
		want     bool
	}{
		{name: "empty object always matches", criteria: `{}`, want: true},
		{name: "empty and", criteria: `{"$and": []}`, want: true},
		{name: "empty or", criteria: `{"$or": []}`, want: true},
		{name: "version gte string operand", criteria: `{"app_release/version": {"$gte": "2.0"}}`, want: true},
		{name: "version lt typed operand", criteria: `{"app_release/version": {"$lt": {"_type": "version", "version": "2.0.1"}}}`, want: false},
		{name: "version equal with padding", criteria: `{"app_release/version": {"_type": "version", "version": "2.1.0"}}`, want: true},
		{name: "string equality folds case and space", criteria: `{"person/name": "alice"}`, want: true},
		{name: "string not equal", criteria: `{"person/name": {"$ne": "bob"}}`, want: true},
		{name: "contains", criteria: `{"person/name": {"$contains": "LIC"}}`, want: true},
		{name: "starts with", criteria: `{"device/os_name": {"$starts_with": "i"}}`, want: true},
		{name: "ends with miss", criteria: `{"device/os_name": {"$ends_with": "droid"}}`, want: false},
		{name: "bool equality", criteria: `{"person/custom_data/vip": true}`, want: true},
		{name: "number range", criteria: `{"person/custom_data/age": {"$gt": 40, "$lte": 42}}`, want: true},
		{name: "number range miss", criteria: `{"person/custom_data/age": {"$gt": 40, "$lt": 42}}`, want: false},
		{name: "in", criteria: `{"device/os_name": {"$in": ["Android", "ios"]}}`, want: true},
		{name: "nin", criteria: `{"device/os_name": {"$nin": ["Android", "web"]}}`, want: true},
		{name: "kind mismatch is not equal", criteria: `{"person/custom_data/age": "42"}`, want: false},
		{name: "ordering across kinds is false", criteria: `{"person/name": {"$gt": 1}}`, want: false},
		{name: "installed more than a day ago", criteria: `{"time_at_install/total": {"$before": -86400}}`, want: true},
		{name: "installed within the last day", criteria: `{"time_at_install/total": {"$after": -86400}}`, want: false},
		{name: "absolute after", criteria: `{"time_at_install/total": {"$after": {"_type": "datetime", "sec": 1700000000}}}`, want: true},
		{name: "unresolved dot path does not exist", criteria: `{"interactions.abc.invokes.total": {"$exists": false}}`, want: true},
		{name: "or short circuit", criteria: `{"$or": [{"device/os_name": "iOS"}, {"missing": "x"}]}`, want: true},
		{name: "and requires all", criteria: `{"$and": [{"device/os_name": "iOS"}, {"missing": "x"}]}`, want: false},
		{name: "not", criteria: `{"$not": {"device/os_name": "Android"}}`, want: true},
		{name: "invocation count", criteria: `{"interactions/abc/invokes/total": {"$lt": 5}}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			got := engine.Evaluate(mustParse(t, tt.criteria), state)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestEngine_UndefinedField checks that an unresolved field fails every
// operator except an explicit non-existence check.
func TestEngine_UndefinedField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		criteria string
		want     bool
	}{
		{criteria: `{"missing": "x"}`},
		{criteria: `{"missing": {"$eq": 1}}`},
		{criteria: `{"missing": {"$ne": 1}}`},
		{criteria: `{"missing": {"$ne": "x"}}`},
		{criteria: `{"missing": {"$lt": 1}}`},
		{criteria: `{"missing": {"$lte": 1}}`},
		{criteria: `{"missing": {"$gt": 1}}`},
		{criteria: `{"missing": {"$gte": 1}}`},
		{criteria: `{"missing": {"$contains": "x"}}`},
		{criteria: `{"missing": {"$starts_with": "x"}}`},
		{criteria: `{"missing": {"$ends_with": "x"}}`},
		{criteria: `{"missing": {"$in": ["x"]}}`},
		{criteria: `{"missing": {"$nin": ["x"]}}`},
		{criteria: `{"missing": {"$before": 0}}`},
		{criteria: `{"missing": {"$after": 0}}`},
		{criteria: `{"missing": {"$gte": {"_type": "version", "version": "1.0"}}}`},
		{criteria: `{"missing": {"$exists": true}}`},
		{criteria: `{"missing": {"$exists": false}}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.criteria, func(t *testing.T) {
			t.Parallel()

			got := Evaluate(mustParse(t, tt.criteria), MapResolver{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_LogsConditions(t *testing.T) {
	t.Parallel()

	var logBuffer bytes.Buffer
	engine := New(slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug})))

	got := engine.Evaluate(mustParse(t, `{"device/os_name": "iOS"}`), MapResolver{"device/os_name": String("iOS")})

	assert.True(t, got)
	assert.Contains(t, logBuffer.String(), "criteria condition evaluated")
	assert.Contains(t, logBuffer.String(), "field=device/os_name")
}

func TestEngine_UnknownOperatorBuiltByHandFailsClosed(t *testing.T) {
	t.Parallel()

	var logBuffer bytes.Buffer
	engine := New(slog.New(slog.NewTextHandler(&logBuffer, nil)))

	c := FromClause(Leaf{
		Field:      MustField("x"),
		Conditions: []Condition{{Op: Operator("$regex"), Operand: String("a")}},
	})

	assert.False(t, engine.Evaluate(c, MapResolver{"x": String("a")}))
	assert.Contains(t, logBuffer.String(), "skipping unknown criteria operator")
}

// TestEngine_Totality evaluates randomly generated trees against randomly
// populated state; every evaluation must return without panicking.
func TestEngine_Totality(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	fields := []string{"a", "b", "c", "d"}
	values := []Value{
		Undefined(), String("x"), Number(1), Bool(true),
		VersionString("1.2"), DateTime(time.Unix(1700000000, 0)),
	}
	ops := []Operator{
		OpEqual, OpNotEqual, OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual,
		OpExists, OpContains, OpStartsWith, OpEndsWith, OpIn, OpNotIn, OpBefore, OpAfter,
	}

	var gen func(depth int) Clause
	gen = func(depth int) Clause {
		if depth == 0 || rng.IntN(3) == 0 {
			op := ops[rng.IntN(len(ops))]
			cond := Condition{Op: op, Operand: values[rng.IntN(len(values))]}
			if op == OpExists {
				cond.Operand = Bool(rng.IntN(2) == 0)
			}
			if op == OpIn || op == OpNotIn {
				cond.Operands = []Value{values[rng.IntN(len(values))], values[rng.IntN(len(values))]}
			}
			return Leaf{Field: MustField(fields[rng.IntN(len(fields))]), Conditions: []Condition{cond}}
		}
		n := rng.IntN(3)
		subs := make([]Clause, n)
		for i := range subs {
			subs[i] = gen(depth - 1)
		}
		switch rng.IntN(3) {
		case 0:
			return And{Clauses: subs}
		case 1:
			return Or{Clauses: subs}
		default:
			return Not{Clause: gen(depth - 1)}
		}
	}

	engine := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for range 2000 {
		state := MapResolver{"current_time": DateTime(time.Unix(1700000100, 0))}
		for _, f := range fields {
			state[f] = values[rng.IntN(len(values))]
		}
		c := FromClause(gen(4))
		assert.NotPanics(t, func() { engine.Evaluate(c, state) })
	}
}
