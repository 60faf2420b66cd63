package criteria

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Structure(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`{
		"$or": [
			{"person/name": "alice"},
			{"$not": {"device/os_name": {"$eq": "Android"}}}
		],
		"code_point/local#app#launch/invokes/total": {"$gte": 2, "$lt": 10}
	}`))
	require.NoError(t, err)

	root, ok := c.Root().(And)
	require.True(t, ok, "top-level keys are combined with And")
	require.Len(t, root.Clauses, 2)

	// Keys are sorted: "$or" sorts before "code_point/...".
	or, ok := root.Clauses[0].(Or)
	require.True(t, ok)
	require.Len(t, or.Clauses, 2)
	_, ok = or.Clauses[1].(Not)
	assert.True(t, ok)

	leaf, ok := root.Clauses[1].(Leaf)
	require.True(t, ok)
	assert.Equal(t, []string{"code_point", "local#app#launch", "invokes", "total"}, leaf.Field.Parts)
	require.Len(t, leaf.Conditions, 2)
	assert.Equal(t, OpGreaterOrEqual, leaf.Conditions[0].Op)
	assert.Equal(t, OpLessThan, leaf.Conditions[1].Op)
}

func TestParse_TypedOperands(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`{
		"application/version": {"$gte": {"_type": "version", "version": "2.0"}},
		"time_at_install/total": {"$after": {"_type": "datetime", "sec": 1700000000}}
	}`))
	require.NoError(t, err)

	root := c.Root().(And)
	version := root.Clauses[0].(Leaf).Conditions[0].Operand
	assert.Equal(t, KindVersion, version.Kind())

	when := root.Clauses[1].(Leaf).Conditions[0].Operand
	assert.Equal(t, KindDateTime, when.Kind())
	assert.Equal(t, int64(1700000000), when.time.Unix())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "unknown field operator", input: `{"x": {"$regex": "a"}}`, wantErr: ErrUnknownOperator},
		{name: "unknown combinator", input: `{"$xor": []}`, wantErr: ErrUnknownOperator},
		{name: "nested unknown operator", input: `{"$and": [{"$or": [{"x": {"$like": 1}}]}]}`, wantErr: ErrUnknownOperator},
		{name: "and requires array", input: `{"$and": {}}`, wantErr: ErrMalformed},
		{name: "exists requires bool", input: `{"x": {"$exists": "yes"}}`, wantErr: ErrMalformed},
		{name: "null operand", input: `{"x": null}`, wantErr: ErrMalformed},
		{name: "array operand for eq", input: `{"x": [1, 2]}`, wantErr: ErrMalformed},
		{name: "in requires array", input: `{"x": {"$in": 1}}`, wantErr: ErrMalformed},
		{name: "unknown typed operand", input: `{"x": {"_type": "color", "value": "red"}}`, wantErr: ErrMalformed},
		{name: "bad version", input: `{"x": {"_type": "version", "version": ""}}`, wantErr: ErrMalformed},
		{name: "empty path component", input: `{"person//name": "a"}`, wantErr: ErrMalformed},
		{name: "not an object", input: `[1]`, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_EmptyIsAlways(t *testing.T) {
	t.Parallel()

	for _, input := range []string{``, `null`, `{}`} {
		c, err := Parse([]byte(input))
		require.NoError(t, err, "input %q", input)
		assert.True(t, Evaluate(c, nil), "input %q", input)
	}
}

func TestCriteria_JSON(t *testing.T) {
	t.Parallel()

	var doc struct {
		Criteria Criteria `json:"criteria"`
	}
	raw := `{"criteria":{"person/name":{"$exists":true}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	err = json.Unmarshal([]byte(`{"criteria":{"x":{"$nope":1}}}`), &doc)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}
