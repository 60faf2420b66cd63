package customdata

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomData_Set(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    any
		wantKind Kind
		wantErr  bool
	}{
		{name: "string", value: "bar", wantKind: KindString},
		{name: "int", value: 42, wantKind: KindInt},
		{name: "uint8", value: uint8(7), wantKind: KindInt},
		{name: "int64", value: int64(-3), wantKind: KindInt},
		{name: "float64", value: 1.5, wantKind: KindFloat},
		{name: "float32", value: float32(2.5), wantKind: KindFloat},
		{name: "bool", value: true, wantKind: KindBool},
		{name: "Value passthrough", value: String("x"), wantKind: KindString},
		{name: "slice is rejected", value: []string{"a"}, wantErr: true},
		{name: "map is rejected", value: map[string]any{}, wantErr: true},
		{name: "nil is rejected", value: nil, wantErr: true},
		{name: "zero Value is rejected", value: Value{}, wantErr: true},
		{name: "uint64 overflow is rejected", value: uint64(1 << 63), wantErr: true},
		{name: "float64 NaN is rejected", value: math.NaN(), wantErr: true},
		{name: "float64 +Inf is rejected", value: math.Inf(1), wantErr: true},
		{name: "float32 +Inf is rejected", value: float32(math.Inf(1)), wantErr: true},
		{name: "float32 -Inf is rejected", value: float32(math.Inf(-1)), wantErr: true},
		{name: "float32 NaN is rejected", value: float32(math.NaN()), wantErr: true},
		{name: "NaN Value is rejected", value: Float(math.NaN()), wantErr: true},
		{name: "-Inf Value is rejected", value: Float(math.Inf(-1)), wantErr: true},
		{name: "finite Value passthrough", value: Float(0.25), wantKind: KindFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var cd CustomData
			err := cd.Set("key", tt.value)

			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCustomDataType)
				assert.Equal(t, 0, cd.Len(), "failed assignment must not mutate the map")
				return
			}

			require.NoError(t, err)
			got, ok := cd.Get("key")
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, got.Kind())
		})
	}
}

func TestCustomData_RejectedFloatKeepsMapEncodable(t *testing.T) {
	t.Parallel()

	var cd CustomData
	require.NoError(t, cd.Set("score", 1.5))
	require.ErrorIs(t, cd.Set("score", float32(math.Inf(1))), ErrInvalidCustomDataType)

	got, ok := cd.Get("score")
	require.True(t, ok)
	f, _ := got.AsFloat()
	assert.Equal(t, 1.5, f, "the previous value survives a rejected write")

	b, err := json.Marshal(cd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":1.5}`, string(b))
}

func TestCustomData_LastWriteWinsKeepsPosition(t *testing.T) {
	t.Parallel()

	var cd CustomData
	require.NoError(t, cd.Set("a", 1))
	require.NoError(t, cd.Set("b", 2))
	require.NoError(t, cd.Set("a", "replaced"))

	assert.Equal(t, []string{"a", "b"}, cd.Keys())
	v, _ := cd.Get("a")
	s, ok := v.AsString()
	assert.True(t, ok)
	assert.Equal(t, "replaced", s)
}

func TestCustomData_Delete(t *testing.T) {
	t.Parallel()

	var cd CustomData
	require.NoError(t, cd.Set("a", 1))
	require.NoError(t, cd.Set("b", 2))
	require.NoError(t, cd.Set("c", 3))

	cd.Delete("b")
	cd.Delete("missing")

	assert.Equal(t, []string{"a", "c"}, cd.Keys())
	_, ok := cd.Get("b")
	assert.False(t, ok)
}

func TestCustomData_JSONPreservesOrderAndKinds(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"zeta":"z","alpha":3,"ratio":0.25,"vip":true}`)

	var cd CustomData
	require.NoError(t, json.Unmarshal(raw, &cd))

	assert.Equal(t, []string{"zeta", "alpha", "ratio", "vip"}, cd.Keys())

	alpha, _ := cd.Get("alpha")
	assert.Equal(t, KindInt, alpha.Kind())
	ratio, _ := cd.Get("ratio")
	assert.Equal(t, KindFloat, ratio.Kind())

	out, err := json.Marshal(cd)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
	assert.Equal(t, string(raw), string(out), "encoding must keep insertion order")
}

func TestCustomData_UnmarshalRejectsNestedValues(t *testing.T) {
	t.Parallel()

	var cd CustomData
	err := json.Unmarshal([]byte(`{"nested":{"a":1}}`), &cd)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCustomDataType)
}

func TestCustomData_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	var original CustomData
	require.NoError(t, original.Set("a", 1))

	clone := original.Clone()
	require.NoError(t, clone.Set("b", 2))

	assert.Equal(t, 1, original.Len())
	assert.Equal(t, 2, clone.Len())
	assert.False(t, original.Equal(clone))
}

func TestFromMap_IsDeterministic(t *testing.T) {
	t.Parallel()

	cd, err := FromMap(map[string]any{"b": 1, "a": "x", "c": false})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cd.Keys())

	_, err = FromMap(map[string]any{"bad": struct{}{}})
	assert.ErrorIs(t, err, ErrInvalidCustomDataType)
}
