package shape

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/vref"
)

func TestMatch(t *testing.T) {
	obj := localref.NewCohort(vref.NewImport(1), 1).Primary()
	other := localref.NewCohort(vref.NewImport(2), 1).Primary()
	promise := localref.NewCohort(vref.NewPromise(vref.Import, 1), 1).Primary()

	tests := []struct {
		name  string
		shape Shape
		yes   []any
		no    []any
	}{
		{"any", Any(), []any{nil, 1, "x", obj}, nil},
		{"string", String(), []any{"", "a"}, []any{1, nil, obj}},
		{"int", Int(), []any{1, int64(-3)}, []any{1.5, "1"}},
		{"number", Number(), []any{1, 2.5}, []any{"1", true}},
		{"bool", Bool(), []any{true, false}, []any{0, nil}},
		{"scalar", Scalar(), []any{nil, true, 1, 1.5, "s", obj}, []any{[]any{}, map[string]any{}, promise}},
		{"remotable", Remotable(), []any{obj}, []any{"o-1", promise, (*localref.Ref)(nil)}},
		{"eq", Eq(obj), []any{obj}, []any{other, "o-1"}},
		{"or", Or(String(), Eq(int64(4))), []any{"x", 4, int64(4)}, []any{5, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.yes {
				assert.True(t, tt.shape.Match(v), "%v should match %v", tt.shape, v)
			}
			for _, v := range tt.no {
				assert.False(t, tt.shape.Match(v), "%v should not match %v", tt.shape, v)
			}
		})
	}
}

func TestTreeRoundTrip(t *testing.T) {
	obj := localref.NewCohort(vref.NewImport(9), 1).Primary()
	for _, s := range []Shape{Any(), String(), Remotable(), Eq(obj), Or(Int(), Eq("a"), Or(Bool()))} {
		got, err := FromTree(s.Tree())
		require.NoError(t, err)
		assert.Equal(t, s.String(), got.String())
	}

	_, err := FromTree(map[string]any{"kind": "nope"})
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = FromTree("string")
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, int64(1)))
	assert.True(t, Equal(math.NaN(), math.NaN()))
	assert.True(t, Equal([]any{"a", map[string]any{"k": 1}}, []any{"a", map[string]any{"k": int64(1)}}))
	assert.False(t, Equal(map[string]any{"k": 1}, map[string]any{"j": 1}))
	assert.False(t, Equal(1, 1.0))
}
