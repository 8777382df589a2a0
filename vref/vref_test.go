package vref

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want VRef
	}{
		{"o+0", VRef{Type: TypeObject, Direction: Export, ID: 0}},
		{"o-17", VRef{Type: TypeObject, Direction: Import, ID: 17}},
		{"p+3", VRef{Type: TypePromise, Direction: Export, ID: 3}},
		{"p-40", VRef{Type: TypePromise, Direction: Import, ID: 40}},
		{"o+v10/3", VRef{Type: TypeObject, Direction: Export, Durability: Virtual, KindID: 10, ID: 3}},
		{"o+d6/1", VRef{Type: TypeObject, Direction: Export, Durability: Durable, KindID: 6, ID: 1}},
		{"o+v12/9:1", VRef{Type: TypeObject, Direction: Export, Durability: Virtual, KindID: 12, ID: 9, Facet: 1, HasFacet: true}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "o", "o+", "x+1", "o*1", "o+01", "o+v1", "o+v/1", "o+vx/1",
		"o-v1/2", "p+v1/2", "o+1:0", "o-3:1", "o+v1/2:", "o+v1/2:01", "o+-1",
		"o+18446744073709551616",
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidVRef, "input %q", in)
		assert.False(t, IsValid(in))
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, MustParse("o+5").IsRemotable())
	assert.False(t, MustParse("o+5").IsVirtual())
	assert.True(t, MustParse("o-5").IsImport())
	assert.True(t, MustParse("p-5").IsPromise())
	assert.False(t, MustParse("p+5").IsExport())
	assert.True(t, MustParse("o+v2/1").IsVirtual())
	assert.False(t, MustParse("o+v2/1").IsDurable())
	assert.True(t, MustParse("o+d2/1").IsDurable())
	assert.True(t, MustParse("o+d2/1").IsVirtual())
}

func TestBaseRef(t *testing.T) {
	assert.Equal(t, "o+v10/3", BaseRef("o+v10/3:2"))
	assert.Equal(t, "o+v10/3", BaseRef("o+v10/3"))
	assert.Equal(t, "o-4", BaseRef("o-4"))

	v := MustParse("o+v10/3:2")
	assert.Equal(t, "o+v10/3", v.Base().String())
	assert.Equal(t, "o+v10/3:7", v.Base().WithFacet(7).String())
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, "o+12", NewExport(12).String())
	assert.Equal(t, "o-12", NewImport(12).String())
	assert.Equal(t, "p+1", NewPromise(Export, 1).String())
	assert.Equal(t, "o+v4/8", NewVirtual(4, 8, false).String())
	assert.Equal(t, "o+d4/8", NewVirtual(4, 8, true).String())
}

func TestOrderingIsLexicographic(t *testing.T) {
	refs := []string{"o+v10/2", "o+9", "o-1", "o+10", "o+d6/1", "o+v10/10"}
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	assert.Equal(t, []string{"o+10", "o+9", "o+d6/1", "o+v10/10", "o+v10/2", "o-1"}, sorted)
}
