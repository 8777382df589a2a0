package vref

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genVRef() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 5),
		gen.UInt64(),
		gen.UInt64Range(0, 1<<20),
		gen.UInt32(),
		gen.Bool(),
	).Map(func(vals []any) VRef {
		shape := vals[0].(int)
		id := vals[1].(uint64)
		kind := vals[2].(uint64)
		facet := vals[3].(uint32)
		withFacet := vals[4].(bool)

		switch shape {
		case 0:
			return NewExport(id)
		case 1:
			return NewImport(id)
		case 2:
			return NewPromise(Import, id)
		case 3:
			return NewPromise(Export, id)
		default:
			v := NewVirtual(kind, id, shape == 5)
			if withFacet {
				v = v.WithFacet(facet)
			}
			return v
		}
	})
}

func TestProperty_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(String(v)) == v", prop.ForAll(
		func(v VRef) bool {
			got, err := Parse(v.String())
			return err == nil && got == v
		},
		genVRef(),
	))

	properties.Property("String(Parse(s)) == s", prop.ForAll(
		func(v VRef) bool {
			s := v.String()
			got, err := Parse(s)
			return err == nil && got.String() == s
		},
		genVRef(),
	))

	properties.Property("BaseRef agrees with Base", prop.ForAll(
		func(v VRef) bool {
			return BaseRef(v.String()) == v.Base().String()
		},
		genVRef(),
	))

	properties.TestingRun(t)
}
