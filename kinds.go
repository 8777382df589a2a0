package vatstore

import (
	"context"
	"fmt"

	"github.com/hupe1980/vatstore/internal/vom"
)

// Kind makes virtual objects with a declared field list. Instances live in
// the store; only recently used state is kept in memory.
type Kind struct {
	v *Vat
	k *vom.Kind
}

// DefineKind declares a kind. A durable kind is matched by tag against the
// store, so a restarted vat that redefines it can reach earlier instances;
// redefining it with different fields or facets fails with
// ErrSchemaMismatch.
func (v *Vat) DefineKind(ctx context.Context, tag string, fields []string, opts ...KindOption) (*Kind, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	var o kindOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	k, err := v.objects.DefineKind(ctx, tag, fields, o.facets, o.durable)
	if err != nil {
		return nil, translateError(err)
	}
	return &Kind{v: v, k: k}, nil
}

// DurableKinds lists the tags of every durable kind recorded in the store,
// including those defined by an earlier incarnation. Each must be redefined
// before its instances are reached.
func (v *Vat) DurableKinds(ctx context.Context) ([]string, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.objects.DurableKinds(ctx)
}

// Tag returns the kind's tag.
func (k *Kind) Tag() string { return k.k.Tag }

// Durable reports whether instances survive a restart.
func (k *Kind) Durable() bool { return k.k.Durable }

// Fields returns the declared fields.
func (k *Kind) Fields() []string { return append([]string(nil), k.k.Fields...) }

// Make creates an instance and returns its first facet. Fields missing from
// init start out nil.
func (k *Kind) Make(ctx context.Context, init map[string]any) (*Ref, error) {
	facets, err := k.MakeFacets(ctx, init)
	if err != nil {
		return nil, err
	}
	return facets[0], nil
}

// MakeFacets creates an instance and returns one Ref per facet, in the
// order the facets were declared.
func (k *Kind) MakeFacets(ctx context.Context, init map[string]any) ([]*Ref, error) {
	if err := k.v.guard(); err != nil {
		return nil, err
	}
	c, err := k.v.objects.NewInstance(ctx, k.k, init)
	if err != nil {
		return nil, translateError(err)
	}
	return c.Facets(), nil
}

// Facet returns the facet of r named name.
func (k *Kind) Facet(r *Ref, name string) (*Ref, error) {
	i, ok := k.k.FacetIndex(name)
	if !ok {
		return nil, fmt.Errorf("kind %s has no facet %q", k.k.Tag, name)
	}
	facets := r.Cohort().Facets()
	if i >= len(facets) {
		return nil, fmt.Errorf("%s is not an instance of %s", r.VRef(), k.k.Tag)
	}
	return facets[i], nil
}

// Get reads field of the virtual object r.
func (v *Vat) Get(ctx context.Context, r *Ref, field string) (any, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	val, err := v.objects.Get(ctx, r, field)
	return val, translateError(err)
}

// Set replaces field of the virtual object r. References held by the old
// value are released and those in value are retained.
func (v *Vat) Set(ctx context.Context, r *Ref, field string, value any) error {
	if err := v.guard(); err != nil {
		return err
	}
	return translateError(v.objects.Set(ctx, r, field, value))
}
