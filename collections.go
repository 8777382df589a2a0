package vatstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/shape"
)

// base is shared by the four collection views. Holding a view keeps the
// collection's Representative, and so the collection, alive.
type base struct {
	v    *Vat
	info *collection.Info
	ref  *Ref
}

// Ref returns the collection's own reference, which can be stored in other
// virtual data or exported.
func (b *base) Ref() *Ref { return b.ref }

// Label returns the collection label.
func (b *base) Label() string { return b.info.Label }

// KeyShape returns the shape keys must match.
func (b *base) KeyShape() shape.Shape { return b.info.KeyShape }

// Durable reports whether the collection survives a restart.
func (b *base) Durable() bool { return b.info.IsDurable() }

// Has reports whether key is present. Values that cannot be keys are
// reported absent.
func (b *base) Has(ctx context.Context, key any) (bool, error) {
	if err := b.v.guard(); err != nil {
		return false, err
	}
	ok, err := b.v.collections.Has(ctx, b.info.ID, key)
	return ok, translateError(err)
}

// Delete removes key. It fails with ErrNotFound if key is absent.
func (b *base) Delete(ctx context.Context, key any) error {
	if err := b.v.guard(); err != nil {
		return err
	}
	return translateError(b.v.collections.Delete(ctx, b.info.ID, key))
}

// Size returns the number of entries.
func (b *base) Size(ctx context.Context) (int, error) {
	if err := b.v.guard(); err != nil {
		return 0, err
	}
	n, err := b.v.collections.Size(ctx, b.info.ID)
	return n, translateError(err)
}

// Clear removes every entry. The collection itself remains usable.
func (b *base) Clear(ctx context.Context) error {
	if err := b.v.guard(); err != nil {
		return err
	}
	return translateError(b.v.collections.Clear(ctx, b.info.ID))
}

func (b *base) keys(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := b.v.guard(); err != nil {
			yield(nil, err)
			return
		}
		for k, err := range b.v.collections.Keys(ctx, b.info.ID) {
			if !yield(k, translateError(err)) || err != nil {
				return
			}
		}
	}
}

func (b *base) get(ctx context.Context, key any) (any, error) {
	if err := b.v.guard(); err != nil {
		return nil, err
	}
	v, err := b.v.collections.Get(ctx, b.info.ID, key)
	return v, translateError(err)
}

func (b *base) init(ctx context.Context, key, value any) error {
	if err := b.v.guard(); err != nil {
		return err
	}
	return translateError(b.v.collections.Init(ctx, b.info.ID, key, value))
}

func (b *base) set(ctx context.Context, key, value any) error {
	if err := b.v.guard(); err != nil {
		return err
	}
	return translateError(b.v.collections.Set(ctx, b.info.ID, key, value))
}

func (b *base) add(ctx context.Context, key any) error {
	if err := b.v.guard(); err != nil {
		return err
	}
	return translateError(b.v.collections.Add(ctx, b.info.ID, key))
}

// MapStore is a strong map. Keys and values hold their referents alive.
type MapStore struct{ base }

// Get returns the value for key.
func (m *MapStore) Get(ctx context.Context, key any) (any, error) { return m.get(ctx, key) }

// Init adds key, failing with ErrKeyExists if it is present.
func (m *MapStore) Init(ctx context.Context, key, value any) error { return m.init(ctx, key, value) }

// Set replaces the value of an existing key.
func (m *MapStore) Set(ctx context.Context, key, value any) error { return m.set(ctx, key, value) }

// Keys yields the keys in order: booleans, numbers, object references in
// insertion order, then strings.
func (m *MapStore) Keys(ctx context.Context) iter.Seq2[any, error] { return m.keys(ctx) }

// Values yields the values in key order.
func (m *MapStore) Values(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := m.v.guard(); err != nil {
			yield(nil, err)
			return
		}
		for v, err := range m.v.collections.Values(ctx, m.info.ID) {
			if !yield(v, translateError(err)) || err != nil {
				return
			}
		}
	}
}

// Entries yields key/value pairs in key order. An error ends the sequence
// with a zero key and the error as value.
func (m *MapStore) Entries(ctx context.Context) iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		if err := m.v.guard(); err != nil {
			yield(nil, err)
			return
		}
		for e, err := range m.v.collections.Entries(ctx, m.info.ID) {
			if err != nil {
				yield(nil, translateError(err))
				return
			}
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// SetStore is a strong set.
type SetStore struct{ base }

// Add inserts key. Adding a present key is a no-op.
func (s *SetStore) Add(ctx context.Context, key any) error { return s.add(ctx, key) }

// Keys yields the members in key order.
func (s *SetStore) Keys(ctx context.Context) iter.Seq2[any, error] { return s.keys(ctx) }

// WeakMapStore is a map whose object keys are held weakly: when a key
// object is gone its entry is removed. It cannot be iterated.
type WeakMapStore struct{ base }

// Get returns the value for key.
func (m *WeakMapStore) Get(ctx context.Context, key any) (any, error) { return m.get(ctx, key) }

// Init adds key, failing with ErrKeyExists if it is present.
func (m *WeakMapStore) Init(ctx context.Context, key, value any) error {
	return m.init(ctx, key, value)
}

// Set replaces the value of an existing key.
func (m *WeakMapStore) Set(ctx context.Context, key, value any) error { return m.set(ctx, key, value) }

// WeakSetStore is a set whose object members are held weakly.
type WeakSetStore struct{ base }

// Add inserts key. Adding a present key is a no-op.
func (s *WeakSetStore) Add(ctx context.Context, key any) error { return s.add(ctx, key) }

func (v *Vat) newCollection(ctx context.Context, weak, set bool, optFns []CollectionOption) (base, error) {
	if err := v.guard(); err != nil {
		return base{}, err
	}
	var o collectionOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	info, err := v.collections.Create(ctx, collection.KindFor(weak, set, o.durable), collection.Options{
		Label:      o.label,
		KeyShape:   o.keyShape,
		ValueShape: o.valueShape,
	})
	if err != nil {
		return base{}, translateError(err)
	}
	r, err := v.vc.Slots.SlotToVal(ctx, info.VRef())
	if err != nil {
		return base{}, err
	}
	return base{v: v, info: info, ref: r}, nil
}

// NewMapStore creates a strong map.
func (v *Vat) NewMapStore(ctx context.Context, opts ...CollectionOption) (*MapStore, error) {
	b, err := v.newCollection(ctx, false, false, opts)
	if err != nil {
		return nil, err
	}
	return &MapStore{b}, nil
}

// NewSetStore creates a strong set.
func (v *Vat) NewSetStore(ctx context.Context, opts ...CollectionOption) (*SetStore, error) {
	b, err := v.newCollection(ctx, false, true, opts)
	if err != nil {
		return nil, err
	}
	return &SetStore{b}, nil
}

// NewWeakMapStore creates a weak map.
func (v *Vat) NewWeakMapStore(ctx context.Context, opts ...CollectionOption) (*WeakMapStore, error) {
	b, err := v.newCollection(ctx, true, false, opts)
	if err != nil {
		return nil, err
	}
	return &WeakMapStore{b}, nil
}

// NewWeakSetStore creates a weak set.
func (v *Vat) NewWeakSetStore(ctx context.Context, opts ...CollectionOption) (*WeakSetStore, error) {
	b, err := v.newCollection(ctx, true, true, opts)
	if err != nil {
		return nil, err
	}
	return &WeakSetStore{b}, nil
}

// view reattaches to the collection r refers to, checking its flavor.
func (v *Vat) view(ctx context.Context, r *Ref, weak, set bool) (base, error) {
	if err := v.guard(); err != nil {
		return base{}, err
	}
	p := r.Parsed()
	if !p.IsVirtual() || !vatctx.IsCollectionKind(p.KindID) {
		return base{}, fmt.Errorf("%s is not a collection", r.VRef())
	}
	info, err := v.collections.Info(ctx, p.ID)
	if err != nil {
		return base{}, translateError(err)
	}
	if info.IsWeak() != weak || info.IsSet() != set {
		return base{}, fmt.Errorf("%s is a collection of kind %d", r.VRef(), info.Kind)
	}
	return base{v: v, info: info, ref: r}, nil
}

// OpenMapStore returns the MapStore r refers to, e.g. after reading r back
// from another collection.
func (v *Vat) OpenMapStore(ctx context.Context, r *Ref) (*MapStore, error) {
	b, err := v.view(ctx, r, false, false)
	if err != nil {
		return nil, err
	}
	return &MapStore{b}, nil
}

// OpenSetStore returns the SetStore r refers to.
func (v *Vat) OpenSetStore(ctx context.Context, r *Ref) (*SetStore, error) {
	b, err := v.view(ctx, r, false, true)
	if err != nil {
		return nil, err
	}
	return &SetStore{b}, nil
}

// OpenWeakMapStore returns the WeakMapStore r refers to.
func (v *Vat) OpenWeakMapStore(ctx context.Context, r *Ref) (*WeakMapStore, error) {
	b, err := v.view(ctx, r, true, false)
	if err != nil {
		return nil, err
	}
	return &WeakMapStore{b}, nil
}

// OpenWeakSetStore returns the WeakSetStore r refers to.
func (v *Vat) OpenWeakSetStore(ctx context.Context, r *Ref) (*WeakSetStore, error) {
	b, err := v.view(ctx, r, true, true)
	if err != nil {
		return nil, err
	}
	return &WeakSetStore{b}, nil
}
