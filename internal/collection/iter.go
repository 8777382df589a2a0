package collection

import (
	"context"
	"iter"

	"github.com/hupe1980/vatstore/internal/marshal"
	"github.com/hupe1980/vatstore/kvstore"
)

// Entries yields the entries of collection id in key order. Entries are
// read from the store one at a time, so the collection may be modified
// while iterating.
func (m *Manager) Entries(ctx context.Context, id uint64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		info, err := m.Info(ctx, id)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		if info.IsWeak() {
			yield(Entry{}, ErrNotIterable)
			return
		}
		p := prefix(id)
		for e, err := range kvstore.Scan(ctx, m.vc.Store, p) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if e.Key[len(p)] == metaSep {
				return
			}
			entry, err := m.decodeEntry(ctx, e.Key[len(p):], e.Value, !info.IsSet())
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

func (m *Manager) decodeEntry(ctx context.Context, encKey, raw string, withValue bool) (Entry, error) {
	key, keyVRef, isRef, err := decodeKey(encKey)
	if err != nil {
		return Entry{}, err
	}
	if isRef {
		r, err := m.vc.Slots.SlotToVal(ctx, keyVRef)
		if err != nil {
			return Entry{}, err
		}
		key = r
	}
	e := Entry{Key: key}
	if !withValue {
		return e, nil
	}
	cd, err := m.decodeCapData(raw)
	if err != nil {
		return Entry{}, err
	}
	e.Value, err = marshal.Unserialize(ctx, m.vc.Codec, cd, m.vc.Slots)
	return e, err
}

// Keys yields the keys of collection id in order.
func (m *Manager) Keys(ctx context.Context, id uint64) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for e, err := range m.Entries(ctx, id) {
			if !yield(e.Key, err) || err != nil {
				return
			}
		}
	}
}

// Values yields the values of collection id in key order.
func (m *Manager) Values(ctx context.Context, id uint64) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for e, err := range m.Entries(ctx, id) {
			if !yield(e.Value, err) || err != nil {
				return
			}
		}
	}
}
