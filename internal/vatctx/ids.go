package vatctx

import (
	"context"
	"fmt"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/kvstore"
)

// CountersKey is the store key holding the persisted ID counters.
const CountersKey = "idCounters"

// Counters are the next IDs to hand out.
type Counters struct {
	ExportID     uint64 `json:"exportID"`
	CollectionID uint64 `json:"collectionID"`
	PromiseID    uint64 `json:"promiseID"`
	KindID       uint64 `json:"kindID"`
}

// IDAllocator hands out vat-allocated IDs. Counters are persisted by Save
// and restored by Load, so durable vrefs are never reused after a restart.
type IDAllocator struct {
	c     Counters
	dirty bool
}

// NewIDAllocator returns an allocator with initial counters. Export ID 0 is
// reserved for the root object and collection ID 1 for baggage.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{c: Counters{
		ExportID:     1,
		CollectionID: BaggageCollectionID + 1,
		PromiseID:    1,
		KindID:       FirstUserKind,
	}, dirty: true}
}

func (a *IDAllocator) next(p *uint64) uint64 {
	id := *p
	*p++
	a.dirty = true
	return id
}

// NextExportID allocates a remotable export ID.
func (a *IDAllocator) NextExportID() uint64 { return a.next(&a.c.ExportID) }

// NextCollectionID allocates a collection ID.
func (a *IDAllocator) NextCollectionID() uint64 { return a.next(&a.c.CollectionID) }

// NextPromiseID allocates a vat-side promise ID.
func (a *IDAllocator) NextPromiseID() uint64 { return a.next(&a.c.PromiseID) }

// NextKindID allocates a kind ID.
func (a *IDAllocator) NextKindID() uint64 { return a.next(&a.c.KindID) }

// Counters returns a copy of the current counters.
func (a *IDAllocator) Counters() Counters { return a.c }

// Load restores counters from the store. A missing record keeps the defaults.
func (a *IDAllocator) Load(ctx context.Context, store kvstore.Store, c codec.Codec) error {
	raw, ok, err := store.Get(ctx, CountersKey)
	if err != nil || !ok {
		return err
	}
	var loaded Counters
	if err := c.Unmarshal([]byte(raw), &loaded); err != nil {
		return fmt.Errorf("decode %s: %w", CountersKey, err)
	}
	a.c = loaded
	a.dirty = false
	return nil
}

// Save persists the counters if they changed since the last Save or Load.
func (a *IDAllocator) Save(ctx context.Context, store kvstore.Store, c codec.Codec) error {
	if !a.dirty {
		return nil
	}
	b, err := c.Marshal(a.c)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, CountersKey, string(b)); err != nil {
		return err
	}
	a.dirty = false
	return nil
}
