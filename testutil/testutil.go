package testutil

import (
	"context"
	"strings"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/audit"
	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/gc"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/slots"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

// Stack is a fully wired set of managers.
type Stack struct {
	Store       *kvstore.MemoryStore
	Host        *localref.ManualHost
	VC          *vatctx.Context
	Refs        *vrm.Manager
	Objects     *vom.Manager
	Collections *collection.Manager
	GC          *gc.Engine
}

// NewStack builds a Stack over store, or over a new MemoryStore if store is nil.
func NewStack(store *kvstore.MemoryStore, opts vom.Options) *Stack {
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	host := localref.NewManualHost()
	vc := vatctx.New(store, codec.Default, host, nil)
	if err := vc.IDs.Load(context.Background(), store, vc.Codec); err != nil {
		panic(err)
	}
	refs := vrm.New(vc)
	objects := vom.New(vc, refs, opts)
	collections := collection.New(vc, refs)
	vc.Slots = slots.New(vc, objects, collections)
	return &Stack{
		Store:       store,
		Host:        host,
		VC:          vc,
		Refs:        refs,
		Objects:     objects,
		Collections: collections,
		GC:          gc.New(vc, refs),
	}
}

// Import returns the Presence for import id, registering it if needed.
func (s *Stack) Import(id uint64) *localref.Ref {
	r, err := s.VC.Slots.SlotToVal(context.Background(), vref.NewImport(id).String())
	if err != nil {
		panic(err)
	}
	return r
}

// Remotable registers a new remotable export.
func (s *Stack) Remotable(target any) *localref.Ref {
	c := localref.NewRemotableCohort(vref.NewExport(s.VC.IDs.NextExportID()), target)
	s.VC.Tracker.Register(c)
	return c.Primary()
}

// Collection creates a collection of kind and returns it with a registered
// Ref, as userspace would hold it.
func (s *Stack) Collection(ctx context.Context, kind uint64, opts collection.Options) (*collection.Info, *localref.Ref) {
	info, err := s.Collections.Create(ctx, kind, opts)
	if err != nil {
		panic(err)
	}
	r, err := s.VC.Slots.SlotToVal(ctx, info.VRef())
	if err != nil {
		panic(err)
	}
	return info, r
}

// RefCount returns the stored refcount of baseRef.
func (s *Stack) RefCount(baseRef string) uint64 {
	n, err := s.Refs.GetRefCount(context.Background(), baseRef)
	if err != nil {
		panic(err)
	}
	return n
}

// KeysWithPrefix lists the store keys starting with prefix.
func (s *Stack) KeysWithPrefix(prefix string) []string {
	var out []string
	for _, e := range s.Store.Entries() {
		if strings.HasPrefix(e.Key, prefix) {
			out = append(out, e.Key)
		}
	}
	return out
}

// Drop simulates the runtime collecting refs. It reports whether every ref
// was collected.
func (s *Stack) Drop(refs ...*localref.Ref) bool {
	ok := true
	for _, r := range refs {
		ok = s.Host.Drop(r.BaseRef()) && ok
	}
	return ok
}

// Reap drains pending cleanups, runs a scan and flushes cached state.
func (s *Stack) Reap(ctx context.Context) (gc.Result, error) {
	s.VC.Tracker.Collect()
	s.VC.Tracker.Drain()
	res, err := s.GC.Scan(ctx)
	if err != nil {
		return gc.Result{}, err
	}
	return res, s.Objects.Flush(ctx)
}

// Audit flushes cached state and audits the store.
func (s *Stack) Audit(ctx context.Context) (*audit.Report, error) {
	if err := s.Objects.Flush(ctx); err != nil {
		return nil, err
	}
	return audit.Run(ctx, s.Store, s.VC.Codec)
}
