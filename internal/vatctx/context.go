package vatctx

import (
	"log/slog"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/marshal"
	"github.com/hupe1980/vatstore/kvstore"
)

// Well-known kind IDs. Collection kinds are fixed so that their vrefs are
// stable across restarts; user kinds are allocated from FirstUserKind.
const (
	KindMapStore            uint64 = 1
	KindWeakMapStore        uint64 = 2
	KindSetStore            uint64 = 3
	KindWeakSetStore        uint64 = 4
	KindDurableMapStore     uint64 = 5
	KindDurableWeakMapStore uint64 = 6
	KindDurableSetStore     uint64 = 7
	KindDurableWeakSetStore uint64 = 8

	FirstUserKind uint64 = 10

	// BaggageCollectionID is the collection ID of the vat's baggage.
	BaggageCollectionID uint64 = 1
)

// IsCollectionKind reports whether kindID is one of the built-in collection kinds.
func IsCollectionKind(kindID uint64) bool {
	return kindID >= KindMapStore && kindID <= KindDurableWeakSetStore
}

// Context is the per-vat state passed to every component constructor.
type Context struct {
	Store  kvstore.Store
	Codec  codec.Codec
	Logger *slog.Logger

	// PossiblyDead holds base refs that may have lost their last reachability pillar.
	PossiblyDead *PendingSet
	// PossiblyRetired holds vrefs that may have lost their last recognizer.
	PossiblyRetired *PendingSet

	Tracker *localref.Tracker
	IDs     *IDAllocator

	// Slots converts between Refs and vrefs. It is bound after all
	// components are constructed.
	Slots marshal.SlotConverter
}

// New returns a Context over store. The tracker is created on host and
// reports finalized base refs into PossiblyDead.
func New(store kvstore.Store, c codec.Codec, host localref.Host, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if c == nil {
		c = codec.Default
	}
	vc := &Context{
		Store:           store,
		Codec:           c,
		Logger:          logger,
		PossiblyDead:    NewPendingSet(),
		PossiblyRetired: NewPendingSet(),
		IDs:             NewIDAllocator(),
	}
	vc.Tracker = localref.NewTracker(host, vc.PossiblyDead.Add, logger)
	return vc
}
