package collection

import (
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/vref"
)

// KindFor returns the collection kind ID for the given flavor.
func KindFor(weak, set, durable bool) uint64 {
	k := vatctx.KindMapStore
	if set {
		k = vatctx.KindSetStore
	}
	if weak {
		k++
	}
	if durable {
		k += vatctx.KindDurableMapStore - vatctx.KindMapStore
	}
	return k
}

// IsWeak reports whether kind is a weak collection kind.
func IsWeak(kind uint64) bool { return kind%2 == 0 }

// IsSet reports whether kind is a set kind.
func IsSet(kind uint64) bool {
	return kind == vatctx.KindSetStore || kind == vatctx.KindWeakSetStore ||
		kind == vatctx.KindDurableSetStore || kind == vatctx.KindDurableWeakSetStore
}

// IsDurable reports whether kind is a durable collection kind.
func IsDurable(kind uint64) bool { return kind >= vatctx.KindDurableMapStore }

// VRef returns the vref of collection id of the given kind.
func VRef(kind, id uint64) string {
	return vref.NewVirtual(kind, id, IsDurable(kind)).String()
}
