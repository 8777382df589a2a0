// Package slots converts between in-process Refs and vrefs.
//
// Serializing a Ref yields its vref. Resolving a vref returns the live Ref
// registered for it, or builds a new one: imports get a fresh Presence,
// virtual objects and collections are reanimated from the store. Remotables
// cannot be rebuilt; they stay pinned while anything outside the process
// can name them, so a missing remotable means the vref is bogus.
package slots

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/vref"
)

// ErrUnknownExport is returned when a vat-allocated vref names nothing
// this vat knows about.
var ErrUnknownExport = errors.New("unknown export")

// Converter implements marshal.SlotConverter over the vat's managers.
type Converter struct {
	vc          *vatctx.Context
	objects     *vom.Manager
	collections *collection.Manager
}

// New returns a Converter.
func New(vc *vatctx.Context, objects *vom.Manager, collections *collection.Manager) *Converter {
	return &Converter{vc: vc, objects: objects, collections: collections}
}

// ValToSlot returns the vref of r. Promises cannot be stored.
func (c *Converter) ValToSlot(_ context.Context, r *localref.Ref) (string, error) {
	if r.IsPromise() {
		return "", fmt.Errorf("%w: %s", vrm.ErrPromiseInVirtualData, r.VRef())
	}
	return r.VRef(), nil
}

// SlotToVal returns the Ref for v, reanimating or importing as needed.
func (c *Converter) SlotToVal(ctx context.Context, v string) (*localref.Ref, error) {
	p, err := vref.Parse(v)
	if err != nil {
		return nil, err
	}
	if p.IsPromise() {
		return nil, fmt.Errorf("%w: %s", vrm.ErrPromiseInVirtualData, v)
	}
	base := p.Base()
	if cohort := c.vc.Tracker.Lookup(base.String()); cohort != nil {
		r, ok := cohort.ForVRef(p)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no such facet", ErrUnknownExport, v)
		}
		return r, nil
	}

	switch {
	case p.IsImport():
		cohort := localref.NewCohort(p, 1)
		c.vc.Tracker.Register(cohort)
		return cohort.Primary(), nil

	case p.IsVirtual() && vatctx.IsCollectionKind(p.KindID):
		if p.HasFacet {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExport, v)
		}
		exists, err := c.collections.Exists(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExport, v)
		}
		info, err := c.collections.Info(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if info.Kind != p.KindID {
			return nil, fmt.Errorf("%w: %s is a kind %d collection", ErrUnknownExport, v, info.Kind)
		}
		cohort := localref.NewCohort(p, 1)
		c.vc.Tracker.Register(cohort)
		return cohort.Primary(), nil

	case p.IsVirtual():
		r, err := c.objects.Reanimate(ctx, p)
		if errors.Is(err, vom.ErrUnknownObject) || errors.Is(err, vom.ErrUnknownKind) {
			return nil, fmt.Errorf("%w: %w", ErrUnknownExport, err)
		}
		return r, err

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExport, v)
	}
}
