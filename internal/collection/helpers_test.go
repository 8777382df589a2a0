package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

// testSlots resolves vrefs through the tracker, creating single-facet
// cohorts for anything it has not seen.
type testSlots struct {
	tracker *localref.Tracker
	live    map[string]*localref.Cohort
}

func (s *testSlots) ValToSlot(_ context.Context, r *localref.Ref) (string, error) {
	if r.IsPromise() {
		return "", vrm.ErrPromiseInVirtualData
	}
	return r.VRef(), nil
}

func (s *testSlots) SlotToVal(_ context.Context, v string) (*localref.Ref, error) {
	p, err := vref.Parse(v)
	if err != nil {
		return nil, err
	}
	if c := s.tracker.Lookup(p.Base().String()); c != nil {
		if r, ok := c.ForVRef(p); ok {
			return r, nil
		}
	}
	c := localref.NewCohort(p, 1)
	s.tracker.Register(c)
	s.live[c.BaseRef()] = c
	return c.Primary(), nil
}

type fixture struct {
	vc    *vatctx.Context
	store *kvstore.MemoryStore
	host  *localref.ManualHost
	refs  *vrm.Manager
	m     *Manager
	slots *testSlots
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := kvstore.NewMemoryStore()
	host := localref.NewManualHost()
	vc := vatctx.New(store, codec.Default, host, nil)
	slots := &testSlots{tracker: vc.Tracker, live: make(map[string]*localref.Cohort)}
	vc.Slots = slots
	refs := vrm.New(vc)
	return &fixture{vc: vc, store: store, host: host, refs: refs, m: New(vc, refs, opts...), slots: slots}
}

func (f *fixture) ref(v vref.VRef) *localref.Ref {
	c := localref.NewCohort(v, 1)
	f.vc.Tracker.Register(c)
	f.slots.live[c.BaseRef()] = c
	return c.Primary()
}

func (f *fixture) rc(t *testing.T, baseRef string) uint64 {
	t.Helper()
	n, err := f.refs.GetRefCount(context.Background(), baseRef)
	require.NoError(t, err)
	return n
}

func (f *fixture) keysWithPrefix(t *testing.T, p string) []string {
	t.Helper()
	var out []string
	for k, err := range kvstore.ScanKeys(context.Background(), f.store, p) {
		require.NoError(t, err)
		out = append(out, k)
	}
	return out
}
