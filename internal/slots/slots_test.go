package slots_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/slots"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/testutil"
	"github.com/hupe1980/vatstore/vref"
)

func TestSlotToVal_Imports(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStack(nil, vom.Options{})

	a, err := s.VC.Slots.SlotToVal(ctx, "o-4")
	require.NoError(t, err)
	b, err := s.VC.Slots.SlotToVal(ctx, "o-4")
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.True(t, s.Drop(a))
	s.VC.Tracker.Drain()
	c, err := s.VC.Slots.SlotToVal(ctx, "o-4")
	require.NoError(t, err)
	assert.NotSame(t, a, c, "a fresh Presence after collection")
	assert.Equal(t, "o-4", c.VRef())
}

func TestSlotToVal_ReanimatesVirtualObjects(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStack(nil, vom.Options{})

	k, err := s.Objects.DefineKind(ctx, "widget", []string{"n"}, nil, false)
	require.NoError(t, err)
	cohort, err := s.Objects.NewInstance(ctx, k, map[string]any{"n": int64(7)})
	require.NoError(t, err)
	first := cohort.Primary()
	id := first.VRef()

	_, err = s.VC.Slots.SlotToVal(ctx, id+":1")
	assert.ErrorIs(t, err, slots.ErrUnknownExport, "widget has a single facet")

	require.True(t, s.Drop(first))
	s.VC.Tracker.Drain()

	again, err := s.VC.Slots.SlotToVal(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, first, again)
	n, err := s.Objects.Get(ctx, again, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestSlotToVal_Collections(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStack(nil, vom.Options{})

	info, r := s.Collection(ctx, vatctx.KindMapStore, collection.Options{})
	got, err := s.VC.Slots.SlotToVal(ctx, info.VRef())
	require.NoError(t, err)
	assert.Same(t, r, got)

	wrongKind := vref.NewVirtual(vatctx.KindSetStore, info.ID, false).String()
	_, err = s.VC.Slots.SlotToVal(ctx, wrongKind)
	assert.ErrorIs(t, err, slots.ErrUnknownExport)

	missing := vref.NewVirtual(vatctx.KindMapStore, 999, false).String()
	_, err = s.VC.Slots.SlotToVal(ctx, missing)
	assert.ErrorIs(t, err, slots.ErrUnknownExport)
}

func TestSlotToVal_UnknownExports(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStack(nil, vom.Options{})

	for _, v := range []string{"o+99", "o+v42/1"} {
		_, err := s.VC.Slots.SlotToVal(ctx, v)
		assert.ErrorIs(t, err, slots.ErrUnknownExport, v)
	}

	r := s.Remotable("target")
	got, err := s.VC.Slots.SlotToVal(ctx, r.VRef())
	require.NoError(t, err)
	assert.Same(t, r, got)
}

func TestPromisesAreNotStorable(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStack(nil, vom.Options{})

	_, err := s.VC.Slots.SlotToVal(ctx, "p-3")
	assert.ErrorIs(t, err, vrm.ErrPromiseInVirtualData)

	p, err := vref.Parse("p+5")
	require.NoError(t, err)
	promise := localref.NewCohort(p, 1).Primary()
	_, err = s.VC.Slots.ValToSlot(ctx, promise)
	assert.ErrorIs(t, err, vrm.ErrPromiseInVirtualData)
}
