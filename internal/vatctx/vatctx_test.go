package vatctx

import (
	"context"
	"testing"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSet(t *testing.T) {
	s := NewPendingSet()
	assert.Nil(t, s.Drain())

	s.Add("o-2")
	s.Add("o+v10/1")
	s.Add("o-2")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("o-2"))

	assert.Equal(t, []string{"o+v10/1", "o-2"}, s.Drain())
	assert.Zero(t, s.Len())
}

func TestIDAllocator_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	a := NewIDAllocator()
	assert.Equal(t, uint64(1), a.NextExportID())
	assert.Equal(t, uint64(2), a.NextCollectionID())
	assert.Equal(t, uint64(10), a.NextKindID())
	require.NoError(t, a.Save(ctx, store, codec.Default))

	b := NewIDAllocator()
	require.NoError(t, b.Load(ctx, store, codec.Default))
	assert.Equal(t, uint64(2), b.NextExportID())
	assert.Equal(t, uint64(3), b.NextCollectionID())
	assert.Equal(t, uint64(11), b.NextKindID())
	assert.Equal(t, uint64(1), b.NextPromiseID())
}

func TestIDAllocator_SaveOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	a := NewIDAllocator()
	require.NoError(t, a.Save(ctx, store, codec.Default))
	require.NoError(t, store.Delete(ctx, CountersKey))

	require.NoError(t, a.Save(ctx, store, codec.Default))
	ok, err := kvstore.Has(ctx, store, CountersKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContext_TrackerFeedsPossiblyDead(t *testing.T) {
	host := localref.NewManualHost()
	vc := New(kvstore.NewMemoryStore(), nil, host, nil)

	vc.Tracker.Register(localref.NewCohort(vref.MustParse("o-9"), 1))
	require.True(t, host.Drop("o-9"))
	vc.Tracker.Drain()

	assert.True(t, vc.PossiblyDead.Has("o-9"))
	assert.True(t, IsCollectionKind(KindDurableWeakSetStore))
	assert.False(t, IsCollectionKind(FirstUserKind))
}
