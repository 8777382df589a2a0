package vatstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hupe1980/vatstore/blobstore"
	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/shape"
)

type harness struct {
	vat   *Vat
	host  *localref.ManualHost
	sys   *SyscallLog
	store *kvstore.MemoryStore
}

func open(t *testing.T, store *kvstore.MemoryStore, opts ...Option) *harness {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	h := &harness{host: localref.NewManualHost(), sys: &SyscallLog{}, store: store}
	vat, err := Open(context.Background(), store, h.sys, append([]Option{WithWeakHost(h.host)}, opts...)...)
	require.NoError(t, err)
	h.vat = vat
	return h
}

func (h *harness) reap(t *testing.T) *ReapReport {
	t.Helper()
	r, err := h.vat.BringOutYourDead(context.Background())
	require.NoError(t, err)
	return r
}

func TestOpen_CreatesBaggage(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	assert.Equal(t, "o+d5/1", h.vat.Baggage().Ref().VRef())
	assert.True(t, h.vat.Baggage().Durable())
	name, ok, err := h.store.Get(ctx, CodecKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, codec.Default.Name(), name)

	assert.False(t, h.host.Drop(h.vat.Baggage().Ref().BaseRef()), "baggage is pinned")
	r := h.reap(t)
	assert.Empty(t, r.Deleted)
}

func TestOpen_CodecMismatch(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil, WithCodec(codec.GoJSON{}))

	_, err := Open(ctx, h.store, nil, WithCodec(codec.JSON{}), WithWeakHost(localref.NewManualHost()))
	assert.ErrorIs(t, err, ErrCodecMismatch)

	vat, err := Open(ctx, h.store, nil, WithWeakHost(localref.NewManualHost()))
	require.NoError(t, err, "recorded codec is used when none is given")
	assert.NotNil(t, vat.Baggage())
}

func TestDurableDataSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	counter, err := h.vat.DefineKind(ctx, "counter", []string{"n", "peer"}, Durable())
	require.NoError(t, err)
	ledger, err := h.vat.NewMapStore(ctx, WithDurable(), WithLabel("ledger"))
	require.NoError(t, err)

	require.NoError(t, h.vat.Deliver(ctx, func(ctx context.Context) error {
		peer, err := h.vat.Import(ctx, "o-7")
		if err != nil {
			return err
		}
		c, err := counter.Make(ctx, map[string]any{"n": int64(1), "peer": peer})
		if err != nil {
			return err
		}
		if err := h.vat.Set(ctx, c, "n", int64(5)); err != nil {
			return err
		}
		if err := ledger.Init(ctx, "alice", int64(100)); err != nil {
			return err
		}
		if err := h.vat.Baggage().Init(ctx, "counter", c); err != nil {
			return err
		}
		return h.vat.Baggage().Init(ctx, "ledger", ledger.Ref())
	}))

	restarted := open(t, h.store)
	tags, err := restarted.vat.DurableKinds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"counter"}, tags)
	_, err = restarted.vat.DefineKind(ctx, "counter", []string{"n"}, Durable())
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	_, err = restarted.vat.DefineKind(ctx, "counter", []string{"n", "peer"}, Durable())
	require.NoError(t, err)

	got, err := restarted.vat.Baggage().Get(ctx, "counter")
	require.NoError(t, err)
	c, ok := got.(*Ref)
	require.True(t, ok)
	n, err := restarted.vat.Get(ctx, c, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	peer, err := restarted.vat.Get(ctx, c, "peer")
	require.NoError(t, err)
	assert.Equal(t, "o-7", peer.(*Ref).VRef())

	got, err = restarted.vat.Baggage().Get(ctx, "ledger")
	require.NoError(t, err)
	l, err := restarted.vat.OpenMapStore(ctx, got.(*Ref))
	require.NoError(t, err)
	bal, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	_, err = restarted.vat.OpenSetStore(ctx, got.(*Ref))
	assert.Error(t, err)

	report, err := restarted.vat.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%+v", report)
}

func TestDurableRejectsVirtualValues(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	thing, err := h.vat.DefineKind(ctx, "thing", nil)
	require.NoError(t, err)
	o, err := thing.Make(ctx, nil)
	require.NoError(t, err)

	err = h.vat.Baggage().Init(ctx, "thing", o)
	assert.ErrorIs(t, err, ErrNotDurable)
	err = h.vat.Baggage().Init(ctx, "remotable", h.vat.NewRemotable("x"))
	assert.ErrorIs(t, err, ErrNotDurable)
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("remotable root", func(t *testing.T) {
		h := open(t, nil)
		root, err := h.vat.Start(ctx, "bootstrap")
		require.NoError(t, err)
		assert.Equal(t, "o+0", root.VRef())
		assert.Equal(t, "bootstrap", root.Target())
		status, err := h.vat.ExportStatus(ctx, "o+0")
		require.NoError(t, err)
		assert.Equal(t, "r", status)
		assert.False(t, h.host.Drop("o+0"), "root is pinned while exported")

		_, err = h.vat.Start(ctx, "again")
		assert.ErrorIs(t, err, ErrAlreadyStarted)
	})

	t.Run("durable root is fatal", func(t *testing.T) {
		h := open(t, nil)
		k, err := h.vat.DefineKind(ctx, "root", nil, Durable())
		require.NoError(t, err)
		r, err := k.Make(ctx, nil)
		require.NoError(t, err)

		_, err = h.vat.Start(ctx, r)
		assert.ErrorIs(t, err, ErrDurableRoot)
		var fe *FatalError
		assert.ErrorAs(t, err, &fe)

		err = h.vat.Deliver(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrVatFailed)
		assert.ErrorIs(t, err, ErrDurableRoot)
	})

	t.Run("virtual root is rejected", func(t *testing.T) {
		h := open(t, nil)
		k, err := h.vat.DefineKind(ctx, "root", nil)
		require.NoError(t, err)
		r, err := k.Make(ctx, nil)
		require.NoError(t, err)

		_, err = h.vat.Start(ctx, r)
		assert.ErrorIs(t, err, ErrInvalidRoot)
		_, err = h.vat.Start(ctx, "fine")
		assert.NoError(t, err)
	})
}

func TestImport_UnknownExportFailsVat(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	err := h.vat.Deliver(ctx, func(ctx context.Context) error {
		_, err := h.vat.Import(ctx, "o+v10/3")
		return err
	})
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = h.vat.NewMapStore(ctx)
	assert.ErrorIs(t, err, ErrVatFailed)
	_, err = h.vat.BringOutYourDead(ctx)
	assert.ErrorIs(t, err, ErrVatFailed)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestImport_KnownExportsResolve(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	k, err := h.vat.DefineKind(ctx, "thing", []string{"x"})
	require.NoError(t, err)
	o, err := k.Make(ctx, map[string]any{"x": "a"})
	require.NoError(t, err)
	s, err := h.vat.Export(ctx, o)
	require.NoError(t, err)

	again, err := h.vat.Import(ctx, s)
	require.NoError(t, err)
	assert.Same(t, o, again, "identity is kept while the Ref is live")

	r := h.vat.NewRemotable("x")
	rs, err := h.vat.Export(ctx, r)
	require.NoError(t, err)
	back, err := h.vat.Import(ctx, rs)
	require.NoError(t, err)
	assert.Same(t, r, back)
}

func TestExportLifecycle_VirtualObject(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	k, err := h.vat.DefineKind(ctx, "thing", nil)
	require.NoError(t, err)
	kept, err := k.Make(ctx, nil)
	require.NoError(t, err)
	forgotten, err := k.Make(ctx, nil)
	require.NoError(t, err)
	for _, o := range []*Ref{kept, forgotten} {
		_, err := h.vat.Export(ctx, o)
		require.NoError(t, err)
	}
	require.True(t, h.host.Drop(kept.BaseRef()))
	require.True(t, h.host.Drop(forgotten.BaseRef()))

	r := h.reap(t)
	assert.Empty(t, r.Deleted, "kernel reaches both")
	assert.Equal(t, 2, r.Finalized)

	require.NoError(t, h.vat.DropExports(ctx, []string{kept.VRef(), forgotten.VRef()}))
	require.NoError(t, h.vat.RetireExports(ctx, []string{forgotten.VRef()}))
	r = h.reap(t)
	assert.ElementsMatch(t, []string{kept.VRef(), forgotten.VRef()}, r.Deleted)
	assert.Equal(t, []string{kept.VRef()}, r.RetireExports)
	assert.Equal(t, []SyscallRecord{{Op: "retireExports", VRefs: []string{kept.VRef()}}}, h.sys.Calls)

	h.sys.Reset()
	r = h.reap(t)
	assert.Empty(t, r.Deleted)
	assert.Empty(t, h.sys.Calls)
}

func TestExportLifecycle_Remotable(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	r := h.vat.NewRemotable("target")
	_, err := h.vat.Export(ctx, r)
	require.NoError(t, err)
	assert.False(t, h.host.Drop(r.BaseRef()), "exported remotables are pinned")

	require.NoError(t, h.vat.DropExports(ctx, []string{r.VRef()}))
	require.True(t, h.host.Drop(r.BaseRef()))
	rep := h.reap(t)
	assert.Equal(t, []string{r.VRef()}, rep.Deleted)
	assert.Equal(t, []string{r.VRef()}, rep.RetireExports)

	err = h.vat.DropExports(ctx, []string{"o-3"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, h.vat.Flush(ctx), ErrVatFailed)
}

func TestReap_DropsAndRetiresImports(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	m, err := h.vat.NewMapStore(ctx)
	require.NoError(t, err)
	a, err := h.vat.Import(ctx, "o-1")
	require.NoError(t, err)
	b, err := h.vat.Import(ctx, "o-2")
	require.NoError(t, err)
	require.NoError(t, m.Init(ctx, "a", a))
	require.NoError(t, m.Init(ctx, "b", b))
	require.True(t, h.host.Drop("o-1"))
	require.True(t, h.host.Drop("o-2"))

	r := h.reap(t)
	assert.Empty(t, h.sys.Calls)
	assert.Empty(t, r.DropImports, "values still hold the imports")

	require.NoError(t, m.Delete(ctx, "a"))
	require.NoError(t, m.Delete(ctx, "b"))
	h.reap(t)
	assert.Equal(t, []SyscallRecord{
		{Op: "dropImports", VRefs: []string{"o-1", "o-2"}},
		{Op: "retireImports", VRefs: []string{"o-1", "o-2"}},
	}, h.sys.Calls)
}

func TestRetireImports_RemovesWeakEntries(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	wm, err := h.vat.NewWeakMapStore(ctx)
	require.NoError(t, err)
	a, err := h.vat.Import(ctx, "o-5")
	require.NoError(t, err)
	require.NoError(t, wm.Init(ctx, a, "meta"))
	n, err := wm.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, h.vat.RetireImports(ctx, []string{"o-5"}))
	has, err := wm.Has(ctx, a)
	require.NoError(t, err)
	assert.False(t, has)
	n, err = wm.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = h.vat.RetireImports(ctx, []string{"o+5"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCollections_Errors(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	m, err := h.vat.NewMapStore(ctx, WithLabel("names"), WithKeyShape(shape.String()), WithValueShape(shape.Int()))
	require.NoError(t, err)

	err = m.Init(ctx, 1, int64(2))
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "names", se.Label)
	assert.Equal(t, "key", se.Position)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	require.NoError(t, m.Init(ctx, "a", int64(1)))
	assert.ErrorIs(t, m.Init(ctx, "a", int64(2)), ErrKeyExists)
	assert.ErrorIs(t, m.Set(ctx, "b", int64(2)), ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "b"), ErrNotFound)
	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, h.vat.Flush(ctx), "shape errors do not fail the vat")
}

func TestCollections_Iteration(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	s, err := h.vat.NewSetStore(ctx)
	require.NoError(t, err)
	a, err := h.vat.Import(ctx, "o-9")
	require.NoError(t, err)
	b, err := h.vat.Import(ctx, "o-1")
	require.NoError(t, err)
	for _, k := range []any{"z", a, int64(3), b, true, "a"} {
		require.NoError(t, s.Add(ctx, k))
	}
	require.NoError(t, s.Add(ctx, "a"))

	var keys []any
	for k, err := range s.Keys(ctx) {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []any{true, int64(3), a, b, "a", "z"}, keys)

	ws, err := h.vat.NewWeakSetStore(ctx)
	require.NoError(t, err)
	require.NoError(t, ws.Add(ctx, a))
	has, err := ws.Has(ctx, a)
	require.NoError(t, err)
	assert.True(t, has)

	wm, err := h.vat.NewWeakMapStore(ctx)
	require.NoError(t, err)
	wref := wm.Ref()
	_, err = h.vat.OpenMapStore(ctx, wref)
	assert.Error(t, err)
	_, err = h.vat.OpenWeakMapStore(ctx, wref)
	assert.NoError(t, err)
}

func TestMultiFacetKind(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	k, err := h.vat.DefineKind(ctx, "account", []string{"balance"}, WithFacets("deposit", "withdraw"))
	require.NoError(t, err)
	facets, err := k.MakeFacets(ctx, map[string]any{"balance": int64(10)})
	require.NoError(t, err)
	require.Len(t, facets, 2)
	assert.Equal(t, facets[0].BaseRef(), facets[1].BaseRef())
	assert.NotEqual(t, facets[0].VRef(), facets[1].VRef())

	w, err := k.Facet(facets[0], "withdraw")
	require.NoError(t, err)
	assert.Same(t, facets[1], w)

	require.NoError(t, h.vat.Set(ctx, facets[1], "balance", int64(4)))
	bal, err := h.vat.Get(ctx, facets[0], "balance")
	require.NoError(t, err)
	assert.Equal(t, int64(4), bal)

	_, err = h.vat.Get(ctx, facets[0], "owner")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDeliver_FlushesState(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	h := open(t, nil, WithCacheSize(1), WithMetricsCollector(metrics))

	k, err := h.vat.DefineKind(ctx, "thing", []string{"x"})
	require.NoError(t, err)
	var objs []*Ref
	require.NoError(t, h.vat.Deliver(ctx, func(ctx context.Context) error {
		for i := range 3 {
			o, err := k.Make(ctx, map[string]any{"x": int64(i)})
			if err != nil {
				return err
			}
			objs = append(objs, o)
		}
		return nil
	}))
	for _, o := range objs {
		ok, err := kvstore.Has(ctx, h.store, "vom."+o.BaseRef())
		require.NoError(t, err)
		assert.True(t, ok)
	}

	boom := errors.New("boom")
	assert.ErrorIs(t, h.vat.Deliver(ctx, func(context.Context) error { return boom }), boom)
	require.NoError(t, h.vat.Flush(ctx), "plain errors do not fail the vat")

	for i, o := range objs {
		x, err := h.vat.Get(ctx, o, "x")
		require.NoError(t, err)
		assert.Equal(t, int64(i), x)
	}
	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.DeliveryCount)
	assert.Equal(t, int64(1), stats.DeliveryErrors)
	assert.Positive(t, stats.Evictions)
}

func TestOTelMetricsCollector(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mc, err := NewOTelMetricsCollector(provider.Meter("vatstore-test"), "vat-1")
	require.NoError(t, err)

	h := open(t, nil, WithMetricsCollector(mc))
	require.NoError(t, h.vat.Deliver(ctx, func(context.Context) error { return nil }))
	_, err = h.vat.Import(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, h.host.Drop("o-1"))
	h.reap(t)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["vatstore.deliveries"])
	assert.Equal(t, int64(1), sums["vatstore.reaps"])
	assert.Equal(t, int64(2), sums["vatstore.kernel.notifications"], "drop and retire of o-1")
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	k, err := h.vat.DefineKind(ctx, "note", []string{"text"}, Durable())
	require.NoError(t, err)
	n, err := k.Make(ctx, map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.NoError(t, h.vat.Baggage().Init(ctx, "note", n))

	blobs := blobstore.NewMemoryStore()
	info, err := h.vat.Snapshot(ctx, blobs, "vat.snap", kvstore.WithCompression(kvstore.CompressionLZ4))
	require.NoError(t, err)
	assert.Equal(t, h.store.Len(), info.Entries)

	restored := kvstore.NewMemoryStore()
	_, err = kvstore.Import(ctx, blobs, "vat.snap", restored)
	require.NoError(t, err)
	assert.Equal(t, h.store.Map(), restored.Map())

	h2 := open(t, restored)
	_, err = h2.vat.DefineKind(ctx, "note", []string{"text"}, Durable())
	require.NoError(t, err)
	got, err := h2.vat.Baggage().Get(ctx, "note")
	require.NoError(t, err)
	text, err := h2.vat.Get(ctx, got.(*Ref), "text")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestReap_CollectionShapeImportsAreDroppedAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := open(t, nil)

	peer, err := h.vat.Import(ctx, "o-5")
	require.NoError(t, err)
	m, err := h.vat.NewMapStore(ctx, WithDurable(), WithValueShape(shape.Or(shape.Eq(peer), shape.Int())))
	require.NoError(t, err)
	require.NoError(t, h.vat.Baggage().Init(ctx, "c", m.Ref()))
	require.True(t, h.host.Drop("o-5"))
	require.True(t, h.host.Drop(m.Ref().BaseRef()))
	r := h.reap(t)
	assert.Empty(t, r.DropImports)

	restarted := open(t, h.store)
	require.NoError(t, restarted.vat.Baggage().Delete(ctx, "c"))
	r = restarted.reap(t)
	assert.Equal(t, []string{m.Ref().VRef()}, r.Deleted)
	assert.Equal(t, []SyscallRecord{
		{Op: "dropImports", VRefs: []string{"o-5"}},
		{Op: "retireImports", VRefs: []string{"o-5"}},
	}, restarted.sys.Calls)

	report, err := restarted.vat.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%+v", report)
}
