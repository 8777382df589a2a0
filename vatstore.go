package vatstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/vatstore/blobstore"
	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/audit"
	"github.com/hupe1980/vatstore/internal/cache"
	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/gc"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/resource"
	"github.com/hupe1980/vatstore/internal/slots"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

// CodecKey is the store key recording the codec a vat writes with.
const CodecKey = "codec"

// Ref is an in-process reference to an object: a Presence for an import,
// a Representative for a virtual object or collection, or a remotable.
type Ref = localref.Ref

// AuditReport is the result of Vat.Audit.
type AuditReport = audit.Report

// CacheStats reports on the object state cache.
type CacheStats = cache.Stats

// ReapReport is the outcome of one reap checkpoint.
type ReapReport struct {
	DropImports   []string
	RetireImports []string
	RetireExports []string
	// Deleted lists the exported objects erased by the reap.
	Deleted []string
	// Finalized counts the finalizer callbacks drained.
	Finalized int
	Passes    int
	Duration  time.Duration
}

// Vat is the virtualization and GC core of one vat. It is single-threaded:
// a Vat must not be used from more than one goroutine at a time.
type Vat struct {
	id      uuid.UUID
	store   kvstore.Store
	sys     Syscall
	logger  *Logger
	metrics MetricsCollector

	vc          *vatctx.Context
	refs        *vrm.Manager
	objects     *vom.Manager
	collections *collection.Manager
	gc          *gc.Engine

	root    *Ref
	baggage *MapStore
	failed  error
}

// Open attaches a vat to store. Durable kinds, durable collections and the
// baggage written by an earlier incarnation are available again; their
// kinds must be redefined before their instances are touched.
func Open(ctx context.Context, store kvstore.Store, sys Syscall, optFns ...Option) (*Vat, error) {
	o := applyOptions(optFns)
	if sys == nil {
		sys = NoopSyscall{}
	}

	c, err := resolveCodec(ctx, store, o.codec)
	if err != nil {
		return nil, err
	}

	logger := o.logger.WithVat(o.vatID.String())
	v := &Vat{
		id:      o.vatID,
		store:   store,
		sys:     sys,
		logger:  logger,
		metrics: o.metricsCollector,
	}

	v.vc = vatctx.New(store, c, o.host, logger.Logger)
	if err := v.vc.IDs.Load(ctx, store, c); err != nil {
		return nil, err
	}

	var rc *resource.Controller
	if o.cacheMemoryLimit > 0 {
		rc = resource.NewController(resource.Config{MemoryLimitBytes: o.cacheMemoryLimit})
	}
	v.refs = vrm.New(v.vc)
	v.objects = vom.New(v.vc, v.refs, vom.Options{
		CacheSize: o.cacheSize,
		Resources: rc,
		OnEvict: func(_ string, dirty bool) {
			v.metrics.RecordCacheEviction(dirty)
		},
	})
	v.collections = collection.New(v.vc, v.refs)
	v.vc.Slots = slots.New(v.vc, v.objects, v.collections)
	v.gc = gc.New(v.vc, v.refs)

	if err := v.openBaggage(ctx); err != nil {
		return nil, err
	}
	if err := v.flush(ctx); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "vat opened", "codec", c.Name(), "ids", v.vc.IDs.Counters())
	return v, nil
}

func resolveCodec(ctx context.Context, store kvstore.Store, want codec.Codec) (codec.Codec, error) {
	name, ok, err := store.Get(ctx, CodecKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		if want == nil {
			want = codec.Default
		}
		if err := store.Set(ctx, CodecKey, want.Name()); err != nil {
			return nil, err
		}
		return want, nil
	}
	if want == nil {
		c, known := codec.ByName(name)
		if !known {
			return nil, fmt.Errorf("%w: store codec %q is not built in", ErrCodecMismatch, name)
		}
		return c, nil
	}
	if want.Name() != name {
		return nil, fmt.Errorf("%w: store was written with %q, not %q", ErrCodecMismatch, name, want.Name())
	}
	return want, nil
}

func (v *Vat) openBaggage(ctx context.Context) error {
	id := vatctx.BaggageCollectionID
	exists, err := v.collections.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := v.collections.CreateWithID(ctx, vatctx.KindDurableMapStore, id, collection.Options{Label: "baggage"}); err != nil {
			return fmt.Errorf("create baggage: %w", err)
		}
	}
	info, err := v.collections.Info(ctx, id)
	if err != nil {
		return err
	}
	r, err := v.vc.Slots.SlotToVal(ctx, info.VRef())
	if err != nil {
		return err
	}
	v.vc.Tracker.Pin(r.Cohort())
	v.baggage = &MapStore{base{v: v, info: info, ref: r}}
	return nil
}

// ID returns the vat ID used in logs and metrics.
func (v *Vat) ID() uuid.UUID { return v.id }

// Baggage returns the durable map that survives restarts.
func (v *Vat) Baggage() *MapStore { return v.baggage }

// Root returns the root object, or nil before Start.
func (v *Vat) Root() *Ref { return v.root }

func (v *Vat) guard() error {
	if v.failed != nil {
		return fmt.Errorf("%w: %w", ErrVatFailed, v.failed)
	}
	return nil
}

// fail marks the vat failed. It returns the FatalError.
func (v *Vat) fail(ctx context.Context, op string, err error) error {
	fe := fatal(op, err)
	if v.failed == nil {
		v.failed = fe
		v.logger.LogFatal(ctx, op, err)
	}
	return fe
}

// Start exports target as the root object o+0. The root's identity is
// fixed by the kernel, so it must be a plain Go value: a durable Ref is a
// fatal configuration error and any other Ref is rejected.
func (v *Vat) Start(ctx context.Context, target any) (*Ref, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	if v.root != nil {
		return nil, ErrAlreadyStarted
	}
	if r, ok := target.(*Ref); ok {
		if r.Parsed().IsDurable() {
			return nil, v.fail(ctx, "start", fmt.Errorf("%w: %s", ErrDurableRoot, r.VRef()))
		}
		return nil, fmt.Errorf("%w: got %s", ErrInvalidRoot, r.VRef())
	}
	if target == nil {
		return nil, ErrInvalidRoot
	}

	c := localref.NewRemotableCohort(vref.NewExport(0), target)
	v.vc.Tracker.Register(c)
	if err := v.refs.SetExportStatus(ctx, c.BaseRef(), vrm.ExportReachable); err != nil {
		return nil, v.fail(ctx, "start", err)
	}
	v.root = c.Primary()
	return v.root, nil
}

// NewRemotable wraps target as an ephemeral exportable object. It is kept
// alive while it is exported or stored in virtual data.
func (v *Vat) NewRemotable(target any) *Ref {
	c := localref.NewRemotableCohort(vref.NewExport(v.vc.IDs.NextExportID()), target)
	v.vc.Tracker.Register(c)
	return c.Primary()
}

// Deliver runs fn as one crank. Cached object state is written back after
// fn returns, so the store contents do not depend on cache evictions.
// A FatalError from fn, or a failed flush, fails the vat.
func (v *Vat) Deliver(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := v.guard(); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	var fe *FatalError
	if errors.As(err, &fe) {
		err = v.fail(ctx, fe.Op, fe.Cause)
	}
	if ferr := v.flush(ctx); ferr != nil && v.failed == nil {
		err = v.fail(ctx, "flush", ferr)
	}
	d := time.Since(start)
	v.metrics.RecordDelivery(d, err)
	v.logger.LogDelivery(ctx, d, err)
	return err
}

func (v *Vat) flush(ctx context.Context) error {
	if err := v.objects.Flush(ctx); err != nil {
		return err
	}
	return v.vc.IDs.Save(ctx, v.store, v.vc.Codec)
}

// Flush writes cached state and ID counters to the store.
func (v *Vat) Flush(ctx context.Context) error {
	if err := v.guard(); err != nil {
		return err
	}
	if err := v.flush(ctx); err != nil {
		return v.fail(ctx, "flush", err)
	}
	return nil
}

// BringOutYourDead runs a reap checkpoint: it drains finalizer callbacks,
// deletes everything no pillar holds and reports to the kernel. Each
// syscall is made at most once, with a sorted batch.
func (v *Vat) BringOutYourDead(ctx context.Context) (*ReapReport, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	start := time.Now()
	r, err := v.reap(ctx)
	if err != nil {
		err = v.fail(ctx, "reap", err)
		v.logger.LogReap(ctx, nil, err)
		return nil, err
	}
	r.Duration = time.Since(start)
	v.metrics.RecordReap(r)
	v.logger.LogReap(ctx, r, nil)
	return r, nil
}

func (v *Vat) reap(ctx context.Context) (*ReapReport, error) {
	v.vc.Tracker.Collect()
	finalized := v.vc.Tracker.Drain()

	res, err := v.gc.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.flush(ctx); err != nil {
		return nil, err
	}
	for _, d := range res.Deleted {
		_, retired := slices.BinarySearch(res.RetireExports, d)
		v.logger.LogDelete(ctx, d, retired)
	}

	if len(res.DropImports) > 0 {
		if err := v.sys.DropImports(ctx, res.DropImports); err != nil {
			return nil, fmt.Errorf("dropImports: %w", err)
		}
	}
	if len(res.RetireImports) > 0 {
		if err := v.sys.RetireImports(ctx, res.RetireImports); err != nil {
			return nil, fmt.Errorf("retireImports: %w", err)
		}
	}
	if len(res.RetireExports) > 0 {
		if err := v.sys.RetireExports(ctx, res.RetireExports); err != nil {
			return nil, fmt.Errorf("retireExports: %w", err)
		}
	}
	return &ReapReport{
		DropImports:   res.DropImports,
		RetireImports: res.RetireImports,
		RetireExports: res.RetireExports,
		Deleted:       res.Deleted,
		Finalized:     len(finalized),
		Passes:        res.Passes,
	}, nil
}

// Import resolves a vref received from the kernel. A vat-allocated vref
// that names nothing this vat exported is a protocol violation and fails
// the vat.
func (v *Vat) Import(ctx context.Context, s string) (*Ref, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	p, err := vref.Parse(s)
	if err != nil {
		return nil, v.fail(ctx, "import", fmt.Errorf("%w: %w", ErrProtocolViolation, err))
	}
	if p.IsPromise() {
		return nil, fmt.Errorf("import %s: promises are resolved by the message layer", s)
	}
	r, err := v.vc.Slots.SlotToVal(ctx, s)
	if errors.Is(err, slots.ErrUnknownExport) {
		return nil, v.fail(ctx, "import", fmt.Errorf("%w: %w", ErrProtocolViolation, err))
	}
	if err != nil {
		return nil, translateError(err)
	}
	return r, nil
}

// Export returns the vref for r and, for vat-allocated objects, records
// that the kernel can reach it. Exported remotables stay pinned until the
// kernel drops them.
func (v *Vat) Export(ctx context.Context, r *Ref) (string, error) {
	if err := v.guard(); err != nil {
		return "", err
	}
	s, err := v.vc.Slots.ValToSlot(ctx, r)
	if err != nil {
		return "", translateError(err)
	}
	if r.Parsed().IsExport() {
		if err := v.refs.SetExportStatus(ctx, r.BaseRef(), vrm.ExportReachable); err != nil {
			return "", v.fail(ctx, "export", err)
		}
	}
	return s, nil
}

// kernelExports parses vrefs the kernel names as exports of this vat.
func (v *Vat) kernelExports(ctx context.Context, op string, vrefs []string) ([]string, error) {
	bases := make([]string, 0, len(vrefs))
	for _, s := range vrefs {
		p, err := vref.Parse(s)
		if err == nil && !p.IsExport() {
			err = fmt.Errorf("%s is not an export", s)
		}
		if err != nil {
			return nil, v.fail(ctx, op, fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		}
		bases = append(bases, p.Base().String())
	}
	return bases, nil
}

// DropExports handles the kernel dropping its reachable references to
// exports. They remain recognizable until RetireExports.
func (v *Vat) DropExports(ctx context.Context, vrefs []string) error {
	if err := v.guard(); err != nil {
		return err
	}
	bases, err := v.kernelExports(ctx, "dropExports", vrefs)
	if err != nil {
		return err
	}
	for _, b := range bases {
		status, err := v.refs.GetExportStatus(ctx, b)
		if err != nil {
			return v.fail(ctx, "dropExports", err)
		}
		if status != vrm.ExportReachable {
			v.logger.DebugContext(ctx, "drop of unreachable export ignored", "vref", b, "status", status)
			continue
		}
		if err := v.refs.SetExportStatus(ctx, b, vrm.ExportRecognizable); err != nil {
			return v.fail(ctx, "dropExports", err)
		}
	}
	return nil
}

// RetireExports handles the kernel forgetting exports entirely.
func (v *Vat) RetireExports(ctx context.Context, vrefs []string) error {
	if err := v.guard(); err != nil {
		return err
	}
	bases, err := v.kernelExports(ctx, "retireExports", vrefs)
	if err != nil {
		return err
	}
	for _, b := range bases {
		if err := v.refs.SetExportStatus(ctx, b, vrm.ExportAbsent); err != nil {
			return v.fail(ctx, "retireExports", err)
		}
	}
	return nil
}

// RetireImports handles the kernel retiring imports: no one can name them
// again, so every weak collection entry keyed on them is removed.
func (v *Vat) RetireImports(ctx context.Context, vrefs []string) error {
	if err := v.guard(); err != nil {
		return err
	}
	for _, s := range vrefs {
		p, err := vref.Parse(s)
		if err == nil && !p.IsImport() {
			err = fmt.Errorf("%s is not an import", s)
		}
		if err != nil {
			return v.fail(ctx, "retireImports", fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		}
		if err := v.refs.CeaseRecognition(ctx, p.Base().String()); err != nil {
			return v.fail(ctx, "retireImports", err)
		}
	}
	return nil
}

// Audit flushes cached state and checks the store for refcount drift and
// leftover records.
func (v *Vat) Audit(ctx context.Context) (*AuditReport, error) {
	if err := v.Flush(ctx); err != nil {
		return nil, err
	}
	return audit.Run(ctx, v.store, v.vc.Codec)
}

// Snapshot flushes and streams the whole store into blobs under name.
func (v *Vat) Snapshot(ctx context.Context, blobs blobstore.BlobStore, name string, opts ...kvstore.SnapshotOption) (kvstore.SnapshotInfo, error) {
	if err := v.Flush(ctx); err != nil {
		return kvstore.SnapshotInfo{}, err
	}
	return kvstore.Export(ctx, v.store, blobs, name, opts...)
}

// CacheStats returns the object state cache counters.
func (v *Vat) CacheStats() CacheStats { return v.objects.CacheStats() }

// ExportStatus reports whether the kernel can reach ("r"), only recognize
// ("s") or not name ("") the export vref.
func (v *Vat) ExportStatus(ctx context.Context, s string) (string, error) {
	status, err := v.refs.GetExportStatus(ctx, vref.BaseRef(s))
	if err != nil {
		return "", err
	}
	switch status {
	case vrm.ExportReachable:
		return "r", nil
	case vrm.ExportRecognizable:
		return "s", nil
	}
	return "", nil
}
