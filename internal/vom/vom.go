package vom

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/vatstore/internal/cache"
	"github.com/hupe1980/vatstore/internal/localref"
	"github.com/hupe1980/vatstore/internal/marshal"
	"github.com/hupe1980/vatstore/internal/resource"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

var (
	// ErrUnknownKind is returned for kind IDs not defined in this incarnation.
	ErrUnknownKind = errors.New("unknown kind")
	// ErrUnknownObject is returned for instances without stored state.
	ErrUnknownObject = errors.New("unknown virtual object")
	// ErrSchemaMismatch is returned when stored state or a kind definition
	// does not match the declared fields.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUnknownField is returned for fields the kind does not declare.
	ErrUnknownField = errors.New("unknown field")
)

// StatePrefix prefixes the state record of every virtual object. Vrefs
// start with "o", which keeps state apart from the other "vom." records.
const StatePrefix = "vom."

// DefaultCacheSize is the number of object states kept in memory.
const DefaultCacheSize = 1000

// State is the serialized state of one object, keyed by field.
type State map[string]marshal.CapData

func (s State) size() int64 {
	var n int64
	for f, cd := range s {
		n += int64(len(f) + len(cd.Body))
		for _, slot := range cd.Slots {
			n += int64(len(slot))
		}
	}
	return n
}

// Options configure a Manager.
type Options struct {
	// CacheSize bounds the number of cached object states.
	CacheSize int
	// Resources, if set, bounds the memory held by cached state.
	Resources *resource.Controller
	// OnEvict is called whenever the cache evicts an object's state.
	OnEvict func(baseRef string, dirty bool)
}

// Manager creates, loads and deletes virtual objects.
type Manager struct {
	vc    *vatctx.Context
	refs  *vrm.Manager
	kinds map[uint64]*Kind
	cache *cache.LRU[string, State]
}

// New returns a Manager and registers it with refs as the object store.
func New(vc *vatctx.Context, refs *vrm.Manager, opts Options) *Manager {
	m := &Manager{vc: vc, refs: refs, kinds: make(map[uint64]*Kind)}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	var copts []cache.Option[string, State]
	if opts.Resources != nil {
		copts = append(copts, cache.WithResourceController[string](opts.Resources, State.size))
	}
	if opts.OnEvict != nil {
		copts = append(copts, cache.WithOnEvict[string, State](opts.OnEvict))
	}
	m.cache = cache.New(size, m.writeBack, copts...)
	refs.SetObjectStore(m)
	return m
}

func (m *Manager) writeBack(ctx context.Context, baseRef string, s State) error {
	b, err := m.vc.Codec.Marshal(s)
	if err != nil {
		return err
	}
	return m.vc.Store.Set(ctx, StatePrefix+baseRef, string(b))
}

// NewInstance creates an object of kind k with the given initial field
// values and returns its cohort. Omitted fields start as nil.
func (m *Manager) NewInstance(ctx context.Context, k *Kind, init map[string]any) (*localref.Cohort, error) {
	if _, ok := m.kinds[k.ID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k.ID)
	}
	for f := range init {
		if !k.HasField(f) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, k.Tag, f)
		}
	}

	state := make(State, len(k.Fields))
	for _, f := range k.Fields {
		cd, err := m.serialize(ctx, k, f, init[f])
		if err != nil {
			return nil, err
		}
		state[f] = cd
	}

	id, err := m.nextInstanceID(ctx, k.ID)
	if err != nil {
		return nil, err
	}
	base := vref.NewVirtual(k.ID, id, k.Durable)
	for _, f := range k.Fields {
		if err := m.refs.IncRefCounts(ctx, state[f].Slots); err != nil {
			return nil, err
		}
	}
	if err := m.cache.Set(ctx, base.String(), state, true); err != nil {
		return nil, err
	}

	c := localref.NewCohort(base, k.FacetCount())
	m.vc.Tracker.Register(c)
	return c, nil
}

func (m *Manager) serialize(ctx context.Context, k *Kind, field string, v any) (marshal.CapData, error) {
	cd, err := marshal.Serialize(ctx, m.vc.Codec, v, m.vc.Slots)
	if err != nil {
		return marshal.CapData{}, fmt.Errorf("%s.%s: %w", k.Tag, field, err)
	}
	if err := m.refs.CheckStorable(cd.Slots, k.Durable); err != nil {
		return marshal.CapData{}, fmt.Errorf("%s.%s: %w", k.Tag, field, err)
	}
	return cd, nil
}

func (m *Manager) kindOf(baseRef string) (*Kind, error) {
	v, err := vref.Parse(baseRef)
	if err != nil {
		return nil, err
	}
	k, ok := m.kinds[v.KindID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, v.KindID)
	}
	return k, nil
}

// load returns the state of baseRef, reading it into the cache on a miss.
func (m *Manager) load(ctx context.Context, baseRef string, k *Kind) (State, error) {
	if s, ok := m.cache.Get(baseRef); ok {
		return s, nil
	}
	raw, ok, err := m.vc.Store.Get(ctx, StatePrefix+baseRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, baseRef)
	}
	var s State
	if err := m.vc.Codec.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("state of %s: %w", baseRef, err)
	}
	if len(s) != len(k.Fields) {
		return nil, fmt.Errorf("%w: %s has %d fields, kind %q declares %d", ErrSchemaMismatch, baseRef, len(s), k.Tag, len(k.Fields))
	}
	for f := range s {
		if !k.HasField(f) {
			return nil, fmt.Errorf("%w: %s has undeclared field %q", ErrSchemaMismatch, baseRef, f)
		}
	}
	if err := m.cache.Set(ctx, baseRef, s, false); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns one field of the object r belongs to.
func (m *Manager) Get(ctx context.Context, r *localref.Ref, field string) (any, error) {
	k, err := m.kindOf(r.BaseRef())
	if err != nil {
		return nil, err
	}
	if !k.HasField(field) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, k.Tag, field)
	}
	s, err := m.load(ctx, r.BaseRef(), k)
	if err != nil {
		return nil, err
	}
	return marshal.Unserialize(ctx, m.vc.Codec, s[field], m.vc.Slots)
}

// Set replaces one field of the object r belongs to.
func (m *Manager) Set(ctx context.Context, r *localref.Ref, field string, value any) error {
	k, err := m.kindOf(r.BaseRef())
	if err != nil {
		return err
	}
	if !k.HasField(field) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, k.Tag, field)
	}
	s, err := m.load(ctx, r.BaseRef(), k)
	if err != nil {
		return err
	}
	cd, err := m.serialize(ctx, k, field, value)
	if err != nil {
		return err
	}
	if err := m.refs.UpdateRefCounts(ctx, s[field].Slots, cd.Slots); err != nil {
		return err
	}
	next := make(State, len(s))
	for f, v := range s {
		next[f] = v
	}
	next[field] = cd
	return m.cache.Set(ctx, r.BaseRef(), next, true)
}

// Exists reports whether baseRef has state.
func (m *Manager) Exists(ctx context.Context, baseRef string) (bool, error) {
	if m.cache.Contains(baseRef) {
		return true, nil
	}
	return kvstore.Has(ctx, m.vc.Store, StatePrefix+baseRef)
}

// Reanimate builds a fresh cohort for a stored object and returns the Ref
// for v. Refcounts and export status are left alone.
func (m *Manager) Reanimate(ctx context.Context, v vref.VRef) (*localref.Ref, error) {
	base := v.Base()
	k, ok := m.kinds[base.KindID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, base.KindID)
	}
	exists, err := m.Exists(ctx, base.String())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, base)
	}
	c := localref.NewCohort(base, k.FacetCount())
	r, ok := c.ForVRef(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no such facet", ErrUnknownObject, v)
	}
	m.vc.Tracker.Register(c)
	return r, nil
}

// DeleteState removes the state of baseRef from the cache and the store.
// It returns one base ref per refcount the state held, field by field in
// name order.
func (m *Manager) DeleteState(ctx context.Context, baseRef string) ([]string, bool, error) {
	s, cached := m.cache.Remove(baseRef)
	raw, stored, err := m.vc.Store.Get(ctx, StatePrefix+baseRef)
	if err != nil {
		return nil, false, err
	}
	if !cached && !stored {
		return nil, false, nil
	}
	if !cached {
		if err := m.vc.Codec.Unmarshal([]byte(raw), &s); err != nil {
			return nil, false, fmt.Errorf("state of %s: %w", baseRef, err)
		}
	}
	if stored {
		if err := m.vc.Store.Delete(ctx, StatePrefix+baseRef); err != nil {
			return nil, false, err
		}
	}

	fields := make([]string, 0, len(s))
	for f := range s {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var bases []string
	for _, f := range fields {
		seen := make(map[string]struct{}, len(s[f].Slots))
		for _, slot := range s[f].Slots {
			b := vref.BaseRef(slot)
			if _, ok := seen[b]; !ok {
				seen[b] = struct{}{}
				bases = append(bases, b)
			}
		}
	}
	return bases, true, nil
}

// Flush writes all dirty cached state to the store.
func (m *Manager) Flush(ctx context.Context) error {
	return m.cache.Flush(ctx)
}

// CacheStats returns the state cache counters.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// Evict drops every clean cached state and writes back the dirty ones.
func (m *Manager) Evict(ctx context.Context) error {
	if err := m.cache.Flush(ctx); err != nil {
		return err
	}
	m.cache.Purge()
	return nil
}
