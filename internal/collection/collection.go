package collection

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hupe1980/vatstore/internal/cache"
	"github.com/hupe1980/vatstore/internal/marshal"
	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/shape"
	"github.com/hupe1980/vatstore/vref"
)

const (
	metaNextOrdinal = "nextOrdinal"
	metaEntryCount  = "entryCount"
	metaSchemata    = "schemata"
)

// Options configure a new collection.
type Options struct {
	Label      string
	KeyShape   shape.Shape
	ValueShape shape.Shape
}

// Info is the loaded metadata of a collection.
type Info struct {
	ID         uint64
	Kind       uint64
	Label      string
	KeyShape   shape.Shape
	ValueShape shape.Shape

	schemaSlots []string
}

// IsWeak reports whether the collection holds its keys weakly.
func (i *Info) IsWeak() bool { return IsWeak(i.Kind) }

// IsSet reports whether the collection is a set.
func (i *Info) IsSet() bool { return IsSet(i.Kind) }

// IsDurable reports whether the collection survives a restart.
func (i *Info) IsDurable() bool { return IsDurable(i.Kind) }

// VRef returns the vref of the collection object.
func (i *Info) VRef() string { return VRef(i.Kind, i.ID) }

// SchemaRecord is the stored metadata record of a collection.
type SchemaRecord struct {
	Kind   uint64          `json:"kind"`
	Label  string          `json:"label"`
	Shapes marshal.CapData `json:"shapes"`
}

// Entry is one key/value pair of a collection.
type Entry struct {
	Key   any
	Value any
}

// DefaultInfoCacheSize is the number of loaded collection schemata kept in
// memory.
const DefaultInfoCacheSize = 256

// Option configures a Manager.
type Option func(*Manager)

// WithInfoCacheSize bounds the number of cached collection schemata.
func WithInfoCacheSize(n int) Option {
	return func(m *Manager) { m.infoCacheSize = n }
}

// Manager implements virtual collections.
type Manager struct {
	vc            *vatctx.Context
	refs          *vrm.Manager
	infoCacheSize int
	// infos holds schemata with their shapes unserialized. Entries are never
	// dirty: the record is written once at creation.
	infos *cache.LRU[uint64, *Info]
}

// New returns a Manager and registers it with refs as the collection store.
func New(vc *vatctx.Context, refs *vrm.Manager, opts ...Option) *Manager {
	m := &Manager{vc: vc, refs: refs, infoCacheSize: DefaultInfoCacheSize}
	for _, opt := range opts {
		opt(m)
	}
	m.infos = cache.New[uint64, *Info](m.infoCacheSize, func(context.Context, uint64, *Info) error { return nil })
	refs.SetCollectionStore(m)
	return m
}

// KeyPrefix is the common prefix of every collection record.
const KeyPrefix = "vc."

// SchemaKeySuffix ends the metadata key holding a collection's SchemaRecord.
const SchemaKeySuffix = "|" + metaSchemata

func prefix(id uint64) string { return KeyPrefix + strconv.FormatUint(id, 10) + "." }

func metaKey(id uint64, name string) string { return prefix(id) + string(metaSep) + name }

// Prefix returns the key prefix owned by collection id.
func Prefix(id uint64) string { return prefix(id) }

// RefEntryKey returns the store key of the entry for an object key.
func RefEntryKey(id, ordinal uint64, vref string) string {
	return prefix(id) + encodeRefKey(ordinal, vref)
}

// IsMetadataKey reports whether the part of a key after Prefix names
// metadata or an ordinal record rather than an entry.
func IsMetadataKey(rest string) bool { return rest != "" && rest[0] == metaSep }

// EntryKeyRef returns the vref of an object entry key (the part after
// Prefix), or false for scalar keys.
func EntryKeyRef(rest string) (string, bool) {
	_, v, isRef, err := decodeKey(rest)
	return v, err == nil && isRef
}

// Create allocates a new collection of the given kind.
func (m *Manager) Create(ctx context.Context, kind uint64, opts Options) (*Info, error) {
	return m.CreateWithID(ctx, kind, m.vc.IDs.NextCollectionID(), opts)
}

// CreateWithID creates a collection with a fixed ID. It fails if the ID is in use.
func (m *Manager) CreateWithID(ctx context.Context, kind, id uint64, opts Options) (*Info, error) {
	if !vatctx.IsCollectionKind(kind) {
		return nil, fmt.Errorf("collection kind %d out of range", kind)
	}
	exists, err := m.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("collection %d already exists", id)
	}

	label := opts.Label
	if label == "" {
		label = "collection"
	}
	tree := map[string]any{
		"label":      label,
		"keyShape":   opts.KeyShape.Tree(),
		"valueShape": opts.ValueShape.Tree(),
	}
	cd, err := marshal.Serialize(ctx, m.vc.Codec, tree, m.vc.Slots)
	if err != nil {
		return nil, err
	}
	if err := m.refs.CheckStorable(cd.Slots, IsDurable(kind)); err != nil {
		return nil, err
	}
	if err := m.refs.IncRefCounts(ctx, cd.Slots); err != nil {
		return nil, err
	}

	rec, err := m.vc.Codec.Marshal(SchemaRecord{Kind: kind, Label: label, Shapes: cd})
	if err != nil {
		return nil, err
	}
	if err := m.vc.Store.Set(ctx, metaKey(id, metaSchemata), string(rec)); err != nil {
		return nil, err
	}
	if err := m.vc.Store.Set(ctx, metaKey(id, metaNextOrdinal), "1"); err != nil {
		return nil, err
	}
	if err := m.vc.Store.Set(ctx, metaKey(id, metaEntryCount), "0"); err != nil {
		return nil, err
	}

	info := &Info{
		ID: id, Kind: kind, Label: label,
		KeyShape: opts.KeyShape, ValueShape: opts.ValueShape,
		schemaSlots: cd.Slots,
	}
	if err := m.infos.Set(ctx, id, info, false); err != nil {
		return nil, err
	}
	m.vc.Logger.Debug("created collection", "vref", info.VRef(), "label", label)
	return info, nil
}

// Exists reports whether collection id has metadata.
func (m *Manager) Exists(ctx context.Context, id uint64) (bool, error) {
	if m.infos.Contains(id) {
		return true, nil
	}
	return kvstore.Has(ctx, m.vc.Store, metaKey(id, metaSchemata))
}

// loadRecord reads the stored schema record of collection id without
// resolving the slots of its shapes. GC paths use it so that deleting a
// collection never registers the objects its shapes name.
func (m *Manager) loadRecord(ctx context.Context, id uint64) (*SchemaRecord, error) {
	raw, ok, err := m.vc.Store.Get(ctx, metaKey(id, metaSchemata))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCollection, id)
	}
	var rec SchemaRecord
	if err := m.vc.Codec.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("collection %d schema: %w", id, err)
	}
	return &rec, nil
}

// Info loads the metadata of collection id, resolving the objects named by
// its shapes.
func (m *Manager) Info(ctx context.Context, id uint64) (*Info, error) {
	if info, ok := m.infos.Get(id); ok {
		return info, nil
	}
	rec, err := m.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	tree, err := marshal.Unserialize(ctx, m.vc.Codec, rec.Shapes, m.vc.Slots)
	if err != nil {
		return nil, fmt.Errorf("collection %d schema: %w", id, err)
	}
	shapes, _ := tree.(map[string]any)
	keyShape, err := shape.FromTree(shapes["keyShape"])
	if err != nil {
		return nil, err
	}
	valueShape, err := shape.FromTree(shapes["valueShape"])
	if err != nil {
		return nil, err
	}
	info := &Info{
		ID: id, Kind: rec.Kind, Label: rec.Label,
		KeyShape: keyShape, ValueShape: valueShape,
		schemaSlots: rec.Shapes.Slots,
	}
	if err := m.infos.Set(ctx, id, info, false); err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manager) getCounter(ctx context.Context, id uint64, name string) (uint64, error) {
	raw, ok, err := m.vc.Store.Get(ctx, metaKey(id, name))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (m *Manager) setCounter(ctx context.Context, id uint64, name string, n uint64) error {
	return m.vc.Store.Set(ctx, metaKey(id, name), strconv.FormatUint(n, 10))
}

func (m *Manager) addEntryCount(ctx context.Context, id uint64, delta int) error {
	n, err := m.getCounter(ctx, id, metaEntryCount)
	if err != nil {
		return err
	}
	if delta < 0 && n < uint64(-delta) {
		m.vc.Logger.Debug("entry count underflow", "collection", id, "count", n, "delta", delta)
		n = 0
	} else {
		n = uint64(int64(n) + int64(delta))
	}
	return m.setCounter(ctx, id, metaEntryCount, n)
}

// lookupKey returns the store key of key in info. For object keys without an
// ordinal it allocates one when assign is set and otherwise reports !found.
func (m *Manager) lookupKey(ctx context.Context, info *Info, key any, assign bool) (dbKey, keyVRef string, found bool, err error) {
	r, err := refKey(key)
	if err != nil {
		return "", "", false, err
	}
	if r == nil {
		enc, err := encodeScalarKey(key)
		if err != nil {
			return "", "", false, err
		}
		return prefix(info.ID) + enc, "", true, nil
	}

	keyVRef, err = m.vc.Slots.ValToSlot(ctx, r)
	if err != nil {
		return "", "", false, err
	}
	ordKey := metaKey(info.ID, keyVRef)
	raw, ok, err := m.vc.Store.Get(ctx, ordKey)
	if err != nil {
		return "", "", false, err
	}
	if ok {
		ord, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return "", "", false, fmt.Errorf("ordinal of %s in collection %d: %w", keyVRef, info.ID, err)
		}
		return prefix(info.ID) + encodeRefKey(ord, keyVRef), keyVRef, true, nil
	}
	if !assign {
		return "", keyVRef, false, nil
	}
	ord, err := m.getCounter(ctx, info.ID, metaNextOrdinal)
	if err != nil {
		return "", "", false, err
	}
	if err := m.setCounter(ctx, info.ID, metaNextOrdinal, ord+1); err != nil {
		return "", "", false, err
	}
	if err := m.vc.Store.Set(ctx, ordKey, strconv.FormatUint(ord, 10)); err != nil {
		return "", "", false, err
	}
	return prefix(info.ID) + encodeRefKey(ord, keyVRef), keyVRef, true, nil
}

func (m *Manager) checkKey(info *Info, key any) error {
	if _, err := refKey(key); err != nil {
		return err
	}
	if !info.KeyShape.Match(key) {
		return &ShapeError{Label: info.Label, Position: "key", Value: key, Shape: info.KeyShape}
	}
	if r, _ := refKey(key); r != nil {
		return m.refs.CheckStorable([]string{r.VRef()}, info.IsDurable())
	}
	return nil
}

func (m *Manager) encodeValue(ctx context.Context, info *Info, value any) (marshal.CapData, string, error) {
	if !info.ValueShape.Match(value) {
		return marshal.CapData{}, "", &ShapeError{Label: info.Label, Position: "value", Value: value, Shape: info.ValueShape}
	}
	cd, err := marshal.Serialize(ctx, m.vc.Codec, value, m.vc.Slots)
	if err != nil {
		return marshal.CapData{}, "", err
	}
	if err := m.refs.CheckStorable(cd.Slots, info.IsDurable()); err != nil {
		return marshal.CapData{}, "", err
	}
	raw, err := m.vc.Codec.Marshal(cd)
	if err != nil {
		return marshal.CapData{}, "", err
	}
	return cd, string(raw), nil
}

func (m *Manager) decodeCapData(raw string) (marshal.CapData, error) {
	var cd marshal.CapData
	if err := m.vc.Codec.Unmarshal([]byte(raw), &cd); err != nil {
		return marshal.CapData{}, fmt.Errorf("%w: %v", marshal.ErrMalformed, err)
	}
	return cd, nil
}

// Has reports whether key is present in collection id.
func (m *Manager) Has(ctx context.Context, id uint64, key any) (bool, error) {
	info, err := m.Info(ctx, id)
	if err != nil {
		return false, err
	}
	dbKey, _, found, err := m.lookupKey(ctx, info, key, false)
	if err != nil || !found {
		return false, ignoreInvalidKey(err)
	}
	return kvstore.Has(ctx, m.vc.Store, dbKey)
}

func ignoreInvalidKey(err error) error {
	if errors.Is(err, ErrInvalidKey) {
		return nil
	}
	return err
}

// Get returns the value stored under key.
func (m *Manager) Get(ctx context.Context, id uint64, key any) (any, error) {
	info, err := m.Info(ctx, id)
	if err != nil {
		return nil, err
	}
	dbKey, _, found, err := m.lookupKey(ctx, info, key, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	raw, ok, err := m.vc.Store.Get(ctx, dbKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	cd, err := m.decodeCapData(raw)
	if err != nil {
		return nil, err
	}
	return marshal.Unserialize(ctx, m.vc.Codec, cd, m.vc.Slots)
}

// Init adds a new entry. It fails with ErrKeyExists if key is present.
func (m *Manager) Init(ctx context.Context, id uint64, key, value any) error {
	info, err := m.Info(ctx, id)
	if err != nil {
		return err
	}
	if err := m.checkKey(info, key); err != nil {
		return err
	}
	cd, raw, err := m.encodeValue(ctx, info, value)
	if err != nil {
		return err
	}
	dbKey, keyVRef, _, err := m.lookupKey(ctx, info, key, true)
	if err != nil {
		return err
	}
	exists, err := kvstore.Has(ctx, m.vc.Store, dbKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %v", ErrKeyExists, key)
	}

	if err := m.vc.Store.Set(ctx, dbKey, raw); err != nil {
		return err
	}
	if err := m.addEntryCount(ctx, id, 1); err != nil {
		return err
	}
	if err := m.refs.IncRefCounts(ctx, cd.Slots); err != nil {
		return err
	}
	if keyVRef == "" {
		return nil
	}
	if info.IsWeak() {
		return m.refs.AddRecognizer(ctx, keyVRef, id)
	}
	return m.refs.IncRefCount(ctx, vref.BaseRef(keyVRef))
}

// Set replaces the value of an existing entry.
func (m *Manager) Set(ctx context.Context, id uint64, key, value any) error {
	info, err := m.Info(ctx, id)
	if err != nil {
		return err
	}
	if err := m.checkKey(info, key); err != nil {
		return err
	}
	cd, raw, err := m.encodeValue(ctx, info, value)
	if err != nil {
		return err
	}
	dbKey, _, found, err := m.lookupKey(ctx, info, key, false)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	oldRaw, ok, err := m.vc.Store.Get(ctx, dbKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	old, err := m.decodeCapData(oldRaw)
	if err != nil {
		return err
	}
	if err := m.refs.UpdateRefCounts(ctx, old.Slots, cd.Slots); err != nil {
		return err
	}
	return m.vc.Store.Set(ctx, dbKey, raw)
}

// Add inserts key into a set. Adding a present key is a no-op.
func (m *Manager) Add(ctx context.Context, id uint64, key any) error {
	has, err := m.Has(ctx, id, key)
	if err != nil || has {
		return err
	}
	return m.Init(ctx, id, key, nil)
}

// Delete removes key.
func (m *Manager) Delete(ctx context.Context, id uint64, key any) error {
	info, err := m.Info(ctx, id)
	if err != nil {
		return err
	}
	dbKey, _, found, err := m.lookupKey(ctx, info, key, false)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	raw, ok, err := m.vc.Store.Get(ctx, dbKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	if err := m.deleteEntry(ctx, id, info.IsWeak(), dbKey, raw, true); err != nil {
		return err
	}
	return m.addEntryCount(ctx, id, -1)
}

// deleteEntry removes one entry with its ordinal record and releases what it
// held. Weak key links are removed through RemoveRecognizer when
// scheduleRetire is set and silently otherwise.
func (m *Manager) deleteEntry(ctx context.Context, id uint64, weak bool, dbKey, raw string, scheduleRetire bool) error {
	cd, err := m.decodeCapData(raw)
	if err != nil {
		return err
	}
	if err := m.vc.Store.Delete(ctx, dbKey); err != nil {
		return err
	}
	if err := m.refs.DecRefCounts(ctx, cd.Slots); err != nil {
		return err
	}
	_, keyVRef, isRef, err := decodeKey(dbKey[len(prefix(id)):])
	if err != nil || !isRef {
		return err
	}
	if err := m.vc.Store.Delete(ctx, metaKey(id, keyVRef)); err != nil {
		return err
	}
	switch {
	case !weak:
		return m.refs.DecRefCount(ctx, vref.BaseRef(keyVRef))
	case scheduleRetire:
		return m.refs.RemoveRecognizer(ctx, keyVRef, id)
	default:
		return m.refs.DeleteRecognizer(ctx, keyVRef, id)
	}
}

// Size returns the number of entries.
func (m *Manager) Size(ctx context.Context, id uint64) (int, error) {
	if _, err := m.Info(ctx, id); err != nil {
		return 0, err
	}
	n, err := m.getCounter(ctx, id, metaEntryCount)
	return int(n), err
}

// Clear removes every entry but keeps the collection's metadata, including
// its ordinal counter.
func (m *Manager) Clear(ctx context.Context, id uint64) error {
	info, err := m.Info(ctx, id)
	if err != nil {
		return err
	}
	if err := m.clearEntries(ctx, id, info.IsWeak()); err != nil {
		return err
	}
	return m.setCounter(ctx, id, metaEntryCount, 0)
}

func (m *Manager) clearEntries(ctx context.Context, id uint64, weak bool) error {
	p := prefix(id)
	for e, err := range kvstore.Scan(ctx, m.vc.Store, p) {
		if err != nil {
			return err
		}
		if e.Key[len(p)] == metaSep {
			break
		}
		if err := m.deleteEntry(ctx, id, weak, e.Key, e.Value, true); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCollection removes a collection entirely. It is a no-op for unknown IDs.
func (m *Manager) DeleteCollection(ctx context.Context, id uint64) (bool, error) {
	exists, err := m.Exists(ctx, id)
	if err != nil || !exists {
		return false, err
	}
	rec, err := m.loadRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if err := m.clearEntries(ctx, id, IsWeak(rec.Kind)); err != nil {
		return false, err
	}
	if err := m.refs.DecRefCounts(ctx, rec.Shapes.Slots); err != nil {
		return false, err
	}
	if _, err := kvstore.DeletePrefix(ctx, m.vc.Store, prefix(id)); err != nil {
		return false, err
	}
	m.infos.Remove(id)
	m.vc.Logger.Debug("deleted collection", "vref", VRef(rec.Kind, id))
	return true, nil
}

// RemoveWeakKey drops the entry keyed by vref from a weak collection when
// the key object is gone. Its recognizer link is removed without scheduling
// a retirement check.
func (m *Manager) RemoveWeakKey(ctx context.Context, id uint64, keyVRef string) error {
	exists, err := m.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return m.refs.DeleteRecognizer(ctx, keyVRef, id)
	}
	rec, err := m.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	raw, ok, err := m.vc.Store.Get(ctx, metaKey(id, keyVRef))
	if err != nil {
		return err
	}
	if ok {
		ord, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		dbKey := prefix(id) + encodeRefKey(ord, keyVRef)
		value, present, err := m.vc.Store.Get(ctx, dbKey)
		if err != nil {
			return err
		}
		if present {
			if err := m.deleteEntry(ctx, id, IsWeak(rec.Kind), dbKey, value, false); err != nil {
				return err
			}
			if err := m.addEntryCount(ctx, id, -1); err != nil {
				return err
			}
		}
	}
	return m.refs.DeleteRecognizer(ctx, keyVRef, id)
}
