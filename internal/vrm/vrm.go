package vrm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

var (
	// ErrNotDurable is returned when a durable structure is asked to store
	// a value that does not survive a restart.
	ErrNotDurable = errors.New("value is not durable")
	// ErrPromiseInVirtualData is returned when a promise is stored in
	// virtual data.
	ErrPromiseInVirtualData = errors.New("promises cannot be stored in virtual data")
	// ErrRefCountUnderflow is returned when a refcount would drop below zero.
	ErrRefCountUnderflow = errors.New("refcount underflow")
	// ErrNotExport is returned when an export-only operation gets an import or promise.
	ErrNotExport = errors.New("not an exported object")
)

// Store key prefixes.
const (
	RefCountPrefix     = "vom.rc."
	ExportStatusPrefix = "vom.es."
	RecognizerPrefix   = "vom.ir."
)

// ExportStatus is the kernel's view of an exported object.
type ExportStatus uint8

const (
	ExportAbsent ExportStatus = iota
	ExportRecognizable
	ExportReachable
)

func (s ExportStatus) String() string {
	switch s {
	case ExportReachable:
		return "reachable"
	case ExportRecognizable:
		return "recognizable"
	default:
		return "absent"
	}
}

// ObjectStore holds the state of virtual objects.
type ObjectStore interface {
	// DeleteState removes the state of baseRef and returns one base ref
	// per refcount the state held, repeated if several fields share it.
	// existed is false if there was no state.
	DeleteState(ctx context.Context, baseRef string) (refs []string, existed bool, err error)
}

// CollectionStore holds virtual collections.
type CollectionStore interface {
	// DeleteCollection removes a collection with all of its entries and
	// metadata. It reports false if the collection did not exist.
	DeleteCollection(ctx context.Context, collectionID uint64) (bool, error)
	// RemoveWeakKey removes the entry keyed by vref from a weak collection
	// along with its recognizer link.
	RemoveWeakKey(ctx context.Context, collectionID uint64, vref string) error
}

// Manager tracks refcounts, export status and recognizers.
type Manager struct {
	vc          *vatctx.Context
	objects     ObjectStore
	collections CollectionStore
}

// New returns a Manager. The object and collection stores are bound later
// with SetObjectStore and SetCollectionStore since they depend on the Manager.
func New(vc *vatctx.Context) *Manager {
	return &Manager{vc: vc}
}

// SetObjectStore binds the virtual object store.
func (m *Manager) SetObjectStore(s ObjectStore) { m.objects = s }

// SetCollectionStore binds the collection store.
func (m *Manager) SetCollectionStore(s CollectionStore) { m.collections = s }

func refCountKey(baseRef string) string { return RefCountPrefix + baseRef }

func exportStatusKey(baseRef string) string { return ExportStatusPrefix + baseRef }

func recognizerKey(vref string, collectionID uint64) string {
	return RecognizerPrefix + vref + "|" + strconv.FormatUint(collectionID, 10)
}

// GetRefCount returns the virtual-data refcount of baseRef.
func (m *Manager) GetRefCount(ctx context.Context, baseRef string) (uint64, error) {
	raw, ok, err := m.vc.Store.Get(ctx, refCountKey(baseRef))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("refcount of %s: %w", baseRef, err)
	}
	return n, nil
}

func (m *Manager) setRefCount(ctx context.Context, baseRef string, n uint64) error {
	if n == 0 {
		return m.vc.Store.Delete(ctx, refCountKey(baseRef))
	}
	return m.vc.Store.Set(ctx, refCountKey(baseRef), strconv.FormatUint(n, 10))
}

// IncRefCount records one more virtual-data slot pointing at baseRef.
// Remotables are pinned while referenced from virtual data.
func (m *Manager) IncRefCount(ctx context.Context, baseRef string) error {
	n, err := m.GetRefCount(ctx, baseRef)
	if err != nil {
		return err
	}
	if err := m.setRefCount(ctx, baseRef, n+1); err != nil {
		return err
	}
	if n == 0 && isRemotable(baseRef) {
		m.pin(baseRef)
	}
	return nil
}

// DecRefCount drops one virtual-data slot. Reaching zero makes baseRef a
// GC candidate.
func (m *Manager) DecRefCount(ctx context.Context, baseRef string) error {
	n, err := m.GetRefCount(ctx, baseRef)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRefCountUnderflow, baseRef)
	}
	if err := m.setRefCount(ctx, baseRef, n-1); err != nil {
		return err
	}
	if n > 1 {
		return nil
	}
	m.vc.PossiblyDead.Add(baseRef)
	if isRemotable(baseRef) {
		status, err := m.GetExportStatus(ctx, baseRef)
		if err != nil {
			return err
		}
		if status != ExportReachable {
			m.vc.Tracker.Unpin(baseRef)
		}
	}
	return nil
}

// UpdateRefCounts moves refcounts from the slots of an old serialized value
// to those of its replacement. New slots are incremented before old ones are
// decremented so that a shared slot never passes through zero.
func (m *Manager) UpdateRefCounts(ctx context.Context, oldSlots, newSlots []string) error {
	for _, base := range uniqueBases(newSlots) {
		if err := m.IncRefCount(ctx, base); err != nil {
			return err
		}
	}
	for _, base := range uniqueBases(oldSlots) {
		if err := m.DecRefCount(ctx, base); err != nil {
			return err
		}
	}
	return nil
}

// IncRefCounts increments each distinct base ref in slots once.
func (m *Manager) IncRefCounts(ctx context.Context, slots []string) error {
	return m.UpdateRefCounts(ctx, nil, slots)
}

// DecRefCounts decrements each distinct base ref in slots once.
func (m *Manager) DecRefCounts(ctx context.Context, slots []string) error {
	return m.UpdateRefCounts(ctx, slots, nil)
}

// GetExportStatus returns the export status of baseRef.
func (m *Manager) GetExportStatus(ctx context.Context, baseRef string) (ExportStatus, error) {
	raw, ok, err := m.vc.Store.Get(ctx, exportStatusKey(baseRef))
	if err != nil || !ok {
		return ExportAbsent, err
	}
	switch raw {
	case "r":
		return ExportReachable, nil
	case "s":
		return ExportRecognizable, nil
	default:
		return ExportAbsent, fmt.Errorf("export status of %s: unexpected %q", baseRef, raw)
	}
}

// SetExportStatus moves the export pillar of baseRef. Losing reachability
// makes baseRef a GC candidate; losing recognition makes it a retirement
// candidate.
func (m *Manager) SetExportStatus(ctx context.Context, baseRef string, status ExportStatus) error {
	v, err := vref.Parse(baseRef)
	if err != nil {
		return err
	}
	if !v.IsExport() {
		return fmt.Errorf("%w: %s", ErrNotExport, baseRef)
	}
	old, err := m.GetExportStatus(ctx, baseRef)
	if err != nil {
		return err
	}

	key := exportStatusKey(baseRef)
	switch status {
	case ExportReachable:
		err = m.vc.Store.Set(ctx, key, "r")
	case ExportRecognizable:
		err = m.vc.Store.Set(ctx, key, "s")
	default:
		err = m.vc.Store.Delete(ctx, key)
	}
	if err != nil {
		return err
	}

	if status == ExportReachable && old != ExportReachable && isRemotable(baseRef) {
		m.pin(baseRef)
	}
	if old == ExportReachable && status != ExportReachable {
		if isRemotable(baseRef) {
			n, err := m.GetRefCount(ctx, baseRef)
			if err != nil {
				return err
			}
			if n == 0 {
				m.vc.Tracker.Unpin(baseRef)
			}
		}
		m.vc.PossiblyDead.Add(baseRef)
	}
	if old != ExportAbsent && status == ExportAbsent {
		m.vc.PossiblyRetired.Add(baseRef)
	}
	return nil
}

// IsReachable reports whether any reachability pillar holds baseRef.
func (m *Manager) IsReachable(ctx context.Context, baseRef string) (bool, error) {
	if m.vc.Tracker.IsLocallyReachable(baseRef) {
		return true, nil
	}
	status, err := m.GetExportStatus(ctx, baseRef)
	if err != nil {
		return false, err
	}
	if status == ExportReachable {
		return true, nil
	}
	n, err := m.GetRefCount(ctx, baseRef)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsRecognizable reports whether baseRef is reachable, still recognized by
// the kernel, or keyed by some weak collection.
func (m *Manager) IsRecognizable(ctx context.Context, baseRef string) (bool, error) {
	reachable, err := m.IsReachable(ctx, baseRef)
	if err != nil || reachable {
		return reachable, err
	}
	status, err := m.GetExportStatus(ctx, baseRef)
	if err != nil {
		return false, err
	}
	if status == ExportRecognizable {
		return true, nil
	}
	links, err := m.Recognizers(ctx, baseRef)
	if err != nil {
		return false, err
	}
	return len(links) > 0, nil
}

// AddRecognizer records that a weak collection keys on vref.
func (m *Manager) AddRecognizer(ctx context.Context, vref string, collectionID uint64) error {
	return m.vc.Store.Set(ctx, recognizerKey(vref, collectionID), "1")
}

// RemoveRecognizer drops a recognizer link. An import that loses a link is
// a retirement candidate.
func (m *Manager) RemoveRecognizer(ctx context.Context, v string, collectionID uint64) error {
	if err := m.vc.Store.Delete(ctx, recognizerKey(v, collectionID)); err != nil {
		return err
	}
	if p, err := vref.Parse(v); err == nil && p.IsImport() {
		m.vc.PossiblyRetired.Add(vref.BaseRef(v))
	}
	return nil
}

// DeleteRecognizer drops a recognizer link without scheduling a retirement check.
func (m *Manager) DeleteRecognizer(ctx context.Context, vref string, collectionID uint64) error {
	return m.vc.Store.Delete(ctx, recognizerKey(vref, collectionID))
}

// Recognizer is one weak-collection link.
type Recognizer struct {
	VRef         string
	CollectionID uint64
}

// Recognizers lists the weak collections keying on any facet of baseRef.
func (m *Manager) Recognizers(ctx context.Context, baseRef string) ([]Recognizer, error) {
	var out []Recognizer
	// The bare vref sorts before its facets ("|" > ":"), so scan both.
	for _, prefix := range []string{RecognizerPrefix + baseRef + ":", RecognizerPrefix + baseRef + "|"} {
		for key, err := range kvstore.ScanKeys(ctx, m.vc.Store, prefix) {
			if err != nil {
				return nil, err
			}
			r, ok := parseRecognizerKey(key)
			if !ok {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func parseRecognizerKey(key string) (Recognizer, bool) {
	rest := strings.TrimPrefix(key, RecognizerPrefix)
	i := strings.LastIndexByte(rest, '|')
	if i < 0 {
		return Recognizer{}, false
	}
	id, err := strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return Recognizer{}, false
	}
	return Recognizer{VRef: rest[:i], CollectionID: id}, true
}

// CeaseRecognition removes every weak-collection entry keyed on baseRef.
func (m *Manager) CeaseRecognition(ctx context.Context, baseRef string) error {
	links, err := m.Recognizers(ctx, baseRef)
	if err != nil {
		return err
	}
	for _, l := range links {
		if m.collections == nil {
			if err := m.DeleteRecognizer(ctx, l.VRef, l.CollectionID); err != nil {
				return err
			}
			continue
		}
		if err := m.collections.RemoveWeakKey(ctx, l.CollectionID, l.VRef); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject erases an exported object: its state or collection contents,
// its refcount and export status, and every weak entry keyed on it.
// Slots held by the deleted data are decremented, which may cascade. It
// reports whether the kernel still recognized the export and must be told
// to retire it. Calling it on an already deleted object is a no-op.
func (m *Manager) DeleteObject(ctx context.Context, baseRef string) (retireExport bool, err error) {
	v, err := vref.Parse(baseRef)
	if err != nil {
		return false, err
	}
	if !v.IsExport() {
		return false, fmt.Errorf("%w: %s", ErrNotExport, baseRef)
	}

	switch {
	case v.IsVirtual() && vatctx.IsCollectionKind(v.KindID):
		if m.collections != nil {
			if _, err := m.collections.DeleteCollection(ctx, v.ID); err != nil {
				return false, err
			}
		}
	case v.IsVirtual():
		if m.objects != nil {
			slots, existed, err := m.objects.DeleteState(ctx, baseRef)
			if err != nil {
				return false, err
			}
			if existed {
				for _, s := range slots {
					if err := m.DecRefCount(ctx, vref.BaseRef(s)); err != nil {
						return false, err
					}
				}
			}
		}
	default:
		m.vc.Tracker.Unpin(baseRef)
	}

	status, err := m.GetExportStatus(ctx, baseRef)
	if err != nil {
		return false, err
	}
	if err := m.vc.Store.Delete(ctx, exportStatusKey(baseRef)); err != nil {
		return false, err
	}
	if err := m.vc.Store.Delete(ctx, refCountKey(baseRef)); err != nil {
		return false, err
	}
	if err := m.CeaseRecognition(ctx, baseRef); err != nil {
		return false, err
	}

	m.vc.Logger.Debug("deleted object", "vref", baseRef, "retire", status == ExportRecognizable)
	return status == ExportRecognizable, nil
}

// CheckStorable validates the slots of a value about to be written into
// virtual data. Durable structures accept only imports and durable objects.
func (m *Manager) CheckStorable(slots []string, durable bool) error {
	for _, s := range slots {
		v, err := vref.Parse(s)
		if err != nil {
			return err
		}
		if v.IsPromise() {
			return fmt.Errorf("%w: %s", ErrPromiseInVirtualData, s)
		}
		if durable && !v.IsImport() && !v.IsDurable() {
			return fmt.Errorf("%w: %s", ErrNotDurable, s)
		}
	}
	return nil
}

func (m *Manager) pin(baseRef string) {
	if c := m.vc.Tracker.Lookup(baseRef); c != nil {
		m.vc.Tracker.Pin(c)
	}
}

func isRemotable(baseRef string) bool {
	v, err := vref.Parse(baseRef)
	return err == nil && v.IsRemotable()
}

func uniqueBases(slots []string) []string {
	if len(slots) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		b := vref.BaseRef(s)
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
