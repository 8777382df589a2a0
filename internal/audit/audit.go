// Package audit checks a vat store for refcount drift and leftover records.
//
// Run recomputes every virtual-data refcount from the stored state records,
// collection entries and collection schemata and compares the result with
// the vom.rc records. It also reports collection records without metadata,
// recognizer links into missing collections and ordinal records whose entry
// is gone. Stale ordinal records are a known leftover of older stores; the
// audit reports them and never repairs them.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/marshal"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/hupe1980/vatstore/vref"
)

// RefCountMismatch is a base ref whose stored count differs from the recount.
type RefCountMismatch struct {
	BaseRef  string
	Stored   uint64
	Computed uint64
}

// StaleOrdinal is an ordinal record without its entry.
type StaleOrdinal struct {
	CollectionID uint64
	VRef         string
	Ordinal      uint64
}

// Report is the result of an audit.
type Report struct {
	Objects             int
	Collections         uint64
	RefCounts           map[string]uint64
	Mismatches          []RefCountMismatch
	OrphanCollections   []uint64
	DanglingRecognizers []string
	StaleOrdinals       []StaleOrdinal
}

// Clean reports whether the store is consistent. Stale ordinals are
// tolerated and do not make a report unclean.
func (r *Report) Clean() bool {
	return len(r.Mismatches) == 0 && len(r.OrphanCollections) == 0 && len(r.DanglingRecognizers) == 0
}

type auditor struct {
	store  kvstore.Store
	codec  codec.Codec
	counts map[string]uint64
}

func (a *auditor) count(slots []string) {
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		b := vref.BaseRef(s)
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		a.counts[b]++
	}
}

// Run audits store. c must be the codec the vat wrote with.
func Run(ctx context.Context, store kvstore.Store, c codec.Codec) (*Report, error) {
	if c == nil {
		c = codec.Default
	}
	a := &auditor{store: store, codec: c, counts: make(map[string]uint64)}
	r := &Report{}

	objects, err := a.states(ctx)
	if err != nil {
		return nil, err
	}
	r.Objects = objects

	kinds, err := a.schemata(ctx)
	if err != nil {
		return nil, err
	}
	withMeta := roaring64.New()
	for id := range kinds {
		withMeta.Add(id)
	}
	r.Collections = withMeta.GetCardinality()

	withEntries, stale, err := a.entries(ctx, kinds)
	if err != nil {
		return nil, err
	}
	r.StaleOrdinals = stale
	withEntries.AndNot(withMeta)
	r.OrphanCollections = withEntries.ToArray()

	if r.DanglingRecognizers, err = a.recognizers(ctx, withMeta); err != nil {
		return nil, err
	}
	if r.Mismatches, err = a.compare(ctx); err != nil {
		return nil, err
	}
	r.RefCounts = a.counts
	return r, nil
}

// states counts the slots of every virtual object state record.
func (a *auditor) states(ctx context.Context) (int, error) {
	n := 0
	for e, err := range kvstore.Scan(ctx, a.store, vom.StatePrefix+"o") {
		if err != nil {
			return 0, err
		}
		var s vom.State
		if err := a.codec.Unmarshal([]byte(e.Value), &s); err != nil {
			return 0, fmt.Errorf("%s: %w", e.Key, err)
		}
		for _, cd := range s {
			a.count(cd.Slots)
		}
		n++
	}
	return n, nil
}

// schemata loads every collection schema, counting the slots it holds.
func (a *auditor) schemata(ctx context.Context) (map[uint64]uint64, error) {
	kinds := make(map[uint64]uint64)
	for e, err := range kvstore.Scan(ctx, a.store, collection.KeyPrefix) {
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(e.Key, "."+collection.SchemaKeySuffix) {
			continue
		}
		id, _, ok := splitCollectionKey(e.Key)
		if !ok {
			continue
		}
		var rec collection.SchemaRecord
		if err := a.codec.Unmarshal([]byte(e.Value), &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		kinds[id] = rec.Kind
		a.count(rec.Shapes.Slots)
	}
	return kinds, nil
}

// entries counts entry keys and values and finds stale ordinal records.
func (a *auditor) entries(ctx context.Context, kinds map[uint64]uint64) (*roaring64.Bitmap, []StaleOrdinal, error) {
	withEntries := roaring64.New()
	var stale []StaleOrdinal
	for e, err := range kvstore.Scan(ctx, a.store, collection.KeyPrefix) {
		if err != nil {
			return nil, nil, err
		}
		id, rest, ok := splitCollectionKey(e.Key)
		if !ok {
			continue
		}
		if collection.IsMetadataKey(rest) {
			v := rest[1:]
			if !vref.IsValid(v) {
				continue
			}
			withEntries.Add(id)
			ord, err := strconv.ParseUint(e.Value, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			present, err := kvstore.Has(ctx, a.store, collection.RefEntryKey(id, ord, v))
			if err != nil {
				return nil, nil, err
			}
			if !present {
				stale = append(stale, StaleOrdinal{CollectionID: id, VRef: v, Ordinal: ord})
			}
			continue
		}

		withEntries.Add(id)
		var cd marshal.CapData
		if err := a.codec.Unmarshal([]byte(e.Value), &cd); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		a.count(cd.Slots)
		if kind, ok := kinds[id]; ok && !collection.IsWeak(kind) {
			if v, isRef := collection.EntryKeyRef(rest); isRef {
				a.count([]string{v})
			}
		}
	}
	return withEntries, stale, nil
}

func (a *auditor) recognizers(ctx context.Context, withMeta *roaring64.Bitmap) ([]string, error) {
	var dangling []string
	for key, err := range kvstore.ScanKeys(ctx, a.store, vrm.RecognizerPrefix) {
		if err != nil {
			return nil, err
		}
		rest := key[len(vrm.RecognizerPrefix):]
		i := strings.LastIndexByte(rest, '|')
		if i < 0 {
			dangling = append(dangling, key)
			continue
		}
		id, err := strconv.ParseUint(rest[i+1:], 10, 64)
		if err != nil || !withMeta.Contains(id) {
			dangling = append(dangling, key)
		}
	}
	return dangling, nil
}

func (a *auditor) compare(ctx context.Context) ([]RefCountMismatch, error) {
	stored := make(map[string]uint64)
	for e, err := range kvstore.Scan(ctx, a.store, vrm.RefCountPrefix) {
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(e.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		stored[e.Key[len(vrm.RefCountPrefix):]] = n
	}

	var out []RefCountMismatch
	for base, n := range a.counts {
		if stored[base] != n {
			out = append(out, RefCountMismatch{BaseRef: base, Stored: stored[base], Computed: n})
		}
	}
	for base, n := range stored {
		if _, ok := a.counts[base]; !ok {
			out = append(out, RefCountMismatch{BaseRef: base, Stored: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseRef < out[j].BaseRef })
	return out, nil
}

// splitCollectionKey splits "vc.<id>.<rest>".
func splitCollectionKey(key string) (uint64, string, bool) {
	body := strings.TrimPrefix(key, collection.KeyPrefix)
	i := strings.IndexByte(body, '.')
	if i < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseUint(body[:i], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, body[i+1:], true
}
