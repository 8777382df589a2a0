package vom

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/hupe1980/vatstore/kvstore"
)

const (
	kindTagPrefix     = "vom.kindtag."
	durableKindPrefix = "vom.dkind."
	nextIDPrefix      = "vom.nextid."
)

// Kind describes a class of virtual objects.
type Kind struct {
	ID      uint64
	Tag     string
	Fields  []string
	Facets  []string
	Durable bool

	fields map[string]struct{}
}

// FacetCount returns the number of Refs per instance.
func (k *Kind) FacetCount() int { return max(len(k.Facets), 1) }

// FacetIndex returns the index of the named facet.
func (k *Kind) FacetIndex(name string) (int, bool) {
	i := slices.Index(k.Facets, name)
	return i, i >= 0
}

// HasField reports whether name is a declared field.
func (k *Kind) HasField(name string) bool {
	_, ok := k.fields[name]
	return ok
}

type kindRecord struct {
	Tag    string   `json:"tag"`
	Fields []string `json:"fields"`
	Facets []string `json:"facets,omitempty"`
}

func newKind(id uint64, tag string, fields, facets []string, durable bool) (*Kind, error) {
	k := &Kind{
		ID:      id,
		Tag:     tag,
		Fields:  slices.Clone(fields),
		Facets:  slices.Clone(facets),
		Durable: durable,
		fields:  make(map[string]struct{}, len(fields)),
	}
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("kind %q: empty field name", tag)
		}
		if _, dup := k.fields[f]; dup {
			return nil, fmt.Errorf("kind %q: duplicate field %q", tag, f)
		}
		k.fields[f] = struct{}{}
	}
	if len(facets) == 1 {
		return nil, fmt.Errorf("kind %q: a single facet needs no name", tag)
	}
	return k, nil
}

// DefineKind registers a kind. A durable kind whose tag is already recorded
// in the store gets its old ID back, provided fields and facets match.
func (m *Manager) DefineKind(ctx context.Context, tag string, fields, facets []string, durable bool) (*Kind, error) {
	if !durable {
		k, err := newKind(m.vc.IDs.NextKindID(), tag, fields, facets, false)
		if err != nil {
			return nil, err
		}
		m.kinds[k.ID] = k
		return k, nil
	}

	raw, ok, err := m.vc.Store.Get(ctx, kindTagPrefix+tag)
	if err != nil {
		return nil, err
	}
	if ok {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kind tag %q: %w", tag, err)
		}
		rec, err := m.loadKindRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(rec.Fields, fields) || !slices.Equal(rec.Facets, facets) {
			return nil, fmt.Errorf("%w: kind %q was defined with fields %v facets %v", ErrSchemaMismatch, tag, rec.Fields, rec.Facets)
		}
		k, err := newKind(id, tag, fields, facets, true)
		if err != nil {
			return nil, err
		}
		m.kinds[id] = k
		m.vc.Logger.Debug("redefined durable kind", "tag", tag, "kind", id)
		return k, nil
	}

	k, err := newKind(m.vc.IDs.NextKindID(), tag, fields, facets, true)
	if err != nil {
		return nil, err
	}
	b, err := m.vc.Codec.Marshal(kindRecord{Tag: tag, Fields: k.Fields, Facets: k.Facets})
	if err != nil {
		return nil, err
	}
	if err := m.vc.Store.Set(ctx, durableKindPrefix+strconv.FormatUint(k.ID, 10), string(b)); err != nil {
		return nil, err
	}
	if err := m.vc.Store.Set(ctx, kindTagPrefix+tag, strconv.FormatUint(k.ID, 10)); err != nil {
		return nil, err
	}
	m.kinds[k.ID] = k
	return k, nil
}

func (m *Manager) loadKindRecord(ctx context.Context, id uint64) (kindRecord, error) {
	raw, ok, err := m.vc.Store.Get(ctx, durableKindPrefix+strconv.FormatUint(id, 10))
	if err != nil {
		return kindRecord{}, err
	}
	if !ok {
		return kindRecord{}, fmt.Errorf("%w: durable kind %d", ErrUnknownKind, id)
	}
	var rec kindRecord
	if err := m.vc.Codec.Unmarshal([]byte(raw), &rec); err != nil {
		return kindRecord{}, fmt.Errorf("durable kind %d: %w", id, err)
	}
	return rec, nil
}

// Kind returns a kind defined in this incarnation.
func (m *Manager) Kind(id uint64) (*Kind, bool) {
	k, ok := m.kinds[id]
	return k, ok
}

// DurableKinds lists the tags of every durable kind recorded in the store.
func (m *Manager) DurableKinds(ctx context.Context) ([]string, error) {
	var tags []string
	for key, err := range kvstore.ScanKeys(ctx, m.vc.Store, kindTagPrefix) {
		if err != nil {
			return nil, err
		}
		tags = append(tags, key[len(kindTagPrefix):])
	}
	return tags, nil
}

func (m *Manager) nextInstanceID(ctx context.Context, kindID uint64) (uint64, error) {
	key := nextIDPrefix + strconv.FormatUint(kindID, 10)
	raw, ok, err := m.vc.Store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	id := uint64(1)
	if ok {
		if id, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := m.vc.Store.Set(ctx, key, strconv.FormatUint(id+1, 10)); err != nil {
		return 0, err
	}
	return id, nil
}
