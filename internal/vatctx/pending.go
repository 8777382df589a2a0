package vatctx

import "sort"

// PendingSet is a set of vrefs awaiting a GC re-check.
type PendingSet struct {
	m map[string]struct{}
}

// NewPendingSet returns an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{m: make(map[string]struct{})}
}

// Add inserts v.
func (s *PendingSet) Add(v string) { s.m[v] = struct{}{} }

// Has reports whether v is present.
func (s *PendingSet) Has(v string) bool {
	_, ok := s.m[v]
	return ok
}

// Len returns the number of members.
func (s *PendingSet) Len() int { return len(s.m) }

// Drain removes and returns all members in sorted order.
func (s *PendingSet) Drain() []string {
	if len(s.m) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	clear(s.m)
	sort.Strings(out)
	return out
}
