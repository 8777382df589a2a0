package localref

import "github.com/hupe1980/vatstore/vref"

// Ref is the in-process handle for an object or promise known to the vat.
// Two Refs for the same vref are never live at the same time, so pointer
// equality is identity.
type Ref struct {
	vref   string
	parsed vref.VRef
	cohort *Cohort
	facet  int
}

// VRef returns the full vref, including any facet suffix.
func (r *Ref) VRef() string { return r.vref }

// BaseRef returns the facet-independent vref.
func (r *Ref) BaseRef() string { return r.cohort.baseRef }

// Parsed returns the parsed vref.
func (r *Ref) Parsed() vref.VRef { return r.parsed }

// Facet returns the facet index (0 for single-facet objects).
func (r *Ref) Facet() int { return r.facet }

// Cohort returns the cohort shared by all facets of this object.
func (r *Ref) Cohort() *Cohort { return r.cohort }

// Target returns the Go value attached to a remotable, if any.
func (r *Ref) Target() any { return r.cohort.target }

// IsPromise reports whether r names a promise.
func (r *Ref) IsPromise() bool { return r.parsed.IsPromise() }

func (r *Ref) String() string { return r.vref }

// Cohort ties together the facets of one base reference. Each facet holds
// the cohort and the cohort holds every facet, so they are collected together.
type Cohort struct {
	baseRef string
	facets  []*Ref
	target  any
}

// NewCohort builds the handles for base. With no facet names the cohort has
// a single Ref whose vref is base itself; otherwise facet i gets "base:i".
func NewCohort(base vref.VRef, facets int) *Cohort {
	base = base.Base()
	c := &Cohort{baseRef: base.String()}
	if facets <= 1 {
		c.facets = []*Ref{{vref: c.baseRef, parsed: base, cohort: c}}
		return c
	}
	c.facets = make([]*Ref, facets)
	for i := range facets {
		v := base.WithFacet(uint32(i))
		c.facets[i] = &Ref{vref: v.String(), parsed: v, cohort: c, facet: i}
	}
	return c
}

// NewRemotableCohort is like NewCohort for a single-facet remotable carrying target.
func NewRemotableCohort(base vref.VRef, target any) *Cohort {
	c := NewCohort(base, 1)
	c.target = target
	return c
}

// BaseRef returns the base vref.
func (c *Cohort) BaseRef() string { return c.baseRef }

// Facet returns the i'th facet handle.
func (c *Cohort) Facet(i int) *Ref { return c.facets[i] }

// Facets returns all facet handles.
func (c *Cohort) Facets() []*Ref { return c.facets }

// Primary returns the first facet.
func (c *Cohort) Primary() *Ref { return c.facets[0] }

// ForVRef returns the facet named by the full vref v.
func (c *Cohort) ForVRef(v vref.VRef) (*Ref, bool) {
	if !v.HasFacet {
		if len(c.facets) == 1 && !c.facets[0].parsed.HasFacet {
			return c.facets[0], true
		}
		return nil, false
	}
	if int(v.Facet) >= len(c.facets) || !c.facets[v.Facet].parsed.HasFacet {
		return nil, false
	}
	return c.facets[v.Facet], true
}
