// Package vref parses and formats vat reference strings.
//
// A vref is the stable, sortable identity of an object or promise as seen
// across the kernel boundary. The grammar is:
//
//	o+N          exported ephemeral object (a Remotable)
//	o-N          imported object (a Presence)
//	p+N / p-N    promise allocated by the vat / by the kernel
//	o+vK/I       virtual object: kind K, instance I
//	o+dK/I       durable object: kind K, instance I
//	o+vK/I:F     facet F of a multi-faceted virtual object
//
// Numbers are plain decimal without leading zeros, so every canonical vref
// round-trips: Parse(s).String() == s.
//
// The base reference of a faceted vref is the vref without its ":F" suffix.
// All refcount, export-status and state records are keyed by base reference.
//
// Vrefs compare lexicographically. Callers that need numeric ordering (for
// example ordinal-keyed collection entries) must zero-pad the numbers they
// embed next to a vref instead of relying on the vref itself.
package vref
