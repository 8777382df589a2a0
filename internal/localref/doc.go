// Package localref tracks which vrefs are still held by in-process values.
//
// Userspace holds *Ref handles. All facets of one object share a Cohort, and
// the Cohort is what the Tracker watches: the object stays locally reachable
// until every facet handle is gone.
//
// Collection is observed through a Host. The Go runtime host (GoHost) uses
// weak pointers and runtime.AddCleanup; ManualHost lets tests decide exactly
// when a value is collected. Either way, cleanup callbacks are only queued
// by the host and are drained explicitly by Tracker.Drain, so the vat sees
// them at deterministic points.
//
// A registration moves through three states:
//
//	Registered        value alive, no callback queued
//	CollectedPending  host collected the value, callback not yet drained
//	Finalized         callback drained (or never registered)
//
// IsLocallyReachable is true in the first two states. Re-registering a base
// ref bumps its generation, which cancels any callback still queued for the
// previous value.
package localref
