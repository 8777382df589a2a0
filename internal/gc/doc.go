// Package gc runs the reap checkpoint ("bring out your dead").
//
// A scan drains the possibly-dead set to a fixpoint, deleting exported
// objects that lost every reachability pillar and dropping imports that
// are no longer held. Deletions cascade: they decrement refcounts and
// remove weak-collection entries, which refills the pending sets. Once
// nothing is possibly dead the possibly-retired set is checked for imports
// that nothing recognizes anymore. The kernel-facing batches are sorted,
// de-duplicated and returned only after the whole scan has finished.
package gc
