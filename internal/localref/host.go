package localref

import (
	"runtime"
	"sync"
	"weak"
)

// Token identifies one registration. Gen distinguishes successive
// registrations of the same base ref.
type Token struct {
	BaseRef string
	Gen     uint64
}

// Handle observes a watched cohort without keeping it alive.
type Handle interface {
	// Value returns the cohort, or nil once the host has collected it.
	Value() *Cohort
}

// Host abstracts the runtime's weak references and cleanup callbacks.
type Host interface {
	// Watch starts observing c. When c is collected the host queues tok;
	// it may queue the same token more than once.
	Watch(c *Cohort, tok Token) Handle
	// Collect asks the host to collect garbage. It may be a no-op.
	Collect()
	// Drain returns and clears the queued tokens.
	Drain() []Token
}

// GoHost is a Host backed by the Go garbage collector.
type GoHost struct {
	mu      sync.Mutex
	pending []Token
}

// NewGoHost returns a Host using weak pointers and runtime.AddCleanup.
func NewGoHost() *GoHost {
	return &GoHost{}
}

type goHandle struct {
	wp weak.Pointer[Cohort]
}

func (h goHandle) Value() *Cohort { return h.wp.Value() }

func (h *GoHost) Watch(c *Cohort, tok Token) Handle {
	runtime.AddCleanup(c, h.enqueue, tok)
	return goHandle{wp: weak.Make(c)}
}

func (h *GoHost) enqueue(tok Token) {
	h.mu.Lock()
	h.pending = append(h.pending, tok)
	h.mu.Unlock()
}

// Collect runs a full garbage collection. Cleanups run asynchronously, so
// tokens may only show up in a later Drain.
func (h *GoHost) Collect() {
	runtime.GC()
}

func (h *GoHost) Drain() []Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// ManualHost is a deterministic Host for tests. Values are never collected
// by the Go runtime; a test collects them explicitly with Drop.
type ManualHost struct {
	live    map[string]*manualHandle
	pending []Token
	pinned  func(baseRef string) bool
}

// NewManualHost returns an empty ManualHost.
func NewManualHost() *ManualHost {
	return &ManualHost{live: make(map[string]*manualHandle)}
}

type manualHandle struct {
	c   *Cohort
	tok Token
}

func (h *manualHandle) Value() *Cohort { return h.c }

func (h *ManualHost) Watch(c *Cohort, tok Token) Handle {
	mh := &manualHandle{c: c, tok: tok}
	h.live[tok.BaseRef] = mh
	return mh
}

func (h *ManualHost) setPinCheck(fn func(string) bool) { h.pinned = fn }

// Drop simulates the runtime collecting the current value for baseRef and
// queues its cleanup. It reports false if there is no live value or the
// value is pinned by the vat.
func (h *ManualHost) Drop(baseRef string) bool {
	mh, ok := h.live[baseRef]
	if !ok || mh.c == nil {
		return false
	}
	if h.pinned != nil && h.pinned(baseRef) {
		return false
	}
	mh.c = nil
	delete(h.live, baseRef)
	h.pending = append(h.pending, mh.tok)
	return true
}

// Refire queues the cleanup for tok again, as a host may do.
func (h *ManualHost) Refire(tok Token) {
	h.pending = append(h.pending, tok)
}

// Collect is a no-op; collection is driven by Drop.
func (h *ManualHost) Collect() {}

func (h *ManualHost) Drain() []Token {
	out := h.pending
	h.pending = nil
	return out
}
