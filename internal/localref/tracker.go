package localref

import (
	"log/slog"
)

// State is the registration state of a base ref.
type State uint8

const (
	// Finalized means no registration exists: the cleanup ran or the base
	// ref was never registered.
	Finalized State = iota
	// Registered means the value is alive.
	Registered
	// CollectedPending means the host collected the value but its cleanup
	// has not been drained yet.
	CollectedPending
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case CollectedPending:
		return "collected-pending"
	default:
		return "finalized"
	}
}

type registration struct {
	gen    uint64
	handle Handle
}

// Tracker maps base refs to their in-process cohorts.
type Tracker struct {
	host       Host
	regs       map[string]*registration
	pins       map[string]*Cohort
	gen        uint64
	onFinalize func(baseRef string)
	logger     *slog.Logger
}

// NewTracker creates a tracker. onFinalize is called once per drained
// cleanup whose registration is still current.
func NewTracker(host Host, onFinalize func(baseRef string), logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{
		host:       host,
		regs:       make(map[string]*registration),
		pins:       make(map[string]*Cohort),
		onFinalize: onFinalize,
		logger:     logger,
	}
	if pa, ok := host.(interface{ setPinCheck(func(string) bool) }); ok {
		pa.setPinCheck(t.IsPinned)
	}
	return t
}

// Register records c as the live value of its base ref, replacing any
// earlier registration. A cleanup still queued for the earlier value is
// ignored when drained.
func (t *Tracker) Register(c *Cohort) {
	t.gen++
	tok := Token{BaseRef: c.baseRef, Gen: t.gen}
	t.regs[c.baseRef] = &registration{gen: t.gen, handle: t.host.Watch(c, tok)}
}

// Lookup returns the live cohort for baseRef, or nil if none is registered
// or the value has been collected.
func (t *Tracker) Lookup(baseRef string) *Cohort {
	reg, ok := t.regs[baseRef]
	if !ok {
		return nil
	}
	return reg.handle.Value()
}

// State returns the registration state of baseRef.
func (t *Tracker) State(baseRef string) State {
	reg, ok := t.regs[baseRef]
	if !ok {
		return Finalized
	}
	if reg.handle.Value() == nil {
		return CollectedPending
	}
	return Registered
}

// IsLocallyReachable reports whether baseRef has a registration whose
// cleanup has not been drained. It does not probe whether the value still
// exists: a collected value with a pending cleanup still counts.
func (t *Tracker) IsLocallyReachable(baseRef string) bool {
	_, ok := t.regs[baseRef]
	return ok
}

// Pin keeps c alive regardless of userspace references.
func (t *Tracker) Pin(c *Cohort) {
	t.pins[c.baseRef] = c
}

// Unpin releases a pin. It returns whether a pin was held.
func (t *Tracker) Unpin(baseRef string) bool {
	if _, ok := t.pins[baseRef]; !ok {
		return false
	}
	delete(t.pins, baseRef)
	return true
}

// IsPinned reports whether baseRef is pinned.
func (t *Tracker) IsPinned(baseRef string) bool {
	_, ok := t.pins[baseRef]
	return ok
}

// Collect asks the host to collect garbage.
func (t *Tracker) Collect() {
	t.host.Collect()
}

// Drain processes queued cleanups and returns the base refs finalized by
// this call, in the order their cleanups were queued. Stale and duplicate
// tokens are ignored.
func (t *Tracker) Drain() []string {
	var finalized []string
	for _, tok := range t.host.Drain() {
		reg, ok := t.regs[tok.BaseRef]
		if !ok || reg.gen != tok.Gen {
			t.logger.Debug("stale cleanup ignored", "vref", tok.BaseRef, "gen", tok.Gen)
			continue
		}
		delete(t.regs, tok.BaseRef)
		finalized = append(finalized, tok.BaseRef)
		if t.onFinalize != nil {
			t.onFinalize(tok.BaseRef)
		}
	}
	return finalized
}

// Len returns the number of current registrations.
func (t *Tracker) Len() int { return len(t.regs) }
