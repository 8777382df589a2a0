package gc

import (
	"context"
	"sort"

	"github.com/hupe1980/vatstore/internal/vatctx"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/vref"
)

// Result is the outcome of one scan.
type Result struct {
	DropImports   []string
	RetireImports []string
	RetireExports []string

	// Deleted lists the exported objects erased by the scan.
	Deleted []string
	// Passes counts possibly-dead drain rounds.
	Passes int
}

// Empty reports whether the scan produced no kernel notifications.
func (r Result) Empty() bool {
	return len(r.DropImports) == 0 && len(r.RetireImports) == 0 && len(r.RetireExports) == 0
}

// Engine runs scans over a vat context.
type Engine struct {
	vc   *vatctx.Context
	refs *vrm.Manager
}

// New returns an Engine.
func New(vc *vatctx.Context, refs *vrm.Manager) *Engine {
	return &Engine{vc: vc, refs: refs}
}

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Scan drains the pending sets. Finalizer callbacks must have been drained
// into possibly-dead before calling it.
func (e *Engine) Scan(ctx context.Context) (Result, error) {
	var (
		res           Result
		dropImports   = make(set)
		retireImports = make(set)
		retireExports = make(set)
		deleted       = make(set)
	)

	for e.vc.PossiblyDead.Len() > 0 || e.vc.PossiblyRetired.Len() > 0 {
		for e.vc.PossiblyDead.Len() > 0 {
			res.Passes++
			for _, base := range e.vc.PossiblyDead.Drain() {
				if err := e.checkDead(ctx, base, dropImports, retireExports, deleted); err != nil {
					return Result{}, err
				}
			}
		}

		for _, base := range e.vc.PossiblyRetired.Drain() {
			v, err := vref.Parse(base)
			if err != nil {
				return Result{}, err
			}
			if !v.IsImport() {
				continue
			}
			recognizable, err := e.refs.IsRecognizable(ctx, base)
			if err != nil {
				return Result{}, err
			}
			if !recognizable {
				retireImports.add(base)
			}
		}
	}

	res.DropImports = dropImports.sorted()
	res.RetireImports = retireImports.sorted()
	res.RetireExports = retireExports.sorted()
	res.Deleted = deleted.sorted()
	return res, nil
}

func (e *Engine) checkDead(ctx context.Context, base string, dropImports, retireExports, deleted set) error {
	v, err := vref.Parse(base)
	if err != nil {
		return err
	}
	if v.IsPromise() {
		return nil
	}
	// Registration state, not value liveness: a collected value whose
	// cleanup has not been drained still counts as local.
	reachable, err := e.refs.IsReachable(ctx, base)
	if err != nil || reachable {
		return err
	}

	if v.IsImport() {
		e.vc.Logger.Debug("dropping import", "vref", base)
		dropImports.add(base)
		e.vc.PossiblyRetired.Add(base)
		return nil
	}

	retire, err := e.refs.DeleteObject(ctx, base)
	if err != nil {
		return err
	}
	deleted.add(base)
	if retire {
		retireExports.add(base)
	}
	return nil
}
