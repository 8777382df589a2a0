package marshal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/hupe1980/vatstore/codec"
	"github.com/hupe1980/vatstore/internal/localref"
)

var (
	// ErrUnsupportedValue is returned for Go values outside the value model.
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrMalformed is returned for bodies that do not decode to a value.
	ErrMalformed = errors.New("malformed capdata")
)

const qclass = "@qclass"

// CapData is a serialized value.
type CapData struct {
	Body  string   `json:"body"`
	Slots []string `json:"slots,omitempty"`
}

// SlotConverter maps Refs to vrefs and back.
type SlotConverter interface {
	// ValToSlot returns the vref for r, allocating or exporting as needed.
	ValToSlot(ctx context.Context, r *localref.Ref) (string, error)
	// SlotToVal returns the Ref for vref, reanimating or importing as needed.
	SlotToVal(ctx context.Context, vref string) (*localref.Ref, error)
}

// Serialize encodes v. conv may be nil when v is known to hold no Refs.
func Serialize(ctx context.Context, c codec.Codec, v any, conv SlotConverter) (CapData, error) {
	e := encoder{ctx: ctx, conv: conv, index: make(map[string]int)}
	tree, err := e.encode(v)
	if err != nil {
		return CapData{}, err
	}
	body, err := c.Marshal(tree)
	if err != nil {
		return CapData{}, err
	}
	return CapData{Body: string(body), Slots: e.slots}, nil
}

// Unserialize decodes cd, resolving slots through conv.
func Unserialize(ctx context.Context, c codec.Codec, cd CapData, conv SlotConverter) (any, error) {
	var tree any
	if err := c.Unmarshal([]byte(cd.Body), &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d := decoder{ctx: ctx, conv: conv, slots: cd.Slots, refs: make([]*localref.Ref, len(cd.Slots))}
	return d.decode(tree)
}

type encoder struct {
	ctx   context.Context
	conv  SlotConverter
	slots []string
	index map[string]int
}

func (e *encoder) encode(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case int:
		return bigint(int64(x)), nil
	case int64:
		return bigint(x), nil
	case float64:
		switch {
		case math.IsNaN(x):
			return map[string]any{qclass: "NaN"}, nil
		case math.IsInf(x, 1):
			return map[string]any{qclass: "Infinity"}, nil
		case math.IsInf(x, -1):
			return map[string]any{qclass: "-Infinity"}, nil
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			enc, err := e.encode(el)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		// Sorted so slot numbering does not depend on map iteration order.
		keys := make([]string, 0, len(x))
		for k := range x {
			if k == qclass {
				return nil, fmt.Errorf("%w: reserved key %q", ErrUnsupportedValue, qclass)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(x))
		for _, k := range keys {
			enc, err := e.encode(x[k])
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case *localref.Ref:
		if x == nil {
			return nil, nil
		}
		var vref string
		if e.conv != nil {
			s, err := e.conv.ValToSlot(e.ctx, x)
			if err != nil {
				return nil, err
			}
			vref = s
		} else {
			vref = x.VRef()
		}
		i, ok := e.index[vref]
		if !ok {
			i = len(e.slots)
			e.slots = append(e.slots, vref)
			e.index[vref] = i
		}
		return map[string]any{qclass: "slot", "index": i}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func bigint(n int64) map[string]any {
	return map[string]any{qclass: "bigint", "digits": strconv.FormatInt(n, 10)}
}

type decoder struct {
	ctx   context.Context
	conv  SlotConverter
	slots []string
	refs  []*localref.Ref
}

func (d *decoder) decode(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			dec, err := d.decode(el)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	case map[string]any:
		if q, ok := x[qclass]; ok {
			return d.special(q, x)
		}
		out := make(map[string]any, len(x))
		for k, el := range x {
			dec, err := d.decode(el)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, v)
	}
}

func (d *decoder) special(q any, x map[string]any) (any, error) {
	switch q {
	case "bigint":
		s, _ := x["digits"].(string)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bigint %q", ErrMalformed, s)
		}
		return n, nil
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "slot":
		f, ok := x["index"].(float64)
		i := int(f)
		if !ok || float64(i) != f || i < 0 || i >= len(d.slots) {
			return nil, fmt.Errorf("%w: slot index %v", ErrMalformed, x["index"])
		}
		if d.refs[i] != nil {
			return d.refs[i], nil
		}
		if d.conv == nil {
			return nil, fmt.Errorf("%w: slot without converter", ErrMalformed)
		}
		r, err := d.conv.SlotToVal(d.ctx, d.slots[i])
		if err != nil {
			return nil, err
		}
		d.refs[i] = r
		return r, nil
	default:
		return nil, fmt.Errorf("%w: qclass %v", ErrMalformed, q)
	}
}

// Refs returns the distinct Refs reachable in v, in first-seen order.
func Refs(v any) []*localref.Ref {
	var out []*localref.Ref
	seen := make(map[*localref.Ref]bool)
	var walk func(any)
	walk = func(v any) {
		switch x := v.(type) {
		case *localref.Ref:
			if x != nil && !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		case []any:
			for _, el := range x {
				walk(el)
			}
		case map[string]any:
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(x[k])
			}
		}
	}
	walk(v)
	return out
}
