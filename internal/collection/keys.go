package collection

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/vatstore/internal/localref"
)

const (
	ordinalWidth = 10
	metaSep      = '|'
)

// encodeScalarKey encodes a non-reference key.
func encodeScalarKey(key any) (string, error) {
	switch x := key.(type) {
	case bool:
		if x {
			return "btrue", nil
		}
		return "bfalse", nil
	case int:
		return encodeInt(int64(x)), nil
	case int64:
		return encodeInt(x), nil
	case float64:
		if math.IsNaN(x) {
			return "", fmt.Errorf("%w: NaN", ErrInvalidKey)
		}
		if x == 0 {
			x = 0 // -0 and +0 are the same key
		}
		bits := math.Float64bits(x)
		if bits&(1<<63) == 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return fmt.Sprintf("f%016x", bits), nil
	case string:
		return "s" + x, nil
	case nil:
		return "", fmt.Errorf("%w: nil", ErrInvalidKey)
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidKey, key)
	}
}

func encodeInt(n int64) string {
	return fmt.Sprintf("n%016x", uint64(n)^(1<<63))
}

func encodeRefKey(ordinal uint64, vref string) string {
	return fmt.Sprintf("r%0*d:%s", ordinalWidth, ordinal, vref)
}

// decodeKey reverses the key encoding. Reference keys report isRef and
// the vref instead of a value.
func decodeKey(enc string) (v any, vref string, isRef bool, err error) {
	if enc == "" {
		return nil, "", false, fmt.Errorf("%w: empty encoded key", ErrInvalidKey)
	}
	body := enc[1:]
	switch enc[0] {
	case 'b':
		return body == "true", "", false, nil
	case 'n':
		u, err := strconv.ParseUint(body, 16, 64)
		if err != nil {
			return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidKey, enc)
		}
		return int64(u ^ (1 << 63)), "", false, nil
	case 'f':
		bits, err := strconv.ParseUint(body, 16, 64)
		if err != nil {
			return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidKey, enc)
		}
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), "", false, nil
	case 's':
		return body, "", false, nil
	case 'r':
		i := strings.IndexByte(body, ':')
		if i < 0 {
			return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidKey, enc)
		}
		return nil, body[i+1:], true, nil
	default:
		return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidKey, enc)
	}
}

// refKey returns the Ref of a key, or nil for scalar keys.
func refKey(key any) (*localref.Ref, error) {
	r, ok := key.(*localref.Ref)
	if !ok {
		return nil, nil
	}
	if r == nil || r.IsPromise() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, key)
	}
	return r, nil
}
