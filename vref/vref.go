package vref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVRef is returned when a string is not a canonical vref.
var ErrInvalidVRef = errors.New("invalid vref")

// Type distinguishes objects from promises.
type Type uint8

const (
	TypeObject  Type = iota + 1 // "o"
	TypePromise                 // "p"
)

// Direction records which side allocated the reference.
type Direction uint8

const (
	Export Direction = iota + 1 // "+": allocated by this vat
	Import                      // "-": allocated by the kernel
)

// Durability classifies exported objects.
type Durability uint8

const (
	// Ephemeral objects live only in process memory (plain o+N).
	Ephemeral Durability = iota
	// Virtual objects are backed by the store but do not survive a restart.
	Virtual
	// Durable objects are fully reconstructable from the store alone.
	Durable
)

// VRef is the parsed form of a reference string.
type VRef struct {
	Type       Type
	Direction  Direction
	Durability Durability
	// ID is the object or promise number for plain refs and the instance
	// number for virtual and durable refs.
	ID uint64
	// KindID is set for virtual and durable refs only.
	KindID uint64
	// Facet is meaningful only when HasFacet is true.
	Facet    uint32
	HasFacet bool
}

// NewExport returns the vref of an exported ephemeral object.
func NewExport(id uint64) VRef {
	return VRef{Type: TypeObject, Direction: Export, ID: id}
}

// NewImport returns the vref of an imported object.
func NewImport(id uint64) VRef {
	return VRef{Type: TypeObject, Direction: Import, ID: id}
}

// NewPromise returns a promise vref.
func NewPromise(dir Direction, id uint64) VRef {
	return VRef{Type: TypePromise, Direction: dir, ID: id}
}

// NewVirtual returns the base vref of a virtual (or durable) object instance.
func NewVirtual(kindID, instanceID uint64, durable bool) VRef {
	d := Virtual
	if durable {
		d = Durable
	}
	return VRef{Type: TypeObject, Direction: Export, Durability: d, KindID: kindID, ID: instanceID}
}

// WithFacet returns a copy of v addressing the given facet.
func (v VRef) WithFacet(facet uint32) VRef {
	v.Facet = facet
	v.HasFacet = true
	return v
}

// Base returns v without its facet.
func (v VRef) Base() VRef {
	v.Facet = 0
	v.HasFacet = false
	return v
}

// IsObject reports whether v names an object.
func (v VRef) IsObject() bool { return v.Type == TypeObject }

// IsPromise reports whether v names a promise.
func (v VRef) IsPromise() bool { return v.Type == TypePromise }

// IsImport reports whether v is an imported object.
func (v VRef) IsImport() bool { return v.Type == TypeObject && v.Direction == Import }

// IsExport reports whether v is an object allocated by this vat.
func (v VRef) IsExport() bool { return v.Type == TypeObject && v.Direction == Export }

// IsRemotable reports whether v is an exported ephemeral object.
func (v VRef) IsRemotable() bool { return v.IsExport() && v.Durability == Ephemeral }

// IsVirtual reports whether v is backed by the store (virtual or durable).
func (v VRef) IsVirtual() bool { return v.IsExport() && v.Durability != Ephemeral }

// IsDurable reports whether v survives a restart.
func (v VRef) IsDurable() bool { return v.IsExport() && v.Durability == Durable }

// String formats v in canonical form.
func (v VRef) String() string {
	var b strings.Builder
	b.Grow(24)
	if v.Type == TypePromise {
		b.WriteByte('p')
	} else {
		b.WriteByte('o')
	}
	if v.Direction == Import {
		b.WriteByte('-')
	} else {
		b.WriteByte('+')
	}
	switch v.Durability {
	case Virtual:
		b.WriteByte('v')
	case Durable:
		b.WriteByte('d')
	}
	if v.Durability != Ephemeral {
		b.WriteString(strconv.FormatUint(v.KindID, 10))
		b.WriteByte('/')
	}
	b.WriteString(strconv.FormatUint(v.ID, 10))
	if v.HasFacet {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(v.Facet), 10))
	}
	return b.String()
}

// Parse parses a canonical vref.
func Parse(s string) (VRef, error) {
	if len(s) < 3 {
		return VRef{}, invalid(s)
	}

	var v VRef
	switch s[0] {
	case 'o':
		v.Type = TypeObject
	case 'p':
		v.Type = TypePromise
	default:
		return VRef{}, invalid(s)
	}
	switch s[1] {
	case '+':
		v.Direction = Export
	case '-':
		v.Direction = Import
	default:
		return VRef{}, invalid(s)
	}

	rest := s[2:]
	switch rest[0] {
	case 'v', 'd':
		if v.Type != TypeObject || v.Direction != Export {
			return VRef{}, invalid(s)
		}
		if rest[0] == 'v' {
			v.Durability = Virtual
		} else {
			v.Durability = Durable
		}
		rest = rest[1:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return VRef{}, invalid(s)
		}
		kind, ok := parseNum(rest[:slash])
		if !ok {
			return VRef{}, invalid(s)
		}
		v.KindID = kind
		rest = rest[slash+1:]
	}

	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		if v.Durability == Ephemeral {
			return VRef{}, invalid(s)
		}
		facet, ok := parseNum(rest[colon+1:])
		if !ok || facet > uint64(^uint32(0)) {
			return VRef{}, invalid(s)
		}
		v.Facet = uint32(facet)
		v.HasFacet = true
		rest = rest[:colon]
	}

	id, ok := parseNum(rest)
	if !ok {
		return VRef{}, invalid(s)
	}
	v.ID = id
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) VRef {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// BaseRef strips the facet suffix from a vref string without a full parse.
func BaseRef(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsValid reports whether s is a canonical vref.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func parseNum(s string) (uint64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func invalid(s string) error {
	return fmt.Errorf("%w: %q", ErrInvalidVRef, s)
}
