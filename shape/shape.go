// Package shape describes the keys and values a collection accepts.
//
// Shapes are plain values. They are stored with the collection schema as a
// value tree, so an Eq shape that holds a Ref keeps that object alive for
// the lifetime of the collection.
package shape

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/vatstore/internal/localref"
)

// ErrInvalidShape is returned when decoding a malformed shape tree.
var ErrInvalidShape = errors.New("invalid shape")

// Kind enumerates shape constructors.
type Kind uint8

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindNumber
	KindBool
	KindScalar
	KindRemotable
	KindEq
	KindOr
)

var kindNames = [...]string{"any", "string", "int", "number", "bool", "scalar", "remotable", "eq", "or"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Shape is a predicate over values. The zero Shape matches anything.
type Shape struct {
	kind  Kind
	value any
	alts  []Shape
}

// Any matches every value.
func Any() Shape { return Shape{} }

// String matches strings.
func String() Shape { return Shape{kind: KindString} }

// Int matches integers.
func Int() Shape { return Shape{kind: KindInt} }

// Number matches integers and floats.
func Number() Shape { return Shape{kind: KindNumber} }

// Bool matches booleans.
func Bool() Shape { return Shape{kind: KindBool} }

// Scalar matches nil, booleans, numbers, strings and Refs.
func Scalar() Shape { return Shape{kind: KindScalar} }

// Remotable matches object Refs.
func Remotable() Shape { return Shape{kind: KindRemotable} }

// Eq matches values equal to v. Refs compare by identity.
func Eq(v any) Shape { return Shape{kind: KindEq, value: v} }

// Or matches values matching any of alts.
func Or(alts ...Shape) Shape { return Shape{kind: KindOr, alts: alts} }

// Kind returns the constructor of s.
func (s Shape) Kind() Kind { return s.kind }

// IsAny reports whether s accepts everything.
func (s Shape) IsAny() bool { return s.kind == KindAny }

// Match reports whether v satisfies s.
func (s Shape) Match(v any) bool {
	switch s.kind {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case KindNumber:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindScalar:
		switch x := v.(type) {
		case nil, bool, int, int64, float64, string:
			return true
		case *localref.Ref:
			return x != nil && !x.IsPromise()
		}
		return false
	case KindRemotable:
		r, ok := v.(*localref.Ref)
		return ok && r != nil && !r.IsPromise()
	case KindEq:
		return Equal(s.value, v)
	case KindOr:
		for _, a := range s.alts {
			if a.Match(v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (s Shape) String() string {
	switch s.kind {
	case KindEq:
		return fmt.Sprintf("eq(%v)", s.value)
	case KindOr:
		parts := make([]string, len(s.alts))
		for i, a := range s.alts {
			parts[i] = a.String()
		}
		return "or(" + strings.Join(parts, ", ") + ")"
	default:
		return s.kind.String()
	}
}

// Tree returns s as a value tree suitable for serialization.
func (s Shape) Tree() any {
	m := map[string]any{"kind": s.kind.String()}
	switch s.kind {
	case KindEq:
		m["value"] = s.value
	case KindOr:
		alts := make([]any, len(s.alts))
		for i, a := range s.alts {
			alts[i] = a.Tree()
		}
		m["alts"] = alts
	}
	return m
}

// FromTree decodes a tree produced by Tree.
func FromTree(tree any) (Shape, error) {
	m, ok := tree.(map[string]any)
	if !ok {
		return Shape{}, fmt.Errorf("%w: %T", ErrInvalidShape, tree)
	}
	name, _ := m["kind"].(string)
	kind := -1
	for i, n := range kindNames {
		if n == name {
			kind = i
			break
		}
	}
	if kind < 0 {
		return Shape{}, fmt.Errorf("%w: kind %q", ErrInvalidShape, name)
	}
	s := Shape{kind: Kind(kind)}
	switch s.kind {
	case KindEq:
		s.value = m["value"]
	case KindOr:
		alts, ok := m["alts"].([]any)
		if !ok {
			return Shape{}, fmt.Errorf("%w: or without alternatives", ErrInvalidShape)
		}
		for _, a := range alts {
			as, err := FromTree(a)
			if err != nil {
				return Shape{}, err
			}
			s.alts = append(s.alts, as)
		}
	}
	return s, nil
}

// Equal compares two values of the vat value model. Integers compare across
// int and int64; Refs compare by vref.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool, string:
		return a == b
	case int:
		return Equal(int64(x), b)
	case int64:
		switch y := b.(type) {
		case int:
			return x == int64(y)
		case int64:
			return x == y
		}
		return false
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(x) {
			return math.IsNaN(y)
		}
		return x == y
	case *localref.Ref:
		y, ok := b.(*localref.Ref)
		if !ok || x == nil || y == nil {
			return ok && x == y
		}
		return x.VRef() == y.VRef()
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
