package collection

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vatstore/shape"
)

var (
	// ErrKeyNotFound is returned when a key is absent.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Init when the key is already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrShapeMismatch is returned when a key or value violates the schema.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotIterable is returned when iterating a weak collection.
	ErrNotIterable = errors.New("weak collections are not iterable")
	// ErrInvalidKey is returned for values that cannot be collection keys.
	ErrInvalidKey = errors.New("invalid collection key")
	// ErrUnknownCollection is returned for collection IDs without metadata.
	ErrUnknownCollection = errors.New("unknown collection")
)

// ShapeError describes a schema violation.
type ShapeError struct {
	Label    string
	Position string // "key" or "value"
	Value    any
	Shape    shape.Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s %v does not match %v", e.Label, e.Position, e.Value, e.Shape)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }
