package vatstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vatstore/internal/collection"
	"github.com/hupe1980/vatstore/internal/slots"
	"github.com/hupe1980/vatstore/internal/vom"
	"github.com/hupe1980/vatstore/internal/vrm"
	"github.com/hupe1980/vatstore/shape"
)

var (
	// ErrNotFound is returned for missing collection keys and unknown objects.
	ErrNotFound = errors.New("not found")
	// ErrKeyExists is returned by Init for a key that is already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrDurableRoot is returned by Start when the root object is durable.
	ErrDurableRoot = errors.New("root object must not be durable")
	// ErrInvalidRoot is returned by Start for roots that are not remotables.
	ErrInvalidRoot = errors.New("root object must be a remotable")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("vat already started")
	// ErrVatFailed is returned by every operation after a fatal error.
	ErrVatFailed = errors.New("vat failed")
	// ErrProtocolViolation marks a vref from the kernel that does not
	// revalidate against what this vat exported.
	ErrProtocolViolation = errors.New("kernel protocol violation")
	// ErrCodecMismatch is returned by Open when the store was written with
	// a different codec.
	ErrCodecMismatch = errors.New("codec mismatch")
	// ErrNotDurable is returned when a durable structure is given a value
	// that does not survive a restart.
	ErrNotDurable = errors.New("value is not durable")
	// ErrShapeMismatch is wrapped by every ShapeError.
	ErrShapeMismatch = collection.ErrShapeMismatch
	// ErrNotIterable is returned when iterating a weak collection.
	ErrNotIterable = errors.New("weak collections are not iterable")
	// ErrInvalidKey is returned for values that cannot key a collection.
	ErrInvalidKey = errors.New("invalid collection key")
	// ErrUnknownField is returned for fields the kind does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrSchemaMismatch is returned when a durable kind is redefined with
	// different fields or facets.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// ShapeError reports a key or value rejected by a collection's shape.
// It is recoverable; the collection is left unchanged.
type ShapeError struct {
	Label    string
	Position string
	Value    any
	Shape    shape.Shape
	cause    error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s %v does not match %s", e.Label, e.Position, e.Value, e.Shape)
}

func (e *ShapeError) Unwrap() error { return e.cause }

// FatalError is an error that failed the vat. Every later operation
// returns ErrVatFailed wrapping it.
type FatalError struct {
	Op    string
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in %s: %v", e.Op, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

func fatal(op string, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Op: op, Cause: err}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var se *collection.ShapeError
	if errors.As(err, &se) {
		return &ShapeError{Label: se.Label, Position: se.Position, Value: se.Value, Shape: se.Shape, cause: err}
	}

	switch {
	case errors.Is(err, collection.ErrKeyNotFound),
		errors.Is(err, collection.ErrUnknownCollection),
		errors.Is(err, vom.ErrUnknownObject):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, collection.ErrKeyExists):
		return fmt.Errorf("%w: %w", ErrKeyExists, err)
	case errors.Is(err, collection.ErrNotIterable):
		return fmt.Errorf("%w: %w", ErrNotIterable, err)
	case errors.Is(err, collection.ErrInvalidKey):
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	case errors.Is(err, vrm.ErrNotDurable):
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	case errors.Is(err, vom.ErrUnknownField):
		return fmt.Errorf("%w: %w", ErrUnknownField, err)
	case errors.Is(err, vom.ErrSchemaMismatch):
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	case errors.Is(err, slots.ErrUnknownExport):
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return err
}
