package kvstore

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
	// ErrNotEmpty is returned when restoring a snapshot into a non-empty store.
	ErrNotEmpty = errors.New("store not empty")
)

// Store is an ordered string key-value store.
// Implementations are not required to be safe for concurrent use; a vat
// touches its store from a single goroutine.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// GetNextKey returns the smallest key strictly greater than prior.
	GetNextKey(ctx context.Context, prior string) (string, bool, error)
}

// Entry is a single key-value pair.
type Entry struct {
	Key   string
	Value string
}

// Has reports whether key exists.
func Has(ctx context.Context, s Store, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// ScanKeys yields every key with the given prefix in ascending order.
// The current key may be deleted during iteration.
func ScanKeys(ctx context.Context, s Store, prefix string) iter.Seq2[string, error] {
	return scanKeysFrom(ctx, s, prefix, prefix, true)
}

// ScanKeysAfter yields keys with the given prefix strictly greater than after.
func ScanKeysAfter(ctx context.Context, s Store, prefix, after string) iter.Seq2[string, error] {
	if after < prefix {
		return ScanKeys(ctx, s, prefix)
	}
	return scanKeysFrom(ctx, s, prefix, after, false)
}

func scanKeysFrom(ctx context.Context, s Store, prefix, start string, inclusive bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if inclusive {
			// GetNextKey is exclusive; the prefix itself may be a key.
			ok, err := Has(ctx, s, start)
			if err != nil {
				yield("", err)
				return
			}
			if ok && !yield(start, nil) {
				return
			}
		}
		prior := start
		for {
			key, ok, err := s.GetNextKey(ctx, prior)
			if err != nil {
				yield("", err)
				return
			}
			if !ok || !strings.HasPrefix(key, prefix) {
				return
			}
			if !yield(key, nil) {
				return
			}
			prior = key
		}
	}
}

// Scan yields every entry with the given prefix in ascending key order.
func Scan(ctx context.Context, s Store, prefix string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for key, err := range ScanKeys(ctx, s, prefix) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			value, ok, err := s.Get(ctx, key)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(Entry{Key: key, Value: value}, nil) {
				return
			}
		}
	}
}

// DeletePrefix removes every key with the given prefix and returns how many
// keys were removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	n := 0
	for key, err := range ScanKeys(ctx, s, prefix) {
		if err != nil {
			return n, err
		}
		if err := s.Delete(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// IsEmpty reports whether the store holds no keys.
func IsEmpty(ctx context.Context, s Store) (bool, error) {
	if ok, err := Has(ctx, s, ""); err != nil || ok {
		return false, err
	}
	_, ok, err := s.GetNextKey(ctx, "")
	if err != nil {
		return false, err
	}
	return !ok, nil
}
