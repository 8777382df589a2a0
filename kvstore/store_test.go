package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s Store, kv ...string) {
	t.Helper()
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, s.Set(context.Background(), kv[i], kv[i+1]))
	}
}

func collectKeys(t *testing.T, s Store, prefix string) []string {
	t.Helper()
	var keys []string
	for k, err := range ScanKeys(context.Background(), s, prefix) {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func TestMemoryStore_Basic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	seed(t, s, "b", "2", "a", "1", "c", "3")
	v, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, s.Set(ctx, "b", "22"))
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "b"))
	assert.Equal(t, []Entry{{"a", "1"}, {"c", "3"}}, s.Entries())
}

func TestMemoryStore_GetNextKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "a", "", "ab", "", "b", "")

	k, ok, _ := s.GetNextKey(ctx, "")
	assert.True(t, ok)
	assert.Equal(t, "a", k)

	k, _, _ = s.GetNextKey(ctx, "a")
	assert.Equal(t, "ab", k)

	k, _, _ = s.GetNextKey(ctx, "aa")
	assert.Equal(t, "ab", k)

	_, ok, _ = s.GetNextKey(ctx, "b")
	assert.False(t, ok)
}

func TestScan_Prefix(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		"vc.1.", "exact",
		"vc.1.s1", "x",
		"vc.1.s2", "y",
		"vc.1.|nextOrdinal", "3",
		"vc.10.s1", "other",
		"vc.2.s1", "other",
	)

	assert.Equal(t, []string{"vc.1.", "vc.1.s1", "vc.1.s2", "vc.1.|nextOrdinal"}, collectKeys(t, s, "vc.1."))

	var values []string
	for e, err := range Scan(context.Background(), s, "vc.1.s") {
		require.NoError(t, err)
		values = append(values, e.Value)
	}
	assert.Equal(t, []string{"x", "y"}, values)
}

func TestScanKeysAfter(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "p.a", "", "p.b", "", "p.c", "", "q", "")

	var keys []string
	for k, err := range ScanKeysAfter(context.Background(), s, "p.", "p.a") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"p.b", "p.c"}, keys)
}

func TestScan_DeleteDuringIteration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "x.1", "", "x.2", "", "x.3", "", "y", "")

	for k, err := range ScanKeys(ctx, s, "x.") {
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, k))
	}
	assert.Equal(t, []Entry{{"y", ""}}, s.Entries())
}

func TestScan_EarlyBreak(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "k1", "", "k2", "", "k3", "")

	n := 0
	for range ScanKeys(context.Background(), s, "k") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "a.1", "", "a.2", "", "ab", "", "b", "")

	n, err := DeletePrefix(ctx, s, "a.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ab", "b"}, collectKeys(t, s, ""))

	empty, err := IsEmpty(ctx, s)
	require.NoError(t, err)
	assert.False(t, empty)

	_, err = DeletePrefix(ctx, s, "")
	require.NoError(t, err)
	empty, err = IsEmpty(ctx, s)
	require.NoError(t, err)
	assert.True(t, empty)
}
