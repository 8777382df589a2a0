package redisstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hupe1980/vatstore/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStore_Integration requires a running Redis on localhost:6379.
func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	s := Dial("localhost:6379", "", 0, WithPrefix("vatstore-test-"+uuid.NewString()))
	defer s.Close()
	if err := s.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer func() { _ = s.Drop(ctx) }()

	_, ok, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []string{"vc.1.s2", "vc.1.|entryCount", "vc.1.s1", "vc.2.s1", ""} {
		require.NoError(t, s.Set(ctx, k, "v:"+k))
	}

	v, ok, err := s.Get(ctx, "vc.1.s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v:vc.1.s1", v)

	var keys []string
	for k, err := range kvstore.ScanKeys(ctx, s, "vc.1.") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"vc.1.s1", "vc.1.s2", "vc.1.|entryCount"}, keys)

	require.NoError(t, s.Delete(ctx, "vc.1.s1"))
	next, ok, err := s.GetNextKey(ctx, "vc.1.")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vc.1.s2", next)

	first, ok, err := s.GetNextKey(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vc.1.s2", first)
}
