package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s BlobStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "snap/a", []byte("hello world")))

	w, err := s.Create(ctx, "snap/b")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	names, err := s.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/a", "snap/b"}, names)

	b, err := s.Open(ctx, "snap/a")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(11), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	rc, err := b.ReadRange(ctx, 0, 5)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	rb, err := s.Open(ctx, "snap/b")
	require.NoError(t, err)
	r, err := NewReader(ctx, rb)
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
	require.NoError(t, rb.Close())

	require.NoError(t, s.Delete(ctx, "snap/a"))
	require.NoError(t, s.Delete(ctx, "snap/a"))
	_, err = s.Open(ctx, "snap/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}

func TestMemoryStore_PutCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	data := []byte("abc")
	require.NoError(t, s.Put(ctx, "x", data))
	data[0] = 'z'

	b, err := s.Open(ctx, "x")
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = b.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
}
