package kvstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/vatstore/blobstore"
	"github.com/hupe1980/vatstore/internal/resource"
)

var snapshotMagic = [7]byte{'V', 'A', 'T', 'S', 'N', 'A', 'P'}

const snapshotVersion = 1

// ErrBadSnapshot is returned when a blob is not a valid snapshot.
var ErrBadSnapshot = errors.New("invalid snapshot")

// SnapshotInfo describes a written or restored snapshot.
type SnapshotInfo struct {
	Name        string
	Entries     int
	RawBytes    int64
	StoredBytes int64
	Compression CompressionType
	Duration    time.Duration
}

type snapshotOptions struct {
	compression CompressionType
	blockSize   int
	rc          *resource.Controller
}

// SnapshotOption configures Export and Import.
type SnapshotOption func(*snapshotOptions)

// WithCompression selects the block compression. Default ZSTD.
func WithCompression(ct CompressionType) SnapshotOption {
	return func(o *snapshotOptions) { o.compression = ct }
}

// WithBlockSize sets the uncompressed block size. Default 256KiB.
func WithBlockSize(n int) SnapshotOption {
	return func(o *snapshotOptions) { o.blockSize = n }
}

// WithRateLimit throttles snapshot IO to bytesPerSec.
func WithRateLimit(bytesPerSec int64) SnapshotOption {
	return func(o *snapshotOptions) {
		o.rc = resource.NewController(resource.Config{IOLimitBytesPerSec: bytesPerSec})
	}
}

func applySnapshotOptions(opts []SnapshotOption) snapshotOptions {
	o := snapshotOptions{compression: CompressionZSTD}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Export writes every entry of src, in key order, to the blob name.
func Export(ctx context.Context, src Store, blobs blobstore.BlobStore, name string, opts ...SnapshotOption) (SnapshotInfo, error) {
	o := applySnapshotOptions(opts)
	start := time.Now()
	info := SnapshotInfo{Name: name, Compression: o.compression}

	w, err := blobs.Create(ctx, name)
	if err != nil {
		return info, fmt.Errorf("create snapshot %q: %w", name, err)
	}

	header := make([]byte, 0, len(snapshotMagic)+2)
	header = append(header, snapshotMagic[:]...)
	header = append(header, snapshotVersion, byte(o.compression))
	if _, err := w.Write(header); err != nil {
		_ = w.Close()
		return info, err
	}

	bw := newBlockWriter(w, o.compression, o.blockSize, func(n int) error {
		return o.rc.AcquireIO(ctx, n)
	})
	var lenBuf [binary.MaxVarintLen64]byte
	writeField := func(s string) error {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return err
		}
		_, err := io.WriteString(bw, s)
		info.RawBytes += int64(len(s))
		return err
	}

	for e, err := range Scan(ctx, src, "") {
		if err == nil {
			err = writeField(e.Key)
		}
		if err == nil {
			err = writeField(e.Value)
		}
		if err != nil {
			_ = w.Close()
			return info, err
		}
		info.Entries++
	}
	if err := bw.Flush(); err != nil {
		_ = w.Close()
		return info, err
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return info, err
	}
	if err := w.Close(); err != nil {
		return info, err
	}

	info.StoredBytes = int64(len(header)) + bw.written
	info.Duration = time.Since(start)
	return info, nil
}

// Import restores the snapshot name into dst, which must be empty.
func Import(ctx context.Context, blobs blobstore.BlobStore, name string, dst Store, opts ...SnapshotOption) (SnapshotInfo, error) {
	o := applySnapshotOptions(opts)
	start := time.Now()
	info := SnapshotInfo{Name: name}

	empty, err := IsEmpty(ctx, dst)
	if err != nil {
		return info, err
	}
	if !empty {
		return info, ErrNotEmpty
	}

	blob, err := blobs.Open(ctx, name)
	if err != nil {
		return info, fmt.Errorf("open snapshot %q: %w", name, err)
	}
	defer blob.Close()
	info.StoredBytes = blob.Size()

	rc, err := blobstore.NewReader(ctx, blob)
	if err != nil {
		return info, err
	}
	defer rc.Close()

	var header [len(snapshotMagic) + 2]byte
	if _, err := io.ReadFull(rc, header[:]); err != nil {
		return info, ErrBadSnapshot
	}
	if [7]byte(header[:7]) != snapshotMagic || header[7] != snapshotVersion {
		return info, ErrBadSnapshot
	}
	info.Compression = CompressionType(header[8])

	br := bufio.NewReader(newBlockReader(rc, info.Compression, func(n int) error {
		return o.rc.AcquireIO(ctx, n)
	}))
	readField := func() (string, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return "", err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", ErrBadSnapshot
		}
		info.RawBytes += int64(len(buf))
		return string(buf), nil
	}

	for {
		key, err := readField()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return info, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		value, err := readField()
		if err != nil {
			return info, fmt.Errorf("%w: truncated entry %q", ErrBadSnapshot, key)
		}
		if err := dst.Set(ctx, key, value); err != nil {
			return info, err
		}
		info.Entries++
	}

	info.Duration = time.Since(start)
	return info, nil
}
