package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the compression algorithm used for snapshot blocks.
type CompressionType uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD CompressionType = 2
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var errCorruptBlock = errors.New("corrupt snapshot block")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the block is stored uncompressed.
const blockHeaderSize = 8

func compressBlock(data []byte, ct CompressionType) ([]byte, error) {
	var compressed []byte
	switch ct {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))

	// Incompressible data is stored raw.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		binary.LittleEndian.PutUint32(out[4:], 0)
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	return append(out, compressed...), nil
}

func decompressBlock(payload []byte, uncompressedSize uint32, ct CompressionType) ([]byte, error) {
	result := make([]byte, uncompressedSize)
	switch ct {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errCorruptBlock
		}
		return result, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errCorruptBlock
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with %s", errCorruptBlock, ct)
	}
}

// blockWriter buffers writes and emits framed, compressed blocks.
type blockWriter struct {
	w         io.Writer
	ct        CompressionType
	blockSize int
	buffer    *bytes.Buffer
	written   int64
	onBlock   func(n int) error
}

func newBlockWriter(w io.Writer, ct CompressionType, blockSize int, onBlock func(n int) error) *blockWriter {
	if blockSize <= 0 {
		blockSize = 256 * 1024
	}
	return &blockWriter{
		w:         w,
		ct:        ct,
		blockSize: blockSize,
		buffer:    bytes.NewBuffer(make([]byte, 0, blockSize)),
		onBlock:   onBlock,
	}
}

func (c *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buffer.Len()
		if space <= 0 {
			if err := c.Flush(); err != nil {
				return total, err
			}
			space = c.blockSize
		}
		n, _ := c.buffer.Write(p[:min(len(p), space)])
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the current block.
func (c *blockWriter) Flush() error {
	if c.buffer.Len() == 0 {
		return nil
	}
	block, err := compressBlock(c.buffer.Bytes(), c.ct)
	if err != nil {
		return err
	}
	if c.onBlock != nil {
		if err := c.onBlock(len(block)); err != nil {
			return err
		}
	}
	n, err := c.w.Write(block)
	c.written += int64(n)
	if err != nil {
		return err
	}
	c.buffer.Reset()
	return nil
}

// blockReader decompresses framed blocks from a stream.
type blockReader struct {
	r       io.Reader
	ct      CompressionType
	cur     []byte
	onBlock func(n int) error
}

func newBlockReader(r io.Reader, ct CompressionType, onBlock func(n int) error) *blockReader {
	return &blockReader{r: r, ct: ct, onBlock: onBlock}
}

func (b *blockReader) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if err := b.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

func (b *blockReader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(b.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return errCorruptBlock
		}
		return err
	}
	uncompressedSize := binary.LittleEndian.Uint32(hdr[0:])
	compressedSize := binary.LittleEndian.Uint32(hdr[4:])

	size := compressedSize
	if size == 0 {
		size = uncompressedSize
	}
	if b.onBlock != nil {
		if err := b.onBlock(blockHeaderSize + int(size)); err != nil {
			return err
		}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(b.r, payload); err != nil {
		return errCorruptBlock
	}
	if compressedSize == 0 {
		b.cur = payload
		return nil
	}
	data, err := decompressBlock(payload, uncompressedSize, b.ct)
	if err != nil {
		return err
	}
	b.cur = data
	return nil
}
