// Package raw implements a length-prefixed codec for internal traffic,
// with optional payload compression selected by a flags byte in the
// frame header. No other package in this module imports it.
//
// Frame layout: 4-byte big-endian length (covers flags + payload), a
// 1-byte flags field, then the (possibly compressed) payload.
package raw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zhuyie/golzf"

	"shardgate/internal/codec"
)

// Algorithm selects the compression scheme carried in a frame's flags byte.
type Algorithm byte

const (
	AlgoNone Algorithm = iota
	AlgoZstd
	AlgoLZ4
	AlgoLZF
)

const (
	flagCompressedMask = 0x03
	headerLen          = 5 // 4-byte length + 1-byte flags
)

// Codec is a length-prefixed framer with pluggable payload compression.
// A single Codec instance is safe for concurrent Encode calls but, like
// every codec in this package tree, Decode is driven by one channel's
// single-threaded reactor loop only.
type Codec struct {
	algo Algorithm

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// New returns a raw codec that compresses outbound payloads with algo.
// Inbound frames are decompressed according to the algorithm recorded
// in their own flags byte, regardless of algo.
func New(algo Algorithm) (*Codec, error) {
	c := &Codec{algo: algo}
	if algo == AlgoZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("raw: init zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("raw: init zstd decoder: %w", err)
		}
		c.zstdEncoder = enc
		c.zstdDecoder = dec
	}
	return c, nil
}

func (c *Codec) Name() string { return "raw" }

// Decode extracts complete length-prefixed frames from buf.
func (c *Codec) Decode(buf []byte) ([]codec.Reply, int, codec.Status, error) {
	var replies []codec.Reply
	offset := 0
	for {
		if len(buf)-offset < headerLen {
			return replies, offset, codec.PartOK, nil
		}
		length := binary.BigEndian.Uint32(buf[offset : offset+4])
		frameTotal := 4 + int(length)
		if len(buf)-offset < frameTotal {
			return replies, offset, codec.PartOK, nil
		}
		flags := buf[offset+4]
		payload := buf[offset+headerLen : offset+frameTotal]

		decoded, err := c.decompress(Algorithm(flags&flagCompressedMask), payload)
		if err != nil {
			return replies, offset, codec.FrameErr, fmt.Errorf("%w: %v", codec.ErrFatal, err)
		}
		replies = append(replies, codec.Reply{Kind: codec.KindBulk, Str: string(decoded)})
		offset += frameTotal
		if offset >= len(buf) {
			return replies, offset, codec.FrameOK, nil
		}
	}
}

// Encode frames msg's sole payload argument (Args[0]) using the codec's
// configured compression algorithm.
func (c *Codec) Encode(msg codec.Message) ([]byte, error) {
	if len(msg.Args) != 1 {
		return nil, fmt.Errorf("raw: expected exactly one payload argument, got %d", len(msg.Args))
	}
	payload, err := c.compress([]byte(msg.Args[0]))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(payload)+1))
	buf.Write(lenField[:])
	buf.WriteByte(byte(c.algo) & flagCompressedMask)
	buf.Write(payload)
	return buf.Bytes(), nil
}

func (c *Codec) compress(payload []byte) ([]byte, error) {
	switch c.algo {
	case AlgoNone:
		return payload, nil
	case AlgoZstd:
		return c.zstdEncoder.EncodeAll(payload, nil), nil
	case AlgoLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("raw: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("raw: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	case AlgoLZF:
		dst := make([]byte, len(payload)*2+16)
		n, err := lzf.Compress(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("raw: lzf compress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("raw: unknown compression algorithm %d", c.algo)
	}
}

func (c *Codec) decompress(algo Algorithm, payload []byte) ([]byte, error) {
	switch algo {
	case AlgoNone:
		return payload, nil
	case AlgoZstd:
		return c.zstdDecoder.DecodeAll(payload, nil)
	case AlgoLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		var out bytes.Buffer
		if _, err := io.Copy(&out, r); err != nil {
			return nil, fmt.Errorf("raw: lz4 decompress: %w", err)
		}
		return out.Bytes(), nil
	case AlgoLZF:
		dst := make([]byte, len(payload)*8+64)
		n, err := lzf.Decompress(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("raw: lzf decompress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("raw: unknown compression algorithm %d", algo)
	}
}
