package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

const blockFormatVersion = 1

// ErrCorruptBlock is returned when a stored block cannot be decoded
var ErrCorruptBlock = errors.New("corrupt block")

// Compressor encodes sample blocks: varint delta-of-delta timestamps,
// XOR-encoded float bits, then zstd over the whole payload
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. Levels go from 1 (fastest) to 4 (best).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeBlock encodes samples sorted by timestamp
func (c *Compressor) EncodeBlock(samples []types.Sample) []byte {
	buf := make([]byte, 0, 2+len(samples)*4)
	buf = append(buf, blockFormatVersion)
	buf = binary.AppendUvarint(buf, uint64(len(samples)))

	var prevTS, prevDelta int64
	for i, s := range samples {
		ts := s.Timestamp.UnixNano()
		switch i {
		case 0:
			buf = binary.AppendVarint(buf, ts)
		default:
			delta := ts - prevTS
			buf = binary.AppendVarint(buf, delta-prevDelta)
			prevDelta = delta
		}
		prevTS = ts
	}

	var prevBits uint64
	for _, s := range samples {
		bits := math.Float64bits(s.Value)
		buf = binary.AppendUvarint(buf, bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecodeBlock decodes a block produced by EncodeBlock
func (c *Compressor) DecodeBlock(data []byte) ([]types.Sample, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %v", ErrCorruptBlock, err)
	}

	r := bytes.NewReader(raw)
	version, err := r.ReadByte()
	if err != nil || version != blockFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version", ErrCorruptBlock)
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: missing sample count", ErrCorruptBlock)
	}
	// every sample takes at least two bytes
	if count > uint64(r.Len())/2 {
		return nil, fmt.Errorf("%w: sample count %d exceeds payload", ErrCorruptBlock, count)
	}

	samples := make([]types.Sample, count)

	var prevTS, prevDelta int64
	for i := range samples {
		v, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated timestamps", ErrCorruptBlock)
		}
		ts := v
		if i > 0 {
			delta := v + prevDelta
			ts = prevTS + delta
			prevDelta = delta
		}
		samples[i].Timestamp = time.Unix(0, ts)
		prevTS = ts
	}

	var prevBits uint64
	for i := range samples {
		xor, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated values", ErrCorruptBlock)
		}
		bits := xor ^ prevBits
		samples[i].Value = math.Float64frombits(bits)
		prevBits = bits
	}

	return samples, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
