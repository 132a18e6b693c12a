// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire frames measurement batches for transmission: the batch
// is CBOR-encoded and then optionally compressed. The frame records
// which compression was applied and the uncompressed size so the
// collector can allocate once and verify the result.
package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/tracehook/lib/codec"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

// Compression selects the algorithm applied to an encoded batch. The
// numeric values are part of the wire format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression accepts the names produced by String. The empty
// string means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("wire: unknown compression %q", name)
	}
}

// maxFrameSize bounds the uncompressed size a decoder will allocate.
const maxFrameSize = 64 << 20

// Frame is one encoded batch.
type Frame struct {
	Compression Compression `json:"compression"`
	Size        int         `json:"size"`
	Count       int         `json:"count"`
	Data        []byte      `json:"data"`
}

// errIncompressible means compression would not shrink the payload;
// the frame is sent uncompressed instead.
var errIncompressible = errors.New("wire: data is incompressible")

// Encode builds a frame from items using the requested compression,
// falling back to none when the batch does not compress.
func Encode(items []measure.Item, compression Compression) (Frame, error) {
	raw, err := codec.Marshal(items)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: encoding batch: %w", err)
	}
	frame := Frame{Compression: compression, Size: len(raw), Count: len(items)}

	switch compression {
	case CompressionNone:
		frame.Data = raw
	case CompressionLZ4:
		frame.Data, err = compressLZ4(raw)
	case CompressionZstd:
		frame.Data, err = compressZstd(raw)
	default:
		return Frame{}, fmt.Errorf("wire: unsupported compression %s", compression)
	}
	if errors.Is(err, errIncompressible) {
		frame.Compression = CompressionNone
		frame.Data = raw
		err = nil
	}
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// Decode reverses Encode.
func Decode(frame Frame) ([]measure.Item, error) {
	if frame.Size < 0 || frame.Size > maxFrameSize {
		return nil, fmt.Errorf("wire: frame size %d out of range", frame.Size)
	}

	var raw []byte
	var err error
	switch frame.Compression {
	case CompressionNone:
		raw = frame.Data
	case CompressionLZ4:
		raw, err = decompressLZ4(frame.Data, frame.Size)
	case CompressionZstd:
		raw, err = decompressZstd(frame.Data, frame.Size)
	default:
		return nil, fmt.Errorf("wire: unsupported compression %s", frame.Compression)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != frame.Size {
		return nil, fmt.Errorf("wire: frame carries %d bytes, header says %d", len(raw), frame.Size)
	}

	var items []measure.Item
	if err := codec.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("wire: decoding batch: %w", err)
	}
	if len(items) != frame.Count {
		return nil, fmt.Errorf("wire: frame holds %d items, header says %d", len(items), frame.Count)
	}
	return items, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4: %w", err)
	}
	return destination[:read], nil
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("wire: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	if err != nil {
		panic("wire: zstd decoder: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(data []byte, size int) ([]byte, error) {
	raw, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("wire: zstd: %w", err)
	}
	return raw, nil
}
