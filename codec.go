// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// legacySizePrefix is the length of declared uncompressed size ahead of legacy compressed payloads.
const legacySizePrefix = 4

const (
	// lz4MaxExpansion is the largest decoded/packed ratio of LZ4 blocks and frames.
	lz4MaxExpansion = 255
	// deflateMaxExpansion is the largest decoded/packed ratio of a DEFLATE stream.
	deflateMaxExpansion = 1032
	// expansionSlack covers fixed headers and tiny payloads.
	expansionSlack = 64
)

// legacyCodec routes legacy payloads by archive version once the compressed
// bit (record toggle XOR archive default) is resolved.
func legacyCodec(version Version, compressed bool) Codec {
	if !compressed {
		return CodecNone
	}

	switch version {
	case VersionOblivion, VersionFallout3:
		return CodecZlib
	case VersionSkyrimSE:
		return CodecLZ4Frame
	default:
		return CodecNone
	}
}

// modernCodec resolves codec for compressed BA2 payloads.
// A v3 method field wins over the caller preference.
func modernCodec(h Header, preferred Codec) (Codec, error) {
	if h.Format.Version == VersionStarfieldLZ4 {
		if h.CompressionMethod == modernMethodLZ4 {
			return CodecLZ4Block, nil
		}

		return CodecZlib, nil
	}

	switch preferred {
	case CodecLZ4Block, CodecZlib:
		return preferred, nil
	default:
		return CodecNone, fmt.Errorf("%w: codec %s for ba2 payloads", ErrUnsupportedVersion, preferred)
	}
}

// checkBounds reports ErrOutOfBounds unless [offset, offset+length) lies within source.
func checkBounds(offset uint64, length uint64, size int64) error {
	end := offset + length
	if end < offset || size < 0 || end > uint64(size) {
		return fmt.Errorf("%w: range %d+%d exceeds source size %d", ErrOutOfBounds, offset, length, size)
	}

	return nil
}

// maxDecodedSize returns the largest output packed bytes of codec can expand to.
func maxDecodedSize(codec Codec, packed int) int64 {
	switch codec {
	case CodecZlib:
		return int64(packed)*deflateMaxExpansion + expansionSlack
	case CodecLZ4Block, CodecLZ4Frame:
		return int64(packed)*lz4MaxExpansion + expansionSlack
	default:
		return int64(packed)
	}
}

// decodeBlock decompresses one whole payload whose decompressed size is known up front.
// Declared sizes the packed bytes cannot expand to are rejected before allocation.
func decodeBlock(codec Codec, src []byte, size int) ([]byte, error) {
	if limit := maxDecodedSize(codec, len(src)); int64(size) > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, %d packed bytes of %s yield at most %d",
			ErrSizeMismatch, size, len(src), codec, limit)
	}

	switch codec {
	case CodecNone:
		if len(src) != size {
			return nil, fmt.Errorf("%w: stored %d bytes, declared %d", ErrSizeMismatch, len(src), size)
		}

		return src, nil
	case CodecLZ4Block:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 block: %w", ErrCorruptCompressedData, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: lz4 block produced %d bytes, declared %d", ErrSizeMismatch, n, size)
		}

		return dst, nil
	case CodecZlib, CodecLZ4Frame:
		stream, err := newDecodeStream(codec, bytes.NewReader(src), int64(size))
		if err != nil {
			return nil, err
		}
		defer func() { _ = stream.Close() }()

		dst := make([]byte, size)
		if _, err := io.ReadFull(stream, dst); err != nil {
			return nil, err
		}

		// Drain to surface trailing data or checksum errors.
		if _, err := stream.Read(make([]byte, 1)); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		return dst, nil
	default:
		return nil, fmt.Errorf("%w: codec %s", ErrUnsupportedEntryKind, codec)
	}
}

// newDecodeStream wraps src with a streaming decoder that yields exactly size bytes.
func newDecodeStream(codec Codec, src io.Reader, size int64) (io.ReadCloser, error) {
	switch codec {
	case CodecZlib:
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: zlib header: %w", ErrCorruptCompressedData, err)
		}

		return &exactReader{r: zr, closer: zr, remaining: size, declared: size}, nil
	case CodecLZ4Frame:
		return &exactReader{r: lz4.NewReader(src), remaining: size, declared: size}, nil
	case CodecNone:
		return &exactReader{r: src, remaining: size, declared: size}, nil
	default:
		return nil, fmt.Errorf("%w: codec %s is not streamable", ErrUnsupportedEntryKind, codec)
	}
}

// exactReader enforces that a decoder produces exactly the declared number of bytes.
// Shortfall and overrun are reported as ErrSizeMismatch; decoder failures as ErrCorruptCompressedData.
type exactReader struct {
	r         io.Reader
	closer    io.Closer
	remaining int64
	declared  int64
	done      bool
}

// Read implements io.Reader.
func (er *exactReader) Read(p []byte) (int, error) {
	if er.done {
		return 0, io.EOF
	}

	if er.remaining == 0 {
		var one [1]byte
		n, err := er.r.Read(one[:])
		switch {
		case n > 0:
			return 0, fmt.Errorf("%w: stream longer than declared %d bytes", ErrSizeMismatch, er.declared)
		case err == nil:
			// Decoders may return (0, nil); ask again on next call.
			return 0, nil
		case errors.Is(err, io.EOF):
			er.done = true
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("%w: %w", ErrCorruptCompressedData, err)
		}
	}

	if int64(len(p)) > er.remaining {
		p = p[:er.remaining]
	}

	n, err := er.r.Read(p)
	er.remaining -= int64(n)
	if err == nil {
		return n, nil
	}

	if errors.Is(err, io.EOF) {
		if er.remaining > 0 {
			return n, fmt.Errorf("%w: stream ended %d bytes short of declared %d",
				ErrSizeMismatch, er.remaining, er.declared)
		}

		return n, nil
	}

	return n, fmt.Errorf("%w: %w", ErrCorruptCompressedData, err)
}

// Close releases decoder resources.
func (er *exactReader) Close() error {
	if er.closer != nil {
		return er.closer.Close()
	}

	return nil
}
