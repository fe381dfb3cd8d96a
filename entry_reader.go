// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// copyBufferSize bounds one sink write during ExtractTo.
const copyBufferSize = 64 * 1024

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// OpenEntry opens named entry for reading.
// Returned stream yields decompressed content; texture entries are presented
// as one continuous stream of their chunks in declared order.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	idx, ok := r.findEntryByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	return r.openEntryByInfo(&r.entries[idx])
}

// OpenEntryInfo opens entry stream by already resolved metadata, for example
// an item of Entries on an archive without names.
func (r *Reader) OpenEntryInfo(info EntryInfo) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	return r.openEntryByInfo(&info)
}

// ReadEntry reads full (decompressed) content of the named entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// ExtractTo decompresses named entry into w in bounded writes and returns bytes written.
// Cancellation stops further processing; w keeps whatever was already written.
func (r *Reader) ExtractTo(ctx context.Context, name string, w io.Writer) (int64, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	written, err := copyWithContext(ctx, w, rc, make([]byte, copyBufferSize))
	if err != nil {
		return written, fmt.Errorf("extract %s: %w", name, err)
	}

	return written, nil
}

// OpenTextureChunk opens one decompressed mip chunk of a texture entry.
func (r *Reader) OpenTextureChunk(info EntryInfo, chunk int) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	if info.Kind != KindTexture || info.Texture == nil {
		return nil, fmt.Errorf("%w: %s is not a texture", ErrUnsupportedEntryKind, info.DisplayName())
	}
	if chunk < 0 || chunk >= len(info.Texture.Chunks) {
		return nil, fmt.Errorf("%w: chunk %d of %s", ErrEntryNotFound, chunk, info.DisplayName())
	}

	rd, err := r.openChunk(info.Texture.Chunks[chunk], info.Codec)
	if err != nil {
		return nil, err
	}

	return nopCloser{Reader: rd}, nil
}

// openEntryByInfo routes one entry to its payload decoder.
func (r *Reader) openEntryByInfo(info *EntryInfo) (io.ReadCloser, error) {
	switch info.Kind {
	case KindTexture:
		if info.Texture == nil {
			return nil, fmt.Errorf("%w: texture %s has no chunk table", ErrUnsupportedEntryKind, info.DisplayName())
		}

		// Validate all chunks up front so a bad table fails before any output.
		for _, c := range info.Texture.Chunks {
			if err := checkBounds(c.Offset, uint64(c.storedSize()), r.size); err != nil {
				return nil, fmt.Errorf("texture %s: %w", info.DisplayName(), err)
			}
		}

		return &chunkReader{r: r, chunks: info.Texture.Chunks, codec: info.Codec}, nil
	case KindGeneral:
		return r.openGeneral(info)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntryKind, info.Kind)
	}
}

// openGeneral opens a single-payload entry of either family.
func (r *Reader) openGeneral(info *EntryInfo) (io.ReadCloser, error) {
	if err := checkBounds(info.Offset, uint64(info.PackedSize), r.size); err != nil {
		return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
	}

	offset := int64(info.Offset) //nolint:gosec // bounded by checkBounds
	length := int64(info.PackedSize)
	if info.EmbeddedName {
		skip, err := r.embeddedNameLength(offset, length)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
		}

		offset += skip
		length -= skip
	}

	if !info.Compressed {
		return nopCloser{Reader: io.NewSectionReader(r.ra, offset, length)}, nil
	}

	if r.header.Format.Family == FamilyLegacy {
		return r.openLegacyCompressed(info, offset, length)
	}

	return r.openModernCompressed(info, offset, length)
}

// embeddedNameLength returns size of the length-prefixed name heading a legacy payload.
func (r *Reader) embeddedNameLength(offset, length int64) (int64, error) {
	if length < 1 {
		return 0, fmt.Errorf("%w: payload too short for embedded name", ErrOutOfBounds)
	}

	var n [1]byte
	if err := readAt(r.ra, r.size, offset, n[:]); err != nil {
		return 0, err
	}

	skip := 1 + int64(n[0])
	if skip > length {
		return 0, fmt.Errorf("%w: embedded name of %d bytes exceeds payload %d", ErrOutOfBounds, n[0], length)
	}

	return skip, nil
}

// openLegacyCompressed reads the 4-byte declared size and streams the decoder output.
func (r *Reader) openLegacyCompressed(info *EntryInfo, offset, length int64) (io.ReadCloser, error) {
	if length < legacySizePrefix {
		return nil, fmt.Errorf("%w: entry %s payload too short for size prefix", ErrCorruptCompressedData, info.DisplayName())
	}

	var prefix [legacySizePrefix]byte
	if err := readAt(r.ra, r.size, offset, prefix[:]); err != nil {
		return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
	}

	declared := int64(binary.LittleEndian.Uint32(prefix[:]))
	body := io.NewSectionReader(r.ra, offset+legacySizePrefix, length-legacySizePrefix)
	stream, err := newDecodeStream(info.Codec, body, declared)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
	}

	return stream, nil
}

// openModernCompressed decodes a BA2 general payload into a buffer of the declared size.
func (r *Reader) openModernCompressed(info *EntryInfo, offset, length int64) (io.ReadCloser, error) {
	if info.Codec == CodecZlib {
		stream, err := newDecodeStream(CodecZlib, io.NewSectionReader(r.ra, offset, length), int64(info.Size))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
		}

		return stream, nil
	}

	data, err := r.readDecoded(uint64(offset), uint32(length), info.Size, info.Codec) //nolint:gosec // length comes from uint32 field
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", info.DisplayName(), err)
	}

	return nopCloser{Reader: bytes.NewReader(data)}, nil
}

// openChunk returns a reader over one decompressed texture chunk.
func (r *Reader) openChunk(c TextureChunk, codec Codec) (io.Reader, error) {
	if err := checkBounds(c.Offset, uint64(c.storedSize()), r.size); err != nil {
		return nil, err
	}

	if !c.IsCompressed() {
		return io.NewSectionReader(r.ra, int64(c.Offset), int64(c.Size)), nil //nolint:gosec // bounded by checkBounds
	}

	data, err := r.readDecoded(c.Offset, c.PackedSize, c.Size, codec)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(data), nil
}

// readDecoded reads packed bytes at offset and decodes them into exactly size bytes.
func (r *Reader) readDecoded(offset uint64, packed uint32, size uint32, codec Codec) ([]byte, error) {
	if err := checkBounds(offset, uint64(packed), r.size); err != nil {
		return nil, err
	}
	if uint64(size) > uint64(math.MaxInt) {
		return nil, fmt.Errorf("%w: declared size %d", ErrSizeMismatch, size)
	}

	src := make([]byte, packed)
	if err := readAt(r.ra, r.size, int64(offset), src); err != nil { //nolint:gosec // bounded by checkBounds
		return nil, err
	}

	return decodeBlock(codec, src, int(size))
}

// chunkReader presents texture chunks as one continuous stream,
// decoding only the chunk currently being read.
type chunkReader struct {
	r      *Reader
	cur    io.Reader
	chunks []TextureChunk
	next   int
	codec  Codec
}

// Read implements io.Reader.
func (cr *chunkReader) Read(p []byte) (int, error) {
	for {
		if cr.cur == nil {
			if cr.next >= len(cr.chunks) {
				return 0, io.EOF
			}

			cur, err := cr.r.openChunk(cr.chunks[cr.next], cr.codec)
			if err != nil {
				return 0, fmt.Errorf("chunk %d: %w", cr.next, err)
			}

			cr.cur = cur
			cr.next++
		}

		n, err := cr.cur.Read(p)
		if errors.Is(err, io.EOF) {
			cr.cur = nil
			if n > 0 {
				return n, nil
			}

			continue
		}

		return n, err
	}
}

// Close releases the current chunk.
func (cr *chunkReader) Close() error {
	cr.cur = nil
	cr.next = len(cr.chunks)
	return nil
}

// copyWithContext copies src to dst with a fixed buffer, checking ctx between writes.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, io.ErrShortBuffer
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, writeErr
			}

			if writeN != readN {
				return total, io.ErrShortWrite
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			return total, nil
		}

		return total, readErr
	}
}
