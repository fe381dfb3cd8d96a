// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// parseModernEntries decodes the fixed-stride entry table that starts right after the header.
// Texture records are each followed by their own chunk records.
func parseModernEntries(ra io.ReaderAt, size int64, h Header, codec Codec) ([]EntryInfo, error) {
	minRecord := int64(modernGeneralRecordSize)
	if h.Format.Kind == KindTexture {
		minRecord = modernTextureRecordSize
	}

	remaining := size - h.Size
	if int64(h.FileCount)*minRecord > remaining {
		return nil, fmt.Errorf("%w: %d entries do not fit in %d bytes", ErrTruncatedInput, h.FileCount, remaining)
	}

	br := tableReaderPool.Get().(*bufio.Reader) //nolint:forcetypeassert // pool contains only *bufio.Reader
	br.Reset(io.NewSectionReader(ra, h.Size, remaining))
	defer tableReaderPool.Put(br)

	entries := make([]EntryInfo, h.FileCount)
	var err error
	for i := range entries {
		switch h.Format.Kind {
		case KindGeneral:
			entries[i], err = readGeneralRecord(br, i, codec)
		case KindTexture:
			entries[i], err = readTextureRecord(br, i, codec)
		default:
			err = fmt.Errorf("%w: %s", ErrUnsupportedEntryKind, h.Format.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
	}

	return entries, nil
}

// readGeneralRecord decodes one 36-byte GNRL record.
func readGeneralRecord(r io.Reader, index int, codec Codec) (EntryInfo, error) {
	var rec [modernGeneralRecordSize]byte
	if err := readRecord(r, rec[:]); err != nil {
		return EntryInfo{}, err
	}

	if sentinel := binary.LittleEndian.Uint32(rec[32:36]); sentinel != modernRecordSentinel {
		return EntryInfo{}, fmt.Errorf("%w: record sentinel %#08x", ErrInvalidRecord, sentinel)
	}

	packed := binary.LittleEndian.Uint32(rec[24:28])
	size := binary.LittleEndian.Uint32(rec[28:32])
	e := EntryInfo{
		Index:      index,
		Hash:       modernHashKey(rec[:]),
		Extension:  extensionCode(rec[4:8]),
		Offset:     binary.LittleEndian.Uint64(rec[16:24]),
		PackedSize: packed,
		Size:       size,
		Kind:       KindGeneral,
		Compressed: packed != 0,
	}
	if e.Compressed {
		e.Codec = codec
	} else {
		e.PackedSize = size
	}

	return e, nil
}

// readTextureRecord decodes one 24-byte DX10 record and its chunk records.
func readTextureRecord(r io.Reader, index int, codec Codec) (EntryInfo, error) {
	var rec [modernTextureRecordSize]byte
	if err := readRecord(r, rec[:]); err != nil {
		return EntryInfo{}, err
	}

	chunkCount := int(rec[13])
	if chunkHeaderSize := binary.LittleEndian.Uint16(rec[14:16]); chunkCount > 0 && chunkHeaderSize != modernChunkRecordSize {
		return EntryInfo{}, fmt.Errorf("%w: chunk header size %d", ErrInvalidRecord, chunkHeaderSize)
	}

	tex := &TextureInfo{
		Height:   binary.LittleEndian.Uint16(rec[16:18]),
		Width:    binary.LittleEndian.Uint16(rec[18:20]),
		MipCount: rec[20],
		Format:   rec[21],
		Flags:    rec[22],
		TileMode: rec[23],
		Chunks:   make([]TextureChunk, chunkCount),
	}

	e := EntryInfo{
		Index:     index,
		Hash:      modernHashKey(rec[:]),
		Extension: extensionCode(rec[4:8]),
		Kind:      KindTexture,
		Texture:   tex,
	}

	var chunkRec [modernChunkRecordSize]byte
	for i := range tex.Chunks {
		if err := readRecord(r, chunkRec[:]); err != nil {
			return EntryInfo{}, fmt.Errorf("chunk %d of %d: %w", i, chunkCount, err)
		}

		if sentinel := binary.LittleEndian.Uint32(chunkRec[20:24]); sentinel != modernRecordSentinel {
			return EntryInfo{}, fmt.Errorf("%w: chunk %d sentinel %#08x", ErrInvalidRecord, i, sentinel)
		}

		chunk := TextureChunk{
			Offset:     binary.LittleEndian.Uint64(chunkRec[0:8]),
			PackedSize: binary.LittleEndian.Uint32(chunkRec[8:12]),
			Size:       binary.LittleEndian.Uint32(chunkRec[12:16]),
			MipFirst:   binary.LittleEndian.Uint16(chunkRec[16:18]),
			MipLast:    binary.LittleEndian.Uint16(chunkRec[18:20]),
		}
		tex.Chunks[i] = chunk

		if i == 0 {
			e.Offset = chunk.Offset
		}
		e.PackedSize += chunk.storedSize()
		e.Size += chunk.Size
		if chunk.IsCompressed() {
			e.Compressed = true
			e.Codec = codec
		}
	}

	return e, nil
}

// modernHashKey extracts directory and name hashes shared by GNRL and DX10 records.
func modernHashKey(rec []byte) HashKey {
	return HashKey{
		Folder: uint64(binary.LittleEndian.Uint32(rec[8:12])),
		File:   uint64(binary.LittleEndian.Uint32(rec[0:4])),
	}
}

// extensionCode decodes NUL padded 4-byte extension field.
func extensionCode(b []byte) string {
	return decodeLatin1(bytes.TrimRight(b, "\x00"))
}

// parseNameTable decodes one u16 length-prefixed name per entry in index order.
// Name i names entry i; offset zero means the archive carries no names.
func parseNameTable(ra io.ReaderAt, size int64, h Header, entries []EntryInfo) error {
	if h.NameTableOffset == 0 {
		return nil
	}

	if h.NameTableOffset > uint64(size) {
		return fmt.Errorf("%w: name table offset %d, source has %d", ErrTruncatedInput, h.NameTableOffset, size)
	}

	offset := int64(h.NameTableOffset)
	br := tableReaderPool.Get().(*bufio.Reader) //nolint:forcetypeassert // pool contains only *bufio.Reader
	br.Reset(io.NewSectionReader(ra, offset, size-offset))
	defer tableReaderPool.Put(br)

	var prefix [2]byte
	buf := make([]byte, 0, 256)
	for i := range entries {
		if err := readRecord(br, prefix[:]); err != nil {
			return fmt.Errorf("read name %d of %d: %w", i, len(entries), err)
		}

		n := int(binary.LittleEndian.Uint16(prefix[:]))
		if cap(buf) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if err := readRecord(br, buf); err != nil {
			return fmt.Errorf("read name %d of %d: %w", i, len(entries), err)
		}

		entries[i].Path = NormalizePath(decodeLatin1(buf))
	}

	return nil
}
