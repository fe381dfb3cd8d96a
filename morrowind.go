// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// parseMorrowindIndex decodes TES3 layout:
//
//	header        12 bytes
//	file records  8 * n   (size, offset relative to data start)
//	name offsets  4 * n   (relative to name block)
//	name block    hashTableOffset - 12*n
//	hash table    8 * n
//	payload data
//
// The index is a single unnamed folder so lookups share the legacy two-level search.
func parseMorrowindIndex(ra io.ReaderAt, size int64, h Header, logger *slog.Logger) ([]EntryInfo, *legacyIndex, error) {
	n := int64(h.FileCount)
	hashOffset := int64(h.HashTableOffset)
	if hashOffset < 12*n {
		return nil, nil, fmt.Errorf("%w: hash table offset %d below %d records", ErrInvalidRecord, hashOffset, n)
	}

	dataStart := morrowindHeaderSize + hashOffset + 8*n
	if dataStart > size {
		return nil, nil, fmt.Errorf("%w: index needs %d bytes, source has %d", ErrTruncatedInput, dataStart, size)
	}

	meta := make([]byte, dataStart-morrowindHeaderSize)
	if err := readAt(ra, size, morrowindHeaderSize, meta); err != nil {
		return nil, nil, fmt.Errorf("read morrowind index: %w", err)
	}

	records := meta[:8*n]
	nameOffsets := meta[8*n : 12*n]
	nameBlock := meta[12*n:hashOffset]
	hashes := meta[hashOffset:]

	entries := make([]EntryInfo, n)
	for i := range entries {
		rec := records[i*morrowindFileRecordSize:]
		packed := binary.LittleEndian.Uint32(rec[0:4])
		rel := binary.LittleEndian.Uint32(rec[4:8])

		nameOff := int(binary.LittleEndian.Uint32(nameOffsets[i*4:]))
		if nameOff >= len(nameBlock) {
			return nil, nil, fmt.Errorf("%w: name offset %d of file %d outside name block", ErrInvalidRecord, nameOff, i)
		}

		name := nameBlock[nameOff:]
		if end := bytes.IndexByte(name, 0); end >= 0 {
			name = name[:end]
		}

		entries[i] = EntryInfo{
			Index:      i,
			Path:       NormalizePath(decodeLatin1(name)),
			Hash:       HashKey{File: binary.LittleEndian.Uint64(hashes[i*8:])},
			Offset:     uint64(dataStart) + uint64(rel),
			PackedSize: packed,
			Size:       packed,
			Kind:       KindGeneral,
			Codec:      CodecNone,
		}
	}

	ix := &legacyIndex{folders: []legacyFolder{{count: len(entries)}}}
	ix.buildOrder(entries, logger)
	return entries, ix, nil
}
