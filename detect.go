// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"io"
)

// detectPrefixSize is the number of leading bytes inspected by DetectFormat.
const detectPrefixSize = 8

// Archive magic words.
var (
	magicLegacy    = [4]byte{'B', 'S', 'A', 0}
	magicMorrowind = [4]byte{0x00, 0x01, 0x00, 0x00}
	magicModern    = [4]byte{'B', 'T', 'D', 'X'}
)

// DetectFormat classifies source by its leading magic and version word.
// It does not validate anything beyond the prefix.
func DetectFormat(ra io.ReaderAt, size int64) (Format, error) {
	if ra == nil {
		return Format{}, ErrNilReader
	}
	if size < 4 {
		return Format{}, fmt.Errorf("%w: %d bytes, magic needs 4", ErrTruncatedInput, size)
	}

	var prefix [detectPrefixSize]byte
	n := min(size, int64(len(prefix)))
	if err := readAt(ra, size, 0, prefix[:n]); err != nil {
		return Format{}, err
	}

	var magic [4]byte
	copy(magic[:], prefix[:4])

	switch magic {
	case magicMorrowind:
		return Format{Family: FamilyLegacy, Version: VersionMorrowind}, nil
	case magicLegacy, magicModern:
		if n < detectPrefixSize {
			return Format{}, fmt.Errorf("%w: %d bytes, version needs %d", ErrTruncatedInput, size, detectPrefixSize)
		}

		family := FamilyLegacy
		if magic == magicModern {
			family = FamilyModern
		}

		return Format{Family: family, Version: Version(binary.LittleEndian.Uint32(prefix[4:8]))}, nil
	default:
		return Format{}, fmt.Errorf("%w: % x", ErrUnrecognizedMagic, magic[:])
	}
}
