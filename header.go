// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Modern archive kind tags.
var (
	kindTagGeneral = [4]byte{'G', 'N', 'R', 'L'}
	kindTagTexture = [4]byte{'D', 'X', '1', '0'}
)

// BA2 v3 compression method values.
const (
	modernMethodZlib = 0
	modernMethodLZ4  = 3
)

// parseHeader decodes fixed header for already detected format.
// Declared offsets are not bounds-checked here; table parsers do it before reading.
func parseHeader(ra io.ReaderAt, size int64, format Format) (Header, error) {
	switch format.Family {
	case FamilyLegacy:
		if format.Version == VersionMorrowind {
			return parseMorrowindHeader(ra, size)
		}

		return parseLegacyHeader(ra, size, format)
	case FamilyModern:
		return parseModernHeader(ra, size, format)
	default:
		return Header{}, ErrUnrecognizedMagic
	}
}

// parseLegacyHeader decodes 36-byte TES4+ header.
func parseLegacyHeader(ra io.ReaderAt, size int64, format Format) (Header, error) {
	switch format.Version {
	case VersionOblivion, VersionFallout3, VersionSkyrimSE:
	default:
		return Header{}, fmt.Errorf("%w: bsa version %d", ErrUnsupportedVersion, format.Version)
	}

	var buf [legacyHeaderSize]byte
	if err := readAt(ra, size, 0, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read bsa header: %w", err)
	}

	if [4]byte(buf[0:4]) != magicLegacy {
		return Header{}, fmt.Errorf("%w: bsa header magic", ErrUnrecognizedMagic)
	}

	h := Header{
		Format:                format,
		FolderRecordOffset:    binary.LittleEndian.Uint32(buf[8:12]),
		ArchiveFlags:          ArchiveFlags(binary.LittleEndian.Uint32(buf[12:16])),
		FolderCount:           binary.LittleEndian.Uint32(buf[16:20]),
		FileCount:             binary.LittleEndian.Uint32(buf[20:24]),
		TotalFolderNameLength: binary.LittleEndian.Uint32(buf[24:28]),
		TotalFileNameLength:   binary.LittleEndian.Uint32(buf[28:32]),
		FileFlags:             FileFlags(binary.LittleEndian.Uint16(buf[32:34])),
		Size:                  legacyHeaderSize,
	}
	if Version(binary.LittleEndian.Uint32(buf[4:8])) != format.Version {
		return Header{}, fmt.Errorf("%w: header version changed after detection", ErrUnsupportedVersion)
	}

	// Xbox 360 archives store numbers after the header big-endian.
	if h.ArchiveFlags.Has(FlagXbox360) {
		return Header{}, fmt.Errorf("%w: xbox 360 bsa", ErrUnsupportedVersion)
	}

	return h, nil
}

// parseMorrowindHeader decodes 12-byte TES3 header.
func parseMorrowindHeader(ra io.ReaderAt, size int64) (Header, error) {
	var buf [morrowindHeaderSize]byte
	if err := readAt(ra, size, 0, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read morrowind header: %w", err)
	}

	return Header{
		Format:          Format{Family: FamilyLegacy, Version: VersionMorrowind},
		HashTableOffset: binary.LittleEndian.Uint32(buf[4:8]),
		FileCount:       binary.LittleEndian.Uint32(buf[8:12]),
		Size:            morrowindHeaderSize,
	}, nil
}

// parseModernHeader decodes BTDX header of version-dependent size.
func parseModernHeader(ra io.ReaderAt, size int64, format Format) (Header, error) {
	var headerSize int
	switch format.Version {
	case VersionFallout4, VersionFallout4NG, VersionFallout4NG2:
		headerSize = modernHeaderSizeV1
	case VersionStarfield:
		headerSize = modernHeaderSizeV2
	case VersionStarfieldLZ4:
		headerSize = modernHeaderSizeV3
	default:
		return Header{}, fmt.Errorf("%w: ba2 version %d", ErrUnsupportedVersion, format.Version)
	}

	buf := make([]byte, headerSize)
	if err := readAt(ra, size, 0, buf); err != nil {
		return Header{}, fmt.Errorf("read ba2 header: %w", err)
	}

	if [4]byte(buf[0:4]) != magicModern {
		return Header{}, fmt.Errorf("%w: ba2 header magic", ErrUnrecognizedMagic)
	}

	switch [4]byte(buf[8:12]) {
	case kindTagGeneral:
		format.Kind = KindGeneral
	case kindTagTexture:
		format.Kind = KindTexture
	default:
		return Header{}, fmt.Errorf("%w: ba2 kind %q", ErrUnsupportedEntryKind, buf[8:12])
	}

	h := Header{
		Format:          format,
		FileCount:       binary.LittleEndian.Uint32(buf[12:16]),
		NameTableOffset: binary.LittleEndian.Uint64(buf[16:24]),
		Size:            int64(headerSize),
	}
	if format.Version == VersionStarfieldLZ4 {
		h.CompressionMethod = binary.LittleEndian.Uint32(buf[32:36])
		if h.CompressionMethod != modernMethodZlib && h.CompressionMethod != modernMethodLZ4 {
			return Header{}, fmt.Errorf("%w: ba2 compression method %d", ErrUnsupportedVersion, h.CompressionMethod)
		}
	}

	return h, nil
}

// ReadHeaderFromReaderAt detects format and decodes archive header only.
func ReadHeaderFromReaderAt(ra io.ReaderAt, size int64) (Header, error) {
	format, err := DetectFormat(ra, size)
	if err != nil {
		return Header{}, err
	}

	return parseHeader(ra, size, format)
}

// readAt reads exactly len(buf) bytes at off, failing with ErrTruncatedInput
// when the source is too short.
func readAt(ra io.ReaderAt, size int64, off int64, buf []byte) error {
	end := off + int64(len(buf))
	if off < 0 || end < off || end > size {
		return fmt.Errorf("%w: need %d bytes at offset %d, source has %d", ErrTruncatedInput, len(buf), off, size)
	}

	n, err := ra.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at offset %d", ErrTruncatedInput, off)
	}

	return fmt.Errorf("read at offset %d: %w", off, err)
}
