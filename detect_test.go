// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	le32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
	join := func(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

	testCases := []struct {
		name    string
		in      []byte
		want    Format
		wantErr error
	}{
		{name: "skyrim", in: join(magicLegacy[:], le32(104)), want: Format{Family: FamilyLegacy, Version: VersionFallout3}},
		{name: "skyrim se", in: join(magicLegacy[:], le32(105), []byte("rest")), want: Format{Family: FamilyLegacy, Version: VersionSkyrimSE}},
		{name: "morrowind", in: join(magicMorrowind[:]), want: Format{Family: FamilyLegacy, Version: VersionMorrowind}},
		{name: "ba2", in: join(magicModern[:], le32(1)), want: Format{Family: FamilyModern, Version: VersionFallout4}},
		{name: "ba2 unknown version still detected", in: join(magicModern[:], le32(99)), want: Format{Family: FamilyModern, Version: 99}},
		{name: "unknown magic", in: []byte("PK\x03\x04\x00\x00\x00\x00"), wantErr: ErrUnrecognizedMagic},
		{name: "empty", in: nil, wantErr: ErrTruncatedInput},
		{name: "three bytes", in: []byte("BSA"), wantErr: ErrTruncatedInput},
		{name: "legacy without version", in: join(magicLegacy[:], []byte{0x68, 0}), wantErr: ErrTruncatedInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := DetectFormat(bytes.NewReader(tc.in), int64(len(tc.in)))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectFormat: %v", err)
			}
			if got != tc.want {
				t.Fatalf("DetectFormat=%+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFormatErrorsShareParent(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrUnrecognizedMagic, ErrUnsupportedVersion, ErrInvalidRecord} {
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("%v does not match ErrFormat", err)
		}
	}

	if errors.Is(ErrTruncatedInput, ErrFormat) {
		t.Fatal("ErrTruncatedInput must stay distinct from format errors")
	}
}

func TestReadHeaderLegacy(t *testing.T) {
	t.Parallel()

	data := legacyArchive{version: VersionFallout3, flags: defaultLegacyFlags | FlagCompressed, files: sampleLegacyFiles()}.build(t)

	h, err := ReadHeaderFromReaderAt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ReadHeaderFromReaderAt: %v", err)
	}

	if h.Format != (Format{Family: FamilyLegacy, Version: VersionFallout3}) {
		t.Fatalf("Format=%+v", h.Format)
	}
	if h.FolderCount != 3 || h.FileCount != 4 {
		t.Fatalf("counts folders=%d files=%d, want 3/4", h.FolderCount, h.FileCount)
	}
	if !h.DefaultCompressed() {
		t.Fatal("DefaultCompressed=false")
	}
	if h.FolderRecordOffset != legacyHeaderSize {
		t.Fatalf("FolderRecordOffset=%d", h.FolderRecordOffset)
	}

	path := writeArchive(t, "test.bsa", data)
	fromFile, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if fromFile != h {
		t.Fatalf("ReadHeader=%+v, want %+v", fromFile, h)
	}
}

func TestReadHeaderModernKinds(t *testing.T) {
	t.Parallel()

	general := modernArchive{version: VersionStarfieldLZ4, files: []testFile{{path: "a/b.txt", data: []byte("x")}}}.build(t)
	h, err := ReadHeaderFromReaderAt(bytes.NewReader(general), int64(len(general)))
	if err != nil {
		t.Fatalf("ReadHeaderFromReaderAt: %v", err)
	}
	if h.Format.Kind != KindGeneral || h.Size != modernHeaderSizeV3 || h.CompressionMethod != modernMethodLZ4 {
		t.Fatalf("header=%+v", h)
	}

	texture := modernArchive{
		version:  VersionStarfield,
		textures: []testTexture{{path: "t/a.dds", chunks: []testFile{{data: []byte("raw")}}}},
	}.build(t)
	h, err = ReadHeaderFromReaderAt(bytes.NewReader(texture), int64(len(texture)))
	if err != nil {
		t.Fatalf("ReadHeaderFromReaderAt: %v", err)
	}
	if h.Format.Kind != KindTexture || h.Size != modernHeaderSizeV2 {
		t.Fatalf("header=%+v", h)
	}

	bad := bytes.Clone(general)
	copy(bad[8:12], "XXXX")
	if _, err := ReadHeaderFromReaderAt(bytes.NewReader(bad), int64(len(bad))); !errors.Is(err, ErrUnsupportedEntryKind) {
		t.Fatalf("unknown kind err=%v", err)
	}

	badMethod := bytes.Clone(general)
	binary.LittleEndian.PutUint32(badMethod[32:36], 7)
	if _, err := ReadHeaderFromReaderAt(bytes.NewReader(badMethod), int64(len(badMethod))); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("unknown method err=%v", err)
	}
}
