// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestDecodeStreamZlibHelloWorld(t *testing.T) {
	t.Parallel()

	// Legacy payload layout: u32 declared size + zlib stream.
	var payload bytes.Buffer
	_ = binary.Write(&payload, binary.LittleEndian, uint32(11))
	payload.Write(zlibBytes(t, []byte("hello world")))

	raw := payload.Bytes()
	declared := int64(binary.LittleEndian.Uint32(raw[:legacySizePrefix]))
	if declared != 11 {
		t.Fatalf("declared=%d, want 11", declared)
	}

	stream, err := newDecodeStream(CodecZlib, bytes.NewReader(raw[legacySizePrefix:]), declared)
	if err != nil {
		t.Fatalf("newDecodeStream: %v", err)
	}
	defer func() { _ = stream.Close() }()

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestDecodeStreamSizeMismatch(t *testing.T) {
	t.Parallel()

	body := zlibBytes(t, []byte("hello world"))
	for _, declared := range []int64{5, 12} {
		stream, err := newDecodeStream(CodecZlib, bytes.NewReader(body), declared)
		if err != nil {
			t.Fatalf("newDecodeStream: %v", err)
		}

		_, err = io.ReadAll(stream)
		if !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("declared %d: err=%v, want ErrSizeMismatch", declared, err)
		}
	}
}

func TestDecodeStreamCorruptZlib(t *testing.T) {
	t.Parallel()

	_, err := newDecodeStream(CodecZlib, bytes.NewReader([]byte{0x00, 0x00, 0x00}), 3)
	if !errors.Is(err, ErrCorruptCompressedData) {
		t.Fatalf("err=%v, want ErrCorruptCompressedData", err)
	}

	body := zlibBytes(t, compressibleData(4096))
	body = body[:len(body)/2]
	_, err = decodeBlock(CodecZlib, body, 4096)
	if err == nil {
		t.Fatal("truncated zlib stream decoded without error")
	}
	if !errors.Is(err, ErrCorruptCompressedData) && !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err=%v, want codec error", err)
	}
}

func TestDecodeBlockLZ4(t *testing.T) {
	t.Parallel()

	want := compressibleData(3000)
	packed := lz4BlockBytes(t, want)

	got, err := decodeBlock(CodecLZ4Block, packed, len(want))
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("lz4 block round trip mismatch")
	}

	if _, err := decodeBlock(CodecLZ4Block, packed, len(want)+10); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("larger declared size err=%v, want ErrSizeMismatch", err)
	}

	if _, err := decodeBlock(CodecLZ4Block, packed, len(want)/2); !errors.Is(err, ErrCorruptCompressedData) {
		t.Fatalf("smaller declared size err=%v, want ErrCorruptCompressedData", err)
	}
}

func TestDecodeBlockRejectsImpossibleDeclaredSize(t *testing.T) {
	t.Parallel()

	packed := make([]byte, 16)
	testCases := []struct {
		name  string
		codec Codec
		size  int
	}{
		{name: "lz4 block", codec: CodecLZ4Block, size: 0x7fffffff},
		{name: "lz4 block just over limit", codec: CodecLZ4Block, size: 16*lz4MaxExpansion + expansionSlack + 1},
		{name: "lz4 frame", codec: CodecLZ4Frame, size: 0x7fffffff},
		{name: "zlib", codec: CodecZlib, size: 16*deflateMaxExpansion + expansionSlack + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := decodeBlock(tc.codec, packed, tc.size)
			if !errors.Is(err, ErrSizeMismatch) {
				t.Fatalf("err=%v, want ErrSizeMismatch", err)
			}
		})
	}
}

func TestReadEntryRejectsInflatedDeclaredSize(t *testing.T) {
	t.Parallel()

	data := modernArchive{files: []testFile{{path: `a.bin`, data: compressibleData(512), compress: true}}}.build(t)

	// Unpacked size of the first general record.
	binary.LittleEndian.PutUint32(data[modernHeaderSizeV1+28:], 0x7fffffff)
	r := openBytes(t, data, ReaderOptions{})

	if _, err := r.ReadEntry(`a\b.bin`); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err=%v, want ErrSizeMismatch", err)
	}
}

func TestDecodeBlockLZ4Frame(t *testing.T) {
	t.Parallel()

	want := compressibleData(2048)
	got, err := decodeBlock(CodecLZ4Frame, lz4FrameBytes(t, want), len(want))
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("lz4 frame round trip mismatch")
	}
}

func TestDecodeBlockNoneChecksLength(t *testing.T) {
	t.Parallel()

	if _, err := decodeBlock(CodecNone, []byte("abc"), 4); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err=%v, want ErrSizeMismatch", err)
	}
}

func TestCheckBounds(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		offset  uint64
		length  uint64
		size    int64
		wantErr bool
	}{
		{name: "inside", offset: 10, length: 10, size: 20},
		{name: "empty at end", offset: 20, length: 0, size: 20},
		{name: "past end", offset: 15, length: 10, size: 20, wantErr: true},
		{name: "offset past end", offset: 21, length: 0, size: 20, wantErr: true},
		{name: "overflow", offset: ^uint64(0), length: 2, size: 20, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := checkBounds(tc.offset, tc.length, tc.size)
			if tc.wantErr != (err != nil) {
				t.Fatalf("checkBounds err=%v, wantErr=%v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutOfBounds) {
				t.Fatalf("err=%v, want ErrOutOfBounds", err)
			}
		})
	}
}

func TestCodecRouting(t *testing.T) {
	t.Parallel()

	if got := legacyCodec(VersionFallout3, true); got != CodecZlib {
		t.Fatalf("v104 compressed codec=%s", got)
	}
	if got := legacyCodec(VersionSkyrimSE, true); got != CodecLZ4Frame {
		t.Fatalf("v105 compressed codec=%s", got)
	}
	if got := legacyCodec(VersionSkyrimSE, false); got != CodecNone {
		t.Fatalf("v105 raw codec=%s", got)
	}

	h := Header{Format: Format{Family: FamilyModern, Version: VersionStarfieldLZ4}, CompressionMethod: modernMethodZlib}
	if got, _ := modernCodec(h, CodecLZ4Block); got != CodecZlib {
		t.Fatalf("v3 method must win over preference, got %s", got)
	}

	h = Header{Format: Format{Family: FamilyModern, Version: VersionFallout4}}
	if got, _ := modernCodec(h, CodecZlib); got != CodecZlib {
		t.Fatalf("v1 preference ignored, got %s", got)
	}
	if _, err := modernCodec(h, CodecLZ4Frame); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("frame codec for ba2 err=%v", err)
	}
}
