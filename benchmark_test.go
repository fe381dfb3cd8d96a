// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"io"
	"testing"
)

const (
	benchDefaultEntries    = 128
	benchLargeIndexEntries = 20000
)

var (
	// benchLookupSink prevents compiler elimination in lookup benchmark loops.
	benchLookupSink int
)

// benchLegacyFiles builds n entries spread over 16 folders.
// Compressed entries carry 4 KiB payloads, raw ones 64 bytes.
func benchLegacyFiles(n int, compress bool) []testFile {
	size := 64
	if compress {
		size = 4096
	}

	files := make([]testFile, n)
	for i := range files {
		files[i] = testFile{
			path:     fmt.Sprintf(`meshes\set%02d\item_%05d.nif`, i%16, i),
			data:     compressibleData(size),
			compress: compress,
		}
	}

	return files
}

func BenchmarkOpenParse(b *testing.B) {
	path := writeArchive(b, "bench.bsa", legacyArchive{
		version: VersionSkyrimSE,
		flags:   defaultLegacyFlags,
		files:   benchLegacyFiles(benchDefaultEntries, true),
	}.build(b))

	b.ReportAllocs()
	for b.Loop() {
		r, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		_ = r.Entries()
		_ = r.Close()
	}
}

func BenchmarkOpenParseLargeIndex(b *testing.B) {
	path := writeArchive(b, "large.bsa", legacyArchive{
		version: VersionFallout3,
		flags:   defaultLegacyFlags,
		files:   benchLegacyFiles(benchLargeIndexEntries, false),
	}.build(b))

	b.ReportAllocs()
	for b.Loop() {
		r, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		if r.Len() == 0 {
			b.Fatal("empty entries")
		}
		_ = r.Close()
	}
}

func BenchmarkStatHashLargeIndex(b *testing.B) {
	files := benchLegacyFiles(benchLargeIndexEntries, false)
	r := openBytes(b, legacyArchive{version: VersionFallout3, files: files}.build(b), ReaderOptions{})

	keys := make([]HashKey, len(files))
	for i, f := range files {
		keys[i] = PathHash(f.path)
	}

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		e, err := r.StatHash(keys[i%len(keys)])
		if err != nil {
			b.Fatal(err)
		}
		benchLookupSink += e.Index
		i++
	}
}

func BenchmarkReadEntry(b *testing.B) {
	testCases := []struct {
		name string
		data []byte
		path string
	}{
		{
			name: "legacy zlib",
			data: legacyArchive{version: VersionFallout3, flags: defaultLegacyFlags, files: benchLegacyFiles(8, true)}.build(b),
			path: `meshes\set03\item_00003.nif`,
		},
		{
			name: "legacy lz4 frame",
			data: legacyArchive{version: VersionSkyrimSE, flags: defaultLegacyFlags, files: benchLegacyFiles(8, true)}.build(b),
			path: `meshes\set03\item_00003.nif`,
		},
		{
			name: "ba2 lz4 block",
			data: modernArchive{version: VersionStarfield, files: benchLegacyFiles(8, true)}.build(b),
			path: `meshes\set03\item_00003.nif`,
		},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			r := openBytes(b, tc.data, ReaderOptions{})

			b.SetBytes(4096)
			b.ReportAllocs()
			for b.Loop() {
				if _, err := r.ExtractTo(b.Context(), tc.path, io.Discard); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkExtract(b *testing.B) {
	r := openBytes(b, legacyArchive{
		version: VersionSkyrimSE,
		flags:   defaultLegacyFlags,
		files:   benchLegacyFiles(benchDefaultEntries, true),
	}.build(b), ReaderOptions{})

	b.ReportAllocs()
	for b.Loop() {
		if err := r.Extract(b.Context(), b.TempDir(), ExtractOptions{MaxWorkers: 4}); err != nil {
			b.Fatal(err)
		}
	}
}
