// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

/*
Package bsa provides read-only access to Bethesda game archives: legacy BSA
(Morrowind, Oblivion, Fallout 3/New Vegas, Skyrim LE/SE) and modern BA2
(Fallout 4, Fallout 76, Starfield). The family and version are detected from
the first bytes of the source, so callers never pick a parser by hand.

Opening an archive reads and validates the whole index. Payloads are read
lazily through io.ReaderAt, so a Reader may serve many entries concurrently
without loading the archive into memory.

# Reading

	r, err := bsa.Open("Skyrim - Meshes.bsa")
	if err != nil {
	    return err
	}
	defer r.Close()

	for e := range r.All() {
	    fmt.Println(e.DisplayName(), e.PackedSize)
	}

	data, err := r.ReadEntry(`meshes\clutter\bucket01.nif`)

Paths are case-insensitive and accept both "/" and "\" separators.
NormalizePath shows the canonical form used by lookups.

Archives stored without names (legacy archives lacking the name flags, BA2
archives without a name table) still list every entry. Lookups by path then
fall back to structural hashes, and StatHash resolves a HashKey directly.

For metadata-only scans, use fast helpers:

	h, err := bsa.ReadHeader("Fallout4 - Textures1.ba2")
	entries, err := bsa.ListEntries("Fallout4 - Textures1.ba2")

# Textures

BA2 texture entries store mip chunks that are compressed independently.
OpenEntry presents them as one stream in declared order; OpenTextureChunk
returns a single chunk. DDS headers are not synthesized.

# Codecs

Legacy compressed payloads carry a 4-byte decompressed size followed by a zlib
stream (Oblivion, Fallout 3, Skyrim LE) or an LZ4 frame (Skyrim SE). BA2
payloads use raw LZ4 blocks by default; set ReaderOptions.ModernCodec to
CodecZlib for Fallout 4 archives packed with zlib. BA2 version 3 archives
declare their method in the header and ignore this option.

# Extracting

	err := r.Extract(ctx, "out", bsa.ExtractOptions{
	    Prefix:     "textures/armor",
	    Extensions: []string{"dds"},
	    MaxWorkers: 4,
	})

Extraction sanitizes names for the local filesystem unless RawNames is set,
and always rejects absolute or traversing paths.

# Errors

All structural failures wrap sentinel errors (ErrTruncatedInput,
ErrUnrecognizedMagic, ErrUnsupportedVersion, ErrCountMismatch and others)
that callers test with errors.Is. ErrUnrecognizedMagic, ErrUnsupportedVersion
and ErrInvalidRecord additionally match ErrFormat.
*/
package bsa
