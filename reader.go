// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync"
)

// Reader provides read-only access to a parsed archive.
// After construction the index is immutable, so entries may be opened and
// extracted concurrently; payload reads use io.ReaderAt with explicit offsets.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// logger receives diagnostics.
	logger *slog.Logger
	// byPath maps normalized declared path to entry index (first declaration wins).
	byPath map[string]int
	// legacy is the hash index of legacy archives; nil for BA2.
	legacy *legacyIndex
	// entries stores parsed entry metadata in declaration order.
	entries []EntryInfo
	// mismatches holds hash verification results when requested on open.
	mismatches []HashMismatch
	// header is decoded archive header.
	header Header
	// size is total source size in bytes.
	size int64
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// Open opens archive file by path and builds its index.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens archive file by path and builds its index using explicit reader options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFromReaderAtWithOptions(f, size, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromReaderAt parses archive from existing ReaderAt and known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderFromReaderAtWithOptions(ra, size, ReaderOptions{})
}

// NewReaderFromReaderAtWithOptions parses archive from existing ReaderAt and known size using explicit reader options.
// The source is borrowed: it must stay readable for the lifetime of the Reader.
func NewReaderFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	opts.applyDefaults()

	if ra == nil {
		return nil, ErrNilReader
	}

	r := &Reader{ra: ra, size: size, logger: opts.Logger}
	if err := r.parse(opts); err != nil {
		return nil, err
	}

	return r, nil
}

// parse runs detect, header and index stages. Any structural error aborts the whole open.
func (r *Reader) parse(opts ReaderOptions) error {
	format, err := DetectFormat(r.ra, r.size)
	if err != nil {
		return err
	}

	r.header, err = parseHeader(r.ra, r.size, format)
	if err != nil {
		return err
	}

	switch {
	case format.Family == FamilyLegacy && format.Version == VersionMorrowind:
		r.entries, r.legacy, err = parseMorrowindIndex(r.ra, r.size, r.header, r.logger)
	case format.Family == FamilyLegacy:
		r.entries, r.legacy, err = parseLegacyIndex(r.ra, r.size, r.header, r.logger)
	default:
		var codec Codec
		codec, err = modernCodec(r.header, opts.ModernCodec)
		if err != nil {
			return err
		}

		r.entries, err = parseModernEntries(r.ra, r.size, r.header, codec)
		if err == nil {
			err = parseNameTable(r.ra, r.size, r.header, r.entries)
		}
	}
	if err != nil {
		return err
	}

	r.byPath = make(map[string]int, len(r.entries))
	if r.fileNamesOnly() {
		// Bare file names are not unique paths; lookups resolve through hashes.
		r.logger.Debug("archive stores file names without folder names")
	} else {
		for i := range r.entries {
			p := r.entries[i].Path
			if p == "" {
				continue
			}
			if _, exists := r.byPath[p]; !exists {
				r.byPath[p] = i
			}
		}
	}

	r.logger.Debug("archive indexed",
		slog.String("format", r.header.Format.String()),
		slog.Int("entries", len(r.entries)),
		slog.Bool("names", len(r.byPath) > 0),
	)

	if opts.VerifyHashes {
		r.mismatches = r.VerifyHashes()
		for _, m := range r.mismatches {
			r.logger.Warn("structural hash mismatch",
				slog.String("name", m.Name),
				slog.Bool("folder", m.Folder),
				slog.String("declared", fmt.Sprintf("%016x", m.Declared)),
				slog.String("computed", fmt.Sprintf("%016x", m.Computed)),
			)
		}
	}

	return nil
}

// Format returns detected archive family, version and kind.
func (r *Reader) Format() Format {
	return r.header.Format
}

// Header returns decoded archive header.
func (r *Reader) Header() Header {
	return r.header
}

// Len returns number of entries.
func (r *Reader) Len() int {
	if r == nil {
		return 0
	}

	return len(r.entries)
}

// HasNames reports whether entries can be resolved by full declared path.
// Archives with file names but no folder names report false; their entries
// carry bare file names and are found through hashes.
func (r *Reader) HasNames() bool {
	return r != nil && len(r.byPath) > 0
}

// Entries returns a copy of parsed entries in declaration order.
func (r *Reader) Entries() []EntryInfo {
	if r == nil {
		return nil
	}

	entries := make([]EntryInfo, len(r.entries))
	for i := range r.entries {
		entries[i] = r.entries[i].clone()
	}

	return entries
}

// All returns a restartable iterator over entries in declaration order.
// It reflects the built index and never touches the source.
func (r *Reader) All() iter.Seq[EntryInfo] {
	return func(yield func(EntryInfo) bool) {
		if r == nil {
			return
		}

		for i := range r.entries {
			if !yield(r.entries[i].clone()) {
				return
			}
		}
	}
}

// Entry returns entry metadata by declaration index.
func (r *Reader) Entry(index int) (EntryInfo, error) {
	if r == nil {
		return EntryInfo{}, ErrNilReader
	}
	if index < 0 || index >= len(r.entries) {
		return EntryInfo{}, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}

	return r.entries[index].clone(), nil
}

// Stat returns entry metadata by path.
// For legacy archives without name blocks the path is hashed and resolved through the hash index.
func (r *Reader) Stat(name string) (EntryInfo, error) {
	if r == nil {
		return EntryInfo{}, ErrNilReader
	}

	idx, ok := r.findEntryByName(name)
	if !ok {
		return EntryInfo{}, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	return r.entries[idx].clone(), nil
}

// StatHash returns entry metadata by structural hash pair.
// Among colliding records the first declared one is returned.
// Morrowind archives ignore key.Folder.
func (r *Reader) StatHash(key HashKey) (EntryInfo, error) {
	if r == nil {
		return EntryInfo{}, ErrNilReader
	}

	idx, ok := r.findEntryByHash(key)
	if !ok {
		return EntryInfo{}, fmt.Errorf("%w: hash %s", ErrEntryNotFound, key)
	}

	return r.entries[idx].clone(), nil
}

// findEntryByName resolves entry index by declared name, falling back to hashes for nameless archives.
func (r *Reader) findEntryByName(name string) (int, bool) {
	key := NormalizePath(name)
	if key == "" {
		return -1, false
	}

	if idx, ok := r.byPath[key]; ok {
		return idx, true
	}

	if len(r.byPath) > 0 || r.legacy == nil {
		return -1, false
	}

	idx, ok := r.findEntryByHash(r.hashKeyFor(key))
	if !ok {
		return -1, false
	}

	// A declared bare name must agree with the requested one.
	if declared := r.entries[idx].Path; declared != "" && r.fileNamesOnly() {
		if _, file := splitPath(key); declared != file {
			return -1, false
		}
	}

	return idx, true
}

// fileNamesOnly reports a TES4+ archive that declares file names but no folder names.
func (r *Reader) fileNamesOnly() bool {
	if r.legacy == nil || r.header.Format.Version == VersionMorrowind {
		return false
	}

	flags := r.header.ArchiveFlags
	return flags.Has(FlagIncludeFileNames) && !flags.Has(FlagIncludeDirNames)
}

// findEntryByHash resolves entry index by hash pair.
func (r *Reader) findEntryByHash(key HashKey) (int, bool) {
	if r.legacy != nil {
		if r.header.Format.Version == VersionMorrowind {
			key.Folder = 0
		}

		return r.legacy.lookup(r.entries, key)
	}

	// BA2 hashes carry no positional index; first declared match wins.
	for i := range r.entries {
		if r.entries[i].Hash == key {
			return i, true
		}
	}

	return -1, false
}

// hashKeyFor computes the structural key of a normalized path for this archive family.
func (r *Reader) hashKeyFor(p string) HashKey {
	if r.header.Format.Version == VersionMorrowind {
		return HashKey{File: MorrowindHash(p)}
	}

	return PathHash(p)
}

// HashMismatches returns mismatches collected on open when ReaderOptions.VerifyHashes was set.
func (r *Reader) HashMismatches() []HashMismatch {
	if r == nil {
		return nil
	}

	return append([]HashMismatch(nil), r.mismatches...)
}

// VerifyHashes recomputes structural hashes of declared names and reports differences.
// Mismatches never invalidate the Reader. BA2 archives have no verifiable correspondence
// and always return nil.
func (r *Reader) VerifyHashes() []HashMismatch {
	if r == nil || r.legacy == nil {
		return nil
	}

	var out []HashMismatch
	if r.header.Format.Version == VersionMorrowind {
		for _, e := range r.entries {
			if e.Path == "" {
				continue
			}
			if got := MorrowindHash(e.Path); got != e.Hash.File {
				out = append(out, HashMismatch{Name: e.Path, Declared: e.Hash.File, Computed: got})
			}
		}

		return out
	}

	for _, folder := range r.legacy.folders {
		if r.header.ArchiveFlags.Has(FlagIncludeDirNames) {
			if got := FolderHash(folder.name); got != folder.hash {
				out = append(out, HashMismatch{Name: folder.name, Declared: folder.hash, Computed: got, Folder: true})
			}
		}

		for _, e := range r.entries[folder.first : folder.first+folder.count] {
			if e.Path == "" {
				continue
			}
			if got := FileHash(e.Path); got != e.Hash.File {
				out = append(out, HashMismatch{Name: e.Path, Declared: e.Hash.File, Computed: got})
			}
		}
	}

	return out
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// checkOpen returns ErrNilReader or ErrClosed when reader cannot serve payload reads.
func (r *Reader) checkOpen() error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return nil
}
