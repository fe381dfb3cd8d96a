// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// tableReaderBufferSize is a sequential read buffer for record table parsing.
const tableReaderBufferSize = 64 * 1024

var (
	// tableReaderPool reuses buffered readers for sequential table parsing.
	tableReaderPool = sync.Pool{
		New: func() any {
			return bufio.NewReaderSize(bytes.NewReader(nil), tableReaderBufferSize)
		},
	}
)

// legacyFolder is one folder record; its files are entries[first:first+count].
type legacyFolder struct {
	name   string
	hash   uint64
	offset uint64
	first  int
	count  int
}

// legacyIndex is a two-level hash index over flat folder and entry arrays.
// Both levels are kept in stable hash order so that binary search returns
// the first-declared record among equal hashes.
type legacyIndex struct {
	folders []legacyFolder
	// folderOrder holds folder indices sorted by hash.
	folderOrder []int
	// fileOrder holds entry indices; the range of one folder is sorted by file hash.
	fileOrder []int
}

// lookup resolves hash pair to entry index with binary search on both levels.
func (ix *legacyIndex) lookup(entries []EntryInfo, key HashKey) (int, bool) {
	if ix == nil {
		return -1, false
	}

	order := ix.folderOrder
	i := sort.Search(len(order), func(i int) bool {
		return ix.folders[order[i]].hash >= key.Folder
	})

	for ; i < len(order) && ix.folders[order[i]].hash == key.Folder; i++ {
		folder := ix.folders[order[i]]
		files := ix.fileOrder[folder.first : folder.first+folder.count]
		j := sort.Search(len(files), func(j int) bool {
			return entries[files[j]].Hash.File >= key.File
		})
		if j < len(files) && entries[files[j]].Hash.File == key.File {
			return files[j], true
		}
	}

	return -1, false
}

// buildOrder fills folderOrder and fileOrder, logging when stored tables are not hash sorted.
func (ix *legacyIndex) buildOrder(entries []EntryInfo, logger *slog.Logger) {
	ix.folderOrder = make([]int, len(ix.folders))
	for i := range ix.folderOrder {
		ix.folderOrder[i] = i
	}

	sorted := slices.IsSortedFunc(ix.folderOrder, func(a, b int) int {
		return cmpUint64(ix.folders[a].hash, ix.folders[b].hash)
	})
	if !sorted {
		logger.Debug("folder table is not hash sorted, reordering index", slog.Int("folders", len(ix.folders)))
		slices.SortStableFunc(ix.folderOrder, func(a, b int) int {
			return cmpUint64(ix.folders[a].hash, ix.folders[b].hash)
		})
	}

	ix.fileOrder = make([]int, len(entries))
	for i := range ix.fileOrder {
		ix.fileOrder[i] = i
	}

	for _, folder := range ix.folders {
		files := ix.fileOrder[folder.first : folder.first+folder.count]
		byHash := func(a, b int) int {
			return cmpUint64(entries[a].Hash.File, entries[b].Hash.File)
		}
		if slices.IsSortedFunc(files, byHash) {
			continue
		}

		logger.Debug("file table is not hash sorted, reordering index", slog.String("folder", folder.name))
		slices.SortStableFunc(files, byHash)
	}
}

// cmpUint64 compares two unsigned values.
func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// parseLegacyIndex decodes folder records, file record blocks and the optional file name block.
func parseLegacyIndex(ra io.ReaderAt, size int64, h Header, logger *slog.Logger) ([]EntryInfo, *legacyIndex, error) {
	folderRecordSize := int64(legacyFolderRecordSize)
	if h.Format.Version == VersionSkyrimSE {
		folderRecordSize = legacyFolderRecordSizeSSE
	}

	tableOffset := int64(h.FolderRecordOffset)
	if tableOffset < h.Size {
		return nil, nil, fmt.Errorf("%w: folder table offset %d inside %d byte header", ErrInvalidRecord, tableOffset, h.Size)
	}
	if tableOffset > size {
		return nil, nil, fmt.Errorf("%w: folder table offset %d", ErrTruncatedInput, tableOffset)
	}

	// Reject counts the source cannot possibly hold before allocating for them.
	remaining := size - tableOffset
	if int64(h.FolderCount)*folderRecordSize > remaining || int64(h.FileCount)*legacyFileRecordSize > remaining {
		return nil, nil, fmt.Errorf("%w: %d folders and %d files do not fit in %d bytes",
			ErrTruncatedInput, h.FolderCount, h.FileCount, remaining)
	}

	br := tableReaderPool.Get().(*bufio.Reader) //nolint:forcetypeassert // pool contains only *bufio.Reader
	br.Reset(io.NewSectionReader(ra, tableOffset, remaining))
	defer tableReaderPool.Put(br)

	ix := &legacyIndex{folders: make([]legacyFolder, h.FolderCount)}
	var declaredFiles uint64
	rec := make([]byte, folderRecordSize)
	for i := range ix.folders {
		if err := readRecord(br, rec); err != nil {
			return nil, nil, fmt.Errorf("read folder record %d: %w", i, err)
		}

		folder := &ix.folders[i]
		folder.hash = binary.LittleEndian.Uint64(rec[0:8])
		folder.count = int(binary.LittleEndian.Uint32(rec[8:12]))
		if folderRecordSize == legacyFolderRecordSizeSSE {
			folder.offset = binary.LittleEndian.Uint64(rec[16:24])
		} else {
			folder.offset = uint64(binary.LittleEndian.Uint32(rec[12:16]))
		}

		declaredFiles += uint64(folder.count)
	}

	if declaredFiles != uint64(h.FileCount) {
		return nil, nil, fmt.Errorf("%w: folders declare %d files, header declares %d",
			ErrCountMismatch, declaredFiles, h.FileCount)
	}

	entries := make([]EntryInfo, 0, h.FileCount)
	fileRec := make([]byte, legacyFileRecordSize)
	for i := range ix.folders {
		folder := &ix.folders[i]
		if h.ArchiveFlags.Has(FlagIncludeDirNames) {
			name, err := readBZString(br)
			if err != nil {
				return nil, nil, fmt.Errorf("read folder name %d: %w", i, err)
			}

			folder.name = NormalizePath(name)
		}

		folder.first = len(entries)
		for j := 0; j < folder.count; j++ {
			if err := readRecord(br, fileRec); err != nil {
				return nil, nil, fmt.Errorf("read file record %d of folder %d: %w", j, i, err)
			}

			entries = append(entries, legacyEntry(h, folder.hash, len(entries), fileRec))
		}
	}

	if h.ArchiveFlags.Has(FlagIncludeFileNames) {
		if int64(h.TotalFileNameLength) > remaining {
			return nil, nil, fmt.Errorf("%w: file name block of %d bytes", ErrTruncatedInput, h.TotalFileNameLength)
		}

		names, err := readNameBlock(br, h.TotalFileNameLength)
		if err != nil {
			return nil, nil, fmt.Errorf("read file name block: %w", err)
		}

		if len(names) != len(entries) {
			return nil, nil, fmt.Errorf("%w: %d file names for %d files", ErrCountMismatch, len(names), len(entries))
		}

		for _, folder := range ix.folders {
			for j := folder.first; j < folder.first+folder.count; j++ {
				entries[j].Path = joinArchivePath(folder.name, names[j])
				entries[j].BareName = !h.ArchiveFlags.Has(FlagIncludeDirNames)
			}
		}
	}

	ix.buildOrder(entries, logger)
	return entries, ix, nil
}

// legacyEntry decodes one 16-byte file record.
func legacyEntry(h Header, folderHash uint64, index int, rec []byte) EntryInfo {
	rawSize := binary.LittleEndian.Uint32(rec[8:12])
	compressed := h.DefaultCompressed() != (rawSize&legacyCompressToggle != 0)

	e := EntryInfo{
		Index:      index,
		Hash:       HashKey{Folder: folderHash, File: binary.LittleEndian.Uint64(rec[0:8])},
		Offset:     uint64(binary.LittleEndian.Uint32(rec[12:16])),
		PackedSize: rawSize & legacySizeMask,
		Kind:       KindGeneral,
		Compressed: compressed,
		Codec:      legacyCodec(h.Format.Version, compressed),
		// Oblivion reuses the embed bit for another purpose.
		EmbeddedName: h.ArchiveFlags.Has(FlagEmbedFileNames) && h.Format.Version != VersionOblivion,
	}
	if !e.Compressed && !e.EmbeddedName {
		e.Size = e.PackedSize
	}

	return e
}

// readRecord reads one fixed-size record, mapping short reads to ErrTruncatedInput.
func readRecord(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %w", ErrTruncatedInput, err)
		}

		return err
	}

	return nil
}

// readBZString reads a byte-length prefixed, NUL-terminated string.
func readBZString(r io.Reader) (string, error) {
	var n [1]byte
	if err := readRecord(r, n[:]); err != nil {
		return "", err
	}

	buf := make([]byte, n[0])
	if err := readRecord(r, buf); err != nil {
		return "", err
	}

	return decodeLatin1(bytes.TrimRight(buf, "\x00")), nil
}

// readNameBlock reads a block of NUL-terminated names of declared total length.
func readNameBlock(r io.Reader, length uint32) ([]string, error) {
	buf := make([]byte, length)
	if err := readRecord(r, buf); err != nil {
		return nil, err
	}

	return splitNames(buf), nil
}

// splitNames splits NUL-terminated names; a missing final terminator still yields the name.
func splitNames(buf []byte) []string {
	var names []string
	for len(buf) > 0 {
		idx := bytes.IndexByte(buf, 0)
		if idx < 0 {
			names = append(names, decodeLatin1(buf))
			break
		}

		names = append(names, decodeLatin1(buf[:idx]))
		buf = buf[idx+1:]
	}

	return names
}
