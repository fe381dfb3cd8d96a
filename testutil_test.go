package bsa

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// testFile is one payload placed into a synthetic archive.
type testFile struct {
	path     string
	data     []byte
	compress bool
	// fileHash overrides computed file hash when non-zero.
	fileHash uint64
}

// legacyArchive describes a synthetic TES4+ archive.
type legacyArchive struct {
	files   []testFile
	version Version
	flags   ArchiveFlags
	// keepOrder writes folders and files in given order instead of hash order.
	keepOrder bool
}

// modernArchive describes a synthetic BA2 archive.
type modernArchive struct {
	files    []testFile
	textures []testTexture
	version  Version
	codec    Codec
	noNames  bool
}

// testTexture is a DX10 entry with independently stored chunks.
type testTexture struct {
	path   string
	chunks []testFile
}

// compressibleData returns deterministic text that every codec shrinks.
func compressibleData(n int) []byte {
	const line = "the quick brown fox jumps over the lazy dog; "
	return []byte(strings.Repeat(line, n/len(line)+1)[:n])
}

func zlibBytes(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	return buf.Bytes()
}

func lz4FrameBytes(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("lz4 frame write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 frame close: %v", err)
	}

	return buf.Bytes()
}

func lz4BlockBytes(t testing.TB, data []byte) []byte {
	t.Helper()

	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		t.Fatalf("lz4 block: %v", err)
	}
	if n == 0 {
		t.Fatalf("lz4 block: %d bytes are incompressible", len(data))
	}

	return dst[:n]
}

func encodeWith(t testing.TB, codec Codec, data []byte) []byte {
	t.Helper()

	switch codec {
	case CodecZlib:
		return zlibBytes(t, data)
	case CodecLZ4Frame:
		return lz4FrameBytes(t, data)
	case CodecLZ4Block:
		return lz4BlockBytes(t, data)
	default:
		return data
	}
}

type legacyTestFolder struct {
	name  string
	hash  uint64
	files []testFile
}

// build encodes archive as: header, folder records, per-folder name + file records, file name block, data.
func (a legacyArchive) build(t testing.TB) []byte {
	t.Helper()

	var folders []*legacyTestFolder
	byName := map[string]*legacyTestFolder{}
	for _, f := range a.files {
		dir, _ := splitPath(NormalizePath(f.path))
		folder, ok := byName[dir]
		if !ok {
			folder = &legacyTestFolder{name: dir, hash: FolderHash(dir)}
			byName[dir] = folder
			folders = append(folders, folder)
		}
		folder.files = append(folder.files, f)
	}

	fileHash := func(f testFile) uint64 {
		if f.fileHash != 0 {
			return f.fileHash
		}
		return FileHash(f.path)
	}

	if !a.keepOrder {
		slices.SortStableFunc(folders, func(x, y *legacyTestFolder) int { return cmp.Compare(x.hash, y.hash) })
		for _, folder := range folders {
			slices.SortStableFunc(folder.files, func(x, y testFile) int { return cmp.Compare(fileHash(x), fileHash(y)) })
		}
	}

	folderRecSize := legacyFolderRecordSize
	if a.version == VersionSkyrimSE {
		folderRecSize = legacyFolderRecordSizeSSE
	}

	var totalFolderNames, totalFileNames int
	var nameBlock bytes.Buffer
	for _, folder := range folders {
		totalFolderNames += len(folder.name) + 1
		for _, f := range folder.files {
			_, name := splitPath(NormalizePath(f.path))
			totalFileNames += len(name) + 1
			nameBlock.WriteString(name)
			nameBlock.WriteByte(0)
		}
	}

	tableSize := legacyHeaderSize + len(folders)*folderRecSize + len(a.files)*legacyFileRecordSize
	if a.flags.Has(FlagIncludeDirNames) {
		for _, folder := range folders {
			tableSize += 1 + len(folder.name) + 1
		}
	}
	if a.flags.Has(FlagIncludeFileNames) {
		tableSize += nameBlock.Len()
	}

	codec := legacyCodec(a.version, true)
	embed := a.flags.Has(FlagEmbedFileNames) && a.version != VersionOblivion

	var data bytes.Buffer
	type placed struct{ offset, size uint32 }
	payloads := make([][]placed, len(folders))
	for i, folder := range folders {
		for _, f := range folder.files {
			var p bytes.Buffer
			if embed {
				full := NormalizePath(f.path)
				p.WriteByte(byte(len(full)))
				p.WriteString(full)
			}
			if f.compress {
				_ = binary.Write(&p, binary.LittleEndian, uint32(len(f.data)))
				p.Write(encodeWith(t, codec, f.data))
			} else {
				p.Write(f.data)
			}

			size := uint32(p.Len())
			if f.compress != a.flags.Has(FlagCompressed) {
				size |= legacyCompressToggle
			}

			payloads[i] = append(payloads[i], placed{offset: uint32(tableSize + data.Len()), size: size})
			data.Write(p.Bytes())
		}
	}

	var out bytes.Buffer
	le := func(v any) { _ = binary.Write(&out, binary.LittleEndian, v) }
	out.Write(magicLegacy[:])
	le(uint32(a.version))
	le(uint32(legacyHeaderSize))
	le(uint32(a.flags))
	le(uint32(len(folders)))
	le(uint32(len(a.files)))
	le(uint32(totalFolderNames))
	le(uint32(totalFileNames))
	le(uint16(FileMeshes | FileMisc))
	le(uint16(0))

	for _, folder := range folders {
		le(folder.hash)
		le(uint32(len(folder.files)))
		if folderRecSize == legacyFolderRecordSizeSSE {
			le(uint32(0))
			le(uint64(0))
		} else {
			le(uint32(0))
		}
	}

	for i, folder := range folders {
		if a.flags.Has(FlagIncludeDirNames) {
			out.WriteByte(byte(len(folder.name) + 1))
			out.WriteString(folder.name)
			out.WriteByte(0)
		}
		for j, f := range folder.files {
			le(fileHash(f))
			le(payloads[i][j].size)
			le(payloads[i][j].offset)
		}
	}

	if a.flags.Has(FlagIncludeFileNames) {
		out.Write(nameBlock.Bytes())
	}

	if out.Len() != tableSize {
		t.Fatalf("legacy builder: table is %d bytes, planned %d", out.Len(), tableSize)
	}

	out.Write(data.Bytes())
	return out.Bytes()
}

// buildMorrowind encodes a TES3 archive with files in given order.
func buildMorrowind(t testing.TB, files []testFile) []byte {
	t.Helper()

	n := len(files)
	var names bytes.Buffer
	nameOffsets := make([]uint32, n)
	for i, f := range files {
		nameOffsets[i] = uint32(names.Len())
		names.WriteString(NormalizePath(f.path))
		names.WriteByte(0)
	}

	hashOffset := 12*n + names.Len()

	var out bytes.Buffer
	le := func(v any) { _ = binary.Write(&out, binary.LittleEndian, v) }
	out.Write(magicMorrowind[:])
	le(uint32(hashOffset))
	le(uint32(n))

	var rel uint32
	for _, f := range files {
		le(uint32(len(f.data)))
		le(rel)
		rel += uint32(len(f.data))
	}
	for _, off := range nameOffsets {
		le(off)
	}
	out.Write(names.Bytes())
	for _, f := range files {
		h := f.fileHash
		if h == 0 {
			h = MorrowindHash(f.path)
		}
		le(h)
	}

	if out.Len() != morrowindHeaderSize+hashOffset+8*n {
		t.Fatalf("morrowind builder: index is %d bytes", out.Len())
	}

	for _, f := range files {
		out.Write(f.data)
	}

	return out.Bytes()
}

// ba2Hashes returns name and directory hashes written into BA2 records.
func ba2Hashes(p string) (uint32, uint32, string) {
	dir, file := splitPath(NormalizePath(p))
	stem, ext := splitExt(file)
	return crc32.ChecksumIEEE([]byte(stem)), crc32.ChecksumIEEE([]byte(dir)), strings.TrimPrefix(ext, ".")
}

func (a modernArchive) headerSize() int {
	switch a.version {
	case VersionStarfield:
		return modernHeaderSizeV2
	case VersionStarfieldLZ4:
		return modernHeaderSizeV3
	default:
		return modernHeaderSizeV1
	}
}

// build encodes a GNRL archive when textures is empty and a DX10 archive otherwise.
func (a modernArchive) build(t testing.TB) []byte {
	t.Helper()

	version := a.version
	if version == 0 {
		version = VersionFallout4
	}
	a.version = version

	codec := a.codec
	if codec == CodecNone {
		codec = CodecLZ4Block
	}

	texture := len(a.textures) > 0
	count := len(a.files)
	tableSize := a.headerSize() + count*modernGeneralRecordSize
	if texture {
		count = len(a.textures)
		tableSize = a.headerSize()
		for _, tex := range a.textures {
			tableSize += modernTextureRecordSize + len(tex.chunks)*modernChunkRecordSize
		}
	}

	var records, data bytes.Buffer
	rle := func(v any) { _ = binary.Write(&records, binary.LittleEndian, v) }
	payload := func(f testFile) (offset uint64, packed, size uint32) {
		offset = uint64(tableSize + data.Len())
		size = uint32(len(f.data))
		if f.compress {
			enc := encodeWith(t, codec, f.data)
			packed = uint32(len(enc))
			data.Write(enc)
		} else {
			data.Write(f.data)
		}
		return offset, packed, size
	}
	ext4 := func(ext string) []byte {
		b := make([]byte, 4)
		copy(b, ext)
		return b
	}

	var paths []string
	if texture {
		for _, tex := range a.textures {
			paths = append(paths, tex.path)
			nameHash, dirHash, ext := ba2Hashes(tex.path)
			rle(nameHash)
			records.Write(ext4(ext))
			rle(dirHash)
			records.WriteByte(0)
			records.WriteByte(byte(len(tex.chunks)))
			rle(uint16(modernChunkRecordSize))
			rle(uint16(256))
			rle(uint16(512))
			records.WriteByte(byte(len(tex.chunks)))
			records.WriteByte(98)
			records.WriteByte(0)
			records.WriteByte(8)
			for i, c := range tex.chunks {
				offset, packed, size := payload(c)
				rle(offset)
				rle(packed)
				rle(size)
				rle(uint16(i))
				rle(uint16(i))
				rle(uint32(modernRecordSentinel))
			}
		}
	} else {
		for _, f := range a.files {
			paths = append(paths, f.path)
			nameHash, dirHash, ext := ba2Hashes(f.path)
			rle(nameHash)
			records.Write(ext4(ext))
			rle(dirHash)
			rle(uint32(0x00100100))
			offset, packed, size := payload(f)
			rle(offset)
			rle(packed)
			rle(size)
			rle(uint32(modernRecordSentinel))
		}
	}

	var nameTableOffset uint64
	var names bytes.Buffer
	if !a.noNames {
		nameTableOffset = uint64(tableSize + data.Len())
		for _, p := range paths {
			_ = binary.Write(&names, binary.LittleEndian, uint16(len(p)))
			names.WriteString(p)
		}
	}

	var out bytes.Buffer
	le := func(v any) { _ = binary.Write(&out, binary.LittleEndian, v) }
	out.Write(magicModern[:])
	le(uint32(version))
	if texture {
		out.Write(kindTagTexture[:])
	} else {
		out.Write(kindTagGeneral[:])
	}
	le(uint32(count))
	le(nameTableOffset)
	switch version {
	case VersionStarfield:
		le(uint64(1))
	case VersionStarfieldLZ4:
		le(uint64(1))
		method := uint32(modernMethodLZ4)
		if codec == CodecZlib {
			method = modernMethodZlib
		}
		le(method)
	}

	out.Write(records.Bytes())
	if out.Len() != tableSize {
		t.Fatalf("ba2 builder: table is %d bytes, planned %d", out.Len(), tableSize)
	}

	out.Write(data.Bytes())
	out.Write(names.Bytes())
	return out.Bytes()
}

// openBytes opens an in-memory archive.
func openBytes(t testing.TB, data []byte, opts ReaderOptions) *Reader {
	t.Helper()

	r, err := NewReaderFromReaderAtWithOptions(bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	return r
}

// writeArchive stores archive bytes in a temporary file and returns its path.
func writeArchive(t testing.TB, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	return path
}

// defaultLegacyFlags are flags of a typical Skyrim archive with names.
const defaultLegacyFlags = FlagIncludeDirNames | FlagIncludeFileNames

// sampleLegacyFiles is a small mixed archive content set.
func sampleLegacyFiles() []testFile {
	return []testFile{
		{path: `meshes\clutter\bucket01.nif`, data: compressibleData(700), compress: true},
		{path: `meshes\clutter\readme.txt`, data: []byte("plain text entry")},
		{path: `textures\sky.dds`, data: compressibleData(1500), compress: true},
		{path: `meshes\a.nif`, data: []byte("tiny")},
	}
}
