// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/woozymasta/pathrules"
)

// Internal binary layout sizes.
const (
	legacyHeaderSize          = 36 // TES4+ header including magic
	morrowindHeaderSize       = 12 // TES3 header including magic
	modernHeaderSizeV1        = 24 // BTDX v1/v7/v8
	modernHeaderSizeV2        = 32 // BTDX v2
	modernHeaderSizeV3        = 36 // BTDX v3
	legacyFolderRecordSize    = 16 // v103/v104 folder record
	legacyFolderRecordSizeSSE = 24 // v105 folder record
	legacyFileRecordSize      = 16
	morrowindFileRecordSize   = 8
	modernGeneralRecordSize   = 36
	modernTextureRecordSize   = 24
	modernChunkRecordSize     = 24
	legacySizeMask            = 0x3fffffff
	legacyCompressToggle      = 0x40000000
	modernRecordSentinel      = 0xbaadf00d
)

// Family identifies one archive container family.
type Family uint8

// Archive families.
const (
	// FamilyUnknown is the zero value for unrecognized sources.
	FamilyUnknown Family = iota
	// FamilyLegacy covers BSA archives (Morrowind through Skyrim SE).
	FamilyLegacy
	// FamilyModern covers BA2 archives (Fallout 4 and later).
	FamilyModern
)

// String returns family name.
func (f Family) String() string {
	switch f {
	case FamilyLegacy:
		return "bsa"
	case FamilyModern:
		return "ba2"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Version is the header version field of an archive.
type Version uint32

// Known archive versions.
const (
	// VersionFallout4 is the original BA2 version.
	VersionFallout4 Version = 1
	// VersionStarfield is the BA2 version with an extended header.
	VersionStarfield Version = 2
	// VersionStarfieldLZ4 is the BA2 version carrying a compression method field.
	VersionStarfieldLZ4 Version = 3
	// VersionFallout4NG is the BA2 version written by Fallout 4 next-gen update.
	VersionFallout4NG Version = 7
	// VersionFallout4NG2 is the second next-gen BA2 version.
	VersionFallout4NG2 Version = 8
	// VersionOblivion is the Oblivion BSA version (0x67).
	VersionOblivion Version = 103
	// VersionFallout3 is the Fallout 3, New Vegas and Skyrim BSA version (0x68).
	VersionFallout3 Version = 104
	// VersionSkyrimSE is the Skyrim Special Edition BSA version (0x69).
	VersionSkyrimSE Version = 105
	// VersionMorrowind marks TES3 archives; the value mirrors their magic word.
	VersionMorrowind Version = 0x100
)

// EntryKind distinguishes modern archive layouts and entries.
type EntryKind uint8

// Entry kinds.
const (
	// KindGeneral is a plain file entry (all legacy entries and BA2 GNRL).
	KindGeneral EntryKind = iota
	// KindTexture is a BA2 DX10 entry with mip chunks.
	KindTexture
)

// String returns kind name.
func (k EntryKind) String() string {
	switch k {
	case KindGeneral:
		return "general"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Format is the result of sniffing a source prefix.
type Format struct {
	// Family is archive family.
	Family Family `json:"family" yaml:"family"`
	// Version is header version field (VersionMorrowind for TES3).
	Version Version `json:"version" yaml:"version"`
	// Kind is modern archive kind; always KindGeneral for legacy archives.
	Kind EntryKind `json:"kind" yaml:"kind"`
}

// String returns human readable format tag.
func (f Format) String() string {
	if f.Family == FamilyModern {
		return fmt.Sprintf("%s v%d %s", f.Family, f.Version, f.Kind)
	}
	if f.Version == VersionMorrowind {
		return "bsa morrowind"
	}

	return fmt.Sprintf("%s v%d", f.Family, f.Version)
}

// Codec selects the decoder for one payload.
type Codec uint8

// Payload codecs.
const (
	// CodecNone stores payload verbatim.
	CodecNone Codec = iota
	// CodecZlib is a DEFLATE stream with zlib framing.
	CodecZlib
	// CodecLZ4Frame is an LZ4 stream with frame headers.
	CodecLZ4Frame
	// CodecLZ4Block is a raw LZ4 block without framing.
	CodecLZ4Block
)

// String returns codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZlib:
		return "zlib"
	case CodecLZ4Frame:
		return "lz4-frame"
	case CodecLZ4Block:
		return "lz4-block"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ArchiveFlags are legacy archive-wide flags.
type ArchiveFlags uint32

// Legacy archive flags.
const (
	FlagIncludeDirNames      ArchiveFlags = 0x001
	FlagIncludeFileNames     ArchiveFlags = 0x002
	FlagCompressed           ArchiveFlags = 0x004
	FlagRetainDirNames       ArchiveFlags = 0x008
	FlagRetainFileNames      ArchiveFlags = 0x010
	FlagRetainFileOffsets    ArchiveFlags = 0x020
	FlagXbox360              ArchiveFlags = 0x040
	FlagRetainStartupStrings ArchiveFlags = 0x080
	FlagEmbedFileNames       ArchiveFlags = 0x100
	FlagXMemCodec            ArchiveFlags = 0x200
)

// Has reports whether all bits of flag are set.
func (f ArchiveFlags) Has(flag ArchiveFlags) bool {
	return f&flag == flag
}

// FileFlags declare content categories of a legacy archive.
type FileFlags uint16

// Legacy content flags.
const (
	FileMeshes FileFlags = 1 << iota
	FileTextures
	FileMenus
	FileSounds
	FileVoices
	FileShaders
	FileTrees
	FileFonts
	FileMisc
)

var fileFlagNames = [...]string{"meshes", "textures", "menus", "sounds", "voices", "shaders", "trees", "fonts", "misc"}

// String returns comma separated category names.
func (f FileFlags) String() string {
	var parts []string
	for i, name := range fileFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}

	return strings.Join(parts, ",")
}

// HashKey is the structural hash pair addressing one entry.
// Legacy archives use 64-bit folder and file hashes; BA2 stores 32-bit
// directory and name hashes; Morrowind uses only File.
type HashKey struct {
	Folder uint64 `json:"folder" yaml:"folder"`
	File   uint64 `json:"file" yaml:"file"`
}

// String returns hex form of the key.
func (k HashKey) String() string {
	return fmt.Sprintf("%016x:%016x", k.Folder, k.File)
}

// Header is a decoded archive header.
type Header struct {
	// Format is the detected family and version.
	Format Format `json:"format" yaml:"format"`
	// ArchiveFlags are legacy archive-wide flags.
	ArchiveFlags ArchiveFlags `json:"archive_flags,omitempty" yaml:"archive_flags,omitempty"`
	// FileFlags are legacy content category flags.
	FileFlags FileFlags `json:"file_flags,omitempty" yaml:"file_flags,omitempty"`
	// FolderRecordOffset is absolute offset of legacy folder table.
	FolderRecordOffset uint32 `json:"folder_record_offset,omitempty" yaml:"folder_record_offset,omitempty"`
	// FolderCount is declared legacy folder count.
	FolderCount uint32 `json:"folder_count,omitempty" yaml:"folder_count,omitempty"`
	// FileCount is declared file (or BA2 entry) count.
	FileCount uint32 `json:"file_count" yaml:"file_count"`
	// TotalFolderNameLength is declared size of inline folder names.
	TotalFolderNameLength uint32 `json:"total_folder_name_length,omitempty" yaml:"total_folder_name_length,omitempty"`
	// TotalFileNameLength is declared size of legacy file name block.
	TotalFileNameLength uint32 `json:"total_file_name_length,omitempty" yaml:"total_file_name_length,omitempty"`
	// HashTableOffset is Morrowind hash table offset relative to header end.
	HashTableOffset uint32 `json:"hash_table_offset,omitempty" yaml:"hash_table_offset,omitempty"`
	// NameTableOffset is absolute BA2 name table offset; zero means no names.
	NameTableOffset uint64 `json:"name_table_offset,omitempty" yaml:"name_table_offset,omitempty"`
	// CompressionMethod is BA2 v3 compression method field.
	CompressionMethod uint32 `json:"compression_method,omitempty" yaml:"compression_method,omitempty"`
	// Size is encoded header size in bytes.
	Size int64 `json:"size" yaml:"size"`
}

// DefaultCompressed reports whether legacy entries are compressed unless toggled.
func (h Header) DefaultCompressed() bool {
	return h.ArchiveFlags.Has(FlagCompressed)
}

// TextureChunk is one independently compressed mip range of a texture entry.
type TextureChunk struct {
	// Offset is absolute payload offset.
	Offset uint64 `json:"offset" yaml:"offset"`
	// PackedSize is stored size; zero means stored raw.
	PackedSize uint32 `json:"packed_size" yaml:"packed_size"`
	// Size is decompressed size.
	Size uint32 `json:"size" yaml:"size"`
	// MipFirst is the first mip level held by this chunk.
	MipFirst uint16 `json:"mip_first" yaml:"mip_first"`
	// MipLast is the last mip level held by this chunk.
	MipLast uint16 `json:"mip_last" yaml:"mip_last"`
}

// IsCompressed reports whether chunk payload is LZ4 or zlib compressed.
func (c TextureChunk) IsCompressed() bool {
	return c.PackedSize != 0
}

// storedSize returns number of bytes occupied in the source.
func (c TextureChunk) storedSize() uint32 {
	if c.PackedSize != 0 {
		return c.PackedSize
	}

	return c.Size
}

// TextureInfo carries DX10 texture record fields.
type TextureInfo struct {
	// Chunks are mip chunks in declared order.
	Chunks []TextureChunk `json:"chunks" yaml:"chunks"`
	// Height is texture height in pixels.
	Height uint16 `json:"height" yaml:"height"`
	// Width is texture width in pixels.
	Width uint16 `json:"width" yaml:"width"`
	// MipCount is number of mip levels.
	MipCount uint8 `json:"mip_count" yaml:"mip_count"`
	// Format is DXGI format code.
	Format uint8 `json:"format" yaml:"format"`
	// Flags are texture flags (cubemap bit 0).
	Flags uint8 `json:"flags,omitempty" yaml:"flags,omitempty"`
	// TileMode is console tile mode.
	TileMode uint8 `json:"tile_mode,omitempty" yaml:"tile_mode,omitempty"`
}

// EntryInfo describes one archive entry. Values are detached copies of the index.
type EntryInfo struct {
	// Texture is set for KindTexture entries.
	Texture *TextureInfo `json:"texture,omitempty" yaml:"texture,omitempty"`
	// Path is normalized declared path; empty when archive carries no names.
	// When BareName is set it holds only the file name.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Extension is BA2 extension code (up to 4 bytes, NUL trimmed).
	Extension string `json:"extension,omitempty" yaml:"extension,omitempty"`
	// Hash is the structural hash pair stored in the archive.
	Hash HashKey `json:"hash" yaml:"hash"`
	// Offset is absolute payload offset (first chunk for textures).
	Offset uint64 `json:"offset" yaml:"offset"`
	// Index is declaration index within the archive.
	Index int `json:"index" yaml:"index"`
	// PackedSize is stored payload size in bytes (sum of chunks for textures).
	PackedSize uint32 `json:"packed_size" yaml:"packed_size"`
	// Size is decompressed size; zero when only known from payload (legacy compressed).
	Size uint32 `json:"size,omitempty" yaml:"size,omitempty"`
	// Kind is entry kind.
	Kind EntryKind `json:"kind" yaml:"kind"`
	// Codec is routed payload codec; CodecNone for raw entries.
	Codec Codec `json:"codec" yaml:"codec"`
	// Compressed reports whether the entry payload is compressed.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// EmbeddedName reports whether payload starts with a length-prefixed name.
	EmbeddedName bool `json:"embedded_name,omitempty" yaml:"embedded_name,omitempty"`
	// BareName reports a file name stored without its folder name (folder known only by Hash.Folder).
	BareName bool `json:"bare_name,omitempty" yaml:"bare_name,omitempty"`
}

// clone returns a deep copy detached from the index.
func (e EntryInfo) clone() EntryInfo {
	if e.Texture != nil {
		tex := *e.Texture
		tex.Chunks = append([]TextureChunk(nil), e.Texture.Chunks...)
		e.Texture = &tex
	}

	return e
}

// DisplayName returns Path, or the hash key when archive has no names.
func (e EntryInfo) DisplayName() string {
	if e.Path != "" {
		return e.Path
	}

	return "#" + e.Hash.String()
}

// HashMismatch reports one declared hash that differs from the recomputed one.
type HashMismatch struct {
	// Name is folder name or entry path that was hashed.
	Name string `json:"name" yaml:"name"`
	// Declared is hash stored in archive.
	Declared uint64 `json:"declared" yaml:"declared"`
	// Computed is hash produced by the hash engine.
	Computed uint64 `json:"computed" yaml:"computed"`
	// Folder reports whether mismatch belongs to folder record.
	Folder bool `json:"folder,omitempty" yaml:"folder,omitempty"`
}

// ReaderOptions configures archive open behavior.
type ReaderOptions struct {
	// Logger receives diagnostics; nil discards them.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// ModernCodec selects codec for compressed BA2 entries without an explicit
	// method field. Zero means CodecLZ4Block; CodecZlib serves Fallout 4 v1 archives.
	ModernCodec Codec `json:"modern_codec,omitempty" yaml:"modern_codec,omitempty"`
	// VerifyHashes recomputes structural hashes on open and logs mismatches.
	// Mismatches never fail open; they stay available via Reader.HashMismatches.
	VerifyHashes bool `json:"verify_hashes,omitempty" yaml:"verify_hashes,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry EntryInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Prefix limits extraction to entries under this archive directory.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Entries limits extraction to selected metadata list; nil means all entries.
	Entries []EntryInfo `json:"-" yaml:"-"`
	// Rules are ordered include/exclude path rules; empty means include all.
	Rules []pathrules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// Extensions limits extraction to listed extensions ("dds", ".nif"); "*" means all.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	// MatcherOptions control rule matching.
	MatcherOptions pathrules.MatcherOptions `json:"matcher_options,omitzero" yaml:"matcher_options,omitzero"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeOverwriteSmart rewrites files in place and truncates only when existing file is larger.
	ExtractFileModeOverwriteSmart ExtractFileMode = "overwrite_smart"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// applyDefaults fills zero-valued reader options with defaults.
func (opts *ReaderOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.ModernCodec == CodecNone {
		opts.ModernCodec = CodecLZ4Block
	}
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.FileMode == "" {
		opts.FileMode = ExtractFileModeAuto
	}

	if opts.MatcherOptions == (pathrules.MatcherOptions{}) {
		opts.MatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionInclude,
		}
	}

	if opts.MatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.MatcherOptions.DefaultAction = pathrules.ActionInclude
	}
}
