// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import "math/bits"

// hashMultiplier is the rolling multiplier of the TES4 name hash.
const hashMultiplier = 0x1003f

// FileHash returns TES4 structural hash of a file name.
// Any directory part of name is ignored.
func FileHash(name string) uint64 {
	_, file := splitPath(NormalizePath(name))
	stem, ext := splitExt(encodeLatin1(file))
	return tes4Hash(stem, ext)
}

// FolderHash returns TES4 structural hash of a folder path.
// Folder names are hashed as a whole, extension included.
func FolderHash(dir string) uint64 {
	return tes4Hash(encodeLatin1(NormalizePath(dir)), "")
}

// PathHash returns folder and file hashes of a full archive path.
func PathHash(p string) HashKey {
	dir, file := splitPath(NormalizePath(p))
	return HashKey{Folder: FolderHash(dir), File: FileHash(file)}
}

// tes4Hash packs stem and extension into the 64-bit TES4 hash.
//
// Low word: last char | second-to-last char<<8 | stem length<<16 | first char<<24,
// OR-ed with a flag for well known extensions.
// High word: rolling hash of stem[1:len-2] plus rolling hash of the extension.
func tes4Hash(stem, ext string) uint64 {
	var low uint32
	n := len(stem)
	if n > 0 {
		low = uint32(stem[n-1]) | uint32(n)<<16 | uint32(stem[0])<<24 //nolint:gosec // n fits archive name limits
		if n > 2 {
			low |= uint32(stem[n-2]) << 8
		}
	}
	low |= extensionFlag(ext)

	var mid uint32
	for i := 1; i < n-2; i++ {
		mid = mid*hashMultiplier + uint32(stem[i])
	}

	var tail uint32
	for i := 0; i < len(ext); i++ {
		tail = tail*hashMultiplier + uint32(ext[i])
	}

	return uint64(mid+tail)<<32 | uint64(low)
}

// extensionFlag returns low-word bits reserved for engine-known extensions.
func extensionFlag(ext string) uint32 {
	switch ext {
	case ".kf":
		return 0x80
	case ".nif":
		return 0x8000
	case ".dds":
		return 0x8080
	case ".wav":
		return 0x80000000
	default:
		return 0
	}
}

// MorrowindHash returns TES3 structural hash of a full archive path.
// The low word XORs the first half of the path, the high word XOR-rotates the second half.
func MorrowindHash(p string) uint64 {
	s := encodeLatin1(NormalizePath(p))
	half := len(s) >> 1

	var lo, off uint32
	for i := 0; i < half; i++ {
		lo ^= uint32(s[i]) << (off & 0x1f)
		off += 8
	}

	var hi uint32
	off = 0
	for i := half; i < len(s); i++ {
		t := uint32(s[i]) << (off & 0x1f)
		hi ^= t
		hi = bits.RotateLeft32(hi, -int(t&0x1f))
		off += 8
	}

	return uint64(hi)<<32 | uint64(lo)
}
