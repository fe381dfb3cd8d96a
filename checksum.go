// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"

	"github.com/zeebo/blake3"
)

// Checksum returns BLAKE3-256 digest of the decompressed content of the named entry.
func (r *Reader) Checksum(ctx context.Context, name string) ([32]byte, error) {
	var sum [32]byte

	h := blake3.New()
	if _, err := r.ExtractTo(ctx, name, h); err != nil {
		return sum, err
	}

	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ChecksumEntry returns BLAKE3-256 digest of the decompressed content of one resolved entry.
func (r *Reader) ChecksumEntry(ctx context.Context, info EntryInfo) ([32]byte, error) {
	var sum [32]byte

	rc, err := r.OpenEntryInfo(info)
	if err != nil {
		return sum, err
	}
	defer func() { _ = rc.Close() }()

	h := blake3.New()
	if _, err := copyWithContext(ctx, h, rc, make([]byte, copyBufferSize)); err != nil {
		return sum, err
	}

	copy(sum[:], h.Sum(nil))
	return sum, nil
}
