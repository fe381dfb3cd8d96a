// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrFormat is the parent of all format recognition errors.
	ErrFormat = errors.New("archive format error")
	// ErrUnrecognizedMagic means the source does not start with a known archive magic.
	ErrUnrecognizedMagic = fmt.Errorf("%w: unrecognized magic", ErrFormat)
	// ErrUnsupportedVersion means the archive family is known but its version is not.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrFormat)
	// ErrInvalidRecord means a fixed record carries an invalid sentinel or field value.
	ErrInvalidRecord = fmt.Errorf("%w: invalid record", ErrFormat)
	// ErrTruncatedInput means the source holds fewer bytes than a structure requires.
	ErrTruncatedInput = errors.New("truncated input")
	// ErrOutOfBounds means a declared offset or size exceeds the source length.
	ErrOutOfBounds = errors.New("offset or size out of bounds")
	// ErrCountMismatch means header-declared counts disagree with decoded records.
	ErrCountMismatch = errors.New("declared count mismatch")
	// ErrCorruptCompressedData means the codec failed to decode entry payload.
	ErrCorruptCompressedData = errors.New("corrupt compressed data")
	// ErrSizeMismatch means decompressed length differs from declared length.
	ErrSizeMismatch = errors.New("decompressed size mismatch")
	// ErrEntryNotFound means lookup by path, hash or index missed.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrUnsupportedEntryKind means the modern archive kind or entry kind is not supported.
	ErrUnsupportedEntryKind = errors.New("unsupported entry kind")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrInvalidFilterRules means one or more path filter rules are invalid.
	ErrInvalidFilterRules = errors.New("invalid filter rules")
)
