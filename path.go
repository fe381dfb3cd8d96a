// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"path"
	"strings"
	"unicode/utf8"
)

// NormalizePath converts an archive path to canonical lookup form: trimmed,
// ASCII lowercase, "\" separated, without leading/trailing separators and "." segments.
// Both "/" and "\" are accepted on input.
func NormalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = asciiLower(raw)
	raw = strings.ReplaceAll(raw, `\`, `/`)
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." || raw == "" {
		return ""
	}

	return strings.ReplaceAll(raw, "/", `\`)
}

// slashPath converts canonical archive path to "/" form used by matchers and filesystem.
func slashPath(p string) string {
	return strings.ReplaceAll(p, `\`, `/`)
}

// joinArchivePath joins folder and file name in canonical form.
func joinArchivePath(dir, name string) string {
	if dir == "" {
		return NormalizePath(name)
	}

	return NormalizePath(dir + `\` + name)
}

// splitPath splits canonical path into directory and file name.
func splitPath(p string) (string, string) {
	if i := strings.LastIndexByte(p, '\\'); i >= 0 {
		return p[:i], p[i+1:]
	}

	return "", p
}

// splitExt splits file name into stem and extension including the dot.
func splitExt(name string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}

	return name, ""
}

// asciiLower lowercases ASCII letters only, leaving other bytes untouched.
func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}

			return string(b)
		}
	}

	return s
}

// decodeLatin1 converts ISO-8859-1 bytes stored in archives to a UTF-8 string.
func decodeLatin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	out := make([]rune, len(b))
	for i, c := range b {
		out[i] = rune(c)
	}

	return string(out)
}

// encodeLatin1 converts a UTF-8 string back to archive byte form.
// Runes outside ISO-8859-1 are replaced with '?'.
func encodeLatin1(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}

	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			r = '?'
		}
		out = append(out, byte(r))
	}

	return string(out)
}
