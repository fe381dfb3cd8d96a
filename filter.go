// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// entryFilter combines prefix, rule and extension selection of entries.
type entryFilter struct {
	rules      *pathrules.Matcher
	extensions *pathrules.Matcher
	prefix     string
}

// newEntryFilter compiles selection options. A nil filter keeps every entry.
func newEntryFilter(prefix string, rules []pathrules.Rule, extensions []string, opts pathrules.MatcherOptions) (*entryFilter, error) {
	f := &entryFilter{prefix: slashPath(NormalizePath(prefix))}

	rules = normalizeFilterRules(rules)
	if len(rules) > 0 {
		m, err := pathrules.NewMatcher(rules, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidFilterRules, err)
		}

		f.rules = m
	}

	extRules := extensionRules(extensions)
	if len(extRules) > 0 {
		m, err := pathrules.NewMatcher(extRules, pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: compile extensions: %w", ErrInvalidFilterRules, err)
		}

		f.extensions = m
	}

	if f.prefix == "" && f.rules == nil && f.extensions == nil {
		return nil, nil
	}

	return f, nil
}

// normalizeFilterRules converts rule patterns to "/" form and drops empty patterns.
func normalizeFilterRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := strings.TrimSpace(strings.ReplaceAll(rule.Pattern, `\`, `/`))
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// extensionRules maps an extension set to include rules.
// An empty set or one containing "*" selects everything and yields no rules.
func extensionRules(extensions []string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		switch ext {
		case "":
			continue
		case "*":
			return nil
		}

		rules = append(rules, pathrules.Rule{
			Action:  pathrules.ActionInclude,
			Pattern: "*." + asciiLower(ext),
		})
	}

	return rules
}

// Match reports whether entry passes all configured selectors.
// Entries without names only pass a filter that selects nothing by path.
func (f *entryFilter) Match(entry EntryInfo) bool {
	if f == nil {
		return true
	}

	if entry.Path == "" {
		return false
	}

	candidate := slashPath(entry.Path)
	if f.prefix != "" && candidate != f.prefix && !strings.HasPrefix(candidate, f.prefix+"/") {
		return false
	}

	if f.rules != nil && !f.rules.Included(candidate, false) {
		return false
	}

	if f.extensions != nil && !f.extensions.Included(candidate, false) {
		return false
	}

	return true
}

// FilterEntries returns entries selected by prefix, ordered path rules and extension set.
// Zero-valued selectors keep everything.
func FilterEntries(entries []EntryInfo, opts ExtractOptions) ([]EntryInfo, error) {
	opts.applyDefaults()

	f, err := newEntryFilter(opts.Prefix, opts.Rules, opts.Extensions, opts.MatcherOptions)
	if err != nil {
		return nil, err
	}

	return filterEntries(entries, f), nil
}

// filterEntries keeps entries accepted by f, preserving order.
func filterEntries(entries []EntryInfo, f *entryFilter) []EntryInfo {
	if f == nil {
		return entries
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if f.Match(entry) {
			out = append(out, entry)
		}
	}

	return out
}
