// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

// bsatool lists, extracts and verifies Bethesda BSA and BA2 archives.
//
// Usage:
//
//	bsatool info    [flags] ARCHIVE
//	bsatool list    [flags] ARCHIVE
//	bsatool extract [flags] ARCHIVE DIR
//	bsatool verify  [flags] ARCHIVE
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/woozymasta/bsa"
	"github.com/woozymasta/pathrules"
)

// commonFlags are shared by every subcommand.
type commonFlags struct {
	output     string
	modernZlib bool
	verbose    bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.output, "output", "o", "text", "output format: text, json or yaml")
	fs.BoolVar(&c.modernZlib, "ba2-zlib", false, "decode compressed BA2 entries as zlib (Fallout 4 v1 archives)")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging to stderr")
}

func (c *commonFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *commonFlags) readerOptions() bsa.ReaderOptions {
	opts := bsa.ReaderOptions{Logger: c.logger()}
	if c.modernZlib {
		opts.ModernCodec = bsa.CodecZlib
	}

	return opts
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errors.New("missing command")
	}

	switch args[0] {
	case "info":
		return runInfo(args[1:], stdout)
	case "list", "ls":
		return runList(args[1:], stdout)
	case "extract", "x":
		return runExtract(ctx, args[1:], stdout)
	case "verify":
		return runVerify(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: bsatool <info|list|extract|verify> [flags] ARCHIVE [DIR]")
}

// parseFlags parses fs and checks positional argument count.
func parseFlags(fs *pflag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) != positional {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), positional, len(rest))
	}

	return rest, nil
}

func runInfo(args []string, stdout io.Writer) error {
	var common commonFlags
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	common.register(fs)

	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	h, err := bsa.ReadHeader(rest[0])
	if err != nil {
		return err
	}

	if common.output != "text" {
		return render(stdout, common.output, h)
	}

	fmt.Fprintf(stdout, "format:  %s\n", h.Format)
	fmt.Fprintf(stdout, "files:   %d\n", h.FileCount)
	if h.Format.Family == bsa.FamilyLegacy {
		fmt.Fprintf(stdout, "folders: %d\n", h.FolderCount)
		fmt.Fprintf(stdout, "flags:   %#x\n", uint32(h.ArchiveFlags))
		fmt.Fprintf(stdout, "content: %s\n", h.FileFlags)
	}

	return nil
}

func runList(args []string, stdout io.Writer) error {
	var (
		common     commonFlags
		prefix     string
		include    []string
		exclude    []string
		extensions []string
	)

	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&prefix, "prefix", "", "only entries under this archive directory")
	fs.StringSliceVarP(&include, "include", "i", nil, "include path pattern (repeatable)")
	fs.StringSliceVarP(&exclude, "exclude", "e", nil, "exclude path pattern (repeatable)")
	fs.StringSliceVar(&extensions, "ext", nil, "only these extensions, \"*\" for all")

	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	entries, err := bsa.ListEntriesWithOptions(rest[0], common.readerOptions())
	if err != nil {
		return err
	}

	entries, err = bsa.FilterEntries(entries, bsa.ExtractOptions{
		Prefix:         prefix,
		Rules:          buildRules(include, exclude),
		MatcherOptions: matcherOptions(include),
		Extensions:     extensions,
	})
	if err != nil {
		return err
	}

	if common.output != "text" {
		return render(stdout, common.output, entries)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PACKED\tSIZE\tCODEC\t NAME")
	for _, e := range entries {
		size := "-"
		if e.Size != 0 || !e.Compressed {
			size = fmt.Sprint(e.Size)
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t %s\n", e.PackedSize, size, e.Codec, e.DisplayName())
	}

	return tw.Flush()
}

func runExtract(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		common     commonFlags
		opts       bsa.ExtractOptions
		include    []string
		exclude    []string
		fileMode   string
		quiet      bool
		extensions []string
	)

	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&opts.Prefix, "prefix", "", "only entries under this archive directory")
	fs.StringSliceVarP(&include, "include", "i", nil, "include path pattern (repeatable)")
	fs.StringSliceVarP(&exclude, "exclude", "e", nil, "exclude path pattern (repeatable)")
	fs.StringSliceVar(&extensions, "ext", nil, "only these extensions, \"*\" for all")
	fs.IntVarP(&opts.MaxWorkers, "jobs", "j", 0, "parallel workers (0 = GOMAXPROCS)")
	fs.StringVar(&fileMode, "mode", string(bsa.ExtractFileModeAuto), "file mode: auto, overwrite_smart, truncate, create_only")
	fs.BoolVar(&opts.RawNames, "raw-names", false, "keep archive names without sanitization")
	fs.BoolVarP(&quiet, "quiet", "q", false, "do not print extracted paths")

	rest, err := parseFlags(fs, args, 2)
	if err != nil {
		return err
	}

	r, err := bsa.OpenWithOptions(rest[0], common.readerOptions())
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	opts.Rules = buildRules(include, exclude)
	opts.MatcherOptions = matcherOptions(include)
	opts.Extensions = extensions
	opts.FileMode = bsa.ExtractFileMode(fileMode)
	if !quiet {
		out := &lockedWriter{w: stdout}
		opts.OnEntryDone = func(_ bsa.EntryInfo, written int64, outputPath string) {
			out.printf("%d\t%s\n", written, outputPath)
		}
	}

	return r.Extract(ctx, rest[1], opts)
}

// verifyReport is the machine readable result of the verify command.
type verifyReport struct {
	Format     bsa.Format         `json:"format" yaml:"format"`
	Mismatches []bsa.HashMismatch `json:"mismatches" yaml:"mismatches"`
	Failed     []string           `json:"failed,omitempty" yaml:"failed,omitempty"`
	Digests    map[string]string  `json:"digests,omitempty" yaml:"digests,omitempty"`
	Entries    int                `json:"entries" yaml:"entries"`
}

func runVerify(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		common  commonFlags
		decode  bool
		digests bool
	)

	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	common.register(fs)
	fs.BoolVar(&decode, "decode", false, "decompress every entry to check payload integrity")
	fs.BoolVar(&digests, "digest", false, "print BLAKE3 digest of every entry (implies --decode)")

	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	r, err := bsa.OpenWithOptions(rest[0], common.readerOptions())
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	report := verifyReport{
		Format:     r.Format(),
		Entries:    r.Len(),
		Mismatches: r.VerifyHashes(),
	}

	if decode || digests {
		if digests {
			report.Digests = make(map[string]string, r.Len())
		}

		for e := range r.All() {
			sum, err := r.ChecksumEntry(ctx, e)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", e.DisplayName(), err))
				continue
			}

			if digests {
				report.Digests[e.DisplayName()] = hex.EncodeToString(sum[:])
			}
		}
	}

	if common.output != "text" {
		if err := render(stdout, common.output, report); err != nil {
			return err
		}
	} else {
		for _, m := range report.Mismatches {
			kind := "file"
			if m.Folder {
				kind = "folder"
			}
			fmt.Fprintf(stdout, "hash mismatch %s %s: declared %016x computed %016x\n", kind, m.Name, m.Declared, m.Computed)
		}
		for _, f := range report.Failed {
			fmt.Fprintf(stdout, "decode failed %s\n", f)
		}
		for name, sum := range report.Digests {
			fmt.Fprintf(stdout, "%s  %s\n", sum, name)
		}
		fmt.Fprintf(stdout, "%s: %d entries, %d hash mismatches, %d decode failures\n",
			report.Format, report.Entries, len(report.Mismatches), len(report.Failed))
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("%d entries failed to decode", len(report.Failed))
	}

	return nil
}

// buildRules converts include and exclude patterns to ordered rules: includes first, excludes override.
func buildRules(include, exclude []string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(include)+len(exclude))
	for _, p := range include {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}
	for _, p := range exclude {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: p})
	}

	return rules
}

// matcherOptions switches to allow-list matching once any include pattern is given.
func matcherOptions(include []string) pathrules.MatcherOptions {
	opts := pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionInclude}
	if len(include) > 0 {
		opts.DefaultAction = pathrules.ActionExclude
	}

	return opts
}

// lockedWriter serializes progress lines from extraction workers.
type lockedWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (lw *lockedWriter) printf(format string, args ...any) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	_, _ = fmt.Fprintf(lw.w, format, args...)
}

// render writes v as JSON or YAML.
func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
