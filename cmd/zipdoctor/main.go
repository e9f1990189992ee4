// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

// Command zipdoctor diagnoses and repairs damaged ZIP archives.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/woozymasta/pathrules"
	"github.com/woozymasta/zipdoctor"
)

// Run modes.
const (
	modeAuto     = "auto"
	modeCheck    = "check"
	modeFixZip64 = "fixzip64"
	modeExtract  = "extract"
	modeRebuild  = "rebuild"
)

// cliOptions holds parsed command line flags.
type cliOptions struct {
	mode        string
	outDir      string
	fixedZip    string
	report      string
	compression string
	exclude     []string
	store       []string
	dryRun      bool
	verifyEOCD  bool
	sanitize    bool
	verbose     bool
}

// main runs the command and exits with its code.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout io.Writer, stderr io.Writer) int {
	code := 1
	cmd := newRootCommand(stdout, stderr, &code)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	return code
}

// newRootCommand builds the zipdoctor command; the mode exit code is stored in code.
func newRootCommand(stdout io.Writer, stderr io.Writer, code *int) *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "zipdoctor ARCHIVE",
		Short: "Diagnose and repair damaged ZIP archives",
		Long: `zipdoctor repairs ZIP archives with a zero total_disks ZIP64 locator
and salvages entries with corrupted compressed streams.

Modes:
  auto      check, fixzip64, extract, and rebuild in sequence
  check     parse the central directory and list entries
  fixzip64  patch the ZIP64 locator total_disks field in place
  extract   extract every entry that can be salvaged
  rebuild   pack an extracted tree into a new archive`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := runMode(args[0], opts, stdout, stderr)
			*code = c
			return err
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", modeAuto, "run mode: auto, check, fixzip64, extract, rebuild")
	f.StringVar(&opts.outDir, "out-dir", "", "work dir (auto), extract destination (extract), or source tree (rebuild)")
	f.StringVar(&opts.fixedZip, "fixed-zip", "", "rebuilt archive path")
	f.StringVar(&opts.report, "report", "text", "report format: text, json, yaml")
	f.StringVar(&opts.compression, "compression", string(zipdoctor.CompressionDeflate), "rebuild method: deflate, store, zstd")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "path patterns skipped during extract and rebuild")
	f.StringSliceVar(&opts.store, "store", nil, "path patterns written without compression on rebuild")
	f.BoolVar(&opts.dryRun, "dry-run", false, "report the fixzip64 patch without writing")
	f.BoolVar(&opts.verifyEOCD, "verify-eocd", false, "refuse to patch a locator that fails the EOCD cross-check")
	f.BoolVar(&opts.sanitize, "sanitize", false, "rewrite unportable entry names on extract")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// newLogger creates the stderr logger used by every mode.
func newLogger(stderr io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	return log
}

// runMode dispatches the selected mode and returns its exit code.
func runMode(archive string, opts *cliOptions, stdout io.Writer, stderr io.Writer) (int, error) {
	switch opts.report {
	case reportText, reportJSON, reportYAML:
	default:
		return 1, fmt.Errorf("unknown report format %q", opts.report)
	}

	log := newLogger(stderr, opts.verbose)

	zipPath, err := filepath.Abs(archive)
	if err != nil {
		return 1, err
	}

	fi, err := os.Stat(zipPath)
	if err != nil || !fi.Mode().IsRegular() {
		log.WithField("archive", zipPath).Error("archive not found")
		return 1, nil
	}

	exclude := patternRules(opts.exclude, true)
	rebuildOpts := zipdoctor.RebuildOptions{
		Logger:      log,
		Filter:      exclude,
		Store:       patternRules(opts.store, false),
		Compression: zipdoctor.Compression(opts.compression),
	}

	switch opts.mode {
	case modeAuto:
		return runAuto(zipPath, opts, exclude, rebuildOpts, log, stdout)
	case modeCheck:
		res := zipdoctor.Inspect(zipPath, zipdoctor.ReaderOptions{Logger: log})
		return boolExit(res.Clean), writeReport(stdout, opts.report, res)
	case modeFixZip64:
		return runFixZip64(zipPath, opts, log, stdout)
	case modeExtract:
		return runExtract(zipPath, opts, exclude, log, stdout)
	case modeRebuild:
		return runRebuild(zipPath, opts, rebuildOpts, log, stdout)
	default:
		return 1, fmt.Errorf("unknown mode %q", opts.mode)
	}
}

// runAuto runs the full pipeline. Exit code is 0 whenever the source was usable.
func runAuto(
	zipPath string,
	opts *cliOptions,
	exclude []pathrules.Rule,
	rebuildOpts zipdoctor.RebuildOptions,
	log logrus.FieldLogger,
	stdout io.Writer,
) (int, error) {
	report, err := zipdoctor.Repair(zipPath, zipdoctor.PipelineOptions{
		Logger:     log,
		WorkDir:    opts.outDir,
		OutputPath: opts.fixedZip,
		VerifyEOCD: opts.verifyEOCD,
		Extract:    zipdoctor.ExtractOptions{Logger: log, Filter: exclude, SanitizeNames: opts.sanitize},
		Rebuild:    rebuildOpts,
	})
	if err != nil {
		log.WithError(err).Error("repair aborted")
		return 1, nil
	}

	return 0, writeReport(stdout, opts.report, report)
}

// runFixZip64 patches the locator; exit code is 0 only when a patch is (or would be) applied.
func runFixZip64(zipPath string, opts *cliOptions, log logrus.FieldLogger, stdout io.Writer) (int, error) {
	res, err := zipdoctor.FixLocator(zipPath, zipdoctor.PatchOptions{
		Logger:     log,
		DryRun:     opts.dryRun,
		VerifyEOCD: opts.verifyEOCD,
	})
	if err != nil {
		log.WithError(err).Error("locator patch failed")
		return 1, nil
	}

	return boolExit(res.Status == zipdoctor.PatchPatched), writeReport(stdout, opts.report, res)
}

// runExtract salvages entries into --out-dir or "<dir>/<stem>_extracted".
func runExtract(zipPath string, opts *cliOptions, exclude []pathrules.Rule, log logrus.FieldLogger, stdout io.Writer) (int, error) {
	outDir := opts.outDir
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(zipPath), archiveStem(zipPath)+"_extracted")
	}

	batch, err := zipdoctor.Extract(zipPath, outDir, zipdoctor.ExtractOptions{Logger: log, Filter: exclude, SanitizeNames: opts.sanitize})
	if err != nil {
		log.WithError(err).Error("extraction failed")
		return 1, nil
	}

	return boolExit(batch.HadAnySuccess), writeReport(stdout, opts.report, batch)
}

// runRebuild packs --out-dir into --fixed-zip or "<parent of out-dir>/<stem>.repacked.zip".
func runRebuild(
	zipPath string,
	opts *cliOptions,
	rebuildOpts zipdoctor.RebuildOptions,
	log logrus.FieldLogger,
	stdout io.Writer,
) (int, error) {
	if opts.outDir == "" {
		log.Error("rebuild needs --out-dir pointing at the extracted tree")
		return 1, nil
	}

	srcDir, err := filepath.Abs(opts.outDir)
	if err != nil {
		return 1, err
	}

	fixedZip := opts.fixedZip
	if fixedZip == "" {
		fixedZip = filepath.Join(filepath.Dir(srcDir), archiveStem(zipPath)+".repacked.zip")
	}

	res, err := zipdoctor.Rebuild(srcDir, fixedZip, rebuildOpts)
	switch {
	case errors.Is(err, zipdoctor.ErrNothingToRebuild):
		return 1, writeReport(stdout, opts.report, res)
	case err != nil:
		log.WithError(err).Error("rebuild failed")
		return 1, nil
	}

	return boolExit(res.FileCount > 0), writeReport(stdout, opts.report, res)
}

// patternRules turns plain patterns into include or exclude rules.
func patternRules(patterns []string, exclude bool) []pathrules.Rule {
	if len(patterns) == 0 {
		return nil
	}

	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rule := pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p}
		if exclude {
			rule.Action = pathrules.ActionExclude
		}

		rules = append(rules, rule)
	}

	return rules
}

// archiveStem returns file name without extension.
func archiveStem(p string) string {
	base := filepath.Base(p)
	return base[:len(base)-len(filepath.Ext(base))]
}

// boolExit maps success to exit code 0 and failure to 1.
func boolExit(ok bool) int {
	if ok {
		return 0
	}

	return 1
}
