// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/woozymasta/zipdoctor"
	"gopkg.in/yaml.v3"
)

// Report formats.
const (
	reportText = "text"
	reportJSON = "json"
	reportYAML = "yaml"
)

// writeReport prints v to w in the requested format.
func writeReport(w io.Writer, format string, v any) error {
	switch format {
	case reportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case reportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}

		return enc.Close()

	default:
		return writeText(w, v)
	}
}

// writeText prints a short human readable summary of a mode result.
func writeText(w io.Writer, v any) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format+"\n", args...)
		}
	}

	switch res := v.(type) {
	case *zipdoctor.InspectResult:
		p("archive: %s (%s)", res.Path, humanize.IBytes(uint64(max(res.Size, 0)))) //nolint:gosec // clamped
		p("entries: %d", len(res.Entries))
		p("clean:   %t", res.Clean)
		if res.Error != "" {
			p("error:   %s", res.Error)
		}

	case *zipdoctor.PatchResult:
		p("archive: %s", res.Path)
		p("status:  %s", res.Status)
		if res.Locator != nil {
			p("locator: offset=%d total_disks=%d eocd_offset=%d", res.Locator.Offset, res.Locator.TotalDisks, res.Locator.EOCDOffset)
		}
		if res.DryRun {
			p("dry run: nothing written")
		}

	case *zipdoctor.BatchOutcome:
		for _, o := range res.Entries {
			p("%-22s %s (%s)", o.Status, o.Name, humanize.IBytes(uint64(max(o.Written, 0)))) //nolint:gosec // clamped
		}
		p("complete: %d, partial: %d, failed: %d", res.Complete(), res.Partial(), res.Failed())

	case *zipdoctor.RebuildResult:
		if res == nil {
			return nil
		}
		p("output: %s", res.Output)
		p("files:  %d (%d stored)", res.FileCount, res.StoredCount)
		p("size:   %s", humanize.IBytes(uint64(max(res.TotalBytes, 0)))) //nolint:gosec // clamped

	case *zipdoctor.PipelineReport:
		p("source: %s", res.Source)
		p("work:   %s", res.WorkDir)
		p("output: %s", res.OutputPath)
		for _, st := range res.Stages {
			line := fmt.Sprintf("%-9s %-13s %s", st.Stage, st.Status, st.Message)
			if st.Error != "" {
				line += ": " + st.Error
			}
			p("%s", line)
		}

	default:
		p("%v", v)
	}

	return err
}
