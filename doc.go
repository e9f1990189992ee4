// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

/*
Package zipdoctor diagnoses and repairs damaged ZIP archives. It targets two
failure classes: archives whose ZIP64 end of central directory locator
advertises zero total disks, and archives whose individual entry streams are
corrupted or truncated.

Repair is split into four independent steps that can be used alone or chained
by Repair:
  - Inspect parses the central directory and lists entries;
  - FixLocator rewrites the locator total_disks field from 0 to 1 in place;
  - Extract salvages every entry it can, keeping partial output on stream errors;
  - Rebuild packs a directory tree into a fresh, standards-compliant archive.

All operations are synchronous and silent unless a logrus.FieldLogger is set
in their options.

# Inspecting

	res := zipdoctor.Inspect("broken.zip", zipdoctor.ReaderOptions{})
	if !res.Clean {
	    fmt.Println(res.Err)
	}
	for _, e := range res.Entries {
	    fmt.Println(e.Name, e.UncompressedSize, e.Method)
	}

When strict parsing fails on a zero total_disks locator, the reader retries
through an in-memory overlay and reports Compat. Disable that fallback with
ReaderOptions.DisableZip64Compat.

# Patching

	res, err := zipdoctor.FixLocator("broken.zip", zipdoctor.PatchOptions{
	    DryRun:     false,
	    VerifyEOCD: true,
	})
	if err != nil {
	    return err // I/O failure
	}
	switch res.Status {
	case zipdoctor.PatchPatched, zipdoctor.PatchNotNeeded:
	    // archive is readable by strict parsers
	}

The patch writes exactly four bytes and holds an exclusive advisory lock on
unix while doing so. Repeating it reports PatchNotNeeded.

# Extracting

	batch, err := zipdoctor.Extract("broken.zip", "out", zipdoctor.ExtractOptions{
	    Filter: []pathrules.Rule{
	        {Action: pathrules.ActionExclude, Pattern: "*.tmp"},
	    },
	})
	if err != nil {
	    return err // destination or archive unusable
	}
	for _, o := range batch.Entries {
	    fmt.Println(o.Name, o.Status, o.Written)
	}

Entry failures never stop the batch. A stream error leaves the bytes decoded
so far on disk and marks the entry EntryPartial; its error matches
ErrStreamCorruption.

Set ExtractOptions.SanitizeNames to write mangled names as portable file
names (see SanitizeName). Traversal is rejected either way.

# Rebuilding

	res, err := zipdoctor.Rebuild("out", "fixed.zip", zipdoctor.RebuildOptions{
	    Compression: zipdoctor.CompressionDeflate,
	    Store: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.png"},
	    },
	})
	if errors.Is(err, zipdoctor.ErrNothingToRebuild) {
	    // empty tree, no file written
	}

# Full repair

	report, err := zipdoctor.Repair("broken.zip", zipdoctor.PipelineOptions{})
	if err != nil {
	    return err // source missing or work dir not creatable
	}
	for _, st := range report.Stages {
	    fmt.Println(st.Stage, st.Status, st.Message)
	}
*/
package zipdoctor
