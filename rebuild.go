// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// BuildManifest walks srcDir in lexical order and lists regular files to pack.
// Symlinks and other non-regular files are skipped.
func BuildManifest(srcDir string, opts RebuildOptions) (RebuildManifest, error) {
	opts.applyDefaults()
	return buildManifest(srcDir, "", opts)
}

// buildManifest lists files under srcDir, skipping skipPath when it is non-empty.
func buildManifest(srcDir string, skipPath string, opts RebuildOptions) (RebuildManifest, error) {
	rootAbs, err := filepath.Abs(srcDir)
	if err != nil {
		return nil, fmt.Errorf("resolve source dir: %w", err)
	}

	info, err := os.Stat(rootAbs)
	if err != nil {
		return nil, fmt.Errorf("%w: stat source dir: %w", ErrFatalIO, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrFatalIO, rootAbs)
	}

	filter, err := newPathMatcher(opts.Filter, opts.FilterMatcherOptions)
	if err != nil {
		return nil, err
	}

	store, err := newPathMatcher(opts.Store, opts.StoreMatcherOptions)
	if err != nil {
		return nil, err
	}

	var manifest RebuildManifest
	err = filepath.WalkDir(rootAbs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		if skipPath != "" && p == skipPath {
			return nil
		}

		rel, err := filepath.Rel(rootAbs, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if !filter.selects(rel, false) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		manifest = append(manifest, ManifestEntry{
			RelPath:    rel,
			SourcePath: p,
			Size:       fi.Size(),
			Stored:     store.Match(rel, false),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk source dir: %w", ErrFatalIO, err)
	}

	return manifest, nil
}

// Rebuild packs every regular file under srcDir into a fresh archive at outPath.
//
// Entries are written in lexical walk order with slash separated names and
// source modification times. An empty tree returns a zero-count result with
// ErrNothingToRebuild and leaves no output file. A failed write removes the
// partial output.
func Rebuild(srcDir string, outPath string, opts RebuildOptions) (*RebuildResult, error) {
	opts.applyDefaults()
	start := time.Now()

	method, ok := opts.Compression.method()
	if !ok {
		return nil, fmt.Errorf("unknown compression %q", opts.Compression)
	}

	outAbs, err := filepath.Abs(outPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	log := opts.Logger.WithField("archive", outAbs)
	manifest, err := buildManifest(srcDir, outAbs, opts)
	if err != nil {
		return nil, err
	}

	res := &RebuildResult{Output: outAbs}
	if len(manifest) == 0 {
		log.Warn("no files to rebuild")
		return res, ErrNothingToRebuild
	}

	if err := os.MkdirAll(filepath.Dir(outAbs), 0o750); err != nil {
		return nil, fmt.Errorf("%w: create output parent: %w", ErrFatalIO, err)
	}

	if err := writeArchiveFile(outAbs, manifest, method, opts, res, log); err != nil {
		_ = os.Remove(outAbs)
		return nil, err
	}

	res.Duration = time.Since(start)
	log.Infof("rebuilt %d files (%s) in %s", res.FileCount, humanize.IBytes(uint64(res.TotalBytes)), res.Duration) //nolint:gosec // sum of file sizes

	return res, nil
}

// writeArchiveFile creates outPath and writes manifest entries into it.
func writeArchiveFile(
	outPath string,
	manifest RebuildManifest,
	method Method,
	opts RebuildOptions,
	res *RebuildResult,
	log logrus.FieldLogger,
) error {
	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create archive: %w", ErrFatalIO, err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	bw := bufio.NewWriterSize(f, opts.WriterBufferSize)
	zw := zip.NewWriter(bw)
	zw.RegisterCompressor(uint16(MethodZstd), zstd.ZipCompressor())

	for i := range manifest {
		entry := &manifest[i]
		entryMethod := method
		if entry.Stored {
			entryMethod = MethodStored
		}

		written, err := writeArchiveEntry(zw, entry, entryMethod)
		if err != nil {
			return err
		}

		res.FileCount++
		res.TotalBytes += written
		if entry.Stored {
			res.StoredCount++
		}

		log.WithFields(logrus.Fields{
			"entry":   entry.RelPath,
			"written": humanize.IBytes(uint64(written)), //nolint:gosec // copy count is non-negative
		}).Debugf("added (%s)", entryMethod)

		if opts.OnEntryDone != nil {
			opts.OnEntryDone(*entry)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	f = nil

	return nil
}

// writeArchiveEntry copies one source file into zw and returns bytes read.
func writeArchiveEntry(zw *zip.Writer, entry *ManifestEntry, method Method) (int64, error) {
	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", entry.RelPath, err)
	}
	defer func() { _ = src.Close() }()

	fi, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", entry.RelPath, err)
	}

	fh, err := zip.FileInfoHeader(fi)
	if err != nil {
		return 0, fmt.Errorf("header %s: %w", entry.RelPath, err)
	}

	fh.Name = entry.RelPath
	fh.Method = uint16(method)

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return 0, fmt.Errorf("create entry %s: %w", entry.RelPath, err)
	}

	written, err := io.Copy(w, src)
	if err != nil {
		return written, fmt.Errorf("write entry %s: %w", entry.RelPath, err)
	}

	return written, nil
}
