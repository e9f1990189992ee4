// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// StreamError reports a decode failure that cut one entry short.
// It matches ErrStreamCorruption and the underlying decoder error with errors.Is.
type StreamError struct {
	// Err is the decoder error (checksum mismatch, unexpected EOF, corrupt input).
	Err error
	// Entry is the entry name.
	Entry string
	// Offset is the number of decoded bytes delivered before the failure.
	Offset int64
}

// Error implements error.
func (e *StreamError) Error() string {
	return fmt.Sprintf("decode %s after %d bytes: %v", e.Entry, e.Offset, e.Err)
}

// Unwrap exposes both the sentinel and the decoder error.
func (e *StreamError) Unwrap() []error {
	return []error{ErrStreamCorruption, e.Err}
}

// Extract opens the archive at archivePath and extracts every entry into destDir,
// absorbing per-entry failures. See (*Reader).Extract.
func Extract(archivePath string, destDir string, opts ExtractOptions) (*BatchOutcome, error) {
	opts.applyDefaults()

	r, err := Open(archivePath, opts.Reader)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.Extract(destDir, opts)
}

// Extract writes entries to destDir strictly in central directory order.
//
// A stream error stops only the current entry: bytes already written are kept
// and the entry is marked EntryPartial. Open, path, and write failures mark the
// entry EntryFailed. Neither stops the batch. The returned error is non-nil
// only when destDir cannot be prepared or options are invalid.
func (r *Reader) Extract(destDir string, opts ExtractOptions) (*BatchOutcome, error) {
	if r == nil || r.zr == nil {
		return nil, ErrNilReader
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	opts.applyDefaults()
	log := opts.Logger

	filter, err := newPathMatcher(opts.Filter, opts.FilterMatcherOptions)
	if err != nil {
		return nil, err
	}

	dstRootAbs, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve output dir: %w", ErrFatalIO, err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", ErrFatalIO, err)
	}

	log.WithField("dest", dstRootAbs).Infof("extracting %d entries", len(r.entries))

	var names *nameSet
	if opts.SanitizeNames {
		names = newNameSet()
	}

	batch := &BatchOutcome{}
	copyBuf := make([]byte, opts.ChunkSize)
	for i := range r.entries {
		entry := &r.entries[i]
		if !filter.selects(entry.Name, entry.IsDir()) {
			continue
		}

		outcome, recorded := r.extractEntry(i, dstRootAbs, copyBuf, names)
		if !recorded {
			continue
		}

		logEntryOutcome(log, outcome)
		batch.add(outcome)
		if opts.OnEntryDone != nil {
			opts.OnEntryDone(batch.Entries[len(batch.Entries)-1])
		}
	}

	if batch.HadAnySuccess {
		log.Infof("extraction finished: %d complete, %d partial, %d failed",
			batch.Complete(), batch.Partial(), batch.Failed())
	} else {
		log.Warn("no entry could be extracted")
	}

	return batch, nil
}

// extractEntry extracts one entry and reports whether it produced an outcome.
// Directory entries that were created successfully produce none.
// A non-nil names set enables portable, collision-free file names.
func (r *Reader) extractEntry(index int, dstRootAbs string, copyBuf []byte, names *nameSet) (EntryOutcome, bool) {
	entry := &r.entries[index]
	outcome := EntryOutcome{Name: entry.Name}

	relPath, err := normalizeExtractEntryPath(entry.Name)
	if err != nil {
		return failOutcome(outcome, fmt.Errorf("%w: %q", err, entry.Name)), true
	}

	if names != nil {
		relPath = SanitizeName(relPath)
		if !entry.IsDir() {
			relPath = names.claim(relPath)
		}
	}

	outPath := filepath.Join(dstRootAbs, filepath.FromSlash(relPath))
	outcome.OutputPath = outPath

	if entry.IsDir() {
		if err := os.MkdirAll(outPath, 0o750); err != nil {
			return failOutcome(outcome, fmt.Errorf("create directory %s: %w", entry.Name, err)), true
		}

		return outcome, false
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return failOutcome(outcome, fmt.Errorf("create parent of %s: %w", entry.Name, err)), true
	}

	rc, err := r.OpenEntry(index)
	if err != nil {
		return failOutcome(outcome, err), true
	}
	defer func() { _ = rc.Close() }()

	file, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return failOutcome(outcome, fmt.Errorf("open %s: %w", outPath, err)), true
	}

	written, readErr, writeErr := copyChunks(file, rc, copyBuf)
	closeErr := file.Close()
	outcome.Written = written

	switch {
	case writeErr != nil:
		return failOutcome(outcome, fmt.Errorf("write %s: %w", entry.Name, writeErr)), true
	case closeErr != nil:
		return failOutcome(outcome, fmt.Errorf("close %s: %w", entry.Name, closeErr)), true
	case readErr != nil:
		outcome.Status = EntryPartial
		outcome.Err = &StreamError{Entry: entry.Name, Offset: written, Err: readErr}
		return outcome, true
	default:
		outcome.Status = EntryComplete
		return outcome, true
	}
}

// failOutcome marks outcome failed with err.
func failOutcome(outcome EntryOutcome, err error) EntryOutcome {
	outcome.Status = EntryFailed
	outcome.Err = err
	return outcome
}

// logEntryOutcome writes one log line per recorded outcome.
func logEntryOutcome(log logrus.FieldLogger, outcome EntryOutcome) {
	entryLog := log.WithFields(logrus.Fields{
		"entry":   outcome.Name,
		"written": humanize.IBytes(uint64(max(outcome.Written, 0))), //nolint:gosec // clamped to non-negative
	})

	switch outcome.Status {
	case EntryComplete:
		entryLog.Info("extracted")
	case EntryPartial:
		entryLog.WithError(outcome.Err).Warn("stream error, kept bytes written so far")
	default:
		entryLog.WithError(outcome.Err).Error("entry could not be extracted")
	}
}

// copyChunks copies src to dst through buf. Bytes returned together with a read
// error are written before the error is reported. Read and write failures are
// returned separately so callers can tell source corruption from destination faults.
func copyChunks(dst io.Writer, src io.Reader, buf []byte) (int64, error, error) { //nolint:revive // read and write errors have distinct meaning
	if len(buf) == 0 {
		return 0, nil, io.ErrShortBuffer
	}

	var total int64
	for {
		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, nil, writeErr
			}

			if writeN != readN {
				return total, nil, io.ErrShortWrite
			}
		}

		if readErr == nil {
			continue
		}

		if readErr == io.EOF {
			return total, nil, nil
		}

		return total, readErr, nil
	}
}
