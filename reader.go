// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Reader provides read-only access to a parsed ZIP central directory.
type Reader struct {
	// zr is the parsed archive, possibly through the locator overlay.
	zr *zip.Reader
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// strictErr is the strict parse failure when compat is set.
	strictErr error
	// entries stores immutable entry metadata in archive order.
	entries []EntryInfo
	// size is total source size in bytes.
	size int64
	// mu guards closed state and close operation.
	mu sync.Mutex
	// compat reports that the overlay was needed to parse.
	compat bool
	// closed reports whether Close was already called.
	closed bool
}

// Open opens a ZIP file by path and parses its central directory.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	opts.applyDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %w", ErrFatalIO, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat: %w", ErrFatalIO, err)
	}

	r, err := NewReaderFromReaderAt(f, fi.Size(), opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromReaderAt parses a ZIP central directory from ra of known size.
// Parse failures wrap ErrStructural.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	opts.applyDefaults()

	if ra == nil {
		return nil, ErrNilReader
	}

	r := &Reader{size: size}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		if opts.DisableZip64Compat || !errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %w", ErrStructural, err)
		}

		compatReader, compatErr := openWithLocatorOverlay(ra, size)
		if compatErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrStructural, err)
		}

		opts.Logger.Warn("central directory parsed only after in-memory total_disks overlay")
		zr = compatReader
		r.compat = true
		r.strictErr = fmt.Errorf("%w: %w: ZIP64 locator total_disks is 0", ErrStructural, err)
	}

	zr.RegisterDecompressor(uint16(MethodZstd), zstd.ZipDecompressor())
	r.zr = zr
	r.entries = make([]EntryInfo, len(zr.File))
	for i, f := range zr.File {
		r.entries[i] = entryInfoFromFile(f)
	}

	return r, nil
}

// entryInfoFromFile copies central directory metadata into EntryInfo.
func entryInfoFromFile(f *zip.File) EntryInfo {
	return EntryInfo{
		Name:             f.Name,
		UncompressedSize: f.UncompressedSize64,
		CompressedSize:   f.CompressedSize64,
		CRC32:            f.CRC32,
		Method:           Method(f.Method),
		Flags:            Flags(f.Flags),
		Modified:         f.Modified,
	}
}

// Entries returns a copy of parsed entries.
func (r *Reader) Entries() []EntryInfo {
	if r == nil {
		return nil
	}

	entries := make([]EntryInfo, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Compat reports whether the central directory was parsed through the locator overlay.
func (r *Reader) Compat() bool {
	return r != nil && r.compat
}

// Size returns the archive size in bytes.
func (r *Reader) Size() int64 {
	if r == nil {
		return 0
	}

	return r.size
}

// OpenEntry opens a decoded stream for the entry at index in archive order.
// Open failures wrap ErrEntryOpen or ErrEncryptedEntry.
func (r *Reader) OpenEntry(index int) (io.ReadCloser, error) {
	if r == nil || r.zr == nil {
		return nil, ErrNilReader
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if index < 0 || index >= len(r.zr.File) {
		return nil, fmt.Errorf("%w: %d", ErrEntryIndex, index)
	}

	f := r.zr.File[index]
	if Flags(f.Flags).Encrypted() {
		return nil, fmt.Errorf("%w: %s", ErrEncryptedEntry, f.Name)
	}

	if m := Method(f.Method); m.Kind() == KindUnsupported {
		return nil, fmt.Errorf("%w: %s: unsupported method %d", ErrEntryOpen, f.Name, uint16(m))
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s (method %s): %w", ErrEntryOpen, f.Name, Method(f.Method), err)
	}

	return rc, nil
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// Inspect parses the archive central directory and lists its entries.
// It never fails past the caller: parse and I/O errors land in InspectResult.Err.
func Inspect(path string, opts ReaderOptions) *InspectResult {
	opts.applyDefaults()
	log := opts.Logger.WithField("archive", path)
	res := &InspectResult{Path: path}

	r, err := Open(path, opts)
	if err != nil {
		res.setErr(err)
		log.WithError(err).Error("central directory could not be parsed")
		return res
	}
	defer func() { _ = r.Close() }()

	res.Size = r.Size()
	res.Entries = r.Entries()
	res.Compat = r.Compat()
	res.Clean = !res.Compat
	if res.Compat {
		res.setErr(r.strictErr)
	}

	log.Infof("%d entries found", len(res.Entries))
	for i := range res.Entries {
		e := &res.Entries[i]
		log.Infof("  - %s | %s (comp: %s, type=%s, flags=0x%04x)",
			e.Name,
			humanize.IBytes(e.UncompressedSize),
			humanize.IBytes(e.CompressedSize),
			e.Method,
			uint16(e.Flags),
		)
	}

	if res.Clean {
		log.Info("central directory parsed, archive is structurally OK")
	} else {
		log.Warn("central directory parsed only through ZIP64 compatibility overlay")
	}

	return res
}
