// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/woozymasta/pathrules"
)

// Internal binary layout of ZIP trailer records.
const (
	locatorSignature        = 0x07064b50 // ZIP64 end of central directory locator
	eocdSignature           = 0x06054b50 // classic end of central directory record
	eocd64Signature         = 0x06064b50 // ZIP64 end of central directory record
	locatorLen              = 20         // fixed locator record size
	eocdLen                 = 22         // fixed EOCD size without comment
	locatorDiskNumberOffset = 4
	locatorEOCDOffsetOffset = 8
	locatorTotalDisksOffset = 16
	locatorScanWindow       = 64 * 1024 // backward scan window for signature search
)

// Default tuning values.
const (
	// DefaultChunkSize is the extraction copy chunk size.
	DefaultChunkSize = 1 << 20
	// DefaultWriteBuffer is the buffered writer size used for rebuilt archives.
	DefaultWriteBuffer = 4 << 20
	// minChunkSize is the smallest accepted extraction chunk.
	minChunkSize = 4096
)

// Method is a ZIP compression method code.
type Method uint16

// Compression methods known to the reader.
const (
	// MethodStored marks uncompressed entries.
	MethodStored Method = 0
	// MethodDeflated marks deflate-compressed entries.
	MethodDeflated Method = 8
	// MethodZstd marks zstd-compressed entries (WinZip method id).
	MethodZstd Method = 93
)

// MethodKind classifies a Method. For KindUnsupported the raw code is the Method itself.
type MethodKind uint8

// Method kinds.
const (
	KindUnsupported MethodKind = iota
	KindStored
	KindDeflated
	KindZstd
)

// String returns the kind label.
func (k MethodKind) String() string {
	switch k {
	case KindStored:
		return "stored"
	case KindDeflated:
		return "deflated"
	case KindZstd:
		return "zstd"
	default:
		return "unsupported"
	}
}

// Kind returns the decoding class of the method.
func (m Method) Kind() MethodKind {
	switch m {
	case MethodStored:
		return KindStored
	case MethodDeflated:
		return KindDeflated
	case MethodZstd:
		return KindZstd
	default:
		return KindUnsupported
	}
}

// Supported reports whether entries with this method can be decoded.
func (m Method) Supported() bool {
	return m.Kind() != KindUnsupported
}

// String returns a short method label; unsupported methods render as their code.
func (m Method) String() string {
	switch m {
	case MethodStored:
		return "STORE"
	case MethodDeflated:
		return "DEFLATE"
	case MethodZstd:
		return "ZSTD"
	default:
		return strconv.Itoa(int(m))
	}
}

// Flags is the ZIP general purpose bit field.
type Flags uint16

// General purpose flag bits.
const (
	flagEncrypted      Flags = 1 << 0
	flagDataDescriptor Flags = 1 << 3
	flagUTF8           Flags = 1 << 11
)

// Encrypted reports whether the entry payload is encrypted.
func (f Flags) Encrypted() bool { return f&flagEncrypted != 0 }

// DataDescriptor reports whether sizes and CRC follow the payload.
func (f Flags) DataDescriptor() bool { return f&flagDataDescriptor != 0 }

// UTF8 reports whether the entry name is UTF-8 encoded.
func (f Flags) UTF8() bool { return f&flagUTF8 != 0 }

// EntryInfo describes a single central directory entry.
type EntryInfo struct {
	// Modified is the entry modification time.
	Modified time.Time `json:"modified,omitzero" yaml:"modified,omitempty"`
	// Name is the entry path as stored in the central directory.
	Name string `json:"name" yaml:"name"`
	// UncompressedSize is the advertised decoded size in bytes.
	UncompressedSize uint64 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// CompressedSize is the advertised stored payload size in bytes.
	CompressedSize uint64 `json:"compressed_size" yaml:"compressed_size"`
	// CRC32 is the advertised checksum of decoded content.
	CRC32 uint32 `json:"crc32" yaml:"crc32"`
	// Method is the compression method code.
	Method Method `json:"method" yaml:"method"`
	// Flags are general purpose bits.
	Flags Flags `json:"flags" yaml:"flags"`
}

// IsDir reports whether the entry denotes a directory.
// Archives written on Windows may end directory names with a backslash.
func (e *EntryInfo) IsDir() bool {
	return strings.HasSuffix(e.Name, "/") || strings.HasSuffix(e.Name, `\`)
}

// LocatorRecord is a decoded ZIP64 end of central directory locator.
type LocatorRecord struct {
	// Offset is the absolute file offset of the record.
	Offset int64 `json:"offset" yaml:"offset"`
	// EOCDOffset is the absolute offset of the ZIP64 EOCD record.
	EOCDOffset uint64 `json:"eocd_offset" yaml:"eocd_offset"`
	// Signature is the raw record signature.
	Signature uint32 `json:"signature" yaml:"signature"`
	// DiskNumber is the disk holding the ZIP64 EOCD record.
	DiskNumber uint32 `json:"disk_number" yaml:"disk_number"`
	// TotalDisks is the total number of disks as observed before any patch.
	TotalDisks uint32 `json:"total_disks" yaml:"total_disks"`
}

// PatchStatus is the terminal state of a locator patch attempt.
type PatchStatus string

// Locator patch outcomes.
const (
	// PatchPatched means total_disks was 0 and is (or would be, on dry run) rewritten to 1.
	PatchPatched PatchStatus = "patched"
	// PatchNotNeeded means total_disks is already 1.
	PatchNotNeeded PatchStatus = "not_needed"
	// PatchNotFound means no locator signature exists in the file.
	PatchNotFound PatchStatus = "not_found"
	// PatchMalformed means the locator candidate is truncated or fails validation.
	PatchMalformed PatchStatus = "malformed"
	// PatchUnexpectedValue means total_disks holds a value other than 0 or 1.
	PatchUnexpectedValue PatchStatus = "unexpected_value"
)

// Err maps a non-patched status to its sentinel error.
func (s PatchStatus) Err() error {
	switch s {
	case PatchPatched:
		return nil
	case PatchNotNeeded:
		return ErrLocatorNotNeeded
	case PatchNotFound:
		return ErrLocatorNotFound
	case PatchUnexpectedValue:
		return ErrUnexpectedDiskCount
	default:
		return ErrLocatorMalformed
	}
}

// PatchResult reports one locator patch attempt.
type PatchResult struct {
	// Locator is the decoded record; nil when no signature was found.
	Locator *LocatorRecord `json:"locator,omitempty" yaml:"locator,omitempty"`
	// Path is the archive path.
	Path string `json:"path" yaml:"path"`
	// Status is the terminal outcome.
	Status PatchStatus `json:"status" yaml:"status"`
	// DryRun reports that no write was attempted.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	// Applied reports that the 4-byte field was written and synced.
	Applied bool `json:"applied,omitempty" yaml:"applied,omitempty"`
	// EOCDVerified reports that the locator is followed by an EOCD record
	// and points at a ZIP64 EOCD record.
	EOCDVerified bool `json:"eocd_verified" yaml:"eocd_verified"`
}

// EntryStatus is the terminal state of one extracted entry.
type EntryStatus string

// Extraction outcomes.
const (
	// EntryComplete means the stream reached EOF without error.
	EntryComplete EntryStatus = "complete"
	// EntryPartial means decoding stopped on a stream error; flushed bytes are kept.
	EntryPartial EntryStatus = "partial_stream_error"
	// EntryFailed means the entry could not be opened or written.
	EntryFailed EntryStatus = "failed"
)

// EntryOutcome reports extraction of one entry.
type EntryOutcome struct {
	// Err is the absorbed failure, if any.
	Err error `json:"-" yaml:"-"`
	// Name is the entry name from the central directory.
	Name string `json:"name" yaml:"name"`
	// OutputPath is the destination path (empty when the name was rejected).
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	// Status is the terminal outcome.
	Status EntryStatus `json:"status" yaml:"status"`
	// Error is Err rendered for reports.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// Written is the number of bytes flushed to OutputPath.
	Written int64 `json:"written" yaml:"written"`
}

// BatchOutcome aggregates per-entry extraction outcomes in archive order.
type BatchOutcome struct {
	// Entries are outcomes in central directory order.
	Entries []EntryOutcome `json:"entries" yaml:"entries"`
	// HadAnySuccess reports at least one complete entry or one partial entry with data.
	HadAnySuccess bool `json:"had_any_success" yaml:"had_any_success"`
}

// add appends one outcome and updates the success flag.
func (b *BatchOutcome) add(outcome EntryOutcome) {
	if outcome.Err != nil {
		outcome.Error = outcome.Err.Error()
	}

	switch outcome.Status {
	case EntryComplete:
		b.HadAnySuccess = true
	case EntryPartial:
		if outcome.Written > 0 {
			b.HadAnySuccess = true
		}
	}

	b.Entries = append(b.Entries, outcome)
}

// count returns number of outcomes with the given status.
func (b *BatchOutcome) count(status EntryStatus) int {
	n := 0
	for i := range b.Entries {
		if b.Entries[i].Status == status {
			n++
		}
	}

	return n
}

// Complete returns number of complete entries.
func (b *BatchOutcome) Complete() int { return b.count(EntryComplete) }

// Partial returns number of entries cut short by stream errors.
func (b *BatchOutcome) Partial() int { return b.count(EntryPartial) }

// Failed returns number of failed entries.
func (b *BatchOutcome) Failed() int { return b.count(EntryFailed) }

// Err returns all absorbed per-entry errors as one multi-error, or nil.
func (b *BatchOutcome) Err() error {
	if b == nil {
		return nil
	}

	var merr *multierror.Error
	for i := range b.Entries {
		if b.Entries[i].Err != nil {
			merr = multierror.Append(merr, b.Entries[i].Err)
		}
	}

	return merr.ErrorOrNil()
}

// ManifestEntry is one file discovered for rebuild.
type ManifestEntry struct {
	// RelPath is the slash-separated entry name.
	RelPath string `json:"rel_path" yaml:"rel_path"`
	// SourcePath is the absolute source file path.
	SourcePath string `json:"source_path" yaml:"source_path"`
	// Size is the source file size at walk time.
	Size int64 `json:"size" yaml:"size"`
	// Stored reports that the entry is written without compression.
	Stored bool `json:"stored,omitempty" yaml:"stored,omitempty"`
}

// RebuildManifest is an ordered list of files in tree-walk order.
type RebuildManifest []ManifestEntry

// RebuildResult reports one rebuild.
type RebuildResult struct {
	// Output is the written archive path.
	Output string `json:"output" yaml:"output"`
	// FileCount is number of entries written.
	FileCount int `json:"file_count" yaml:"file_count"`
	// StoredCount is number of entries written without compression.
	StoredCount int `json:"stored_count,omitempty" yaml:"stored_count,omitempty"`
	// TotalBytes is the sum of source file sizes.
	TotalBytes int64 `json:"total_bytes" yaml:"total_bytes"`
	// Duration is end-to-end rebuild duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// InspectResult is the diagnostic view produced by the structural reader.
type InspectResult struct {
	// Err holds the structural or I/O failure, if any.
	Err error `json:"-" yaml:"-"`
	// Path is the archive path.
	Path string `json:"path" yaml:"path"`
	// Error is Err rendered for reports.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// Entries are central directory entries in archive order.
	Entries []EntryInfo `json:"entries,omitempty" yaml:"entries,omitempty"`
	// Size is the archive size in bytes.
	Size int64 `json:"size" yaml:"size"`
	// Clean reports that the central directory parsed without help.
	Clean bool `json:"clean" yaml:"clean"`
	// Compat reports that entries were listed through the in-memory locator overlay.
	Compat bool `json:"compat,omitempty" yaml:"compat,omitempty"`
}

// setErr records failure for both programmatic and report use.
func (r *InspectResult) setErr(err error) {
	r.Err = err
	r.Clean = false
	if err != nil {
		r.Error = err.Error()
	}
}

// Compression selects the default method for rebuilt entries.
type Compression string

// Rebuild compression choices.
const (
	// CompressionDeflate writes deflate entries (default).
	CompressionDeflate Compression = "deflate"
	// CompressionStore writes uncompressed entries.
	CompressionStore Compression = "store"
	// CompressionZstd writes zstd entries (method 93).
	CompressionZstd Compression = "zstd"
)

// method maps compression choice to ZIP method code.
func (c Compression) method() (Method, bool) {
	switch c {
	case "", CompressionDeflate:
		return MethodDeflated, true
	case CompressionStore:
		return MethodStored, true
	case CompressionZstd:
		return MethodZstd, true
	default:
		return 0, false
	}
}

// ReaderOptions configures archive opening.
type ReaderOptions struct {
	// Logger receives diagnostics; nil means silent.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// DisableZip64Compat disables the in-memory total_disks overlay on strict parse failure.
	DisableZip64Compat bool `json:"disable_zip64_compat,omitempty" yaml:"disable_zip64_compat,omitempty"`
}

// PatchOptions configures locator patching.
type PatchOptions struct {
	// Logger receives diagnostics; nil means silent.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// DryRun reports the intended patch without writing.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	// VerifyEOCD refuses to patch a locator that fails the EOCD cross-check.
	VerifyEOCD bool `json:"verify_eocd,omitempty" yaml:"verify_eocd,omitempty"`
}

// ExtractOptions configures resilient extraction.
type ExtractOptions struct {
	// Logger receives diagnostics; nil means silent.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// OnEntryDone is called after each recorded entry outcome.
	OnEntryDone func(outcome EntryOutcome) `json:"-" yaml:"-"`
	// Filter selects entries by path rules; empty means all entries.
	Filter []pathrules.Rule `json:"filter,omitempty" yaml:"filter,omitempty"`
	// FilterMatcherOptions control Filter matching.
	FilterMatcherOptions pathrules.MatcherOptions `json:"filter_matcher_options,omitzero" yaml:"filter_matcher_options,omitempty"`
	// Reader configures archive opening for path-based Extract.
	Reader ReaderOptions `json:"reader,omitzero" yaml:"reader,omitempty"`
	// ChunkSize is the copy chunk size in bytes.
	ChunkSize int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	// SanitizeNames rewrites unportable names and resolves case-insensitive collisions.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
}

// RebuildOptions configures archive rebuild.
type RebuildOptions struct {
	// Logger receives diagnostics; nil means silent.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// OnEntryDone is called after each written entry.
	OnEntryDone func(entry ManifestEntry) `json:"-" yaml:"-"`
	// Filter selects source files by relative path rules; empty means all files.
	Filter []pathrules.Rule `json:"filter,omitempty" yaml:"filter,omitempty"`
	// FilterMatcherOptions control Filter matching.
	FilterMatcherOptions pathrules.MatcherOptions `json:"filter_matcher_options,omitzero" yaml:"filter_matcher_options,omitempty"`
	// Store selects files written without compression.
	Store []pathrules.Rule `json:"store,omitempty" yaml:"store,omitempty"`
	// StoreMatcherOptions control Store matching.
	StoreMatcherOptions pathrules.MatcherOptions `json:"store_matcher_options,omitzero" yaml:"store_matcher_options,omitempty"`
	// Compression is the default method for entries not matched by Store.
	Compression Compression `json:"compression,omitempty" yaml:"compression,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
}

// PipelineOptions configures the repair pipeline.
type PipelineOptions struct {
	// Logger receives diagnostics; nil means silent.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// WorkDir holds the extracted tree and default output; empty means "<dir>/<stem>_work".
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	// OutputPath is the rebuilt archive path; empty means "<work>/<stem>.repacked.zip".
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	// Extract configures the extraction stage.
	Extract ExtractOptions `json:"extract,omitzero" yaml:"extract,omitempty"`
	// Rebuild configures the rebuild stage.
	Rebuild RebuildOptions `json:"rebuild,omitzero" yaml:"rebuild,omitempty"`
	// VerifyEOCD enables the strict locator cross-check in the patch stage.
	VerifyEOCD bool `json:"verify_eocd,omitempty" yaml:"verify_eocd,omitempty"`
}

// applyDefaults fills zero-valued reader options with defaults.
func (opts *ReaderOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)
}

// applyDefaults fills zero-valued patch options with defaults.
func (opts *PatchOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)
	if opts.Reader.Logger == nil {
		opts.Reader.Logger = opts.Logger
	}

	if opts.ChunkSize < minChunkSize {
		opts.ChunkSize = DefaultChunkSize
	}

	if opts.FilterMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.FilterMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionInclude,
		}
	}
}

// applyDefaults fills zero-valued rebuild options with defaults.
func (opts *RebuildOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)

	if opts.Compression == "" {
		opts.Compression = CompressionDeflate
	}

	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.FilterMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.FilterMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionInclude,
		}
	}

	if opts.StoreMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.StoreMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.StoreMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.StoreMatcherOptions.DefaultAction = pathrules.ActionExclude
	}
}

// applyDefaults fills zero-valued pipeline options with defaults.
func (opts *PipelineOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)
	if opts.Extract.Logger == nil {
		opts.Extract.Logger = opts.Logger
	}
	if opts.Rebuild.Logger == nil {
		opts.Rebuild.Logger = opts.Logger
	}
}
