// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import "errors"

// Sentinel errors for repair operations. Use errors.Is in callers.
var (
	// ErrStructural means the central directory could not be parsed.
	ErrStructural = errors.New("archive structure is unreadable")
	// ErrLocatorNotFound means no ZIP64 end of central directory locator was found.
	ErrLocatorNotFound = errors.New("ZIP64 locator not found")
	// ErrLocatorMalformed means the locator candidate is truncated or inconsistent.
	ErrLocatorMalformed = errors.New("ZIP64 locator is malformed")
	// ErrUnexpectedDiskCount means total_disks holds a value other than 0 or 1.
	ErrUnexpectedDiskCount = errors.New("unexpected ZIP64 total disk count")
	// ErrLocatorNotNeeded means the locator is already valid.
	ErrLocatorNotNeeded = errors.New("ZIP64 locator does not need a patch")
	// ErrStreamCorruption means an entry stream failed while decoding.
	ErrStreamCorruption = errors.New("entry stream is corrupted")
	// ErrEntryOpen means an entry stream could not be opened.
	ErrEntryOpen = errors.New("cannot open entry stream")
	// ErrEncryptedEntry means the entry is encrypted and cannot be decoded.
	ErrEncryptedEntry = errors.New("entry is encrypted")
	// ErrFatalIO means a source or destination path is not usable at all.
	ErrFatalIO = errors.New("fatal I/O error")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrNothingToRebuild means the rebuild source tree has no regular files.
	ErrNothingToRebuild = errors.New("no files to rebuild")
	// ErrInvalidPathRules means one or more include/exclude rules are invalid.
	ErrInvalidPathRules = errors.New("invalid path rules")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrEntryIndex means an entry index is out of range.
	ErrEntryIndex = errors.New("entry index out of range")
)
