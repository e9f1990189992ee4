// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ReadLocator finds the rightmost ZIP64 locator signature in ra and decodes the record.
// It returns ErrLocatorNotFound when no signature exists and ErrLocatorMalformed
// (with Offset set) when the record is truncated or its signature does not re-read.
func ReadLocator(ra io.ReaderAt, size int64) (LocatorRecord, error) {
	if ra == nil {
		return LocatorRecord{}, ErrNilReader
	}

	offset, err := findLastSignature(ra, size, locatorSignature)
	if err != nil {
		return LocatorRecord{}, fmt.Errorf("scan for locator: %w", err)
	}
	if offset < 0 {
		return LocatorRecord{}, ErrLocatorNotFound
	}

	rec := LocatorRecord{Offset: offset}
	if size-offset < locatorLen {
		return rec, fmt.Errorf("%w: record at %d runs past end of file", ErrLocatorMalformed, offset)
	}

	var raw [locatorLen]byte
	if _, err := ra.ReadAt(raw[:], offset); err != nil {
		return rec, fmt.Errorf("read locator: %w", err)
	}

	rec = decodeLocator(raw[:], offset)
	if rec.Signature != locatorSignature {
		return rec, fmt.Errorf("%w: signature 0x%08x at %d", ErrLocatorMalformed, rec.Signature, offset)
	}

	return rec, nil
}

// decodeLocator overlays the fixed 20-byte layout on raw.
func decodeLocator(raw []byte, offset int64) LocatorRecord {
	return LocatorRecord{
		Offset:     offset,
		Signature:  binary.LittleEndian.Uint32(raw[0:4]),
		DiskNumber: binary.LittleEndian.Uint32(raw[locatorDiskNumberOffset : locatorDiskNumberOffset+4]),
		EOCDOffset: binary.LittleEndian.Uint64(raw[locatorEOCDOffsetOffset : locatorEOCDOffsetOffset+8]),
		TotalDisks: binary.LittleEndian.Uint32(raw[locatorTotalDisksOffset : locatorTotalDisksOffset+4]),
	}
}

// verifyLocatorEOCD cross-checks a locator against the surrounding trailer:
// a classic EOCD record must follow it and EOCDOffset must point at a ZIP64 EOCD record.
func verifyLocatorEOCD(ra io.ReaderAt, size int64, rec LocatorRecord) bool {
	next := rec.Offset + locatorLen
	if size-next < eocdLen || !signatureAt(ra, next, eocdSignature) {
		return false
	}

	if rec.EOCDOffset > uint64(rec.Offset) {
		return false
	}

	return signatureAt(ra, int64(rec.EOCDOffset), eocd64Signature) //nolint:gosec // bounded by rec.Offset above
}

// signatureAt reports whether the 4 bytes at offset equal sig.
func signatureAt(ra io.ReaderAt, offset int64, sig uint32) bool {
	var raw [4]byte
	if _, err := ra.ReadAt(raw[:], offset); err != nil {
		return false
	}

	return binary.LittleEndian.Uint32(raw[:]) == sig
}

// findLastSignature scans backward from size in fixed windows and returns the
// offset of the rightmost little-endian sig, or -1 when absent.
func findLastSignature(ra io.ReaderAt, size int64, sig uint32) (int64, error) {
	var pattern [4]byte
	binary.LittleEndian.PutUint32(pattern[:], sig)

	// Windows overlap by len(pattern)-1 so a match straddling a boundary is seen once.
	buf := make([]byte, locatorScanWindow+len(pattern)-1)
	end := size
	for end > 0 {
		start := max(end-locatorScanWindow, 0)
		readEnd := min(end+int64(len(pattern)-1), size)
		window := buf[:readEnd-start]

		if _, err := ra.ReadAt(window, start); err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}

		if idx := bytes.LastIndex(window, pattern[:]); idx >= 0 {
			return start + int64(idx), nil
		}

		end = start
	}

	return -1, nil
}
