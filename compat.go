// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// singleDiskValue is the little-endian encoding of total_disks = 1.
var singleDiskValue = [4]byte{1, 0, 0, 0}

// openWithLocatorOverlay re-parses an archive whose ZIP64 locator carries
// total_disks = 0, presenting the corrected field in memory only.
func openWithLocatorOverlay(ra io.ReaderAt, size int64) (*zip.Reader, error) {
	rec, err := ReadLocator(ra, size)
	if err != nil {
		return nil, err
	}

	if rec.TotalDisks != 0 {
		return nil, fmt.Errorf("%w: total_disks=%d", ErrUnexpectedDiskCount, rec.TotalDisks)
	}

	overlay := &patchedReaderAt{
		base:        ra,
		patchOffset: rec.Offset + locatorTotalDisksOffset,
		patchBytes:  singleDiskValue[:],
	}

	return zip.NewReader(overlay, size)
}

// patchedReaderAt forwards reads to base and overlays patchBytes at patchOffset.
type patchedReaderAt struct {
	base        io.ReaderAt
	patchBytes  []byte
	patchOffset int64
}

// ReadAt implements io.ReaderAt.
func (p *patchedReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	n, err := p.base.ReadAt(buf, off)
	if n <= 0 {
		return n, err
	}

	readEnd := off + int64(n)
	patchStart := p.patchOffset
	patchEnd := p.patchOffset + int64(len(p.patchBytes))
	if readEnd <= patchStart || off >= patchEnd {
		return n, err
	}

	start := max(off, patchStart)
	end := min(readEnd, patchEnd)
	copy(buf[start-off:end-off], p.patchBytes[start-patchStart:end-patchStart])

	return n, err
}
