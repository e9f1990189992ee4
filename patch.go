// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// FixLocator patches the ZIP64 locator total_disks field from 0 to 1 in place.
//
// Only the 4-byte field is written, only when it currently holds 0, and the
// file length never changes. Every other observation is reported through
// PatchResult.Status. The returned error is non-nil only for I/O failures
// (wrapping ErrFatalIO).
func FixLocator(path string, opts PatchOptions) (*PatchResult, error) {
	opts.applyDefaults()
	log := opts.Logger.WithField("archive", path)

	res := &PatchResult{Path: path, DryRun: opts.DryRun}
	err := withLockedFile(path, !opts.DryRun, func(f *os.File, size int64) error {
		return fixLocatorFile(f, size, opts, res, log)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// fixLocatorFile runs locate, validate, and patch steps on an opened archive.
func fixLocatorFile(f *os.File, size int64, opts PatchOptions, res *PatchResult, log logrus.FieldLogger) error {
	rec, err := ReadLocator(f, size)
	switch {
	case errors.Is(err, ErrLocatorNotFound):
		res.Status = PatchNotFound
		log.Info("ZIP64 locator signature not found")
		return nil
	case errors.Is(err, ErrLocatorMalformed):
		res.Status = PatchMalformed
		res.Locator = &rec
		log.WithField("offset", rec.Offset).WithError(err).Warn("ZIP64 locator is malformed")
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrFatalIO, err)
	}

	res.Locator = &rec
	res.EOCDVerified = verifyLocatorEOCD(f, size, rec)
	log = log.WithFields(logrus.Fields{
		"offset":      rec.Offset,
		"disk_no":     rec.DiskNumber,
		"eocd_offset": rec.EOCDOffset,
		"total_disks": rec.TotalDisks,
	})
	log.Info("ZIP64 locator found")

	if !res.EOCDVerified {
		if opts.VerifyEOCD {
			res.Status = PatchMalformed
			log.Warn("ZIP64 locator failed EOCD cross-check, refusing to patch")
			return nil
		}

		log.Warn("ZIP64 locator is not followed by a consistent EOCD, match may be incidental")
	}

	switch rec.TotalDisks {
	case 1:
		res.Status = PatchNotNeeded
		log.Info("total_disks is already 1, no patch needed")
		return nil
	case 0:
	default:
		res.Status = PatchUnexpectedValue
		log.Warn("total_disks has unexpected value, leaving archive untouched")
		return nil
	}

	res.Status = PatchPatched
	if opts.DryRun {
		log.Info("total_disks is 0, dry run: not writing")
		return nil
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], 1)
	if _, err := f.WriteAt(field[:], rec.Offset+locatorTotalDisksOffset); err != nil {
		return fmt.Errorf("%w: write total_disks: %w", ErrFatalIO, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive: %w", ErrFatalIO, err)
	}

	res.Applied = true
	log.Info("total_disks patched from 0 to 1")
	return nil
}

// withLockedFile opens path, takes an advisory lock, and runs fn.
// Lock and handle are released on every return path.
func withLockedFile(path string, write bool, fn func(f *os.File, size int64) error) (err error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return fmt.Errorf("%w: open archive: %w", ErrFatalIO, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close archive: %w", ErrFatalIO, closeErr)
		}
	}()

	if err := lockFile(f, write); err != nil {
		return fmt.Errorf("%w: lock archive: %w", ErrFatalIO, err)
	}
	defer func() { _ = unlockFile(f) }()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat archive: %w", ErrFatalIO, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrFatalIO, path)
	}

	return fn(f, fi.Size())
}
