// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package zipdoctor

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking flock, exclusive for writers and shared otherwise.
func lockFile(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	return unix.Flock(int(f.Fd()), how|unix.LOCK_NB) //nolint:gosec // fd fits int
}

// unlockFile releases a lock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:gosec // fd fits int
}
