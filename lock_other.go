// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package zipdoctor

import "os"

// lockFile is a no-op where flock is unavailable.
func lockFile(*os.File, bool) error { return nil }

// unlockFile is a no-op where flock is unavailable.
func unlockFile(*os.File) error { return nil }
