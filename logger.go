// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is shared by components that were not given a logger.
var discardLogger = newDiscardLogger()

// newDiscardLogger returns a logger that formats nothing and writes nowhere.
func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// loggerOrDiscard returns l, or the shared silent logger when l is nil.
func loggerOrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return discardLogger
	}

	return l
}
