// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/kompute/backend"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for kompute and its backends.
// By default, kompute produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the default
// silent behavior.
//
// Log levels used by kompute:
//   - [slog.LevelDebug]: recording and submission details, buffer sizes
//   - [slog.LevelInfo]: device selection, manager lifecycle
//   - [slog.LevelWarn]: begin/end in the wrong state, fallbacks
//
// Example:
//
//	kompute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	backend.SetLogger(l)
}

// Logger returns the current logger used by kompute.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
