// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"fmt"
	"io"

	"github.com/juju/loggo/v2"
)

// LogWriter is a loggo.Writer sending log entries to the unit log through
// juju-log. If juju-log fails the entry is written to fallback instead.
type LogWriter struct {
	ctx      Context
	fallback io.Writer
}

// NewLogWriter returns a LogWriter for the hook context.
func NewLogWriter(ctx Context, fallback io.Writer) *LogWriter {
	return &LogWriter{ctx: ctx, fallback: fallback}
}

// Write implements loggo.Writer.
func (w *LogWriter) Write(entry loggo.Entry) {
	// Entries about running juju-log itself would recurse.
	if entry.Module == logger.Name() {
		return
	}
	msg := fmt.Sprintf("%s: %s", entry.Module, entry.Message)
	if err := w.ctx.Log(entry.Level, msg); err != nil && w.fallback != nil {
		fmt.Fprintf(w.fallback, "%s %s\n", entry.Level.Short(), msg)
	}
}
