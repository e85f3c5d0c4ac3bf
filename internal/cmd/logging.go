// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
)

// Log supplies the necessary functionality for Commands that wish to set
// up logging.
type Log struct {
	// Level, if set, is the level of the root logger. It takes
	// precedence over the level Config gives the root logger.
	Level string

	// Config is a loggo specification such as "<root>=INFO;kpi=DEBUG".
	Config string

	// DefaultConfig is used when Config is not set.
	DefaultConfig string

	// NewWriter, if set, returns the writer replacing loggo's default
	// writer once logging is configured.
	NewWriter func(ctx *Context) loggo.Writer
}

// AddFlags adds appropriate flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.StringVar(&l.Level, "log-level", "", "set the root log level (TRACE, DEBUG, INFO, WARNING, ERROR)")
	f.StringVar(&l.Config, "logging-config", "", "specify log levels for modules")
}

// Start configures loggers and the default writer.
func (l *Log) Start(ctx *Context) error {
	config := l.Config
	if config == "" {
		config = l.DefaultConfig
	}
	if l.Level != "" {
		level, ok := loggo.ParseLevel(l.Level)
		if !ok {
			return errors.NotValidf("log level %q", l.Level)
		}
		config = strings.Trim(config+";<root>="+level.String(), ";")
	}
	if config != "" {
		if err := loggo.ConfigureLoggers(config); err != nil {
			return errors.Annotate(err, "configuring loggers")
		}
	}
	var writer loggo.Writer
	if l.NewWriter != nil {
		writer = l.NewWriter(ctx)
	} else {
		writer = loggo.NewSimpleWriter(ctx.Stderr, loggo.DefaultFormatter)
	}
	// The default writer may already be gone if logging was reset.
	_, _ = loggo.RemoveWriter(loggo.DefaultWriterName)
	if err := loggo.RegisterWriter(loggo.DefaultWriterName, writer); err != nil {
		return errors.Annotate(err, "registering log writer")
	}
	return nil
}
