// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd is a small framework for command line programs that parse
// gnuflag flags and run against a Context.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// Context represents the run context of a Command. Command implementations
// should interpret file names relative to Dir, and read the environment
// through Getenv.
type Context struct {
	context.Context

	Dir    string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context suitable for use in non-hosted
// applications.
func DefaultContext() (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return &Context{
		Context: context.Background(),
		Dir:     abs,
		Env:     env,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// Getenv looks up an environment variable in the context.
func (ctx *Context) Getenv(key string) string {
	return ctx.Env[key]
}

// AbsPath returns an absolute representation of path, with relative
// paths interpreted as relative to ctx.Dir.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Info holds some of the usage documentation of a Command.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected positional arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string
}

// Help renders i's content, along with documentation for any flags
// defined in f.
func (i *Info) Help(f *gnuflag.FlagSet) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage: %s", i.Name)
	if hasFlags(f) {
		buf.WriteString(" [flags]")
	}
	if i.Args != "" {
		fmt.Fprintf(&buf, " %s", i.Args)
	}
	buf.WriteString("\n")
	if i.Purpose != "" {
		fmt.Fprintf(&buf, "\nSummary:\n%s\n", strings.TrimSpace(i.Purpose))
	}
	if hasFlags(f) {
		buf.WriteString("\nOptions:\n")
		var flags strings.Builder
		f.SetOutput(&flags)
		f.PrintDefaults()
		f.SetOutput(io.Discard)
		buf.WriteString(flags.String())
	}
	if i.Doc != "" {
		fmt.Fprintf(&buf, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
	return []byte(buf.String())
}

func hasFlags(f *gnuflag.FlagSet) bool {
	found := false
	f.VisitAll(func(*gnuflag.Flag) { found = true })
	return found
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// Info returns information about the Command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the Command before running.
	Init(args []string) error

	// Run will execute the Command as directed by the options and
	// positional arguments passed to Init.
	Run(ctx *Context) error

	// AllowInterspersedFlags returns whether the command allows flag
	// arguments to be interspersed with non-flag arguments.
	AllowInterspersedFlags() bool
}

// CommandBase provides the default implementation for SetFlags, Init and
// AllowInterspersedFlags.
type CommandBase struct{}

// SetFlags does nothing in the simplest case.
func (c *CommandBase) SetFlags(f *gnuflag.FlagSet) {}

// Init in the simplest case makes sure there are no args.
func (c *CommandBase) Init(args []string) error {
	return CheckEmpty(args)
}

// AllowInterspersedFlags returns true by default.
func (c *CommandBase) AllowInterspersedFlags() bool {
	return true
}

// CheckEmpty is a utility function that returns an error if args is not
// empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// WriteError writes the error to the given writer.
func WriteError(w io.Writer, err error) {
	fmt.Fprintf(w, "ERROR %v\n", err)
}

// Main runs the given Command in the supplied Context with the given
// arguments, which should not include the command name. It returns a code
// suitable for passing to os.Exit.
func Main(c Command, ctx *Context, args []string) int {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	c.SetFlags(f)
	if err := f.Parse(c.AllowInterspersedFlags(), args); err != nil {
		if err == gnuflag.ErrHelp {
			_, _ = ctx.Stdout.Write(c.Info().Help(f))
			return 0
		}
		WriteError(ctx.Stderr, err)
		return 2
	}
	if err := c.Init(f.Args()); err != nil {
		WriteError(ctx.Stderr, err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		WriteError(ctx.Stderr, err)
		return 1
	}
	return 0
}
