// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"
	"runtime"

	"github.com/juju/loggo/v2"

	"github.com/canonical/kpi-charms/internal/cmd"
	"github.com/canonical/kpi-charms/internal/hookcmd"
	"github.com/canonical/kpi-charms/internal/kpi"
)

var logger = loggo.GetLogger("kpi.cmd.charmbuild-kpi-import")

const (
	// exit_err is the value that is returned when the binary cannot set
	// up its command context.
	exit_err = 2
	// exit_panic is the value that is returned when we exit due to an
	// unhandled panic.
	exit_panic = 3
)

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(), because it provides an entry point
// for testing with arbitrary command line arguments.
func Main(args []string) int {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Criticalf("Unhandled panic: \n%v\n%s", r, buf)
			os.Exit(exit_panic)
		}
	}()

	ctx, err := cmd.DefaultContext()
	if err != nil {
		cmd.WriteError(os.Stderr, err)
		return exit_err
	}
	c := hookcmd.NewHookCommand(kpi.CharmbuildKPIImport, args[0], kpi.NewCharmbuildKPIImport)
	return cmd.Main(c, ctx, args[1:])
}
