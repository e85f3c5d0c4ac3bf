// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookcmd provides the command run by the KPI charm binaries for
// every hook.
package hookcmd

import (
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/proxy"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/canonical/kpi-charms/internal/cmd"
	"github.com/canonical/kpi-charms/internal/hook"
	"github.com/canonical/kpi-charms/internal/hookenv"
	"github.com/canonical/kpi-charms/internal/host"
	"github.com/canonical/kpi-charms/internal/kpi"
	"github.com/canonical/kpi-charms/internal/pushgateway"
	"github.com/canonical/kpi-charms/internal/reactive"
	"github.com/canonical/kpi-charms/internal/unitdata"
)

var logger = loggo.GetLogger("kpi.hookcmd")

const hookDoc = `
Runs the charm's handlers for a hook. The hook is taken from --hook, from
JUJU_DISPATCH_PATH, from JUJU_HOOK_NAME, or from the name the binary was
invoked as, in that order. Juju runs the binary through the charm's
dispatch script; running it by hand needs JUJU_UNIT_NAME and
JUJU_CHARM_DIR set and the hook tools on PATH.
`

// NewBusFunc returns the handlers of a charm.
type NewBusFunc func(kpi.Config) (*reactive.Bus, error)

// Config holds the dependencies of a HookCommand.
type Config struct {
	// Name is the name of the charm and its binary.
	Name string

	// Argv0 is the path the binary was run as.
	Argv0 string

	NewBus NewBusFunc
	Runner hookenv.Runner
	Clock  clock.Clock

	// NewApt and NewPushClient build the package installer and the
	// heartbeat client from the model's proxy settings.
	NewApt        func(proxy.Settings) kpi.PackageInstaller
	NewPushClient func(proxy.Settings) push.HTTPDoer
}

// HookCommand runs one hook of a charm.
type HookCommand struct {
	cmd.CommandBase
	config Config

	hookName string
	root     string
	log      cmd.Log
}

// NewHookCommand returns a HookCommand running hooks with the handlers
// newBus returns.
func NewHookCommand(name, argv0 string, newBus NewBusFunc) *HookCommand {
	return NewHookCommandWithConfig(Config{
		Name:   name,
		Argv0:  argv0,
		NewBus: newBus,
		Runner: hookenv.ExecRunner{},
		Clock:  clock.WallClock,
		NewApt: func(settings proxy.Settings) kpi.PackageInstaller {
			return host.NewApt(settings)
		},
		NewPushClient: func(settings proxy.Settings) push.HTTPDoer {
			return pushgateway.NewClient(settings)
		},
	})
}

// NewHookCommandWithConfig returns a HookCommand with the given
// dependencies.
func NewHookCommandWithConfig(config Config) *HookCommand {
	return &HookCommand{config: config}
}

// Info implements cmd.Command.
func (c *HookCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.config.Name,
		Purpose: "run a hook of the " + c.config.Name + " charm",
		Doc:     hookDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *HookCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.hookName, "hook", "", "name of the hook to run")
	f.StringVar(&c.root, "root", "", "directory prepended to the paths the charm writes")
	c.log.AddFlags(f)
}

// Init implements cmd.Command.
func (c *HookCommand) Init(args []string) error {
	if c.hookName != "" {
		if _, err := hook.Parse(c.hookName); err != nil {
			return errors.Trace(err)
		}
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *HookCommand) Run(ctx *cmd.Context) error {
	env, err := hookenv.ReadEnvironment(ctx.Getenv, c.resolveHookName(ctx))
	if err != nil {
		return errors.Trace(err)
	}
	hookCtx := hookenv.NewContext(env, c.config.Runner)

	c.log.DefaultConfig = ctx.Getenv(hookenv.EnvLoggingConfig)
	c.log.NewWriter = func(ctx *cmd.Context) loggo.Writer {
		return hookenv.NewLogWriter(hookCtx, ctx.Stderr)
	}
	if err := c.log.Start(ctx); err != nil {
		return errors.Trace(err)
	}

	kpiConfig := kpi.Config{
		Root:  c.root,
		Clock: c.config.Clock,
	}
	if c.config.NewApt != nil {
		kpiConfig.Apt = c.config.NewApt(env.Proxy)
	}
	if c.config.NewPushClient != nil {
		kpiConfig.PushClient = c.config.NewPushClient(env.Proxy)
	}
	bus, err := c.config.NewBus(kpiConfig)
	if err != nil {
		return errors.Trace(err)
	}

	dbPath := ctx.Getenv(hookenv.EnvUnitStateDB)
	if dbPath == "" {
		dbPath = filepath.Join(env.CharmDir, unitdata.DefaultFilename)
	}
	store, err := unitdata.Open(ctx, ctx.AbsPath(dbPath))
	if err != nil {
		return errors.Annotate(err, "opening unit data")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warningf("closing unit data: %v", err)
		}
	}()

	if err := reactive.Run(ctx, hookCtx, store, bus); err != nil {
		logger.Errorf("%s hook failed: %v", env.Hook.Name(), err)
		return errors.Trace(err)
	}
	return nil
}

// resolveHookName returns the hook named on the command line or, when
// the environment does not name one, the name the binary was invoked as
// through a hooks/<name> link.
func (c *HookCommand) resolveHookName(ctx *cmd.Context) string {
	if c.hookName != "" {
		return c.hookName
	}
	if ctx.Getenv(hook.EnvDispatchPath) != "" || ctx.Getenv(hook.EnvHookName) != "" {
		return ""
	}
	name := filepath.Base(c.config.Argv0)
	if _, err := hook.Parse(name); err != nil {
		return ""
	}
	return name
}
