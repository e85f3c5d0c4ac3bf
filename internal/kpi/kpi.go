// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kpi implements the handlers of the KPI charms. Each charm
// installs a set of KPI collection scripts, configures them to report to
// a Prometheus push gateway found over a relation, and runs them from
// cron.
package kpi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/canonical/kpi-charms/core/status"
	"github.com/canonical/kpi-charms/internal/hook"
	"github.com/canonical/kpi-charms/internal/host"
	"github.com/canonical/kpi-charms/internal/pushgateway"
	"github.com/canonical/kpi-charms/internal/reactive"
	"github.com/canonical/kpi-charms/internal/render"
)

var logger = loggo.GetLogger("kpi.charm")

const (
	optionRunAs    = "run-as"
	optionSchedule = "schedule"

	defaultUser = "ubuntu"
)

// PackageInstaller installs distribution packages.
type PackageInstaller interface {
	Install(ctx context.Context, packages ...string) error
}

// Config holds the dependencies shared by the charms.
type Config struct {
	// Root is prepended to every path the charm writes outside the
	// charm directory. It is empty outside tests.
	Root string

	// Apt installs the packages the scripts need, for charms that
	// install any.
	Apt PackageInstaller

	Clock clock.Clock

	// PushClient, if set, is used to push heartbeats.
	PushClient push.HTTPDoer

	// PushTimeout bounds a heartbeat push. The push gateway default
	// applies when it is zero.
	PushTimeout time.Duration
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Paths locates the files a charm installs on its machine.
type Paths struct {
	Name string
}

// ScriptDir is where the scripts are installed.
func (p Paths) ScriptDir() string {
	return filepath.Join("/srv", p.Name, "parts")
}

// ConfigFile is the configuration file read by the scripts.
func (p Paths) ConfigFile() string {
	return filepath.Join("/etc", p.Name+".ini")
}

// CronFile is the cron job running the scripts.
func (p Paths) CronFile() string {
	return filepath.Join("/etc/cron.d", p.Name)
}

// base holds what both charms do the same way.
type base struct {
	config Config
	paths  Paths
}

func (b *base) onHost(path string) string {
	return filepath.Join(b.config.Root, path)
}

func (b *base) reporter(rc *reactive.Context) *status.Reporter {
	return status.NewReporter(rc.Hook, logger)
}

func (b *base) installScripts(rc *reactive.Context, src string) error {
	dst := b.paths.ScriptDir()
	if err := b.reporter(rc).Maintenance(fmt.Sprintf("Copying scripts from %s to %s", src, dst)); err != nil {
		return errors.Trace(err)
	}
	if err := host.Mkdir(b.onHost(dst), "", 0755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(host.SyncDir(src, b.onHost(dst)))
}

// writeConfigFile renders the scripts' configuration file. The runner
// script is not listed as a script to run.
func (b *base) writeConfigFile(rc *reactive.Context, pushGateway string, omit ...string) error {
	target := b.paths.ConfigFile()
	if err := b.reporter(rc).Maintenance(fmt.Sprintf("rendering config %s", filepath.Base(target))); err != nil {
		return errors.Trace(err)
	}
	found, err := host.ListScripts(b.onHost(b.paths.ScriptDir()))
	if err != nil {
		return errors.Trace(err)
	}
	var scripts []string
	for _, script := range found {
		if script != b.paths.Name {
			scripts = append(scripts, script)
		}
	}
	data, err := render.ConfigFile(render.ConfigParams{
		PushGateway: pushGateway,
		ScriptDir:   b.paths.ScriptDir(),
		Scripts:     scripts,
		Config:      rc.Config,
		Omit:        omit,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.writeFile(target, data))
}

func (b *base) writeCronJob(rc *reactive.Context, user string) error {
	target := b.paths.CronFile()
	if err := b.reporter(rc).Maintenance(fmt.Sprintf("installing %s to %s", render.CronTemplateName, target)); err != nil {
		return errors.Trace(err)
	}
	tmpl, err := render.LoadCronTemplate(rc.Charm.Path)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := render.CronJob(tmpl, render.CronParams{
		Schedule:   rc.Config.String(optionSchedule),
		User:       user,
		ScriptDir:  b.paths.ScriptDir(),
		ScriptName: b.paths.Name,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.writeFile(target, data))
}

func (b *base) writeFile(target string, data []byte) error {
	path := b.onHost(target)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(host.WriteFile(path, data, "", 0755))
}

// removeCronJob stops the scripts from running once the unit is going
// away.
func (b *base) removeCronJob(_ context.Context, rc *reactive.Context) error {
	logger.Infof("removing %s", b.paths.CronFile())
	return errors.Trace(host.Remove(b.onHost(b.paths.CronFile())))
}

// heartbeat pushes the unit's heartbeat to the gateway. Failing to push
// is logged and otherwise ignored.
func (b *base) heartbeat(ctx context.Context, rc *reactive.Context, pushGateway string) error {
	hb, err := pushgateway.NewHeartbeat(pushgateway.Config{
		Charm:   rc.Charm.Meta.Name,
		Unit:    rc.Hook.UnitName(),
		Clock:   b.config.Clock,
		Client:  b.config.PushClient,
		Timeout: b.config.PushTimeout,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := hb.Push(ctx, pushGateway); err != nil {
		logger.Warningf("%v", err)
	}
	return nil
}

// validSchedule reports whether the configured schedule can be used,
// blocking the unit if not.
func (b *base) validSchedule(rc *reactive.Context) (bool, error) {
	schedule := rc.Config.String(optionSchedule)
	if err := render.ValidateSchedule(schedule); err != nil {
		logger.Errorf("%v", err)
		return false, errors.Trace(b.reporter(rc).Blocked(fmt.Sprintf("invalid schedule %q", schedule)))
	}
	return true, nil
}

func relationHook(endpoint string, kind hook.Kind) string {
	return hook.Info{Kind: kind, RelationName: endpoint}.Name()
}
