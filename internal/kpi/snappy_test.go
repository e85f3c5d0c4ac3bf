// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kpi_test

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"
	"gopkg.in/ini.v1"

	"github.com/canonical/kpi-charms/core/status"
	"github.com/canonical/kpi-charms/internal/hook"
	hookenvtesting "github.com/canonical/kpi-charms/internal/hookenv/testing"
	"github.com/canonical/kpi-charms/internal/kpi"
	"github.com/canonical/kpi-charms/internal/reactive"
)

type SnappySuite struct {
	charmSuite
	apt *MockPackageInstaller
}

var _ = gc.Suite(&SnappySuite{charmSuite: charmSuite{charm: kpi.SnappyKPIScripts}})

const (
	gatewayRelation = "juju-info:3"
	gatewayUnit     = "prometheus-pushgateway/0"
)

func (s *SnappySuite) setupMocks(c *gc.C) (*gomock.Controller, *reactive.Bus) {
	ctrl := gomock.NewController(c)
	s.apt = NewMockPackageInstaller(ctrl)
	bus, err := kpi.NewSnappyKPIScripts(kpi.Config{
		Root:        s.root,
		Apt:         s.apt,
		Clock:       s.clock,
		PushClient:  s.doer,
		PushTimeout: 50 * time.Millisecond,
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl, bus
}

func (s *SnappySuite) settings(c *gc.C) map[string]any {
	return map[string]any{
		"launchpad-credentials":                      base64.StdEncoding.EncodeToString([]byte("lp-secret")),
		"launchpad-credentials-file":                 "/home/kpi/.config/lp/credentials",
		"ga-dashboard-snapcraft-io-credentials":      base64.StdEncoding.EncodeToString([]byte(`{"key": "ga"}`)),
		"ga-dashboard-snapcraft-io-credentials-file": "/home/kpi/.config/ga/dashboard.json",
		"run-as": currentUser(c),
	}
}

func (s *SnappySuite) withGateway(ctx *hookenvtesting.Context) *hookenvtesting.Context {
	ctx.AddRelationUnit(gatewayRelation, "juju-info", gatewayUnit, map[string]string{
		"private-address": "10.0.0.4",
	})
	return ctx
}

// configure runs config-changed with complete config and a related push
// gateway, after putting a KPI script in place.
func (s *SnappySuite) configure(c *gc.C, bus *reactive.Bus) {
	scriptDir := s.onHost("/srv/snappy-kpi-scripts/parts")
	c.Assert(os.MkdirAll(scriptDir, 0755), jc.ErrorIsNil)
	for _, name := range []string{"snappy-kpi-scripts", "snap_stats", "helpers.py"} {
		c.Assert(os.WriteFile(filepath.Join(scriptDir, name), []byte("#!/bin/sh\n"), 0755), jc.ErrorIsNil)
	}
	hookCtx := s.withGateway(s.hookContext(hook.Info{Kind: hook.ConfigChanged}, s.settings(c)))
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Active,
		Message: "Configured push gateway 10.0.0.4",
	})
}

func (s *SnappySuite) TestNewRequiresApt(c *gc.C) {
	_, err := kpi.NewSnappyKPIScripts(kpi.Config{Clock: s.clock})
	c.Check(err, gc.ErrorMatches, "nil Apt not valid")
}

func (s *SnappySuite) TestInstallUnconfigured(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.apt.EXPECT().Install(gomock.Any(),
		"python-configparser",
		"python-prometheus-client",
		"python-github",
		"python-cssselect",
		"python3-prometheus-client",
		"python3-trello",
		"python-googleapi",
		"python-xdg",
	).Return(nil)

	hookCtx := s.hookContext(hook.Info{Kind: hook.Install}, nil)
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	info, err := os.Stat(s.onHost("/srv/snappy-kpi-scripts/parts/snappy-kpi-scripts"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm()&0100, gc.Not(gc.Equals), os.FileMode(0))

	c.Check(hasStatus(hookCtx.Statuses, status.Blocked, "launchpad-credentials must be set"), jc.IsTrue)
	c.Check(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Blocked,
		Message: "Waiting for push-gateway relation",
	})
	c.Check(s.flagSet(c, kpi.FlagSnappyConfigured), jc.IsFalse)
}

func (s *SnappySuite) TestUpgradeInstallsExtraPackages(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	var installed []string
	s.apt.EXPECT().Install(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, packages ...string) error {
			installed = packages
			return nil
		})

	settings := s.settings(c)
	settings["extra-packages"] = "python3-yaml  jq"
	hookCtx := s.withGateway(s.hookContext(hook.Info{Kind: hook.UpgradeCharm}, settings))
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(installed[len(installed)-2:], jc.DeepEquals, []string{"python3-yaml", "jq"})
	c.Check(s.flagSet(c, kpi.FlagSnappyConfigured), jc.IsTrue)
	c.Check(hookCtx.LastStatus().Status, gc.Equals, status.Active)
}

func (s *SnappySuite) TestInstallAptFailure(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.apt.EXPECT().Install(gomock.Any(), gomock.Any()).Return(errors.New("dpkg is broken"))

	err := s.run(bus, s.hookContext(hook.Info{Kind: hook.Install}, nil))
	c.Check(err, gc.ErrorMatches, "handler install-files: installing script prerequisites: dpkg is broken")
}

func (s *SnappySuite) TestConfigChangedMissingOption(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	settings := s.settings(c)
	settings["ga-dashboard-snapcraft-io-credentials-file"] = ""
	hookCtx := s.hookContext(hook.Info{Kind: hook.ConfigChanged}, settings)
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(hookCtx.Statuses, jc.DeepEquals, []status.StatusInfo{
		{Status: status.Maintenance, Message: "checking configuration"},
		{Status: status.Blocked, Message: "ga-dashboard-snapcraft-io-credentials-file must be set"},
		{Status: status.Blocked, Message: "Waiting for push-gateway relation"},
	})
	c.Check(s.flagSet(c, kpi.FlagSnappyConfigured), jc.IsFalse)
}

func (s *SnappySuite) TestConfigChangedInvalidSchedule(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	settings := s.settings(c)
	settings["schedule"] = "every hour"
	hookCtx := s.hookContext(hook.Info{Kind: hook.ConfigChanged}, settings)
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(hasStatus(hookCtx.Statuses, status.Blocked, `invalid schedule "every hour"`), jc.IsTrue)
	c.Check(s.flagSet(c, kpi.FlagSnappyConfigured), jc.IsFalse)
}

func (s *SnappySuite) TestWriteConfig(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)
	c.Check(s.flagSet(c, kpi.FlagPushGatewayConfigured), jc.IsTrue)

	data, err := os.ReadFile(s.onHost("/home/kpi/.config/lp/credentials"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "lp-secret")
	data, err = os.ReadFile(s.onHost("/home/kpi/.config/ga/dashboard.json"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, `{"key": "ga"}`)
	info, err := os.Stat(s.onHost("/home/kpi/.config/lp"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0700))

	cfg, err := ini.Load(s.onHost("/etc/snappy-kpi-scripts.ini"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Section("global").Key("push_gateway").String(), gc.Equals, "10.0.0.4")
	c.Check(cfg.Section("global").Key("script_dir").String(), gc.Equals, "/srv/snappy-kpi-scripts/parts")
	c.Check(cfg.Section("config").HasKey("launchpad-credentials"), jc.IsFalse)
	c.Check(cfg.Section("config").Key("launchpad-credentials-file").String(), gc.Equals, "/home/kpi/.config/lp/credentials")
	c.Check(cfg.HasSection("script:snap_stats"), jc.IsTrue)
	c.Check(cfg.HasSection("script:snappy-kpi-scripts"), jc.IsFalse)
	c.Check(cfg.HasSection("script:helpers.py"), jc.IsFalse)

	data, err = os.ReadFile(s.onHost("/etc/cron.d/snappy-kpi-scripts"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains,
		"*/15 * * * * "+currentUser(c)+" cd '/srv/snappy-kpi-scripts/parts' && ./snappy-kpi-scripts")
}

func (s *SnappySuite) TestWriteConfigBadCredentials(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	settings := s.settings(c)
	settings["launchpad-credentials"] = "not base64!"
	hookCtx := s.withGateway(s.hookContext(hook.Info{Kind: hook.ConfigChanged}, settings))
	err := s.run(bus, hookCtx)
	c.Check(err, gc.ErrorMatches, "handler write-config: decoding launchpad-credentials: .*")
	c.Check(hookCtx.LastStatus().Message, gc.Equals, "saving Launchpad credentials to /home/kpi/.config/lp/credentials")
	c.Check(hasStatus(hookCtx.Statuses, status.Blocked, "Unable to configure charm - please see log"), jc.IsTrue)

	// The failed hook leaves no unit data behind.
	c.Check(s.flagSet(c, kpi.FlagSnappyConfigured), jc.IsFalse)
}

func (s *SnappySuite) TestGatewayDeparted(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)

	hookCtx := s.withGateway(s.hookContext(hook.Info{
		Kind:         hook.RelationDeparted,
		RelationName: "juju-info",
		RelationID:   gatewayRelation,
		RemoteUnit:   gatewayUnit,
	}, s.settings(c)))
	err := s.run(bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(s.flagSet(c, kpi.FlagPushGatewayConfigured), jc.IsFalse)
	c.Check(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Blocked,
		Message: "Waiting for push-gateway relation",
	})
}

func (s *SnappySuite) TestStopRemovesCronJob(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)
	cronFile := s.onHost("/etc/cron.d/snappy-kpi-scripts")
	_, err := os.Stat(cronFile)
	c.Assert(err, jc.ErrorIsNil)

	err = s.run(bus, s.withGateway(s.hookContext(hook.Info{Kind: hook.Stop}, s.settings(c))))
	c.Assert(err, jc.ErrorIsNil)
	_, err = os.Stat(cronFile)
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *SnappySuite) TestUpdateStatusHeartbeat(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)
	c.Check(s.doer.requests, gc.HasLen, 0)

	err := s.run(bus, s.withGateway(s.hookContext(hook.Info{Kind: hook.UpdateStatus}, s.settings(c))))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.doer.requests, gc.HasLen, 1)
	req := s.doer.requests[0]
	c.Check(req.URL.Host, gc.Equals, "10.0.0.4:9091")
	c.Check(strings.HasPrefix(req.URL.Path, "/metrics/job/kpi_charm/"), jc.IsTrue)
	c.Check(strings.Contains(req.URL.Path, "/charm/snappy-kpi-scripts"), jc.IsTrue, gc.Commentf("%s", req.URL.Path))
}

func (s *SnappySuite) TestUpdateStatusHeartbeatFailure(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)
	s.doer.err = errors.New("connection refused")

	err := s.run(bus, s.withGateway(s.hookContext(hook.Info{Kind: hook.UpdateStatus}, s.settings(c))))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.doer.requests, gc.HasLen, 1)
}

func (s *SnappySuite) TestUpdateStatusSilentGateway(c *gc.C) {
	ctrl, bus := s.setupMocks(c)
	defer ctrl.Finish()

	s.configure(c, bus)
	s.doer.silent = true

	result := make(chan error, 1)
	go func() {
		result <- s.run(bus, s.withGateway(s.hookContext(hook.Info{Kind: hook.UpdateStatus}, s.settings(c))))
	}()
	select {
	case err := <-result:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(5 * time.Second):
		c.Fatalf("update-status blocked on a silent push gateway")
	}
	c.Check(s.doer.requests, gc.HasLen, 1)
}
