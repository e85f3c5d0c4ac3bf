// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kpi_test

import (
	"os"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/ini.v1"

	"github.com/canonical/kpi-charms/core/status"
	"github.com/canonical/kpi-charms/internal/hook"
	hookenvtesting "github.com/canonical/kpi-charms/internal/hookenv/testing"
	"github.com/canonical/kpi-charms/internal/kpi"
	"github.com/canonical/kpi-charms/internal/reactive"
)

type CharmbuildSuite struct {
	charmSuite
	bus *reactive.Bus
}

var _ = gc.Suite(&CharmbuildSuite{charmSuite: charmSuite{charm: kpi.CharmbuildKPIImport}})

func (s *CharmbuildSuite) SetUpTest(c *gc.C) {
	s.charmSuite.SetUpTest(c)
	bus, err := kpi.NewCharmbuildKPIImport(kpi.Config{
		Root:       s.root,
		Clock:      s.clock,
		PushClient: s.doer,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.bus = bus
}

func (s *CharmbuildSuite) settings(c *gc.C) map[string]any {
	return map[string]any{
		"ga-credentials": "Z2EtY3JlZHM=",
		"run-as":         currentUser(c),
	}
}

func (s *CharmbuildSuite) withPrometheus(ctx *hookenvtesting.Context) *hookenvtesting.Context {
	ctx.AddRelationUnit("prometheus:1", "prometheus", "prometheus/0", map[string]string{
		"private-address": "10.0.0.9",
	})
	return ctx
}

func (s *CharmbuildSuite) TestNewValidatesConfig(c *gc.C) {
	_, err := kpi.NewCharmbuildKPIImport(kpi.Config{})
	c.Check(err, gc.ErrorMatches, "nil Clock not valid")
}

func (s *CharmbuildSuite) TestInstallWithoutCredentials(c *gc.C) {
	hookCtx := s.hookContext(hook.Info{Kind: hook.Install}, nil)
	err := s.run(s.bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	_, err = os.Stat(s.onHost("/srv/charmbuild-kpi-import/parts/charmbuild-kpi-import"))
	c.Check(err, jc.ErrorIsNil)
	c.Check(s.flagSet(c, kpi.FlagCharmbuildInstalled), jc.IsTrue)
	c.Check(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Blocked,
		Message: "ga-credentials must be set",
	})
}

func (s *CharmbuildSuite) TestWaitingForGateway(c *gc.C) {
	hookCtx := s.hookContext(hook.Info{Kind: hook.Install}, s.settings(c))
	err := s.run(s.bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Blocked,
		Message: "Waiting for push-gateway relation",
	})
	_, err = os.Stat(s.onHost("/etc/charmbuild-kpi-import.ini"))
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *CharmbuildSuite) TestWriteConfig(c *gc.C) {
	hookCtx := s.withPrometheus(s.hookContext(hook.Info{Kind: hook.Install}, s.settings(c)))
	err := s.run(s.bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(hookCtx.LastStatus(), jc.DeepEquals, status.StatusInfo{
		Status:  status.Active,
		Message: "Configured push gateway 10.0.0.9",
	})
	cfg, err := ini.Load(s.onHost("/etc/charmbuild-kpi-import.ini"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Section("global").Key("push_gateway").String(), gc.Equals, "10.0.0.9")
	c.Check(cfg.Section("config").Key("ga-credentials").String(), gc.Equals, "Z2EtY3JlZHM=")
	c.Check(cfg.HasSection("script:charmbuild-kpi-import"), jc.IsFalse)

	data, err := os.ReadFile(s.onHost("/etc/cron.d/charmbuild-kpi-import"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains,
		"*/15 * * * * "+currentUser(c)+" cd '/srv/charmbuild-kpi-import/parts' && ./charmbuild-kpi-import")
}

func (s *CharmbuildSuite) TestRenderOnlyWhenChanged(c *gc.C) {
	settings := s.settings(c)
	err := s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.Install}, settings)))
	c.Assert(err, jc.ErrorIsNil)

	configFile := s.onHost("/etc/charmbuild-kpi-import.ini")
	c.Assert(os.Remove(configFile), jc.ErrorIsNil)

	hookCtx := s.withPrometheus(s.hookContext(hook.Info{Kind: hook.ConfigChanged}, settings))
	err = s.run(s.bus, hookCtx)
	c.Assert(err, jc.ErrorIsNil)
	_, err = os.Stat(configFile)
	c.Check(os.IsNotExist(err), jc.IsTrue)
	c.Check(hookCtx.LastStatus().Status, gc.Equals, status.Active)

	settings["schedule"] = "@hourly"
	err = s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.ConfigChanged}, settings)))
	c.Assert(err, jc.ErrorIsNil)
	_, err = os.Stat(configFile)
	c.Check(err, jc.ErrorIsNil)
	data, err := os.ReadFile(s.onHost("/etc/cron.d/charmbuild-kpi-import"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains, "@hourly "+currentUser(c)+" cd")
}

func (s *CharmbuildSuite) TestUpgradeRerenders(c *gc.C) {
	settings := s.settings(c)
	err := s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.Install}, settings)))
	c.Assert(err, jc.ErrorIsNil)

	configFile := s.onHost("/etc/charmbuild-kpi-import.ini")
	c.Assert(os.Remove(configFile), jc.ErrorIsNil)
	scriptFile := s.onHost("/srv/charmbuild-kpi-import/parts/charmbuild-kpi-import")
	c.Assert(os.Remove(scriptFile), jc.ErrorIsNil)

	err = s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.UpgradeCharm}, settings)))
	c.Assert(err, jc.ErrorIsNil)

	_, err = os.Stat(scriptFile)
	c.Check(err, jc.ErrorIsNil)
	_, err = os.Stat(configFile)
	c.Check(err, jc.ErrorIsNil)
	c.Check(s.flagSet(c, kpi.FlagCharmbuildInstalled), jc.IsTrue)
	c.Check(s.flagSet(c, kpi.FlagCharmbuildUpgrade), jc.IsFalse)
}

func (s *CharmbuildSuite) TestStopRemovesCronJob(c *gc.C) {
	settings := s.settings(c)
	err := s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.Install}, settings)))
	c.Assert(err, jc.ErrorIsNil)

	err = s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.Stop}, settings)))
	c.Assert(err, jc.ErrorIsNil)
	_, err = os.Stat(s.onHost("/etc/cron.d/charmbuild-kpi-import"))
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *CharmbuildSuite) TestUpdateStatusHeartbeat(c *gc.C) {
	err := s.run(s.bus, s.withPrometheus(s.hookContext(hook.Info{Kind: hook.UpdateStatus}, s.settings(c))))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.doer.requests, gc.HasLen, 1)
	c.Check(s.doer.requests[0].URL.Host, gc.Equals, "10.0.0.9:9091")
}
