// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/ini.v1"

	"github.com/canonical/kpi-charms/charm"
	"github.com/canonical/kpi-charms/internal/render"
)

type ConfigSuite struct{}

var _ = gc.Suite(&ConfigSuite{})

func (s *ConfigSuite) TestConfigFile(c *gc.C) {
	data, err := render.ConfigFile(render.ConfigParams{
		PushGateway: "10.0.0.4",
		ScriptDir:   "/srv/snappy-kpi-scripts/parts",
		Scripts:     []string{"snap-stats", "store_metrics"},
		Config: charm.Settings{
			"run-as":                     "kpi",
			"launchpad-credentials":      "c2VjcmV0",
			"launchpad-credentials-file": "/home/kpi/.lp",
			"schedule":                   "*/15 * * * *",
			"unset":                      nil,
		},
		Omit: []string{"launchpad-credentials"},
	})
	c.Assert(err, jc.ErrorIsNil)

	cfg, err := ini.Load(data)
	c.Assert(err, jc.ErrorIsNil)
	global := cfg.Section(render.SectionGlobal)
	c.Check(global.Key("push_gateway").String(), gc.Equals, "10.0.0.4")
	c.Check(global.Key("script_dir").String(), gc.Equals, "/srv/snappy-kpi-scripts/parts")

	config := cfg.Section(render.SectionConfig)
	c.Check(config.KeyStrings(), jc.SameContents, []string{
		"launchpad-credentials-file", "run-as", "schedule", "unset",
	})
	c.Check(config.Key("run-as").String(), gc.Equals, "kpi")
	c.Check(config.Key("schedule").String(), gc.Equals, "*/15 * * * *")
	c.Check(config.Key("unset").String(), gc.Equals, "")

	c.Check(cfg.HasSection(render.ScriptSection("snap-stats")), jc.IsTrue)
	c.Check(cfg.HasSection(render.ScriptSection("store_metrics")), jc.IsTrue)
	c.Check(cfg.Section(render.ScriptSection("snap-stats")).Key("enabled").MustBool(), jc.IsTrue)
}

func (s *ConfigSuite) TestConfigFileNoGateway(c *gc.C) {
	_, err := render.ConfigFile(render.ConfigParams{})
	c.Check(err, gc.ErrorMatches, "empty push gateway not valid")
}
