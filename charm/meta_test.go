// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/kpi-charms/charm"
)

type MetaSuite struct{}

var _ = gc.Suite(&MetaSuite{})

func (s *MetaSuite) TestReadMetaSnappy(c *gc.C) {
	f, err := os.Open(filepath.Join(charmPath("snappy-kpi-scripts"), "metadata.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	defer f.Close()

	meta, err := charm.ReadMeta(f)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Name, gc.Equals, "snappy-kpi-scripts")
	c.Check(meta.Requires, jc.DeepEquals, map[string]charm.Relation{
		"juju-info": {
			Name:      "juju-info",
			Interface: "juju-info",
			Limit:     1,
		},
	})
	c.Check(meta.RequiredEndpoints(), jc.DeepEquals, []string{"juju-info"})
}

func (s *MetaSuite) TestReadMetaShorthand(c *gc.C) {
	meta, err := charm.ReadMeta(strings.NewReader(`
name: kpi
summary: s
description: d
provides:
  metrics: prometheus
requires:
  gateway: http
  db:
    interface: mysql
    scope: global
    limit: 2
  logs:
    interface: syslog
    limit: null
`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Requires, jc.DeepEquals, map[string]charm.Relation{
		"gateway": {Name: "gateway", Interface: "http", Limit: 1},
		"db":      {Name: "db", Interface: "mysql", Limit: 2},
		"logs":    {Name: "logs", Interface: "syslog"},
	})
	c.Check(meta.RequiredEndpoints(), jc.DeepEquals, []string{"db", "gateway", "logs"})
}

func (s *MetaSuite) TestReadMetaNoRequires(c *gc.C) {
	meta, err := charm.ReadMeta(strings.NewReader("name: lonely\n"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Requires, gc.HasLen, 0)
	c.Check(meta.RequiredEndpoints(), gc.HasLen, 0)
}

func (s *MetaSuite) TestReadMetaMissingName(c *gc.C) {
	_, err := charm.ReadMeta(strings.NewReader("summary: nameless\n"))
	c.Check(err, gc.ErrorMatches, `metadata: name: expected string, got nothing`)
}

func (s *MetaSuite) TestReadMetaBadRelation(c *gc.C) {
	_, err := charm.ReadMeta(strings.NewReader(`
name: kpi
requires:
  db:
    limit: 1
`))
	c.Check(err, gc.ErrorMatches, `metadata: .*interface: expected string, got nothing`)
}

func (s *MetaSuite) TestReadDir(c *gc.C) {
	dir, err := charm.ReadDir(charmPath("charmbuild-kpi-import"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(dir.Meta.Name, gc.Equals, "charmbuild-kpi-import")
	c.Check(dir.Meta.RequiredEndpoints(), jc.DeepEquals, []string{"prometheus"})
	c.Check(dir.Config.OptionNames(), jc.DeepEquals, []string{"ga-credentials", "run-as", "schedule"})
}

func (s *MetaSuite) TestReadDirWithoutConfig(c *gc.C) {
	path := c.MkDir()
	err := os.WriteFile(filepath.Join(path, "metadata.yaml"), []byte("name: bare\n"), 0644)
	c.Assert(err, jc.ErrorIsNil)

	dir, err := charm.ReadDir(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(dir.Config.Options, gc.HasLen, 0)
}

func (s *MetaSuite) TestReadDirMissingMetadata(c *gc.C) {
	_, err := charm.ReadDir(c.MkDir())
	c.Check(err, jc.ErrorIs, errors.NotFound)
	c.Check(err, gc.ErrorMatches, `metadata.yaml in ".*" not found`)
}
