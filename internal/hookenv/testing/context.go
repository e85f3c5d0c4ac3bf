// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"fmt"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"

	"github.com/canonical/kpi-charms/core/status"
	"github.com/canonical/kpi-charms/internal/hook"
)

// Relation holds the remote units and their settings for a single
// relation.
type Relation struct {
	Endpoint string
	Units    map[string]map[string]string
}

// LogEntry is a message passed to Context.Log.
type LogEntry struct {
	Level   loggo.Level
	Message string
}

// Context is a test double for hookenv.Context.
type Context struct {
	Stub *testing.Stub

	Unit      string
	Dir       string
	HookInfo  hook.Info
	Settings  map[string]any
	Relations map[string]*Relation

	Statuses []status.StatusInfo
	Logs     []LogEntry
}

// NewContext returns a Context for unit running hookName, with the charm
// unpacked in charmDir.
func NewContext(unit, charmDir string, info hook.Info) *Context {
	return &Context{
		Stub:      &testing.Stub{},
		Unit:      unit,
		Dir:       charmDir,
		HookInfo:  info,
		Settings:  make(map[string]any),
		Relations: make(map[string]*Relation),
	}
}

// AddRelationUnit adds a remote unit with its settings to the relation,
// creating the relation if needed.
func (c *Context) AddRelationUnit(relationID, endpoint, unit string, settings map[string]string) {
	rel, ok := c.Relations[relationID]
	if !ok {
		rel = &Relation{Endpoint: endpoint, Units: make(map[string]map[string]string)}
		c.Relations[relationID] = rel
	}
	rel.Units[unit] = settings
}

// LastStatus returns the most recently set status.
func (c *Context) LastStatus() status.StatusInfo {
	if len(c.Statuses) == 0 {
		return status.StatusInfo{}
	}
	return c.Statuses[len(c.Statuses)-1]
}

// UnitName implements hookenv.Context.
func (c *Context) UnitName() string {
	c.Stub.AddCall("UnitName")
	return c.Unit
}

// CharmDir implements hookenv.Context.
func (c *Context) CharmDir() string {
	c.Stub.AddCall("CharmDir")
	return c.Dir
}

// Hook implements hookenv.Context.
func (c *Context) Hook() hook.Info {
	c.Stub.AddCall("Hook")
	return c.HookInfo
}

// Config implements hookenv.Context.
func (c *Context) Config(_ context.Context) (map[string]any, error) {
	c.Stub.AddCall("Config")
	if err := c.Stub.NextErr(); err != nil {
		return nil, errors.Trace(err)
	}
	settings := make(map[string]any, len(c.Settings))
	for k, v := range c.Settings {
		settings[k] = v
	}
	return settings, nil
}

// RelationIDs implements hookenv.Context.
func (c *Context) RelationIDs(_ context.Context, endpoint string) ([]string, error) {
	c.Stub.AddCall("RelationIDs", endpoint)
	if err := c.Stub.NextErr(); err != nil {
		return nil, errors.Trace(err)
	}
	var ids []string
	for id, rel := range c.Relations {
		if rel.Endpoint == endpoint {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RelationUnits implements hookenv.Context.
func (c *Context) RelationUnits(_ context.Context, relationID string) ([]string, error) {
	c.Stub.AddCall("RelationUnits", relationID)
	if err := c.Stub.NextErr(); err != nil {
		return nil, errors.Trace(err)
	}
	rel, ok := c.Relations[relationID]
	if !ok {
		return nil, errors.NotFoundf("relation %q", relationID)
	}
	var units []string
	for unit := range rel.Units {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// RelationGet implements hookenv.Context.
func (c *Context) RelationGet(_ context.Context, relationID, unit, key string) (string, error) {
	c.Stub.AddCall("RelationGet", relationID, unit, key)
	if err := c.Stub.NextErr(); err != nil {
		return "", errors.Trace(err)
	}
	rel, ok := c.Relations[relationID]
	if !ok {
		return "", errors.NotFoundf("relation %q", relationID)
	}
	settings, ok := rel.Units[unit]
	if !ok {
		return "", errors.NotFoundf("unit %q in relation %q", unit, relationID)
	}
	return settings[key], nil
}

// SetStatus implements hookenv.Context.
func (c *Context) SetStatus(info status.StatusInfo) error {
	c.Stub.AddCall("SetStatus", info)
	if err := c.Stub.NextErr(); err != nil {
		return errors.Trace(err)
	}
	c.Statuses = append(c.Statuses, info)
	return nil
}

// Log implements hookenv.Context.
func (c *Context) Log(level loggo.Level, msg string) error {
	c.Stub.AddCall("Log", level, msg)
	if err := c.Stub.NextErr(); err != nil {
		return errors.Trace(err)
	}
	c.Logs = append(c.Logs, LogEntry{Level: level, Message: msg})
	return nil
}

// String implements fmt.Stringer, for test failure messages.
func (c *Context) String() string {
	return fmt.Sprintf("hook context for %s running %s", c.Unit, c.HookInfo.Name())
}
