// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookenv gives charm code access to the running hook: its
// environment, the charm configuration, relation data, workload status
// and the unit log. Everything goes through the hook tools the unit agent
// places on the PATH.
package hookenv

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/kpi-charms/core/status"
	"github.com/canonical/kpi-charms/internal/hook"
)

var logger = loggo.GetLogger("kpi.hookenv")

// Context is the view of the running hook available to charm code.
type Context interface {
	// UnitName returns the name of the unit, eg "snappy-kpi-scripts/0".
	UnitName() string

	// CharmDir returns the directory the charm is unpacked into.
	CharmDir() string

	// Hook returns details of the running hook.
	Hook() hook.Info

	// Config returns the charm configuration, including unset options
	// with nil values.
	Config(ctx context.Context) (map[string]any, error)

	// RelationIDs returns the ids of the relations established on the
	// named endpoint.
	RelationIDs(ctx context.Context, endpoint string) ([]string, error)

	// RelationUnits returns the remote units taking part in the relation.
	RelationUnits(ctx context.Context, relationID string) ([]string, error)

	// RelationGet returns the value of key in the remote unit's relation
	// settings, or an empty string if the key is not set.
	RelationGet(ctx context.Context, relationID, unit, key string) (string, error)

	// SetStatus sets the workload status of the unit.
	SetStatus(info status.StatusInfo) error

	// Log writes a message to the unit log at the given level.
	Log(level loggo.Level, msg string) error
}

// Hook tool names.
const (
	toolConfigGet    = "config-get"
	toolRelationIDs  = "relation-ids"
	toolRelationList = "relation-list"
	toolRelationGet  = "relation-get"
	toolStatusSet    = "status-set"
	toolJujuLog      = "juju-log"
)

// ToolContext implements Context by running the hook tools.
type ToolContext struct {
	env    Environment
	runner Runner
}

// NewContext returns a Context for the given environment, running hook
// tools with runner.
func NewContext(env Environment, runner Runner) *ToolContext {
	return &ToolContext{
		env:    env,
		runner: runner,
	}
}

// UnitName is part of the Context interface.
func (c *ToolContext) UnitName() string {
	return c.env.UnitName
}

// CharmDir is part of the Context interface.
func (c *ToolContext) CharmDir() string {
	return c.env.CharmDir
}

// Hook is part of the Context interface.
func (c *ToolContext) Hook() hook.Info {
	return c.env.Hook
}

// Config is part of the Context interface.
func (c *ToolContext) Config(ctx context.Context) (map[string]any, error) {
	var settings map[string]any
	if err := c.runJSON(ctx, &settings, toolConfigGet, "--format=json", "--all"); err != nil {
		return nil, errors.Trace(err)
	}
	if settings == nil {
		settings = make(map[string]any)
	}
	return settings, nil
}

// RelationIDs is part of the Context interface.
func (c *ToolContext) RelationIDs(ctx context.Context, endpoint string) ([]string, error) {
	var ids []string
	if err := c.runJSON(ctx, &ids, toolRelationIDs, "--format=json", endpoint); err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

// RelationUnits is part of the Context interface.
func (c *ToolContext) RelationUnits(ctx context.Context, relationID string) ([]string, error) {
	var units []string
	if err := c.runJSON(ctx, &units, toolRelationList, "--format=json", "-r", relationID); err != nil {
		return nil, errors.Trace(err)
	}
	return units, nil
}

// RelationGet is part of the Context interface.
func (c *ToolContext) RelationGet(ctx context.Context, relationID, unit, key string) (string, error) {
	var value *string
	if err := c.runJSON(ctx, &value, toolRelationGet, "--format=json", "-r", relationID, key, unit); err != nil {
		return "", errors.Trace(err)
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// SetStatus is part of the Context interface.
func (c *ToolContext) SetStatus(info status.StatusInfo) error {
	if err := info.Validate(); err != nil {
		return errors.Trace(err)
	}
	_, err := c.runner.Run(context.Background(), toolStatusSet, info.Status.String(), info.Message)
	return errors.Trace(err)
}

// Log is part of the Context interface.
func (c *ToolContext) Log(level loggo.Level, msg string) error {
	_, err := c.runner.Run(context.Background(), toolJujuLog, "-l", level.String(), msg)
	return errors.Trace(err)
}

func (c *ToolContext) runJSON(ctx context.Context, out any, tool string, args ...string) error {
	logger.Tracef("running %s %v", tool, args)
	stdout, err := c.runner.Run(ctx, tool, args...)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return errors.Annotatef(err, "decoding %s output", tool)
	}
	return nil
}
