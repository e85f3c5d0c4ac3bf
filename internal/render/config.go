// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package render produces the files the KPI charms install: the scripts'
// INI configuration file and their cron job.
package render

import (
	"bytes"
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/ini.v1"

	"github.com/canonical/kpi-charms/charm"
)

// Section names of the rendered configuration file.
const (
	SectionGlobal = "global"
	SectionConfig = "config"
	scriptPrefix  = "script:"
)

// ConfigParams holds what goes into the scripts' configuration file.
type ConfigParams struct {
	// PushGateway is the address of the Prometheus push gateway.
	PushGateway string

	// ScriptDir is where the scripts are installed.
	ScriptDir string

	// Scripts are the names of the scripts to run.
	Scripts []string

	// Config is the charm configuration, mirrored in the config section.
	Config charm.Settings

	// Omit lists options left out of the config section, such as
	// credentials written to files of their own.
	Omit []string
}

// ScriptSection names the section describing script.
func ScriptSection(script string) string {
	return scriptPrefix + script
}

// ConfigFile renders the INI configuration file read by the scripts.
func ConfigFile(p ConfigParams) ([]byte, error) {
	if p.PushGateway == "" {
		return nil, errors.NotValidf("empty push gateway")
	}
	cfg := ini.Empty()

	global, err := cfg.NewSection(SectionGlobal)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := global.NewKey("push_gateway", p.PushGateway); err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := global.NewKey("script_dir", p.ScriptDir); err != nil {
		return nil, errors.Trace(err)
	}

	config, err := cfg.NewSection(SectionConfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	omit := set.NewStrings(p.Omit...)
	for _, name := range sortedKeys(p.Config) {
		if omit.Contains(name) {
			continue
		}
		if _, err := config.NewKey(name, p.Config.String(name)); err != nil {
			return nil, errors.Annotatef(err, "option %q", name)
		}
	}

	for _, script := range p.Scripts {
		sec, err := cfg.NewSection(ScriptSection(script))
		if err != nil {
			return nil, errors.Annotatef(err, "script %q", script)
		}
		if _, err := sec.NewKey("enabled", "true"); err != nil {
			return nil, errors.Trace(err)
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, errors.Annotate(err, "writing config")
	}
	return buf.Bytes(), nil
}

func sortedKeys(settings charm.Settings) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
