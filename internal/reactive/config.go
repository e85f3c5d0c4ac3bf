// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/kpi-charms/charm"
)

const (
	previousConfigKey = "reactive.config.previous"

	// FlagConfigChanged is set when any option changed since the last hook.
	FlagConfigChanged = "config.changed"
)

// ConfigChangedFlag names the flag set while option changed since the
// previous hook.
func ConfigChangedFlag(option string) string {
	return "config.changed." + option
}

// ConfigSetFlag names the flag set while option has a non-empty value.
func ConfigSetFlag(option string) string {
	return "config.set." + option
}

// ConfigDefaultFlag names the flag set while option has its default value.
func ConfigDefaultFlag(option string) string {
	return "config.default." + option
}

// updateConfigFlags compares settings with those seen by the previous
// hook and sets the config flags accordingly. The settings are then
// recorded for the next hook.
func updateConfigFlags(ctx context.Context, kv KV, flags *Flags, config *charm.Config, settings charm.Settings) error {
	var previous map[string]any
	err := kv.Get(ctx, previousConfigKey, &previous)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	firstRun := errors.Is(err, errors.NotFound)

	anyChanged := false
	for _, name := range config.OptionNames() {
		current := settings[name]
		changed := firstRun
		if !firstRun {
			changed, err = differ(previous[name], current)
			if err != nil {
				return errors.Annotatef(err, "comparing option %q", name)
			}
		}
		anyChanged = anyChanged || changed
		if err := flags.Toggle(ctx, ConfigChangedFlag(name), changed); err != nil {
			return errors.Trace(err)
		}
		if err := flags.Toggle(ctx, ConfigSetFlag(name), settings.IsSet(name)); err != nil {
			return errors.Trace(err)
		}
		notDefault, err := differ(config.Options[name].Default, current)
		if err != nil {
			return errors.Annotatef(err, "comparing option %q", name)
		}
		if err := flags.Toggle(ctx, ConfigDefaultFlag(name), !notDefault); err != nil {
			return errors.Trace(err)
		}
	}
	if err := flags.Toggle(ctx, FlagConfigChanged, anyChanged); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(kv.Set(ctx, previousConfigKey, settings))
}

// clearConfigChangedFlags clears the config.changed flags, which only
// hold for the hook in which the change was seen.
func clearConfigChangedFlags(ctx context.Context, flags *Flags) error {
	changed, err := flags.withPrefix(ctx, FlagConfigChanged)
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range changed.SortedValues() {
		if err := flags.Clear(ctx, name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// differ compares two config values by their JSON encoding, as values
// read back from the store have lost their Go types.
func differ(a, b any) (bool, error) {
	aData, err := json.Marshal(a)
	if err != nil {
		return false, errors.Trace(err)
	}
	bData, err := json.Marshal(b)
	if err != nil {
		return false, errors.Trace(err)
	}
	return string(aData) != string(bData), nil
}
