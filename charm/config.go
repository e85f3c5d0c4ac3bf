// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// Settings is a group of charm config option names and values. A nil
// value indicates an option with no value set.
type Settings map[string]any

// Option represents a single charm config option.
type Option struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Default     any    `yaml:"default,omitempty"`
}

// error replaces any supplied non-nil error with a new error describing a
// validation failure for the supplied value.
func (option Option) error(err *error, name string, value any) {
	if *err != nil {
		*err = errors.NotValidf("option %q expected %s, got %#v", name, option.Type, value)
	}
}

// validate returns an appropriately-typed value for the supplied value, or
// returns an error if it cannot be converted to the correct type. Nil values
// are always considered valid.
func (option Option) validate(name string, value any) (_ any, err error) {
	if value == nil {
		return nil, nil
	}
	checker, ok := optionTypeCheckers[option.Type]
	if !ok {
		return nil, errors.NotValidf("option %q of unknown type %q", name, option.Type)
	}
	defer option.error(&err, name, value)
	if value, err = checker.Coerce(value, nil); err != nil {
		return nil, err
	}
	if v, ok := value.(int); ok {
		value = int64(v)
	}
	return value, nil
}

var optionTypeCheckers = map[string]schema.Checker{
	"string":  schema.String(),
	"int":     schema.ForceInt(),
	"float":   schema.Float(),
	"boolean": schema.Bool(),
}

// Config represents the supported configuration options for a charm,
// as declared in its config.yaml file.
type Config struct {
	Options map[string]Option `yaml:"options"`
}

// ReadConfig reads a Config in YAML format.
func ReadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var config *Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	if config == nil {
		return nil, errors.NotValidf("empty config")
	}
	for name, option := range config.Options {
		if _, ok := optionTypeCheckers[option.Type]; !ok {
			return nil, errors.NotValidf("option %q has unknown type %q", name, option.Type)
		}
		def, err := option.validate(name, option.Default)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid default for option %q", name)
		}
		option.Default = def
		config.Options[name] = option
	}
	return config, nil
}

// OptionNames returns the sorted option names.
func (c *Config) OptionNames() []string {
	names := make([]string, 0, len(c.Options))
	for name := range c.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultSettings returns settings containing the default value of every
// option in the config. Options without a default have a nil value.
func (c *Config) DefaultSettings() Settings {
	out := make(Settings, len(c.Options))
	for name, option := range c.Options {
		out[name] = option.Default
	}
	return out
}

// ValidateSettings returns a copy of the supplied settings with a
// consistent type for each value, and with defaults filled in for options
// that have no value. It returns an error if the settings contain unknown
// keys or invalid values.
func (c *Config) ValidateSettings(settings map[string]any) (Settings, error) {
	out := c.DefaultSettings()
	for name, value := range settings {
		option, ok := c.Options[name]
		if !ok {
			return nil, errors.NotValidf("unknown option %q", name)
		}
		value, err := option.validate(name, value)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if value != nil {
			out[name] = value
		}
	}
	return out, nil
}

// String returns the value of the option as a string. Numbers and
// booleans are formatted; unset options return an empty string.
func (s Settings) String(name string) string {
	switch v := s[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value of an int option, or zero.
func (s Settings) Int(name string) int64 {
	v, _ := s[name].(int64)
	return v
}

// Bool returns the value of a boolean option, or false.
func (s Settings) Bool(name string) bool {
	v, _ := s[name].(bool)
	return v
}

// IsSet reports whether the option has a non-empty value: a non-empty
// string, a non-zero number, or true.
func (s Settings) IsSet(name string) bool {
	switch v := s[name].(type) {
	case nil:
		return false
	case string:
		return v != ""
	case int64:
		return v != 0
	case float64:
		return v != 0
	case bool:
		return v
	}
	return true
}
