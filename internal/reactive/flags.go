// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

const flagPrefix = "reactive.flags."

// KV is the subset of the unit data store the reactive framework uses.
type KV interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any) error
	Unset(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DataChanged reports whether value differs from the one last
	// recorded for key, and records it.
	DataChanged(ctx context.Context, key string, value any) (bool, error)
}

// Flags gives access to the named boolean flags driving handler dispatch.
// Flags persist in the unit data store, so they survive between hooks.
type Flags struct {
	kv KV
}

// NewFlags returns Flags persisted in kv.
func NewFlags(kv KV) *Flags {
	return &Flags{kv: kv}
}

// Set sets the named flag.
func (f *Flags) Set(ctx context.Context, name string) error {
	if name == "" {
		return errors.NotValidf("empty flag name")
	}
	logger.Debugf("set flag %s", name)
	return errors.Trace(f.kv.Set(ctx, flagPrefix+name, true))
}

// Clear clears the named flag. Clearing an unset flag is not an error.
func (f *Flags) Clear(ctx context.Context, name string) error {
	logger.Debugf("clear flag %s", name)
	return errors.Trace(f.kv.Unset(ctx, flagPrefix+name))
}

// Toggle sets the flag if on is true and clears it otherwise.
func (f *Flags) Toggle(ctx context.Context, name string, on bool) error {
	if on {
		return f.Set(ctx, name)
	}
	return f.Clear(ctx, name)
}

// IsSet reports whether the named flag is set.
func (f *Flags) IsSet(ctx context.Context, name string) (bool, error) {
	var value bool
	err := f.kv.Get(ctx, flagPrefix+name, &value)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return value, nil
}

// All returns the set of flags currently set.
func (f *Flags) All(ctx context.Context) (set.Strings, error) {
	return f.withPrefix(ctx, "")
}

// withPrefix returns the set flags whose names start with prefix.
func (f *Flags) withPrefix(ctx context.Context, prefix string) (set.Strings, error) {
	keys, err := f.kv.Keys(ctx, flagPrefix+prefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	flags := set.NewStrings()
	for _, key := range keys {
		flags.Add(strings.TrimPrefix(key, flagPrefix))
	}
	return flags, nil
}
