// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/kpi-charms/charm"
	"github.com/canonical/kpi-charms/internal/hookenv"
)

// Store is the unit data store as seen by the runtime: a KV whose writes
// are committed with Flush or abandoned with Discard.
type Store interface {
	KV
	Flush(ctx context.Context) error
	Discard()
}

// Run prepares the reactive context for the running hook and dispatches
// the bus. Unit data written during the hook is flushed only if every
// handler succeeds.
func Run(ctx context.Context, hookCtx hookenv.Context, store Store, bus *Bus) (err error) {
	defer func() {
		if err != nil {
			store.Discard()
		}
	}()

	dir, err := charm.ReadDir(hookCtx.CharmDir())
	if err != nil {
		return errors.Trace(err)
	}
	raw, err := hookCtx.Config(ctx)
	if err != nil {
		return errors.Annotate(err, "reading charm config")
	}
	settings, err := dir.Config.ValidateSettings(raw)
	if err != nil {
		return errors.Annotate(err, "validating charm config")
	}

	flags := NewFlags(store)
	if err := updateConfigFlags(ctx, store, flags, dir.Config, settings); err != nil {
		return errors.Annotate(err, "updating config flags")
	}
	endpoints, err := updateEndpointFlags(ctx, hookCtx, flags, dir.Meta.RequiredEndpoints())
	if err != nil {
		return errors.Annotate(err, "updating endpoint flags")
	}

	rc := &Context{
		Hook:      hookCtx,
		Charm:     dir,
		Config:    settings,
		Endpoints: endpoints,
		Flags:     flags,
		KV:        store,
	}
	logger.Infof("running %s hook for %s", hookCtx.Hook().Name(), hookCtx.UnitName())
	if err := bus.Dispatch(ctx, rc); err != nil {
		return errors.Trace(err)
	}
	if err := clearConfigChangedFlags(ctx, flags); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotate(store.Flush(ctx), "saving unit data")
}
