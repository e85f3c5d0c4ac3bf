// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"github.com/canonical/kpi-charms/charm"
	"github.com/canonical/kpi-charms/internal/hookenv"
)

// Context is passed to every handler. It carries what the framework has
// already worked out for the running hook.
type Context struct {
	// Hook is the hook tool context.
	Hook hookenv.Context

	// Charm is the unpacked charm.
	Charm *charm.Dir

	// Config is the validated charm configuration, defaults included.
	Config charm.Settings

	// Endpoints holds the state of each required endpoint.
	Endpoints map[string]*Endpoint

	// Flags are the reactive flags.
	Flags *Flags

	// KV is the unit data store.
	KV KV
}

// Endpoint returns the named endpoint, or an endpoint with no relations
// if the charm does not require it.
func (rc *Context) Endpoint(name string) *Endpoint {
	if ep, ok := rc.Endpoints[name]; ok {
		return ep
	}
	return &Endpoint{Name: name}
}
