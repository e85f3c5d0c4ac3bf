// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"github.com/canonical/kpi-charms/internal/hook"
	"github.com/canonical/kpi-charms/internal/hookenv"
)

const privateAddressKey = "private-address"

// JoinedFlag names the flag set while a remote unit has joined a
// relation on endpoint.
func JoinedFlag(endpoint string) string {
	return endpoint + ".joined"
}

// AvailableFlag names the flag set while a remote unit on endpoint has
// published its private address.
func AvailableFlag(endpoint string) string {
	return endpoint + ".available"
}

// RemoteUnit is a unit at the other end of a relation.
type RemoteUnit struct {
	RelationID     string
	Name           string
	PrivateAddress string
}

// Endpoint describes the relations established on one of the charm's
// required endpoints.
type Endpoint struct {
	Name  string
	Units []RemoteUnit
}

// Joined reports whether any remote unit is related.
func (ep *Endpoint) Joined() bool {
	return len(ep.Units) > 0
}

// PrivateAddress returns the private address of the first remote unit
// that published one, ordered by relation id and unit name.
func (ep *Endpoint) PrivateAddress() string {
	for _, u := range ep.Units {
		if u.PrivateAddress != "" {
			return u.PrivateAddress
		}
	}
	return ""
}

// readEndpoint collects the remote units related on the endpoint.
func readEndpoint(ctx context.Context, hookCtx hookenv.Context, name string) (*Endpoint, error) {
	ids, err := hookCtx.RelationIDs(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "listing relations on %q", name)
	}
	if err := sortRelationIDs(ids); err != nil {
		return nil, errors.Trace(err)
	}

	departing := ""
	if info := hookCtx.Hook(); info.Kind == hook.RelationDeparted && info.RelationName == name {
		departing = info.RemoteUnit
	}

	ep := &Endpoint{Name: name}
	for _, id := range ids {
		units, err := hookCtx.RelationUnits(ctx, id)
		if err != nil {
			return nil, errors.Annotatef(err, "listing units of %q", id)
		}
		sort.Strings(units)
		for _, unit := range units {
			if unit == departing {
				continue
			}
			addr, err := hookCtx.RelationGet(ctx, id, unit, privateAddressKey)
			if err != nil {
				return nil, errors.Annotatef(err, "reading %s of %q in %q", privateAddressKey, unit, id)
			}
			ep.Units = append(ep.Units, RemoteUnit{
				RelationID:     id,
				Name:           unit,
				PrivateAddress: addr,
			})
		}
	}
	return ep, nil
}

func sortRelationIDs(ids []string) error {
	nums := make(map[string]int, len(ids))
	for _, id := range ids {
		num, err := hook.RelationIDNumber(id)
		if err != nil {
			return errors.Trace(err)
		}
		nums[id] = num
	}
	sort.Slice(ids, func(i, j int) bool {
		return nums[ids[i]] < nums[ids[j]]
	})
	return nil
}

// updateEndpointFlags reads every named endpoint and sets its joined and
// available flags.
func updateEndpointFlags(ctx context.Context, hookCtx hookenv.Context, flags *Flags, names []string) (map[string]*Endpoint, error) {
	endpoints := make(map[string]*Endpoint, len(names))
	for _, name := range names {
		ep, err := readEndpoint(ctx, hookCtx, name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := flags.Toggle(ctx, JoinedFlag(name), ep.Joined()); err != nil {
			return nil, errors.Trace(err)
		}
		if err := flags.Toggle(ctx, AvailableFlag(name), ep.PrivateAddress() != ""); err != nil {
			return nil, errors.Trace(err)
		}
		endpoints[name] = ep
	}
	return endpoints, nil
}
