// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook provides types that define the hooks a charm is invoked
// with, and helpers to identify the running hook from its environment.
package hook

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// Kind enumerates the different kinds of hooks that exist.
type Kind string

const (
	// None of these hooks are ever associated with a relation; each of them
	// represents a change to the state of the unit as a whole.
	Install               Kind = "install"
	Start                 Kind = "start"
	ConfigChanged         Kind = "config-changed"
	UpgradeCharm          Kind = "upgrade-charm"
	UpdateStatus          Kind = "update-status"
	LeaderElected         Kind = "leader-elected"
	LeaderDeposed         Kind = "leader-deposed"
	LeaderSettingsChanged Kind = "leader-settings-changed"
	PreSeriesUpgrade      Kind = "pre-series-upgrade"
	PostSeriesUpgrade     Kind = "post-series-upgrade"
	CollectMetrics        Kind = "collect-metrics"
	MeterStatusChanged    Kind = "meter-status-changed"
	SecretChanged         Kind = "secret-changed"
	SecretExpired         Kind = "secret-expired"
	SecretRemove          Kind = "secret-remove"
	SecretRotate          Kind = "secret-rotate"
	Stop                  Kind = "stop"
	Remove                Kind = "remove"

	// These hooks require an associated relation, and the name of the
	// relation endpoint prefixes the hook name, joined by a '-'.
	RelationCreated  Kind = "relation-created"
	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"
)

var unitKinds = []Kind{
	Install, Start, ConfigChanged, UpgradeCharm, UpdateStatus,
	LeaderElected, LeaderDeposed, LeaderSettingsChanged,
	PreSeriesUpgrade, PostSeriesUpgrade, CollectMetrics, MeterStatusChanged,
	SecretChanged, SecretExpired, SecretRemove, SecretRotate,
	Stop, Remove,
}

var relationKinds = []Kind{
	RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken,
}

// IsRelation returns whether the Kind represents a relation hook.
func (kind Kind) IsRelation() bool {
	switch kind {
	case RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (kind Kind) String() string {
	return string(kind)
}

// Info holds details of the hook being executed.
type Info struct {
	Kind Kind

	// RelationName is the endpoint name. It is only set when Kind
	// indicates a relation hook.
	RelationName string

	// RelationID identifies the relation associated with the hook, in
	// the "<endpoint>:<id>" form the hook tools accept.
	RelationID string

	// RemoteUnit is the name of the unit that triggered the hook. It is
	// only set for relation hooks other than relation-broken.
	RemoteUnit string
}

// Name returns the name of the hook as it appears in the charm's hooks
// directory.
func (hi Info) Name() string {
	if hi.Kind.IsRelation() {
		return hi.RelationName + "-" + string(hi.Kind)
	}
	return string(hi.Kind)
}

// Validate returns an error if the info is not valid.
func (hi Info) Validate() error {
	switch hi.Kind {
	case RelationJoined, RelationChanged, RelationDeparted:
		if hi.RemoteUnit == "" {
			return errors.NotValidf("%q hook without a remote unit", hi.Kind)
		}
		if !names.IsValidUnit(hi.RemoteUnit) {
			return errors.NotValidf("remote unit %q", hi.RemoteUnit)
		}
		fallthrough
	case RelationCreated, RelationBroken:
		if hi.RelationName == "" {
			return errors.NotValidf("%q hook without a relation name", hi.Kind)
		}
		return nil
	}
	for _, kind := range unitKinds {
		if hi.Kind == kind {
			return nil
		}
	}
	return errors.NotValidf("hook kind %q", hi.Kind)
}

// Parse returns the Info for the named hook. Relation hooks carry their
// endpoint name; the relation id and remote unit must be filled in from
// the environment.
func Parse(name string) (Info, error) {
	for _, kind := range unitKinds {
		if name == string(kind) {
			return Info{Kind: kind}, nil
		}
	}
	for _, kind := range relationKinds {
		suffix := "-" + string(kind)
		if endpoint, ok := strings.CutSuffix(name, suffix); ok && endpoint != "" {
			return Info{Kind: kind, RelationName: endpoint}, nil
		}
	}
	return Info{}, errors.NotValidf("hook name %q", name)
}

// Environment variables set by the unit agent when running a hook.
const (
	EnvDispatchPath = "JUJU_DISPATCH_PATH"
	EnvHookName     = "JUJU_HOOK_NAME"
	EnvRelation     = "JUJU_RELATION"
	EnvRelationID   = "JUJU_RELATION_ID"
	EnvRemoteUnit   = "JUJU_REMOTE_UNIT"
)

// FromEnvironment determines the running hook from the environment the
// unit agent provides. The dispatch path takes precedence over the hook
// name. A hook name Parse does not know, such as a storage or workload
// hook, yields an Info whose Kind is the name itself.
func FromEnvironment(getenv func(string) string) (Info, error) {
	name := ""
	if path := getenv(EnvDispatchPath); path != "" {
		name = filepath.Base(path)
	} else {
		name = getenv(EnvHookName)
	}
	if name == "" {
		return Info{}, errors.NotFoundf("hook name in environment")
	}
	info, err := Parse(name)
	if errors.Is(err, errors.NotValid) {
		return Info{Kind: Kind(name)}, nil
	} else if err != nil {
		return Info{}, errors.Trace(err)
	}
	if !info.Kind.IsRelation() {
		return info, nil
	}
	if relation := getenv(EnvRelation); relation != "" && relation != info.RelationName {
		return Info{}, errors.NotValidf("relation %q for hook %q", relation, name)
	}
	info.RelationID = getenv(EnvRelationID)
	info.RemoteUnit = getenv(EnvRemoteUnit)
	if err := info.Validate(); err != nil {
		return Info{}, errors.Trace(err)
	}
	return info, nil
}

// RelationIDNumber returns the numeric part of a "<endpoint>:<id>"
// relation id.
func RelationIDNumber(relationID string) (int, error) {
	_, num, ok := strings.Cut(relationID, ":")
	if !ok {
		num = relationID
	}
	id, err := strconv.Atoi(num)
	if err != nil {
		return -1, errors.NotValidf("relation id %q", relationID)
	}
	return id, nil
}
