// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kpi

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/canonical/kpi-charms/internal/hook"
	"github.com/canonical/kpi-charms/internal/reactive"
)

// CharmbuildKPIImport is the name of the charm build KPI import charm.
const CharmbuildKPIImport = "charmbuild-kpi-import"

// Flags of the charm build KPI import charm.
const (
	FlagCharmbuildInstalled = "charmbuild.installed"
	FlagCharmbuildUpgrade   = "charmbuild.upgrade"
)

// OptionCharmbuildGACredentials holds the credentials the import scripts
// read from their configuration file.
const OptionCharmbuildGACredentials = "ga-credentials"

const (
	endpointPrometheus = "prometheus"

	// dataChangedConfig tracks the inputs of the rendered files.
	dataChangedConfig = "config"
)

type charmbuildKPIImport struct {
	base
}

// NewCharmbuildKPIImport returns the handlers of the charm build KPI
// import charm.
func NewCharmbuildKPIImport(config Config) (*reactive.Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cb := &charmbuildKPIImport{base{
		config: config,
		paths:  Paths{Name: CharmbuildKPIImport},
	}}
	gaSet := reactive.ConfigSetFlag(OptionCharmbuildGACredentials)
	available := reactive.AvailableFlag(endpointPrometheus)

	bus := reactive.NewBus()
	err := bus.Register(
		reactive.Handler{
			Name:  "upgrade",
			Hooks: []string{hook.UpgradeCharm.String()},
			Func:  cb.upgrade,
		},
		reactive.Handler{
			Name:  "stop",
			Hooks: []string{hook.Stop.String(), hook.Remove.String()},
			Func:  cb.removeCronJob,
		},
		reactive.Handler{
			Name:    "heartbeat",
			Hooks:   []string{hook.UpdateStatus.String()},
			WhenAll: []string{available},
			Func:    cb.pushHeartbeat,
		},
		reactive.Handler{
			Name:    "install",
			WhenNot: []string{FlagCharmbuildInstalled},
			Func:    cb.install,
		},
		reactive.Handler{
			Name:    "write-config",
			WhenAll: []string{FlagCharmbuildInstalled, gaSet, available},
			Func:    cb.writeConfig,
		},
		reactive.Handler{
			Name:       "not-configured",
			WhenNotAll: []string{gaSet, available},
			Func:       cb.notConfigured,
		},
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return bus, nil
}

func (cb *charmbuildKPIImport) upgrade(ctx context.Context, rc *reactive.Context) error {
	if err := rc.Flags.Set(ctx, FlagCharmbuildUpgrade); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rc.Flags.Clear(ctx, FlagCharmbuildInstalled))
}

func (cb *charmbuildKPIImport) install(ctx context.Context, rc *reactive.Context) error {
	if err := cb.installScripts(rc, filepath.Join(rc.Charm.Path, "scripts")); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rc.Flags.Set(ctx, FlagCharmbuildInstalled))
}

func (cb *charmbuildKPIImport) writeConfig(ctx context.Context, rc *reactive.Context) error {
	if ok, err := cb.validSchedule(rc); !ok || err != nil {
		return errors.Trace(err)
	}
	pushGateway := rc.Endpoint(endpointPrometheus).PrivateAddress()
	user := rc.Config.String(optionRunAs)
	if user == "" {
		user = defaultUser
	}

	changed, err := rc.KV.DataChanged(ctx, dataChangedConfig, []string{
		pushGateway,
		rc.Config.String(OptionCharmbuildGACredentials),
		user,
		rc.Config.String(optionSchedule),
	})
	if err != nil {
		return errors.Trace(err)
	}
	upgrade, err := rc.Flags.IsSet(ctx, FlagCharmbuildUpgrade)
	if err != nil {
		return errors.Trace(err)
	}
	if changed || upgrade {
		if err := cb.writeConfigFile(rc, pushGateway); err != nil {
			return errors.Trace(err)
		}
		if err := cb.writeCronJob(rc, user); err != nil {
			return errors.Trace(err)
		}
		if err := rc.Flags.Clear(ctx, FlagCharmbuildUpgrade); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(cb.reporter(rc).Active(fmt.Sprintf("Configured push gateway %s", pushGateway)))
}

func (cb *charmbuildKPIImport) notConfigured(ctx context.Context, rc *reactive.Context) error {
	rep := cb.reporter(rc)
	set, err := rc.Flags.IsSet(ctx, reactive.ConfigSetFlag(OptionCharmbuildGACredentials))
	if err != nil {
		return errors.Trace(err)
	}
	if !set {
		return errors.Trace(rep.Blocked(fmt.Sprintf("%s must be set", OptionCharmbuildGACredentials)))
	}
	return errors.Trace(rep.Blocked("Waiting for push-gateway relation"))
}

func (cb *charmbuildKPIImport) pushHeartbeat(ctx context.Context, rc *reactive.Context) error {
	return errors.Trace(cb.heartbeat(ctx, rc, rc.Endpoint(endpointPrometheus).PrivateAddress()))
}
