// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kpi

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/kpi-charms/internal/hook"
	"github.com/canonical/kpi-charms/internal/host"
	"github.com/canonical/kpi-charms/internal/reactive"
)

// SnappyKPIScripts is the name of the snappy KPI scripts charm.
const SnappyKPIScripts = "snappy-kpi-scripts"

// Flags and unit data keys of the snappy KPI scripts charm.
const (
	FlagSnappyConfigured      = "snappy-kpi-scripts.configured"
	FlagPushGatewayConfigured = "push_gateway.configured"

	KeyPushGateway = "push_gateway"

	endpointJujuInfo = "juju-info"
)

// Options the charm cannot work without, copied to unit data.
const (
	OptionLaunchpadCredentials     = "launchpad-credentials"
	OptionLaunchpadCredentialsFile = "launchpad-credentials-file"
	OptionGACredentials            = "ga-dashboard-snapcraft-io-credentials"
	OptionGACredentialsFile        = "ga-dashboard-snapcraft-io-credentials-file"
	OptionExtraPackages            = "extra-packages"
)

var snappyRequiredOptions = []string{
	OptionLaunchpadCredentials,
	OptionLaunchpadCredentialsFile,
	OptionGACredentials,
	OptionGACredentialsFile,
	optionRunAs,
}

// snappyPackages are needed by the scripts in files/thirdparty.
var snappyPackages = []string{
	"python-configparser",
	"python-prometheus-client",
	"python-github",
	"python-cssselect",
	"python3-prometheus-client",
	"python3-trello",
	"python-googleapi",
	"python-xdg",
}

type snappyKPIScripts struct {
	base
}

// NewSnappyKPIScripts returns the handlers of the snappy KPI scripts
// charm.
func NewSnappyKPIScripts(config Config) (*reactive.Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Apt == nil {
		return nil, errors.NotValidf("nil Apt")
	}
	s := &snappyKPIScripts{base{
		config: config,
		paths:  Paths{Name: SnappyKPIScripts},
	}}
	bus := reactive.NewBus()
	err := bus.Register(
		reactive.Handler{
			Name:  "install-files",
			Hooks: []string{hook.Install.String(), hook.UpgradeCharm.String()},
			Func:  s.installFiles,
		},
		reactive.Handler{
			Name:  "config-changed",
			Hooks: []string{hook.ConfigChanged.String()},
			Func:  s.configChanged,
		},
		reactive.Handler{
			Name: "push-gateway-gone",
			Hooks: []string{
				relationHook(endpointJujuInfo, hook.RelationDeparted),
				relationHook(endpointJujuInfo, hook.RelationBroken),
			},
			WhenNot: []string{reactive.AvailableFlag(endpointJujuInfo)},
			Func:    s.pushGatewayGone,
		},
		reactive.Handler{
			Name:  "stop",
			Hooks: []string{hook.Stop.String(), hook.Remove.String()},
			Func:  s.stop,
		},
		reactive.Handler{
			Name:    "heartbeat",
			Hooks:   []string{hook.UpdateStatus.String()},
			WhenAll: []string{FlagPushGatewayConfigured},
			Func:    s.pushHeartbeat,
		},
		reactive.Handler{
			Name:    "relation-joined",
			WhenAll: []string{reactive.AvailableFlag(endpointJujuInfo)},
			Func:    s.relationJoined,
		},
		reactive.Handler{
			Name:    "not-configured",
			WhenNot: []string{FlagPushGatewayConfigured},
			Func:    s.notConfigured,
		},
		reactive.Handler{
			Name:    "write-config",
			WhenAll: []string{FlagSnappyConfigured, FlagPushGatewayConfigured},
			Func:    s.writeConfig,
		},
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return bus, nil
}

func (s *snappyKPIScripts) installFiles(ctx context.Context, rc *reactive.Context) error {
	src := filepath.Join(rc.Charm.Path, "files", "thirdparty")
	if err := s.installScripts(rc, src); err != nil {
		return errors.Trace(err)
	}

	// Templates may have changed in an upgrade, so rewrite them.
	if err := s.configChanged(ctx, rc); err != nil {
		return errors.Trace(err)
	}

	packages := append([]string{}, snappyPackages...)
	packages = append(packages, strings.Fields(rc.Config.String(OptionExtraPackages))...)
	return errors.Annotate(s.config.Apt.Install(ctx, packages...), "installing script prerequisites")
}

func (s *snappyKPIScripts) configChanged(ctx context.Context, rc *reactive.Context) error {
	if err := rc.Flags.Clear(ctx, FlagSnappyConfigured); err != nil {
		return errors.Trace(err)
	}
	rep := s.reporter(rc)
	if err := rep.Maintenance("checking configuration"); err != nil {
		return errors.Trace(err)
	}
	for _, option := range snappyRequiredOptions {
		if !rc.Config.IsSet(option) {
			return errors.Trace(rep.Blocked(fmt.Sprintf("%s must be set", option)))
		}
		if err := rc.KV.Set(ctx, option, rc.Config.String(option)); err != nil {
			return errors.Trace(err)
		}
	}
	if ok, err := s.validSchedule(rc); !ok || err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rc.Flags.Set(ctx, FlagSnappyConfigured))
}

func (s *snappyKPIScripts) relationJoined(ctx context.Context, rc *reactive.Context) error {
	if err := rc.Flags.Clear(ctx, FlagPushGatewayConfigured); err != nil {
		return errors.Trace(err)
	}
	pushGateway := rc.Endpoint(endpointJujuInfo).PrivateAddress()
	if err := rc.KV.Set(ctx, KeyPushGateway, pushGateway); err != nil {
		return errors.Trace(err)
	}
	if err := rc.Flags.Set(ctx, FlagPushGatewayConfigured); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.reporter(rc).Active("Set push_gateway.configured state"))
}

func (s *snappyKPIScripts) pushGatewayGone(ctx context.Context, rc *reactive.Context) error {
	logger.Infof("no push gateway related")
	if err := rc.KV.Unset(ctx, KeyPushGateway); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rc.Flags.Clear(ctx, FlagPushGatewayConfigured))
}

func (s *snappyKPIScripts) notConfigured(_ context.Context, rc *reactive.Context) error {
	return errors.Trace(s.reporter(rc).Blocked("Waiting for push-gateway relation"))
}

// stop removes the cron job, and keeps write-config from putting it back.
func (s *snappyKPIScripts) stop(ctx context.Context, rc *reactive.Context) error {
	if err := rc.Flags.Clear(ctx, FlagSnappyConfigured); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.removeCronJob(ctx, rc))
}

func (s *snappyKPIScripts) pushHeartbeat(ctx context.Context, rc *reactive.Context) error {
	pushGateway, err := s.kvString(ctx, rc, KeyPushGateway)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.heartbeat(ctx, rc, pushGateway))
}

func (s *snappyKPIScripts) writeConfig(ctx context.Context, rc *reactive.Context) error {
	rep := s.reporter(rc)
	if err := rep.Blocked("Unable to configure charm - please see log"); err != nil {
		return errors.Trace(err)
	}
	user, err := s.kvString(ctx, rc, optionRunAs)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.writeCredentials(ctx, rc, user, "Launchpad credentials",
		OptionLaunchpadCredentials, OptionLaunchpadCredentialsFile); err != nil {
		return errors.Trace(err)
	}
	if err := s.writeCredentials(ctx, rc, user, "GA credentials",
		OptionGACredentials, OptionGACredentialsFile); err != nil {
		return errors.Trace(err)
	}
	pushGateway, err := s.kvString(ctx, rc, KeyPushGateway)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.writeConfigFile(rc, pushGateway, OptionLaunchpadCredentials, OptionGACredentials); err != nil {
		return errors.Trace(err)
	}
	if err := s.writeCronJob(rc, user); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rep.Active(fmt.Sprintf("Configured push gateway %s", pushGateway)))
}

// writeCredentials decodes the base64 credentials held under blobKey and
// saves them, owned by user, in the file named under fileKey.
func (s *snappyKPIScripts) writeCredentials(ctx context.Context, rc *reactive.Context, user, what, blobKey, fileKey string) error {
	file, err := s.kvString(ctx, rc, fileKey)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.reporter(rc).Maintenance(fmt.Sprintf("saving %s to %s", what, file)); err != nil {
		return errors.Trace(err)
	}
	if err := host.Mkdir(s.onHost(filepath.Dir(file)), user, 0700); err != nil {
		return errors.Trace(err)
	}
	blob, err := s.kvString(ctx, rc, blobKey)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return errors.Annotatef(err, "decoding %s", blobKey)
	}
	return errors.Trace(host.WriteFile(s.onHost(file), data, user, 0600))
}

func (s *snappyKPIScripts) kvString(ctx context.Context, rc *reactive.Context, key string) (string, error) {
	var value string
	if err := rc.KV.Get(ctx, key, &value); err != nil {
		return "", errors.Annotatef(err, "reading %s", key)
	}
	return value, nil
}
