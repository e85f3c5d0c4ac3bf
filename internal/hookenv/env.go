// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/proxy"

	"github.com/canonical/kpi-charms/internal/hook"
)

// Environment variables the unit agent sets for every hook.
const (
	EnvUnitName       = "JUJU_UNIT_NAME"
	EnvCharmDir       = "JUJU_CHARM_DIR"
	EnvLegacyCharmDir = "CHARM_DIR"
	EnvLoggingConfig  = "JUJU_LOGGING_CONFIG"
	EnvUnitStateDB    = "UNIT_STATE_DB"

	EnvCharmHTTPProxy  = "JUJU_CHARM_HTTP_PROXY"
	EnvCharmHTTPSProxy = "JUJU_CHARM_HTTPS_PROXY"
	EnvCharmFTPProxy   = "JUJU_CHARM_FTP_PROXY"
	EnvCharmNoProxy    = "JUJU_CHARM_NO_PROXY"
)

// Environment describes the unit and hook a charm binary is running for.
type Environment struct {
	UnitName string
	CharmDir string
	Hook     hook.Info

	// Proxy holds the model's charm proxy settings.
	Proxy proxy.Settings
}

// ReadEnvironment builds an Environment from the variables the unit
// agent exports. hookName, if not empty, overrides the hook name found
// in the environment.
func ReadEnvironment(getenv func(string) string, hookName string) (Environment, error) {
	unitName := getenv(EnvUnitName)
	if unitName == "" {
		return Environment{}, errors.NotFoundf("%s", EnvUnitName)
	}
	if !names.IsValidUnit(unitName) {
		return Environment{}, errors.NotValidf("unit name %q", unitName)
	}
	charmDir := getenv(EnvCharmDir)
	if charmDir == "" {
		charmDir = getenv(EnvLegacyCharmDir)
	}
	if charmDir == "" {
		return Environment{}, errors.NotFoundf("%s", EnvCharmDir)
	}

	var (
		info hook.Info
		err  error
	)
	if hookName != "" {
		info, err = hook.FromEnvironment(func(key string) string {
			switch key {
			case hook.EnvDispatchPath:
				return ""
			case hook.EnvHookName:
				return hookName
			}
			return getenv(key)
		})
	} else {
		info, err = hook.FromEnvironment(getenv)
	}
	if err != nil {
		return Environment{}, errors.Annotate(err, "determining hook")
	}
	return Environment{
		UnitName: unitName,
		CharmDir: charmDir,
		Hook:     info,
		Proxy: proxy.Settings{
			Http:    getenv(EnvCharmHTTPProxy),
			Https:   getenv(EnvCharmHTTPSProxy),
			Ftp:     getenv(EnvCharmFTPProxy),
			NoProxy: getenv(EnvCharmNoProxy),
		},
	}, nil
}
