// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

// Reporter logs and sets the unit's workload status in one step, so the
// unit log always records the status transitions the operator sees.
type Reporter struct {
	setter StatusSetter
	logger loggo.Logger
}

// NewReporter returns a Reporter setting status through setter.
func NewReporter(setter StatusSetter, logger loggo.Logger) *Reporter {
	return &Reporter{setter: setter, logger: logger}
}

// Set logs the status and message, then sets them.
func (r *Reporter) Set(s Status, msg string) error {
	r.logger.Infof("%s: %s", s, msg)
	info := StatusInfo{Status: s, Message: msg}
	if err := info.Validate(); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(r.setter.SetStatus(info), "setting status %s", s)
}

// Active sets active status.
func (r *Reporter) Active(msg string) error {
	return r.Set(Active, msg)
}

// Blocked sets blocked status.
func (r *Reporter) Blocked(msg string) error {
	return r.Set(Blocked, msg)
}

// Maintenance sets maintenance status.
func (r *Reporter) Maintenance(msg string) error {
	return r.Set(Maintenance, msg)
}
