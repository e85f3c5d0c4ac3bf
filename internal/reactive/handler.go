// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// HandlerFunc is the body of a handler.
type HandlerFunc func(ctx context.Context, rc *Context) error

// Handler is a unit of charm behaviour, run when the hook it names is
// running or when the flags it tests are in the right state.
type Handler struct {
	// Name identifies the handler in logs and errors.
	Name string

	// Hooks, if not empty, makes this a hook handler: it only runs for
	// the named hooks, before any flag handler.
	Hooks []string

	// WhenAll requires every flag to be set.
	WhenAll []string

	// WhenAny requires at least one flag to be set.
	WhenAny []string

	// WhenNot requires every flag to be unset.
	WhenNot []string

	// WhenNotAll requires at least one flag to be unset.
	WhenNotAll []string

	Func HandlerFunc
}

// Validate returns an error if the handler cannot be registered.
func (h Handler) Validate() error {
	if h.Name == "" {
		return errors.NotValidf("handler without name")
	}
	if h.Func == nil {
		return errors.NotValidf("handler %q without func", h.Name)
	}
	return nil
}

func (h Handler) isHookHandler() bool {
	return len(h.Hooks) > 0
}

func (h Handler) matchesHook(name string) bool {
	for _, hookName := range h.Hooks {
		if hookName == name {
			return true
		}
	}
	return false
}

// test reports whether the flag predicates hold for the given set flags.
func (h Handler) test(flags set.Strings) bool {
	for _, flag := range h.WhenAll {
		if !flags.Contains(flag) {
			return false
		}
	}
	if len(h.WhenAny) > 0 {
		found := false
		for _, flag := range h.WhenAny {
			if flags.Contains(flag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, flag := range h.WhenNot {
		if flags.Contains(flag) {
			return false
		}
	}
	if len(h.WhenNotAll) > 0 {
		missing := false
		for _, flag := range h.WhenNotAll {
			if !flags.Contains(flag) {
				missing = true
				break
			}
		}
		if !missing {
			return false
		}
	}
	return true
}
