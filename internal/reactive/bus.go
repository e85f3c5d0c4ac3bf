// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("kpi.reactive")

// Bus holds the registered handlers of a charm and dispatches them.
type Bus struct {
	handlers []Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds handlers to the bus. Handlers are considered in
// registration order.
func (b *Bus) Register(handlers ...Handler) error {
	for _, h := range handlers {
		if err := h.Validate(); err != nil {
			return errors.Trace(err)
		}
		for _, existing := range b.handlers {
			if existing.Name == h.Name {
				return errors.AlreadyExistsf("handler %q", h.Name)
			}
		}
		b.handlers = append(b.handlers, h)
	}
	return nil
}

// Dispatch runs the handlers for the hook described by rc.
//
// Hook handlers matching the running hook run first, in registration
// order. Then, until no handler is eligible, the first flag handler whose
// predicates hold and which has not yet run is invoked; flags are
// re-read after each handler so changes made by one handler are seen by
// the next. A handler runs at most once per dispatch. The first handler
// error aborts the dispatch.
func (b *Bus) Dispatch(ctx context.Context, rc *Context) error {
	hookName := rc.Hook.Hook().Name()
	invoked := make(map[string]bool)

	for _, h := range b.handlers {
		if !h.isHookHandler() || !h.matchesHook(hookName) {
			continue
		}
		ok, err := b.eligible(ctx, rc, h)
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			continue
		}
		if err := b.invoke(ctx, rc, h); err != nil {
			return errors.Trace(err)
		}
		invoked[h.Name] = true
	}

	for {
		next, err := b.nextFlagHandler(ctx, rc, invoked)
		if err != nil {
			return errors.Trace(err)
		}
		if next == nil {
			return nil
		}
		if err := b.invoke(ctx, rc, *next); err != nil {
			return errors.Trace(err)
		}
		invoked[next.Name] = true
	}
}

func (b *Bus) nextFlagHandler(ctx context.Context, rc *Context, invoked map[string]bool) (*Handler, error) {
	flags, err := rc.Flags.All(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, h := range b.handlers {
		if h.isHookHandler() || invoked[h.Name] {
			continue
		}
		if h.test(flags) {
			return &b.handlers[i], nil
		}
	}
	return nil, nil
}

func (b *Bus) eligible(ctx context.Context, rc *Context, h Handler) (bool, error) {
	flags, err := rc.Flags.All(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	return h.test(flags), nil
}

func (b *Bus) invoke(ctx context.Context, rc *Context, h Handler) error {
	logger.Debugf("invoking handler %s", h.Name)
	if err := h.Func(ctx, rc); err != nil {
		return errors.Annotatef(err, "handler %s", h.Name)
	}
	return nil
}
