// Package app assembles the toolasha core. The Container is the composition
// root: every layer is constructed explicitly here and handed its
// dependencies, so nothing in the tree reaches for an ambient global.
package app

import (
	"context"

	"github.com/tib-san/Toolasha-sub001/pkg/bus"
	"github.com/tib-san/Toolasha-sub001/pkg/config"
	"github.com/tib-san/Toolasha-sub001/pkg/dom"
	"github.com/tib-san/Toolasha-sub001/pkg/feature"
	"github.com/tib-san/Toolasha-sub001/pkg/frame"
	"github.com/tib-san/Toolasha-sub001/pkg/intercept"
	"github.com/tib-san/Toolasha-sub001/pkg/lifecycle"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
	"github.com/tib-san/Toolasha-sub001/pkg/settings"
	"github.com/tib-san/Toolasha-sub001/pkg/state"
)

// Container holds the wired core.
type Container struct {
	Config      *config.Config
	Bus         *bus.Bus
	Interceptor *intercept.Interceptor
	Relay       *intercept.Relay
	Store       *state.Store
	Observer    *dom.Multiplexer
	Features    *feature.Registry
	Runtime     *feature.Runtime
	Lifecycle   *lifecycle.Coordinator
	Flags       *settings.Store // nil when the flag store could not open
}

// NewContainer builds and wires the whole core from configuration. The
// returned container owns no goroutines yet; Relay.Start and the console
// are launched by the caller.
func NewContainer(ctx context.Context, cfg *config.Config) *Container {
	sharedBus := bus.New()
	store := state.New(sharedBus)
	observer := dom.NewMultiplexer(cfg.Observer.DebounceDelay.Std())
	features := feature.NewRegistry()

	flags, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		logger.WarnCF("app", "settings store unavailable, flags default to enabled", map[string]interface{}{
			"path":  cfg.Settings.Path,
			"error": err.Error(),
		})
		flags = nil
	}

	rt := &feature.Runtime{
		Store:    store,
		Observer: observer,
		Bus:      sharedBus,
		Flags:    flags,
	}

	coord := lifecycle.New(ctx, sharedBus, store, features, rt, cfg.Lifecycle.ReinitDelay.Std())

	interceptor := intercept.New(coord.Epoch)

	// Tap order matters: the store mirrors the frame first, then the
	// coordinator reacts to identity signals, so a feature woken by a
	// lifecycle event always sees the snapshot already applied.
	interceptor.Tap("state", func(f frame.Frame) {
		if err := store.ApplyFrame(f); err != nil {
			logger.ErrorCF("app", "frame apply failed", map[string]interface{}{
				"type":  string(f.Type),
				"error": err.Error(),
			})
		}
	})
	interceptor.Tap("lifecycle", coord.HandleFrame)

	relay := intercept.NewRelay(interceptor, cfg.Relay.Listen, cfg.Relay.Upstream)

	return &Container{
		Config:      cfg,
		Bus:         sharedBus,
		Interceptor: interceptor,
		Relay:       relay,
		Store:       store,
		Observer:    observer,
		Features:    features,
		Runtime:     rt,
		Lifecycle:   coord,
		Flags:       flags,
	}
}

// Close releases container-owned resources.
func (c *Container) Close() {
	c.Lifecycle.Close()
	if c.Flags != nil {
		c.Flags.Close()
	}
}
