// Package feature defines the contract between the toolasha core and the
// widgets built on top of it, plus the ordered registry the lifecycle
// coordinator drives through character switches.
package feature

import (
	"context"

	"github.com/tib-san/Toolasha-sub001/pkg/bus"
	"github.com/tib-san/Toolasha-sub001/pkg/dom"
	"github.com/tib-san/Toolasha-sub001/pkg/settings"
	"github.com/tib-san/Toolasha-sub001/pkg/state"
)

// Runtime hands a feature its dependencies. Features receive everything
// here explicitly; there are no ambient globals to import.
type Runtime struct {
	Store    *state.Store
	Observer *dom.Multiplexer
	Bus      *bus.Bus
	Flags    *settings.Store // nil when persistence is unavailable
}

// Feature is one widget module. Init and Teardown may block (both receive a
// context) and are always awaited by the caller before the lifecycle moves
// on — a feature must never straddle two character identities.
//
// A feature is responsible for releasing everything it registered: bus
// subscriptions via their Subscription handles (or Bus.OffOwner with its own
// name) and watch registrations via Observer.UnregisterAll(Name()).
type Feature interface {
	Name() string
	Init(ctx context.Context, rt *Runtime) error
	Teardown(ctx context.Context) error
}
