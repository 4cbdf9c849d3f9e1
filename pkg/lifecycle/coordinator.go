// Package lifecycle coordinates character switches: it detects the
// identity-changing frames, suspends the state mirror, drains feature
// teardown, rehydrates the mirror for the new identity, and re-runs feature
// initialization — guaranteeing no feature ever observes a mixed-identity
// mirror.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/tib-san/Toolasha-sub001/pkg/bus"
	"github.com/tib-san/Toolasha-sub001/pkg/feature"
	"github.com/tib-san/Toolasha-sub001/pkg/frame"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
	"github.com/tib-san/Toolasha-sub001/pkg/state"
)

// State is the coordinator's phase.
type State int32

const (
	// StateStable means the mirror and features belong to one identity.
	StateStable State = iota
	// StateSwitching means teardown for the old identity is in flight.
	StateSwitching
	// StateReinitializing means the mirror is rehydrated and feature
	// initialization for the new identity is pending or running.
	StateReinitializing
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateSwitching:
		return "switching"
	case StateReinitializing:
		return "reinitializing"
	default:
		return "unknown"
	}
}

// Events published on the shared bus. Payload is the identity epoch.
const (
	// EventSwitching fires after the epoch is bumped, before teardown.
	EventSwitching = "lifecycle.switching"
	// EventSwitched fires once feature initialization for the new
	// identity has settled.
	EventSwitched = "lifecycle.switched"
)

// DefaultReinitDelay is the settle window between rehydration and feature
// initialization. There is no idle-priority hint to lean on here, so the
// bounded fallback delay is the whole mechanism; it gives the page's own
// post-switch rendering a chance to finish before features touch the tree.
const DefaultReinitDelay = 300 * time.Millisecond

// Coordinator drives the Stable → Switching → Reinitializing → Stable
// machine. At most one switch sequence runs at a time; overlapping reset
// signals are coalesced, never queued.
type Coordinator struct {
	ctx      context.Context
	events   *bus.Bus
	store    *state.Store
	features *feature.Registry
	rt       *feature.Runtime

	reinitDelay time.Duration

	mu          sync.Mutex
	state       State
	epoch       uint64
	booted      bool
	pendingInit *frame.Frame
	tearingDown bool
	reinitTimer *time.Timer
}

// New creates a coordinator. The store starts suspended; it is resumed by
// the first full snapshot, so nothing is ever merged into a mirror that was
// never hydrated.
func New(ctx context.Context, events *bus.Bus, store *state.Store, features *feature.Registry, rt *feature.Runtime, reinitDelay time.Duration) *Coordinator {
	if reinitDelay <= 0 {
		reinitDelay = DefaultReinitDelay
	}
	store.Suspend()
	return &Coordinator{
		ctx:         ctx,
		events:      events,
		store:       store,
		features:    features,
		rt:          rt,
		reinitDelay: reinitDelay,
	}
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current identity epoch. The interceptor stamps frames
// with it so the store can discard updates that straddle a reset.
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// InProgress reports whether a reset is currently underway.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateStable
}

// Close cancels the pending reinitialization timer, if any.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reinitTimer != nil {
		c.reinitTimer.Stop()
		c.reinitTimer = nil
	}
}

// HandleFrame is the coordinator's interceptor tap. Only the two
// identity-bearing frame types matter; everything else passes through.
func (c *Coordinator) HandleFrame(f frame.Frame) {
	if f.Direction != frame.Inbound {
		return
	}
	switch f.Type {
	case frame.TypeCharacterSwitching:
		c.beginSwitch()
	case frame.TypeInitCharacterData:
		c.handleInit(f)
	}
}

// beginSwitch enters Switching: bump the epoch, suspend the mirror, emit
// the switching event, then drain feature teardown off the frame goroutine.
func (c *Coordinator) beginSwitch() {
	c.mu.Lock()
	if c.state != StateStable {
		st := c.state
		c.mu.Unlock()
		logger.WarnCF("lifecycle", "reset signal coalesced", map[string]interface{}{
			"state": st.String(),
		})
		return
	}
	c.state = StateSwitching
	c.epoch++
	c.tearingDown = true
	c.pendingInit = nil
	epoch := c.epoch
	c.mu.Unlock()

	c.store.Suspend()
	logger.InfoCF("lifecycle", "character switching", map[string]interface{}{"epoch": epoch})
	c.events.Emit(EventSwitching, epoch)

	go func() {
		// Every teardown hook is awaited before the new identity's
		// snapshot may be applied.
		c.features.TeardownAll(c.ctx)

		c.mu.Lock()
		c.tearingDown = false
		pending := c.pendingInit
		c.pendingInit = nil
		c.mu.Unlock()

		if pending != nil {
			c.reinitialize(*pending)
		}
	}()
}

// handleInit reacts to a full snapshot frame depending on the phase: at
// boot it performs the initial hydration, during Switching it is the
// "switched" signal, while Reinitializing it is coalesced, and in a booted
// Stable phase it is a server resync the store handles on its own tap.
func (c *Coordinator) handleInit(f frame.Frame) {
	c.mu.Lock()
	switch c.state {
	case StateStable:
		if c.booted {
			c.mu.Unlock()
			return
		}
		c.state = StateSwitching // brief: reuse the reinit path for boot
		c.mu.Unlock()
		c.reinitialize(f)

	case StateSwitching:
		if c.tearingDown {
			// Teardown still draining: stash the snapshot; the
			// teardown goroutine picks it up when done.
			c.pendingInit = &f
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.reinitialize(f)

	case StateReinitializing:
		c.mu.Unlock()
		logger.WarnC("lifecycle", "switched signal coalesced, reinitialization already running")

	default:
		c.mu.Unlock()
	}
}

// reinitialize rehydrates the mirror for the new identity and schedules
// feature initialization after the settle delay. The timer is the
// coordinator's one cancellable resource in this phase.
//
// Two callers can race here: the teardown goroutine picking up a stashed
// snapshot, and the frame goroutine delivering one just after tearingDown
// clears. The state check below serializes them so at most one pass runs.
func (c *Coordinator) reinitialize(f frame.Frame) {
	c.mu.Lock()
	if c.state == StateReinitializing {
		c.mu.Unlock()
		logger.WarnC("lifecycle", "switched signal coalesced, reinitialization already running")
		return
	}
	if c.reinitTimer != nil {
		c.reinitTimer.Stop()
		c.reinitTimer = nil
	}
	c.state = StateReinitializing
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.store.Rehydrate(f, epoch); err != nil {
		logger.ErrorCF("lifecycle", "rehydration failed", map[string]interface{}{
			"epoch": epoch,
			"error": err.Error(),
		})
	}

	c.mu.Lock()
	c.reinitTimer = time.AfterFunc(c.reinitDelay, func() {
		c.features.InitAll(c.ctx, c.rt)

		c.mu.Lock()
		c.state = StateStable
		c.booted = true
		c.reinitTimer = nil
		c.mu.Unlock()

		logger.InfoCF("lifecycle", "character switched", map[string]interface{}{"epoch": epoch})
		c.events.Emit(EventSwitched, epoch)
	})
	c.mu.Unlock()
}
