// Package bus provides the in-process event bus shared by the interceptor,
// the state store, and the lifecycle coordinator. Subscriptions are named
// after the module that registered them so a misbehaving consumer can be
// identified in the logs, and delivery is synchronous in registration order.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

// Handler processes one published event. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is caught and logged and never
// affects delivery to the handlers after it.
type Handler func(event string, payload interface{})

// Subscription is one registered callback. It is owned by whichever module
// registered it and is released only through an explicit Off/OffOwner —
// never implicitly, so a disposed feature cannot leave a silently live
// callback behind.
type Subscription struct {
	id    string
	event string
	owner string
	fn    Handler
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Event returns the event name this subscription listens for.
func (s *Subscription) Event() string { return s.event }

// Owner returns the name of the module that registered the subscription.
func (s *Subscription) Owner() string { return s.owner }

// Bus dispatches named events to registered subscriptions.
type Bus struct {
	mu      sync.Mutex
	byEvent map[string][]*Subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{byEvent: make(map[string][]*Subscription)}
}

// On registers fn for event. Emission order per event is registration order.
func (b *Bus) On(event, owner string, fn Handler) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		event: event,
		owner: owner,
		fn:    fn,
	}
	b.mu.Lock()
	b.byEvent[event] = append(b.byEvent[event], sub)
	b.mu.Unlock()
	return sub
}

// Off removes a subscription. Removing a subscription that was already
// removed (or never registered) is a harmless no-op.
func (b *Bus) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byEvent[sub.event]
	for i, s := range subs {
		if s.id == sub.id {
			b.byEvent[sub.event] = append(subs[:i], subs[i+1:]...)
			if len(b.byEvent[sub.event]) == 0 {
				delete(b.byEvent, sub.event)
			}
			return true
		}
	}
	return false
}

// OffOwner removes every subscription registered under owner, across all
// events. Returns how many were removed.
func (b *Bus) OffOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for event, subs := range b.byEvent {
		kept := subs[:0]
		for _, s := range subs {
			if s.owner == owner {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.byEvent, event)
		} else {
			b.byEvent[event] = kept
		}
	}
	return removed
}

// Emit delivers payload to every subscription for event, in registration
// order. The subscriber list is snapshotted before iterating, so a handler
// that registers or unregisters subscriptions mid-emission never causes a
// still-registered sibling to be skipped or invoked twice. A subscription
// removed during emission may still observe the in-flight event.
func (b *Bus) Emit(event string, payload interface{}) {
	b.mu.Lock()
	subs := b.byEvent[event]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.dispatch(sub, event, payload)
	}
}

func (b *Bus) dispatch(sub *Subscription, event string, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bus", "subscriber panicked", map[string]interface{}{
				"event": event,
				"owner": sub.owner,
				"panic": r,
			})
		}
	}()
	sub.fn(event, payload)
}

// SubscriberCount reports how many subscriptions exist for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byEvent[event])
}

// Owners returns the distinct owner names currently holding subscriptions.
// Used by the developer console.
func (b *Bus) Owners() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool)
	var owners []string
	for _, subs := range b.byEvent {
		for _, s := range subs {
			if !seen[s.owner] {
				seen[s.owner] = true
				owners = append(owners, s.owner)
			}
		}
	}
	return owners
}
