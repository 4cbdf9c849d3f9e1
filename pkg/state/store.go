// Package state maintains the in-memory mirror of server-authoritative
// character state. The mirror is mutated only by applying intercepted
// frames; everything else — features, the console, tests — reads it through
// accessors that return live references and must treat them as read-only.
package state

import (
	"fmt"
	"sync"

	"github.com/tib-san/Toolasha-sub001/pkg/bus"
	"github.com/tib-san/Toolasha-sub001/pkg/frame"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

// Store is the single source of truth for mirrored game state.
type Store struct {
	mu     sync.RWMutex
	events *bus.Bus

	epoch     uint64
	suspended bool

	character    *Character
	characterSet bool

	inventory collection[ItemSlot]
	listings  collection[Listing]
	actions   collection[Action]
	quests    collection[Quest]
}

// New creates an empty, pre-init store that publishes change events on events.
func New(events *bus.Bus) *Store {
	return &Store{events: events}
}

// On subscribes to one of the store's change events.
func (s *Store) On(event, owner string, fn bus.Handler) *bus.Subscription {
	return s.events.On(event, owner, fn)
}

// Off removes a change-event subscription.
func (s *Store) Off(sub *bus.Subscription) bool {
	return s.events.Off(sub)
}

// Epoch returns the identity epoch the mirror currently belongs to.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Suspend stops frame application. Used by the lifecycle coordinator while a
// character switch is in flight so no consumer can observe a mixed-identity
// mirror.
func (s *Store) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Resume re-enables frame application.
func (s *Store) Resume() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
}

// Suspended reports whether frame application is currently suspended.
func (s *Store) Suspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended
}

// Reset clears every sub-state back to absent and moves the mirror to a new
// identity epoch. Only the lifecycle coordinator calls this.
func (s *Store) Reset(epoch uint64) {
	s.mu.Lock()
	s.epoch = epoch
	s.character = nil
	s.characterSet = false
	s.inventory.clear()
	s.listings.clear()
	s.actions.clear()
	s.quests.clear()
	s.mu.Unlock()
	logger.InfoCF("state", "store reset", map[string]interface{}{"epoch": epoch})
}

// Rehydrate resets the store to epoch, applies the full snapshot frame for
// the new identity, and resumes frame application.
func (s *Store) Rehydrate(f frame.Frame, epoch uint64) error {
	if f.Type != frame.TypeInitCharacterData {
		return fmt.Errorf("state: rehydrate needs %s, got %s", frame.TypeInitCharacterData, f.Type)
	}
	s.Reset(epoch)
	s.Resume()
	f.Epoch = epoch
	return s.ApplyFrame(f)
}

// emit pairs an event name with its payload; mutations collect them under
// the lock and the store publishes them after the lock is released so
// subscribers can read the store re-entrantly.
type emitRecord struct {
	event   string
	payload interface{}
}

// ApplyFrame routes a frame to its merge function and publishes the
// resulting change events in arrival order. Frame types the store does not
// understand are ignored for forward compatibility. Frames stamped with a
// stale epoch, and all frames while suspended, are dropped with a log line.
func (s *Store) ApplyFrame(f frame.Frame) error {
	if f.Direction != frame.Inbound {
		return nil
	}
	if !stateFrameTypes[f.Type] {
		logger.DebugCF("state", "frame type not mirrored", map[string]interface{}{
			"type": string(f.Type),
		})
		return nil
	}

	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		logger.DebugCF("state", "frame dropped while suspended", map[string]interface{}{
			"type": string(f.Type),
		})
		return nil
	}
	if f.Epoch != s.epoch {
		s.mu.Unlock()
		logger.WarnCF("state", "stale-epoch frame dropped", map[string]interface{}{
			"type":        string(f.Type),
			"frameEpoch":  f.Epoch,
			"mirrorEpoch": s.epoch,
		})
		return nil
	}

	var (
		emits []emitRecord
		err   error
	)
	switch f.Type {
	case frame.TypeInitCharacterData:
		emits, err = s.applyInit(f)
	case frame.TypeCharacterUpdated:
		emits, err = s.applyCharacterUpdated(f)
	case frame.TypeItemsUpdated:
		emits, err = s.applyItemsUpdated(f)
	case frame.TypeMarketListingsUpdated:
		emits, err = s.applyListingsUpdated(f)
	case frame.TypeActionsUpdated:
		emits, err = s.applyActionsUpdated(f)
	case frame.TypeActionCompleted:
		emits, err = s.applyActionCompleted(f)
	case frame.TypeQuestsUpdated:
		emits, err = s.applyQuestsUpdated(f)
	}
	s.mu.Unlock()

	for _, e := range emits {
		s.events.Emit(e.event, e.payload)
	}
	return err
}

func (s *Store) applyInit(f frame.Frame) ([]emitRecord, error) {
	var p initPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}

	var emits []emitRecord
	if p.Character != nil {
		s.character = p.Character
		s.characterSet = true
		emits = append(emits, emitRecord{EventCharacterUpdated, p.Character})
	}
	if p.Items != nil {
		ids := s.inventory.replaceAll(p.Items, func(i *ItemSlot) int64 { return i.ID })
		emits = append(emits, emitRecord{EventInventoryChanged, ids})
	}
	if p.Actions != nil {
		ids := s.actions.replaceAll(p.Actions, func(a *Action) int64 { return a.ID })
		emits = append(emits, emitRecord{EventActionsChanged, ids})
	}
	if p.Quests != nil {
		ids := s.quests.replaceAll(p.Quests, func(q *Quest) int64 { return q.ID })
		emits = append(emits, emitRecord{EventQuestsChanged, ids})
	}
	if p.Listings != nil {
		ids := s.listings.replaceAll(p.Listings, func(l *Listing) int64 { return l.ID })
		emits = append(emits, emitRecord{EventMarketListingsChanged, ids})
	}

	// Hydrated goes out last so a consumer reacting to it sees every
	// sub-state the snapshot carried already in place.
	emits = append(emits, emitRecord{EventHydrated, p.Character})
	logger.InfoCF("state", "mirror hydrated", map[string]interface{}{
		"epoch":     s.epoch,
		"character": characterName(p.Character),
		"items":     len(p.Items),
		"actions":   len(p.Actions),
		"quests":    len(p.Quests),
		"listings":  len(p.Listings),
	})
	return emits, nil
}

func characterName(c *Character) string {
	if c == nil {
		return ""
	}
	return c.Name
}

func (s *Store) applyCharacterUpdated(f frame.Frame) ([]emitRecord, error) {
	var p characterUpdatedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	if p.Character == nil {
		return nil, fmt.Errorf("state: %s carried no character", f.Type)
	}
	s.character = p.Character
	s.characterSet = true
	return []emitRecord{{EventCharacterUpdated, p.Character}}, nil
}

// uninitializedMerge logs the pinned-down behavior for incremental frames
// that arrive before the sub-state was ever hydrated: an error-logged no-op
// rather than guessing a default.
func uninitializedMerge(t frame.Type, sub SubState) {
	logger.ErrorCF("state", "incremental frame for uninitialized sub-state ignored", map[string]interface{}{
		"type":     string(t),
		"subState": string(sub),
	})
}

func (s *Store) applyItemsUpdated(f frame.Frame) ([]emitRecord, error) {
	if !s.inventory.initialized {
		uninitializedMerge(f.Type, SubInventory)
		return nil, nil
	}
	var p itemsUpdatedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	touched := make([]int64, 0, len(p.Items))
	for _, item := range p.Items {
		if item.Count == 0 {
			s.inventory.remove(item.ID)
		} else {
			s.inventory.upsert(item, item.ID)
		}
		touched = append(touched, item.ID)
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return []emitRecord{{EventInventoryChanged, touched}}, nil
}

func (s *Store) applyListingsUpdated(f frame.Frame) ([]emitRecord, error) {
	if !s.listings.initialized {
		uninitializedMerge(f.Type, SubMarketListings)
		return nil, nil
	}
	var p listingsUpdatedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	touched := make([]int64, 0, len(p.Listings)+len(p.RemovedIDs))
	for _, listing := range p.Listings {
		s.listings.upsert(listing, listing.ID)
		touched = append(touched, listing.ID)
	}
	for _, id := range p.RemovedIDs {
		if s.listings.remove(id) {
			touched = append(touched, id)
		}
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return []emitRecord{{EventMarketListingsChanged, touched}}, nil
}

func (s *Store) applyActionsUpdated(f frame.Frame) ([]emitRecord, error) {
	if !s.actions.initialized {
		uninitializedMerge(f.Type, SubActions)
		return nil, nil
	}
	var p actionsUpdatedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	touched := make([]int64, 0, len(p.Actions)+len(p.RemovedIDs))
	for _, action := range p.Actions {
		s.actions.upsert(action, action.ID)
		touched = append(touched, action.ID)
	}
	for _, id := range p.RemovedIDs {
		if s.actions.remove(id) {
			touched = append(touched, id)
		}
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return []emitRecord{{EventActionsChanged, touched}}, nil
}

func (s *Store) applyActionCompleted(f frame.Frame) ([]emitRecord, error) {
	if !s.actions.initialized {
		uninitializedMerge(f.Type, SubActions)
		return nil, nil
	}
	var p actionCompletedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	if !s.actions.remove(p.ActionID) {
		logger.DebugCF("state", "completed action not in mirror", map[string]interface{}{
			"actionId": p.ActionID,
		})
		return nil, nil
	}
	return []emitRecord{{EventActionsChanged, []int64{p.ActionID}}}, nil
}

func (s *Store) applyQuestsUpdated(f frame.Frame) ([]emitRecord, error) {
	if !s.quests.initialized {
		uninitializedMerge(f.Type, SubQuests)
		return nil, nil
	}
	var p questsUpdatedPayload
	if err := f.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", f.Type, err)
	}
	touched := make([]int64, 0, len(p.Quests))
	for _, quest := range p.Quests {
		s.quests.upsert(quest, quest.ID)
		touched = append(touched, quest.ID)
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return []emitRecord{{EventQuestsChanged, touched}}, nil
}

// Hydrated reports whether a sub-state has received its first full snapshot.
// Absent (pre-init) is different from hydrated-but-empty.
func (s *Store) Hydrated(sub SubState) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch sub {
	case SubCharacter:
		return s.characterSet
	case SubInventory:
		return s.inventory.initialized
	case SubMarketListings:
		return s.listings.initialized
	case SubActions:
		return s.actions.initialized
	case SubQuests:
		return s.quests.initialized
	default:
		return false
	}
}

// Character returns the live character record, or nil pre-init. Callers
// must not mutate it.
func (s *Store) Character() *Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.character
}

// Inventory returns inventory records in insertion order, or nil pre-init.
func (s *Store) Inventory() []*ItemSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory.ordered()
}

// Item returns one inventory record by slot id.
func (s *Store) Item(id int64) (*ItemSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.inventory.byID[id]
	return item, ok
}

// MarketListings returns listing records in insertion order, or nil pre-init.
func (s *Store) MarketListings() []*Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings.ordered()
}

// Listing returns one market listing by id.
func (s *Store) Listing(id int64) (*Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings.byID[id]
	return listing, ok
}

// Actions returns action records in insertion order, or nil pre-init.
func (s *Store) Actions() []*Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions.ordered()
}

// Quests returns quest records in insertion order, or nil pre-init.
func (s *Store) Quests() []*Quest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quests.ordered()
}
