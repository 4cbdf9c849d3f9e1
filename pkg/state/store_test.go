package state

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/tib-san/Toolasha-sub001/pkg/bus"
	"github.com/tib-san/Toolasha-sub001/pkg/frame"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

func init() {
	logger.SetOutput(io.Discard)
}

func mkFrame(t frame.Type, payload string) frame.Frame {
	return frame.Frame{Type: t, Direction: frame.Inbound, Payload: json.RawMessage(payload)}
}

const initSnapshot = `{
	"type": "init_character_data",
	"character": {"id": "c1", "name": "Ash", "gameMode": "standard", "level": 10},
	"characterItems": [
		{"id": 1, "itemHrid": "/items/log", "count": 5},
		{"id": 2, "itemHrid": "/items/coin", "count": 100},
		{"id": 3, "itemHrid": "/items/axe", "count": 1, "enhancementLevel": 3}
	],
	"characterActions": [],
	"marketListings": [
		{"id": 7, "itemHrid": "/items/log", "side": "sell", "quantity": 50, "unitPrice": 12, "status": "active"}
	]
}`

func hydrated(t *testing.T) *Store {
	t.Helper()
	s := New(bus.New())
	if err := s.ApplyFrame(mkFrame(frame.TypeInitCharacterData, initSnapshot)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return s
}

func TestAbsentVersusEmpty(t *testing.T) {
	s := hydrated(t)

	// The snapshot carried an empty action list and no quests at all:
	// actions are hydrated-but-empty, quests are absent.
	if !s.Hydrated(SubActions) {
		t.Error("actions carried as [] should be hydrated")
	}
	if s.Hydrated(SubQuests) {
		t.Error("quests omitted from snapshot should stay absent")
	}
	if got := s.Actions(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil actions, got %v", got)
	}
	if got := s.Quests(); got != nil {
		t.Errorf("expected nil quests pre-init, got %v", got)
	}
}

func TestPreInitStore(t *testing.T) {
	s := New(bus.New())
	for _, sub := range SubStates {
		if s.Hydrated(sub) {
			t.Errorf("%s hydrated before any snapshot", sub)
		}
	}
	if s.Character() != nil {
		t.Error("expected nil character pre-init")
	}
}

// TestReplaceThenIncrement: a full character snapshot followed by an
// incremental inventory update with a new id must keep every previously
// present id unchanged and contain the new one.
func TestReplaceThenIncrement(t *testing.T) {
	s := hydrated(t)

	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 42, "itemHrid": "/items/gem", "count": 1}
	]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	items := s.Inventory()
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	if _, ok := s.Item(42); !ok {
		t.Fatal("expected id 42 present")
	}
	for _, id := range []int64{1, 2, 3} {
		item, ok := s.Item(id)
		if !ok {
			t.Fatalf("previously present id %d lost", id)
		}
		if id == 2 && item.Count != 100 {
			t.Errorf("untouched record mutated: %+v", item)
		}
	}
}

// TestMergeIdempotent reapplies the same incremental frame twice: the
// collection must still hold exactly one record per id with the
// most-recently-applied fields.
func TestMergeIdempotent(t *testing.T) {
	s := hydrated(t)

	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 1, "itemHrid": "/items/log", "count": 9}
	]}`
	for i := 0; i < 2; i++ {
		if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	items := s.Inventory()
	if len(items) != 3 {
		t.Fatalf("expected 3 items after idempotent reapply, got %d", len(items))
	}
	item, _ := s.Item(1)
	if item.Count != 9 {
		t.Errorf("expected most recent record, got count %d", item.Count)
	}
}

func TestRecordReplacedWholesale(t *testing.T) {
	s := hydrated(t)

	// The update omits enhancementLevel for id 3: a partial record must
	// replace the old one entirely, never merge field-by-field.
	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 3, "itemHrid": "/items/axe", "count": 1}
	]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	item, _ := s.Item(3)
	if item.EnhancementLevel != 0 {
		t.Errorf("stale field survived a wholesale record replace: %+v", item)
	}
}

func TestOrderingPreserved(t *testing.T) {
	s := hydrated(t)

	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 2, "itemHrid": "/items/coin", "count": 150},
		{"id": 42, "itemHrid": "/items/gem", "count": 1}
	]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := []int64{1, 2, 3, 42}
	items := s.Inventory()
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, items[i].ID)
		}
	}
}

func TestExplicitDeletionOnly(t *testing.T) {
	s := hydrated(t)

	// count == 0 is the explicit inventory deletion.
	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 1, "itemHrid": "/items/log", "count": 0}
	]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); ok {
		t.Error("expected id 1 explicitly deleted")
	}
	if len(s.Inventory()) != 2 {
		t.Errorf("expected 2 items, got %d", len(s.Inventory()))
	}
}

func TestListingRemovalExplicit(t *testing.T) {
	s := hydrated(t)

	update := `{"type": "market_listings_updated",
		"endMarketListings": [
			{"id": 8, "itemHrid": "/items/coin", "side": "buy", "quantity": 10, "unitPrice": 3, "status": "active"}
		],
		"removedListingIds": [7]
	}`
	if err := s.ApplyFrame(mkFrame(frame.TypeMarketListingsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Listing(7); ok {
		t.Error("expected listing 7 removed")
	}
	if _, ok := s.Listing(8); !ok {
		t.Error("expected listing 8 appended")
	}
}

func TestIncrementalBeforeInitIsNoOp(t *testing.T) {
	s := New(bus.New())

	update := `{"type": "items_updated", "endCharacterItems": [
		{"id": 42, "itemHrid": "/items/gem", "count": 1}
	]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("expected logged no-op, got error: %v", err)
	}
	if s.Hydrated(SubInventory) {
		t.Error("incremental frame must not hydrate a sub-state")
	}
	if s.Inventory() != nil {
		t.Error("expected inventory still absent")
	}
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	s := hydrated(t)
	before := len(s.Inventory())

	if err := s.ApplyFrame(mkFrame("new_fancy_message", `{"type": "new_fancy_message"}`)); err != nil {
		t.Fatalf("unknown frame type must be ignored, got %v", err)
	}
	if len(s.Inventory()) != before {
		t.Error("unknown frame mutated state")
	}
}

func TestOutboundFramesDoNotMutate(t *testing.T) {
	s := hydrated(t)
	f := mkFrame(frame.TypeItemsUpdated, `{"type": "items_updated", "endCharacterItems": [{"id": 1, "itemHrid": "/items/log", "count": 0}]}`)
	f.Direction = frame.Outbound
	if err := s.ApplyFrame(f); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); !ok {
		t.Error("outbound frame mutated the mirror")
	}
}

func TestStaleEpochDropped(t *testing.T) {
	s := New(bus.New())
	if err := s.Rehydrate(mkFrame(frame.TypeInitCharacterData, initSnapshot), 3); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	f := mkFrame(frame.TypeItemsUpdated, `{"type": "items_updated", "endCharacterItems": [{"id": 1, "itemHrid": "/items/log", "count": 0}]}`)
	f.Epoch = 2 // in flight from the previous identity
	if err := s.ApplyFrame(f); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); !ok {
		t.Error("stale-epoch frame was merged")
	}

	f.Epoch = 3
	if err := s.ApplyFrame(f); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); ok {
		t.Error("current-epoch frame was not merged")
	}
}

func TestSuspendDropsFrames(t *testing.T) {
	s := hydrated(t)
	s.Suspend()

	update := `{"type": "items_updated", "endCharacterItems": [{"id": 1, "itemHrid": "/items/log", "count": 0}]}`
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); !ok {
		t.Error("suspended store merged a frame")
	}

	s.Resume()
	if err := s.ApplyFrame(mkFrame(frame.TypeItemsUpdated, update)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := s.Item(1); ok {
		t.Error("resumed store dropped a frame")
	}
}

func TestResetClearsToAbsent(t *testing.T) {
	s := hydrated(t)
	s.Reset(1)

	if s.Epoch() != 1 {
		t.Errorf("expected epoch 1, got %d", s.Epoch())
	}
	for _, sub := range SubStates {
		if s.Hydrated(sub) {
			t.Errorf("%s still hydrated after reset", sub)
		}
	}
}

func TestChangeEvents(t *testing.T) {
	s := New(bus.New())

	var events []string
	var inventoryIDs []int64
	for _, ev := range []string{EventCharacterUpdated, EventInventoryChanged, EventActionsChanged, EventMarketListingsChanged, EventHydrated} {
		ev := ev
		s.On(ev, "test", func(event string, payload interface{}) {
			events = append(events, event)
			if event == EventInventoryChanged {
				inventoryIDs = payload.([]int64)
			}
		})
	}

	if err := s.ApplyFrame(mkFrame(frame.TypeInitCharacterData, initSnapshot)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	if len(events) == 0 || events[len(events)-1] != EventHydrated {
		t.Fatalf("expected hydrated event last, got %v", events)
	}
	if len(inventoryIDs) != 3 {
		t.Errorf("expected 3 touched inventory ids, got %v", inventoryIDs)
	}

	// A consumer reacting to hydrated must already see the snapshot.
	sawItems := false
	s.On(EventHydrated, "probe", func(string, interface{}) {
		sawItems = len(s.Inventory()) > 0
	})
	if err := s.ApplyFrame(mkFrame(frame.TypeInitCharacterData, initSnapshot)); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if !sawItems {
		t.Error("hydrated event fired before the snapshot was applied")
	}
}

func TestActionCompletedRetiresAction(t *testing.T) {
	s := New(bus.New())
	snapshot := `{
		"type": "init_character_data",
		"characterActions": [
			{"id": 11, "actionHrid": "/actions/woodcutting", "queuePosition": 0},
			{"id": 12, "actionHrid": "/actions/cooking", "queuePosition": 1}
		]
	}`
	if err := s.ApplyFrame(mkFrame(frame.TypeInitCharacterData, snapshot)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	if err := s.ApplyFrame(mkFrame(frame.TypeActionCompleted, `{"type": "action_completed", "actionId": 11}`)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	actions := s.Actions()
	if len(actions) != 1 || actions[0].ID != 12 {
		t.Errorf("expected only action 12 left, got %+v", actions)
	}

	// Retiring an unknown action is a quiet no-op.
	if err := s.ApplyFrame(mkFrame(frame.TypeActionCompleted, `{"type": "action_completed", "actionId": 999}`)); err != nil {
		t.Fatalf("apply unknown: %v", err)
	}
}
