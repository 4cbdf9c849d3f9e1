package state

import "github.com/tib-san/Toolasha-sub001/pkg/frame"

// SubState names one partition of the mirrored snapshot.
type SubState string

const (
	SubCharacter      SubState = "character"
	SubInventory      SubState = "inventory"
	SubMarketListings SubState = "market_listings"
	SubActions        SubState = "actions"
	SubQuests         SubState = "quests"
)

// SubStates lists every partition in a stable order.
var SubStates = []SubState{
	SubCharacter,
	SubInventory,
	SubActions,
	SubQuests,
	SubMarketListings,
}

// Character is the replace-whole sub-state describing the controlled
// character. The server always sends it complete, never as a delta.
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GameMode string `json:"gameMode"`
	Level    int64  `json:"level"`
	Guild    string `json:"guildName,omitempty"`
}

// ItemSlot is one inventory record, keyed by its stable slot id.
type ItemSlot struct {
	ID               int64  `json:"id"`
	ItemHrid         string `json:"itemHrid"`
	Count            int64  `json:"count"`
	EnhancementLevel int64  `json:"enhancementLevel"`
	Location         string `json:"itemLocationHrid"`
}

// Listing is one market listing record, keyed by listing id.
type Listing struct {
	ID             int64  `json:"id"`
	ItemHrid       string `json:"itemHrid"`
	Side           string `json:"side"` // "buy" or "sell"
	Quantity       int64  `json:"quantity"`
	FilledQuantity int64  `json:"filledQuantity"`
	UnitPrice      int64  `json:"unitPrice"`
	Status         string `json:"status"`
}

// Action is one queued or running character action, keyed by action id.
type Action struct {
	ID            int64  `json:"id"`
	ActionHrid    string `json:"actionHrid"`
	HasMaxCount   bool   `json:"hasMaxCount"`
	MaxCount      int64  `json:"maxCount"`
	CurrentCount  int64  `json:"currentCount"`
	QueuePosition int64  `json:"queuePosition"`
}

// Quest is one quest record, keyed by quest id.
type Quest struct {
	ID        int64  `json:"id"`
	QuestHrid string `json:"questHrid"`
	Progress  int64  `json:"progress"`
	Goal      int64  `json:"goal"`
	Completed bool   `json:"completed"`
}

// initPayload is the full post-login / post-switch snapshot. A field the
// server omits stays nil and the matching sub-state remains absent; an
// explicit empty list hydrates the sub-state as empty. Consumers must treat
// the two differently.
type initPayload struct {
	Character *Character  `json:"character"`
	Items     []*ItemSlot `json:"characterItems"`
	Actions   []*Action   `json:"characterActions"`
	Quests    []*Quest    `json:"characterQuests"`
	Listings  []*Listing  `json:"marketListings"`
}

type characterUpdatedPayload struct {
	Character *Character `json:"character"`
}

// itemsUpdatedPayload carries incremental inventory merges. A record with
// Count == 0 is an explicit deletion of that slot id.
type itemsUpdatedPayload struct {
	Items []*ItemSlot `json:"endCharacterItems"`
}

type listingsUpdatedPayload struct {
	Listings   []*Listing `json:"endMarketListings"`
	RemovedIDs []int64    `json:"removedListingIds"`
}

type actionsUpdatedPayload struct {
	Actions    []*Action `json:"endCharacterActions"`
	RemovedIDs []int64   `json:"removedActionIds"`
}

type actionCompletedPayload struct {
	ActionID int64 `json:"actionId"`
}

type questsUpdatedPayload struct {
	Quests []*Quest `json:"endCharacterQuests"`
}

// Change events emitted by the store. Payload types are documented per
// constant; subscribers receive live references and must not mutate them.
const (
	// EventHydrated fires after a full snapshot replaces the store.
	// Payload: *Character (may be nil if the snapshot carried none).
	EventHydrated = "state.hydrated"
	// EventCharacterUpdated fires when the character sub-state is
	// replaced. Payload: *Character.
	EventCharacterUpdated = "state.character_updated"
	// EventInventoryChanged fires after an inventory merge.
	// Payload: []int64 of touched slot ids.
	EventInventoryChanged = "state.inventory_changed"
	// EventMarketListingsChanged fires after a listing merge.
	// Payload: []int64 of touched listing ids.
	EventMarketListingsChanged = "state.market_listings_changed"
	// EventActionsChanged fires after an action queue merge.
	// Payload: []int64 of touched action ids.
	EventActionsChanged = "state.actions_changed"
	// EventQuestsChanged fires after a quest merge.
	// Payload: []int64 of touched quest ids.
	EventQuestsChanged = "state.quests_changed"
)

// eventForFrame maps a frame type to the change event it produces. Frame
// types not present here do not touch the store.
var stateFrameTypes = map[frame.Type]bool{
	frame.TypeInitCharacterData:     true,
	frame.TypeCharacterUpdated:      true,
	frame.TypeItemsUpdated:          true,
	frame.TypeMarketListingsUpdated: true,
	frame.TypeActionsUpdated:        true,
	frame.TypeActionCompleted:       true,
	frame.TypeQuestsUpdated:         true,
}
