// Package frame defines the wire envelope for messages traversing the
// intercepted game connection. Every frame is a JSON object carrying a
// "type" tag; the rest of the object is the payload and is kept opaque
// here — consumers decode the shapes they understand.
package frame

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Direction says which way a frame was travelling when it was teed.
type Direction int

const (
	// Inbound frames flow from the game server to the client.
	Inbound Direction = iota
	// Outbound frames flow from the client to the game server.
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Type classifies a frame for routing. The set below covers the
// state-bearing messages the mirror understands; anything else passes
// through untouched.
type Type string

const (
	// TypeInitCharacterData is the full post-login (or post-switch)
	// snapshot of the controlled character.
	TypeInitCharacterData Type = "init_character_data"
	// TypeCharacterUpdated replaces the character sub-state wholesale.
	TypeCharacterUpdated Type = "character_updated"
	// TypeItemsUpdated carries incremental inventory slot updates.
	TypeItemsUpdated Type = "items_updated"
	// TypeMarketListingsUpdated carries incremental market listing
	// updates plus explicit removals.
	TypeMarketListingsUpdated Type = "market_listings_updated"
	// TypeActionsUpdated carries incremental action queue updates.
	TypeActionsUpdated Type = "actions_updated"
	// TypeActionCompleted retires one action by id.
	TypeActionCompleted Type = "action_completed"
	// TypeQuestsUpdated carries incremental quest updates.
	TypeQuestsUpdated Type = "quests_updated"
	// TypeCharacterSwitching announces that the controlled character is
	// about to change; everything mirrored so far is about to go stale.
	TypeCharacterSwitching Type = "character_switching"
)

// ErrNoType is returned when a frame has no usable "type" tag.
var ErrNoType = errors.New("frame: missing type tag")

// Frame is one discrete message teed off the live connection. Frames are
// immutable once decoded and are never retained past the tick that
// processes them.
type Frame struct {
	Type      Type
	Direction Direction
	// Payload is the complete raw JSON object, type tag included.
	Payload json.RawMessage
	// Epoch is the identity epoch current when the frame was teed.
	// Stale frames from a previous epoch are dropped by the store.
	Epoch uint64
}

// Decode sniffs the type tag out of raw without unmarshalling the whole
// payload. The raw bytes are copied so the frame outlives the read buffer.
func Decode(raw []byte, dir Direction) (Frame, error) {
	tag := gjson.GetBytes(raw, "type")
	if !tag.Exists() || tag.Type != gjson.String || tag.Str == "" {
		return Frame{}, ErrNoType
	}
	payload := make(json.RawMessage, len(raw))
	copy(payload, raw)
	return Frame{Type: Type(tag.Str), Direction: dir, Payload: payload}, nil
}

// Field extracts a single payload field by gjson path.
func (f Frame) Field(path string) gjson.Result {
	return gjson.GetBytes(f.Payload, path)
}

// Unmarshal decodes the payload into v.
func (f Frame) Unmarshal(v interface{}) error {
	return json.Unmarshal(f.Payload, v)
}
