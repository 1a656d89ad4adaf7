// Package protocol describes the JSON messages exchanged with the game
// server and converts them into the bot's domain types.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

// Action endpoints.
const (
	ActionHandshake      = "handshake"
	ActionObjectsInCells = "gameplay/getObjectsInCells"
	ActionGetInventory   = "playerUndecorated/getInventory"
	ActionHack           = "gameplay/collectItemsFromPortal"
)

// PregameReady is the only pregame action the bot can proceed with.
const PregameReady = "NO_ACTIONS_REQUIRED"

// Int accepts both JSON numbers and numeric strings; the server sends
// some counters quoted.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("protocol: bad integer %q", string(b))
	}
	*n = Int(v)
	return nil
}

// Triple is the server's [guid, timestampMs, body] entity encoding.
type Triple[T any] struct {
	GUID        string
	TimestampMs int64
	Body        T
}

func (t *Triple[T]) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("protocol: entity has %d parts, want 3", len(parts))
	}
	if err := json.Unmarshal(parts[0], &t.GUID); err != nil {
		return fmt.Errorf("protocol: entity guid: %w", err)
	}
	var ts Int
	if err := json.Unmarshal(parts[1], &ts); err != nil {
		return fmt.Errorf("protocol: entity timestamp: %w", err)
	}
	t.TimestampMs = int64(ts)
	return json.Unmarshal(parts[2], &t.Body)
}

func (t Triple[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.GUID, strconv.FormatInt(t.TimestampMs, 10), t.Body})
}

// Seen converts the entity timestamp.
func (t Triple[T]) Seen() time.Time {
	return time.UnixMilli(t.TimestampMs)
}

type LocationE6 struct {
	LatE6 Int `json:"latE6"`
	LngE6 Int `json:"lngE6"`
}

func (l LocationE6) LatLng() geo.LatLng {
	return geo.FromE6(int64(l.LatE6), int64(l.LngE6))
}

type Team struct {
	Team string `json:"team"`
}

// Player entity.

type PlayerPersonal struct {
	AP     Int `json:"ap"`
	Energy Int `json:"energy"`
}

type PlayerBody struct {
	ControllingTeam *Team          `json:"controllingTeam,omitempty"`
	PlayerPersonal  PlayerPersonal `json:"playerPersonal"`
	LocationE6      *LocationE6    `json:"locationE6,omitempty"`
}

// Inventory items.

type ResourceWithLevels struct {
	ResourceType string `json:"resourceType"`
	Level        int    `json:"level"`
}

type PlainResource struct {
	ResourceType string `json:"resourceType"`
}

type ModResource struct {
	ResourceType string `json:"resourceType"`
	Rarity       string `json:"rarity"`
}

type FlipCard struct {
	FlipCardType string `json:"flipCardType"`
}

type ItemBody struct {
	ResourceWithLevels *ResourceWithLevels `json:"resourceWithLevels,omitempty"`
	Resource           *PlainResource      `json:"resource,omitempty"`
	ModResource        *ModResource        `json:"modResource,omitempty"`
	FlipCard           *FlipCard           `json:"flipCard,omitempty"`
}

type InventoryEntry = Triple[ItemBody]

// inventoryItem converts a wire item. Only the fields the item type carries
// are set on the result.
func inventoryItem(t InventoryEntry) (game.InventoryItem, error) {
	body := t.Body
	var wireType string
	switch {
	case body.ResourceWithLevels != nil:
		wireType = body.ResourceWithLevels.ResourceType
	case body.Resource != nil:
		wireType = body.Resource.ResourceType
	case body.ModResource != nil:
		wireType = body.ModResource.ResourceType
	default:
		return game.InventoryItem{}, fmt.Errorf("protocol: item %s: cannot detect item type", t.GUID)
	}
	if wireType == "FLIP_CARD" {
		if body.FlipCard == nil {
			return game.InventoryItem{}, fmt.Errorf("protocol: item %s: flip card without type", t.GUID)
		}
		wireType = body.FlipCard.FlipCardType
	}

	typ, err := game.ParseItemType(wireType)
	if err != nil {
		return game.InventoryItem{}, fmt.Errorf("protocol: item %s: %w", t.GUID, err)
	}
	item := game.InventoryItem{ID: t.GUID, Type: typ, LastSeen: t.Seen()}
	switch {
	case typ.HasLevel():
		if body.ResourceWithLevels == nil {
			return game.InventoryItem{}, fmt.Errorf("protocol: item %s: %s without level", t.GUID, typ)
		}
		lvl := body.ResourceWithLevels.Level
		item.Level = &lvl
	case typ.HasRarity():
		if body.ModResource == nil {
			return game.InventoryItem{}, fmt.Errorf("protocol: item %s: %s without rarity", t.GUID, typ)
		}
		r := game.Rarity(body.ModResource.Rarity)
		item.Rarity = &r
	}
	return item, nil
}

// Map entities.

type DescriptiveText struct {
	Title string `json:"TITLE"`
}

type PortalV2 struct {
	DescriptiveText DescriptiveText `json:"descriptiveText"`
}

type Resonator struct {
	Level int `json:"level"`
}

type ResonatorArray struct {
	Resonators []*Resonator `json:"resonators"`
}

type EntityBody struct {
	PortalV2        *PortalV2       `json:"portalV2,omitempty"`
	LocationE6      *LocationE6     `json:"locationE6,omitempty"`
	ControllingTeam *Team           `json:"controllingTeam,omitempty"`
	ResonatorArray  *ResonatorArray `json:"resonatorArray,omitempty"`
}

type GameEntity = Triple[EntityBody]

// EntityUpdate converts a map entity. Entities without a portal descriptor
// and a location come back as partial references (nil Target).
func EntityUpdate(e GameEntity) game.EntityUpdate {
	upd := game.EntityUpdate{ID: e.GUID, Seen: e.Seen()}
	b := e.Body
	if b.PortalV2 == nil || b.LocationE6 == nil {
		return upd
	}
	var levels []*int
	if b.ResonatorArray != nil {
		for _, r := range b.ResonatorArray.Resonators {
			if r == nil {
				levels = append(levels, nil)
				continue
			}
			lvl := r.Level
			levels = append(levels, &lvl)
		}
	}
	faction := game.FactionNone
	if b.ControllingTeam != nil {
		faction = game.FactionFromTeam(b.ControllingTeam.Team)
	}
	upd.Target = &game.Target{
		ID:       e.GUID,
		Name:     b.PortalV2.DescriptiveText.Title,
		Faction:  faction,
		Location: b.LocationE6.LatLng(),
		Level:    game.TargetLevel(levels),
		LastSeen: e.Seen(),
	}
	return upd
}

// GameBasket is the world delta attached to every response.
type GameBasket struct {
	Inventory          []InventoryEntry    `json:"inventory,omitempty"`
	GameEntities       []GameEntity        `json:"gameEntities,omitempty"`
	PlayerEntity       *Triple[PlayerBody] `json:"playerEntity,omitempty"`
	EnergyGlobGuids    []string            `json:"energyGlobGuids,omitempty"`
	DeletedEntityGuids []string            `json:"deletedEntityGuids,omitempty"`
}

// InventoryItems converts every inventory entry, failing on the first
// malformed one.
func (gb GameBasket) InventoryItems() ([]game.InventoryItem, error) {
	out := make([]game.InventoryItem, 0, len(gb.Inventory))
	for _, e := range gb.Inventory {
		it, err := inventoryItem(e)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (gb GameBasket) EntityUpdates() []game.EntityUpdate {
	out := make([]game.EntityUpdate, 0, len(gb.GameEntities))
	for _, e := range gb.GameEntities {
		out = append(out, EntityUpdate(e))
	}
	return out
}

// Response is the reply to any action call.
type Response struct {
	Error      string     `json:"error,omitempty"`
	GameBasket GameBasket `json:"gameBasket"`
}

func (r Response) ActionError() ActionError { return ParseActionError(r.Error) }

// Params is the request body shared by every action. The location fields and
// the consumed resource ids are always present.
type Params struct {
	KnobSyncTimestamp int64    `json:"knobSyncTimestamp"`
	PlayerLocation    string   `json:"playerLocation"`
	Location          string   `json:"location"`
	EnergyGlobGuids   []string `json:"energyGlobGuids"`

	CellsAsHex         []string `json:"cellsAsHex,omitempty"`
	Dates              []int64  `json:"dates,omitempty"`
	ItemGUID           string   `json:"itemGuid,omitempty"`
	LastQueryTimestamp int64    `json:"lastQueryTimestamp,omitempty"`
}

// Request wraps Params the way the server expects them.
type Request struct {
	Params Params `json:"params"`
}

// Handshake.

type PregameStatus struct {
	Action string `json:"action"`
}

type ScannerKnobs struct {
	UpdateIntervalMs Int `json:"updateIntervalMs"`
	UpdateDistanceM  Int `json:"updateDistanceM"`
	RangeM           Int `json:"rangeM"`
}

type InventoryKnobs struct {
	MaxInventoryItems Int `json:"maxInventoryItems"`
}

type BundleMap struct {
	ScannerKnobs   ScannerKnobs   `json:"ScannerKnobs"`
	InventoryKnobs InventoryKnobs `json:"InventoryKnobs"`
}

type Knobs struct {
	BundleMap BundleMap `json:"bundleMap"`
}

type HandshakeResult struct {
	XSRFToken     string             `json:"xsrfToken"`
	Nickname      string             `json:"nickname"`
	PregameStatus PregameStatus      `json:"pregameStatus"`
	PlayerEntity  Triple[PlayerBody] `json:"playerEntity"`
	InitialKnobs  Knobs              `json:"initialKnobs"`
}

type HandshakeMsg struct {
	Result HandshakeResult `json:"result"`
}

// Tuning values the server hands out at handshake time.
type Tuning struct {
	UpdateInterval time.Duration
	UpdateDistance int
	ScannerRange   int
}

// Handshake is the decoded session bootstrap.
type Handshake struct {
	SessionToken      string
	Nickname          string
	PregameAction     string
	Team              game.Faction
	AP                int
	Energy            int
	MaxInventorySlots int
	Tuning            Tuning
	StartLocation     *geo.LatLng
}

// Level is the player level derived from AP.
func (h Handshake) Level() int { return game.LevelForAP(h.AP) }

// MaxEnergy is the energy capacity for the player's level.
func (h Handshake) MaxEnergy() int { return game.MaxEnergyForLevel(h.Level()) }

func (m HandshakeMsg) Handshake() Handshake {
	r := m.Result
	p := r.PlayerEntity.Body
	sk := r.InitialKnobs.BundleMap.ScannerKnobs
	h := Handshake{
		SessionToken:      r.XSRFToken,
		Nickname:          r.Nickname,
		PregameAction:     r.PregameStatus.Action,
		AP:                int(p.PlayerPersonal.AP),
		Energy:            int(p.PlayerPersonal.Energy),
		MaxInventorySlots: int(r.InitialKnobs.BundleMap.InventoryKnobs.MaxInventoryItems),
		Tuning: Tuning{
			UpdateInterval: time.Duration(sk.UpdateIntervalMs) * time.Millisecond,
			UpdateDistance: int(sk.UpdateDistanceM),
			ScannerRange:   int(sk.RangeM),
		},
	}
	if p.ControllingTeam != nil {
		h.Team = game.FactionFromTeam(p.ControllingTeam.Team)
	}
	if p.LocationE6 != nil {
		ll := p.LocationE6.LatLng()
		h.StartLocation = &ll
	}
	return h
}
