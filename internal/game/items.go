package game

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownItemType = errors.New("unknown item type")

// ItemType is the closed set of inventory item kinds, keyed by wire name.
type ItemType string

const (
	ItemResonator     ItemType = "EMITTER_A"
	ItemBurster       ItemType = "EMP_BURSTER"
	ItemADA           ItemType = "ADA"
	ItemVirus         ItemType = "JARVIS"
	ItemShield        ItemType = "RES_SHIELD"
	ItemForceAmp      ItemType = "FORCE_AMP"
	ItemTurret        ItemType = "TURRET"
	ItemHeatsink      ItemType = "HEATSINK"
	ItemMultihack     ItemType = "MULTIHACK"
	ItemLinkAmplifier ItemType = "LINK_AMPLIFIER"
	ItemPowerCube     ItemType = "POWER_CUBE"
	ItemMedia         ItemType = "MEDIA"
	ItemLinkKey       ItemType = "PORTAL_LINK_KEY"
)

// Display order, spaced so that the level or rarity rank can be added in.
var typeOrder = map[ItemType]int{
	ItemResonator:     0,
	ItemBurster:       10,
	ItemADA:           20,
	ItemVirus:         25,
	ItemShield:        30,
	ItemForceAmp:      40,
	ItemTurret:        50,
	ItemHeatsink:      60,
	ItemMultihack:     70,
	ItemLinkAmplifier: 80,
	ItemPowerCube:     90,
	ItemMedia:         100,
	ItemLinkKey:       110,
}

var typeLabel = map[ItemType]string{
	ItemResonator:     "L%d Resonator",
	ItemBurster:       "L%d XMP Burster",
	ItemMedia:         "L%d Media",
	ItemPowerCube:     "L%d Power Cube",
	ItemShield:        "%s Shield",
	ItemForceAmp:      "%s Force Amp",
	ItemHeatsink:      "%s Heat sink",
	ItemLinkAmplifier: "%s Link Amp",
	ItemMultihack:     "%s Multi-hack",
	ItemTurret:        "%s Turret",
	ItemLinkKey:       "Portal Key",
	ItemADA:           "ADA Refactor",
	ItemVirus:         "Jarvis Virus",
}

// ParseItemType validates a wire type name.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if _, ok := typeOrder[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownItemType, s)
	}
	return t, nil
}

// HasLevel reports whether items of this type carry a level.
func (t ItemType) HasLevel() bool {
	switch t {
	case ItemResonator, ItemBurster, ItemPowerCube, ItemMedia:
		return true
	}
	return false
}

// HasRarity reports whether items of this type carry a rarity.
func (t ItemType) HasRarity() bool {
	switch t {
	case ItemShield, ItemForceAmp, ItemTurret, ItemHeatsink, ItemMultihack, ItemLinkAmplifier:
		return true
	}
	return false
}

// Rarity of a mod item.
type Rarity string

const (
	RarityVeryCommon Rarity = "VERY_COMMON"
	RarityCommon     Rarity = "COMMON"
	RarityLessCommon Rarity = "LESS_COMMON"
	RarityRare       Rarity = "RARE"
	RarityVeryRare   Rarity = "VERY_RARE"
	RarityExtraRare  Rarity = "EXTRA_RARE"
)

var rarityRank = map[Rarity]int{
	RarityVeryCommon: 1,
	RarityCommon:     2,
	RarityLessCommon: 3,
	RarityRare:       4,
	RarityVeryRare:   5,
	RarityExtraRare:  6,
}

func (r Rarity) String() string {
	switch r {
	case RarityVeryCommon:
		return "Very Common"
	case RarityCommon:
		return "Common"
	case RarityLessCommon:
		return "Less Common"
	case RarityRare:
		return "Rare"
	case RarityVeryRare:
		return "Very Rare"
	case RarityExtraRare:
		return "Extra Rare"
	default:
		return "Unknown"
	}
}

// InventoryItem is one cached inventory record. Level is set only for
// level-bearing types and Rarity only for rarity-bearing ones.
type InventoryItem struct {
	ID       string
	Type     ItemType
	LastSeen time.Time
	Level    *int
	Rarity   *Rarity
}

// Name is the human readable label, e.g. "L3 Resonator" or "Rare Shield".
func (it InventoryItem) Name() string {
	return ItemName(it.Type, it.Level, it.Rarity)
}

func ItemName(t ItemType, level *int, rarity *Rarity) string {
	label, ok := typeLabel[t]
	if !ok {
		return string(t)
	}
	switch {
	case t.HasLevel():
		lvl := 0
		if level != nil {
			lvl = *level
		}
		return fmt.Sprintf(label, lvl)
	case t.HasRarity():
		var r Rarity
		if rarity != nil {
			r = *rarity
		}
		return fmt.Sprintf(label, r.String())
	}
	return label
}

// InventoryGroup is one row of the grouped inventory listing.
type InventoryGroup struct {
	Type   ItemType
	Level  *int
	Rarity *Rarity
	Count  int
}

func (g InventoryGroup) Name() string { return ItemName(g.Type, g.Level, g.Rarity) }

// DisplayKey orders groups: by type, then ascending level for level-bearing
// types or ascending rarity rank for rarity-bearing types.
func DisplayKey(t ItemType, level *int, rarity *Rarity) int {
	key, ok := typeOrder[t]
	if !ok {
		key = 1 << 20
	}
	switch {
	case t.HasLevel() && level != nil:
		key += *level
	case t.HasRarity() && rarity != nil:
		key += rarityRank[*rarity]
	}
	return key
}

// SortGroups sorts in place by display key.
func SortGroups(groups []InventoryGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return DisplayKey(groups[i].Type, groups[i].Level, groups[i].Rarity) <
			DisplayKey(groups[j].Type, groups[j].Level, groups[j].Rarity)
	})
}
