// Package game is the bot's model of the map: targets, resources, inventory
// and the player progression tables.
package game

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

// Faction controls a target. FactionNone doubles as the "any" filter.
type Faction int

const (
	FactionNone Faction = iota
	FactionAliens
	FactionResistance
)

func (f Faction) String() string {
	switch f {
	case FactionAliens:
		return "Enlightened"
	case FactionResistance:
		return "Resistance"
	default:
		return "Neutral"
	}
}

// FactionFromTeam maps a wire team name.
func FactionFromTeam(team string) Faction {
	switch team {
	case "ALIENS":
		return FactionAliens
	case "RESISTANCE":
		return FactionResistance
	default:
		return FactionNone
	}
}

// ParseFactionFilter accepts the user facing aliases. Empty and "any" mean
// no filter.
func ParseFactionFilter(s string) (Faction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return FactionNone, nil
	case "aliens", "alien", "green", "enlightened":
		return FactionAliens, nil
	case "resistance", "human", "blue":
		return FactionResistance, nil
	default:
		return FactionNone, fmt.Errorf("invalid faction name %q", s)
	}
}

// MaxAttachments is the number of resonator slots on a target.
const MaxAttachments = 8

// Target is a portal that can be hacked.
type Target struct {
	ID       string
	Name     string
	Faction  Faction
	Location geo.LatLng
	Level    float64
	LastSeen time.Time

	ActionCooldownUntil *time.Time
	BurnoutUntil        *time.Time

	// Distance from the store origin at query time, in meters.
	Distance int
}

// Eligible reports whether t may be actioned at now under the given filters.
func (t Target) Eligible(now time.Time, faction Faction, minLevel float64) bool {
	if t.ActionCooldownUntil != nil && now.Before(*t.ActionCooldownUntil) {
		return false
	}
	if t.BurnoutUntil != nil && now.Before(*t.BurnoutUntil) {
		return false
	}
	if t.Level < minLevel {
		return false
	}
	return faction == FactionNone || t.Faction == faction
}

// DisplayName renders "L<level> <name>".
func (t Target) DisplayName() string {
	return fmt.Sprintf("L%d %s", int(math.Floor(t.Level)), strings.TrimSpace(t.Name))
}

// TargetLevel averages the attachment levels over all slots. Empty slots
// count as zero and the result is rounded to two decimals.
func TargetLevel(attachments []*int) float64 {
	sum := 0
	for i, lvl := range attachments {
		if i >= MaxAttachments {
			break
		}
		if lvl != nil {
			sum += *lvl
		}
	}
	return math.Round(float64(sum)/MaxAttachments*100) / 100
}

// EntityUpdate is one map entity from a server delta. Target is nil when the
// server only referenced the id without a full descriptor.
type EntityUpdate struct {
	ID     string
	Seen   time.Time
	Target *Target
}

// Resource is an energy deposit that can be collected.
type Resource struct {
	ID       string
	Location geo.LatLng
	Amount   int

	Distance int
}

var apLevels = []struct {
	ap    int
	level int
}{
	{1200000, 8},
	{600000, 7},
	{300000, 6},
	{150000, 5},
	{70000, 4},
	{30000, 3},
	{10000, 2},
	{0, 1},
}

// LevelForAP converts access points into a player level.
func LevelForAP(ap int) int {
	for _, l := range apLevels {
		if ap >= l.ap {
			return l.level
		}
	}
	return 0
}

// MaxEnergyForLevel is the energy capacity of a player level, 0 if unknown.
func MaxEnergyForLevel(level int) int {
	if level < 1 || level > 8 {
		return 0
	}
	return 2000 + level*1000
}
