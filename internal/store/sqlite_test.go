package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

const schemaPath = "../../db/schema.sql"

var origin = geo.LatLng{Lat: -33.8688, Lng: 151.2093}

func openTest(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), schemaPath, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.SetOrigin(origin)
	return s
}

func target(id string, loc geo.LatLng, level float64, f game.Faction) game.EntityUpdate {
	return game.EntityUpdate{
		ID:   id,
		Seen: time.Unix(1700000000, 0),
		Target: &game.Target{
			ID: id, Name: "portal " + id, Faction: f, Location: loc, Level: level,
			LastSeen: time.Unix(1700000000, 0),
		},
	}
}

type countingResolver struct {
	calls map[string]int
	locs  map[string]geo.LatLng
}

func (r *countingResolver) ResolveResource(id string) (geo.LatLng, int, error) {
	r.calls[id]++
	loc, ok := r.locs[id]
	if !ok {
		return geo.LatLng{}, 0, errors.New("unknown id")
	}
	return loc, 100, nil
}

func TestOpen_MissingSchema(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "cache.db"), filepath.Join(t.TempDir(), "nope.sql"))
	if !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("err=%v want ErrSchemaMissing", err)
	}
}

func TestOpen_ReusesExistingCache(t *testing.T) {
	now := time.Unix(1700000000, 0)
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path, schemaPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SetOrigin(origin)
	if err := s.MergeTargets([]game.EntityUpdate{target("a", origin, 1, game.FactionNone)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.MarkActioned("a", &now, nil); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The schema file is only needed for a fresh cache.
	s, err = Open(path, filepath.Join(t.TempDir(), "nope.sql"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, ok, err := s.Target("a")
	if err != nil || !ok {
		t.Fatalf("target: ok=%v err=%v", ok, err)
	}
	if got.ActionCooldownUntil == nil || !got.ActionCooldownUntil.Equal(now.Add(300*time.Second)) {
		t.Fatalf("cooldown=%v", got.ActionCooldownUntil)
	}
}

func TestFindNearbyTargets_SortedAndRebound(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := openTest(t, now)

	north := geo.Destination(origin, 0, 100)
	south := geo.Destination(origin, 180, 200)
	far := geo.Destination(origin, 90, 5000)
	if err := s.MergeTargets([]game.EntityUpdate{
		target("south", south, 1, game.FactionNone),
		target("north", north, 1, game.FactionNone),
		target("far", far, 1, game.FactionNone),
		{ID: "partial", Seen: now},
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := s.FindNearbyTargets(500, game.FactionNone, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != "north" || got[1].ID != "south" {
		t.Fatalf("got %+v", ids(got))
	}
	if got[0].Distance != 100 || got[1].Distance != 200 {
		t.Fatalf("distances %d %d", got[0].Distance, got[1].Distance)
	}

	// Moving south must flip the order.
	s.SetOrigin(geo.Destination(origin, 180, 190))
	got, err = s.FindNearbyTargets(500, game.FactionNone, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != "south" || got[1].ID != "north" {
		t.Fatalf("after move got %+v", ids(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Fatalf("not sorted: %+v", got)
		}
	}
}

func TestFindNearbyTargets_Filters(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := openTest(t, now)
	if err := s.MergeTargets([]game.EntityUpdate{
		target("low", geo.Destination(origin, 10, 10), 0.5, game.FactionAliens),
		target("green", geo.Destination(origin, 20, 20), 3, game.FactionAliens),
		target("blue", geo.Destination(origin, 30, 30), 5, game.FactionResistance),
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	cases := []struct {
		faction  game.Faction
		minLevel float64
		want     []string
	}{
		{game.FactionNone, 0, []string{"low", "green", "blue"}},
		{game.FactionNone, 1, []string{"green", "blue"}},
		{game.FactionAliens, 0, []string{"low", "green"}},
		{game.FactionResistance, 6, nil},
	}
	for _, tc := range cases {
		got, err := s.FindNearbyTargets(100, tc.faction, tc.minLevel)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !equal(ids(got), tc.want) {
			t.Fatalf("faction=%v min=%v got %v want %v", tc.faction, tc.minLevel, ids(got), tc.want)
		}
	}
}

func TestFindNearbyTargets_ElapsedBurnout(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := openTest(t, now)
	if err := s.MergeTargets([]game.EntityUpdate{target("a", geo.Destination(origin, 0, 50), 1, game.FactionAliens)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// burnoutUntil = now - 1s
	burnt := now.Add(-DefaultCooldowns.Burnout - time.Second)
	if err := s.MarkActioned("a", nil, &burnt); err != nil {
		t.Fatalf("mark: %v", err)
	}
	tg, _, _ := s.Target("a")
	if tg.BurnoutUntil == nil || !tg.BurnoutUntil.Equal(now.Add(-time.Second)) {
		t.Fatalf("burnout=%v", tg.BurnoutUntil)
	}
	got, err := s.FindNearbyTargets(100, game.FactionNone, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %v", ids(got))
	}
}

func TestMarkActioned(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := openTest(t, now)
	if err := s.MergeTargets([]game.EntityUpdate{target("a", origin, 1, game.FactionNone)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if err := s.MarkActioned("a", nil, nil); err != nil {
		t.Fatalf("noop: %v", err)
	}
	if got, _ := s.FindNearbyTargets(10, game.FactionNone, 0); len(got) != 1 {
		t.Fatalf("no-op mark changed eligibility")
	}

	if err := s.MarkActioned("a", &now, nil); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got, _ := s.FindNearbyTargets(10, game.FactionNone, 0); len(got) != 0 {
		t.Fatalf("target still eligible during cooldown")
	}
	tg, _, _ := s.Target("a")
	if tg.BurnoutUntil != nil {
		t.Fatalf("burnout set: %v", tg.BurnoutUntil)
	}

	// Cooldowns survive a re-merge of the same target.
	if err := s.MergeTargets([]game.EntityUpdate{target("a", origin, 2, game.FactionNone)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	tg, _, _ = s.Target("a")
	if tg.ActionCooldownUntil == nil || tg.Level != 2 {
		t.Fatalf("re-merge: %+v", tg)
	}

	later := openTestAt(t, s, now.Add(301*time.Second))
	if got, _ := later.FindNearbyTargets(10, game.FactionNone, 0); len(got) != 1 {
		t.Fatalf("target not eligible after cooldown")
	}
}

// openTestAt returns a view of s with a different clock.
func openTestAt(t *testing.T, s *Store, now time.Time) *Store {
	t.Helper()
	c := *s
	c.now = func() time.Time { return now }
	return &c
}

func TestMergeResources_Idempotent(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	r := &countingResolver{
		calls: map[string]int{},
		locs: map[string]geo.LatLng{
			"g1": geo.Destination(origin, 0, 30),
			"g2": geo.Destination(origin, 0, 10),
		},
	}
	if err := s.MergeResources([]string{"g1", "g2"}, r); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.MergeResources([]string{"g1", "g2", "g1"}, r); err != nil {
		t.Fatalf("merge again: %v", err)
	}
	if r.calls["g1"] != 1 || r.calls["g2"] != 1 {
		t.Fatalf("resolver calls=%v", r.calls)
	}
	got, err := s.FindNearbyResources(100)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != "g2" || got[1].ID != "g1" || got[0].Amount != 100 {
		t.Fatalf("got %+v", got)
	}
}

func TestMergeResources_ResolverFailureRollsBack(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	r := &countingResolver{calls: map[string]int{}, locs: map[string]geo.LatLng{"g1": origin}}
	if err := s.MergeResources([]string{"g1", "bad"}, r); err == nil {
		t.Fatalf("expected error")
	}
	got, _ := s.FindNearbyResources(100)
	if len(got) != 0 {
		t.Fatalf("partial write visible: %+v", got)
	}
}

func TestDeleteResources_Purge(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	r := &countingResolver{calls: map[string]int{}, locs: map[string]geo.LatLng{
		"near": geo.Destination(origin, 0, 10),
		"mid":  geo.Destination(origin, 0, 100),
		"far":  geo.Destination(origin, 0, 1000),
	}}
	if err := s.MergeResources([]string{"near", "mid", "far"}, r); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.DeleteResources([]string{"near"}, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.FindNearbyResources(5000)
	if len(got) != 2 {
		t.Fatalf("after delete: %+v", got)
	}
	if err := s.DeleteResources(nil, 500); err != nil {
		t.Fatalf("purge: %v", err)
	}
	got, _ = s.FindNearbyResources(5000)
	if len(got) != 1 || got[0].ID != "mid" {
		t.Fatalf("after purge: %+v", got)
	}
}

func intp(v int) *int { return &v }

func rarityp(r game.Rarity) *game.Rarity { return &r }

func TestReplaceInventory(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	seen := time.Unix(1700000000, 0)
	if err := s.ReplaceInventory([]game.InventoryItem{
		{ID: "old", Type: game.ItemLinkKey, LastSeen: seen},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	items := []game.InventoryItem{
		{ID: "r1", Type: game.ItemResonator, LastSeen: seen, Level: intp(3)},
		{ID: "r2", Type: game.ItemResonator, LastSeen: seen, Level: intp(3)},
		{ID: "s1", Type: game.ItemShield, LastSeen: seen, Rarity: rarityp(game.RarityRare)},
	}
	if err := s.ReplaceInventory(items); err != nil {
		t.Fatalf("replace: %v", err)
	}
	n, err := s.CountInventory()
	if err != nil || n != 3 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	got, err := s.InventoryIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if !equal(got, []string{"r1", "r2", "s1"}) {
		t.Fatalf("ids=%v", got)
	}
}

func TestMergeInventoryDelta(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	seen := time.Unix(1700000000, 0)
	if err := s.ReplaceInventory([]game.InventoryItem{
		{ID: "s1", Type: game.ItemShield, LastSeen: seen, Rarity: rarityp(game.RarityRare)},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	lines, err := s.MergeInventoryDelta([]game.InventoryItem{
		{ID: "s1", Type: game.ItemShield, LastSeen: seen.Add(time.Minute)},
		{ID: "x1", Type: game.ItemBurster, LastSeen: seen, Level: intp(8), Rarity: rarityp(game.RarityRare)},
		{ID: "k1", Type: game.ItemLinkKey, LastSeen: seen},
	}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !equal(lines, []string{"Rare Shield", "L8 XMP Burster", "Portal Key"}) {
		t.Fatalf("lines=%v", lines)
	}

	groups, err := s.ListInventoryGrouped()
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("groups=%+v", groups)
	}
	if groups[0].Type != game.ItemBurster || groups[0].Rarity != nil || *groups[0].Level != 8 {
		t.Fatalf("burster group=%+v", groups[0])
	}
	if groups[1].Type != game.ItemShield || groups[1].Rarity == nil || *groups[1].Rarity != game.RarityRare {
		t.Fatalf("shield kept its rarity? %+v", groups[1])
	}
	if groups[2].Type != game.ItemLinkKey {
		t.Fatalf("last group=%+v", groups[2])
	}

	if lines, err := s.MergeInventoryDelta(nil, false); err != nil || lines != nil {
		t.Fatalf("quiet merge lines=%v err=%v", lines, err)
	}
}

func TestMergeInventoryDelta_UnknownTypeRollsBack(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	_, err := s.MergeInventoryDelta([]game.InventoryItem{
		{ID: "a", Type: game.ItemLinkKey},
		{ID: "b", Type: game.ItemType("CAPSULE")},
	}, false)
	if !errors.Is(err, game.ErrUnknownItemType) {
		t.Fatalf("err=%v", err)
	}
	if n, _ := s.CountInventory(); n != 0 {
		t.Fatalf("count=%d after rollback", n)
	}
}

func TestListInventoryGrouped_Order(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	seen := time.Unix(1700000000, 0)
	if err := s.ReplaceInventory([]game.InventoryItem{
		{ID: "k", Type: game.ItemLinkKey, LastSeen: seen},
		{ID: "r5", Type: game.ItemResonator, LastSeen: seen, Level: intp(5)},
		{ID: "r2", Type: game.ItemResonator, LastSeen: seen, Level: intp(2)},
		{ID: "r2b", Type: game.ItemResonator, LastSeen: seen, Level: intp(2)},
		{ID: "hv", Type: game.ItemHeatsink, LastSeen: seen, Rarity: rarityp(game.RarityVeryRare)},
		{ID: "hc", Type: game.ItemHeatsink, LastSeen: seen, Rarity: rarityp(game.RarityCommon)},
		{ID: "ada", Type: game.ItemADA, LastSeen: seen},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	groups, err := s.ListInventoryGrouped()
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	var names []string
	for _, g := range groups {
		names = append(names, g.Name())
	}
	want := []string{"L2 Resonator", "L5 Resonator", "ADA Refactor", "Common Heat sink", "Very Rare Heat sink", "Portal Key"}
	if !equal(names, want) {
		t.Fatalf("names=%v want %v", names, want)
	}
	if groups[0].Count != 2 {
		t.Fatalf("L2 count=%d", groups[0].Count)
	}
}

func TestDeleteEntities(t *testing.T) {
	s := openTest(t, time.Unix(1700000000, 0))
	seen := time.Unix(1700000000, 0)
	if err := s.MergeTargets([]game.EntityUpdate{target("a", origin, 1, game.FactionNone)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.ReplaceInventory([]game.InventoryItem{
		{ID: "a", Type: game.ItemLinkKey, LastSeen: seen},
		{ID: "b", Type: game.ItemLinkKey, LastSeen: seen},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.DeleteEntities([]string{"a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Target("a"); ok {
		t.Fatalf("target survived")
	}
	if n, _ := s.CountInventory(); n != 1 {
		t.Fatalf("count=%d", n)
	}
}

func ids(ts []game.Target) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
