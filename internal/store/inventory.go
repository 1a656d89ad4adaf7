package store

import (
	"database/sql"
	"fmt"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
)

// ReplaceInventory makes the inventory exactly equal to items.
func (s *Store) ReplaceInventory(items []game.InventoryItem) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM inventory`); err != nil {
			return err
		}
		_, err := upsertInventory(tx, items)
		return err
	})
}

// MergeInventoryDelta upserts items by id. Level and rarity are written only
// for types that carry them. With emit set the returned slice holds one
// display name per merged item.
func (s *Store) MergeInventoryDelta(items []game.InventoryItem, emit bool) ([]string, error) {
	var lines []string
	err := s.withTx(func(tx *sql.Tx) error {
		merged, err := upsertInventory(tx, items)
		if err != nil {
			return err
		}
		if emit {
			lines = make([]string, 0, len(merged))
			for _, it := range merged {
				lines = append(lines, it.Name())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// upsertInventory writes items and returns them as stored, with level and
// rarity carried over from the existing row when the update lacks them.
func upsertInventory(tx *sql.Tx, items []game.InventoryItem) ([]game.InventoryItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	existing, err := tx.Prepare(`SELECT level, rarity FROM inventory WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	defer existing.Close()
	upsert, err := tx.Prepare(`INSERT OR REPLACE INTO inventory(id, type, last_seen, level, rarity) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer upsert.Close()

	out := make([]game.InventoryItem, 0, len(items))
	for _, it := range items {
		if _, err := game.ParseItemType(string(it.Type)); err != nil {
			return nil, fmt.Errorf("inventory item %s: %w", it.ID, err)
		}
		var level sql.NullInt64
		var rarity sql.NullString
		switch err := existing.QueryRow(it.ID).Scan(&level, &rarity); err {
		case nil, sql.ErrNoRows:
		default:
			return nil, err
		}
		if it.Type.HasLevel() && it.Level != nil {
			level = sql.NullInt64{Int64: int64(*it.Level), Valid: true}
		}
		if it.Type.HasRarity() && it.Rarity != nil {
			rarity = sql.NullString{String: string(*it.Rarity), Valid: true}
		}
		if !it.Type.HasLevel() {
			level = sql.NullInt64{}
		}
		if !it.Type.HasRarity() {
			rarity = sql.NullString{}
		}
		if _, err := upsert.Exec(it.ID, string(it.Type), it.LastSeen.UnixMilli(), level, rarity); err != nil {
			return nil, fmt.Errorf("upsert inventory %s: %w", it.ID, err)
		}

		stored := game.InventoryItem{ID: it.ID, Type: it.Type, LastSeen: it.LastSeen}
		if level.Valid {
			l := int(level.Int64)
			stored.Level = &l
		}
		if rarity.Valid {
			r := game.Rarity(rarity.String)
			stored.Rarity = &r
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Store) CountInventory() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inventory`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InventoryIDs lists every cached item id.
func (s *Store) InventoryIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM inventory ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListInventoryGrouped counts items per (type, level, rarity) in display
// order.
func (s *Store) ListInventoryGrouped() ([]game.InventoryGroup, error) {
	rows, err := s.db.Query(`SELECT type, level, rarity, COUNT(*) FROM inventory GROUP BY type, level, rarity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.InventoryGroup
	for rows.Next() {
		var (
			g      game.InventoryGroup
			typ    string
			level  sql.NullInt64
			rarity sql.NullString
		)
		if err := rows.Scan(&typ, &level, &rarity, &g.Count); err != nil {
			return nil, err
		}
		g.Type = game.ItemType(typ)
		if level.Valid {
			l := int(level.Int64)
			g.Level = &l
		}
		if rarity.Valid {
			r := game.Rarity(rarity.String)
			g.Rarity = &r
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	game.SortGroups(out)
	return out, nil
}
