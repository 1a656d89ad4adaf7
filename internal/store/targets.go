package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
)

// MergeTargets upserts every update that carries a full descriptor. Partial
// references are skipped. Cooldown state of existing rows is kept.
func (s *Store) MergeTargets(updates []game.EntityUpdate) error {
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO targets(id, name, faction, lat, lng, level, last_seen)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name,
				faction=excluded.faction,
				lat=excluded.lat,
				lng=excluded.lng,
				level=excluded.level,
				last_seen=excluded.last_seen`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range updates {
			t := u.Target
			if t == nil {
				continue
			}
			id := t.ID
			if id == "" {
				id = u.ID
			}
			seen := t.LastSeen
			if seen.IsZero() {
				seen = u.Seen
			}
			if _, err := stmt.Exec(id, t.Name, int(t.Faction), t.Location.Lat, t.Location.Lng, t.Level, seen.Unix()); err != nil {
				return fmt.Errorf("merge target %s: %w", id, err)
			}
		}
		return nil
	})
}

// FindNearbyTargets lists targets within radius meters of the origin that
// are eligible now under the given filters, nearest first.
func (s *Store) FindNearbyTargets(radius int, faction game.Faction, minLevel float64) ([]game.Target, error) {
	now := s.now().Unix()
	q := `SELECT id, name, faction, lat, lng, level, last_seen, action_cooldown_until, burnout_until, dist
		FROM (SELECT *, distance(?, ?, lat, lng) AS dist FROM targets)
		WHERE dist <= ?
			AND level >= ?
			AND (action_cooldown_until IS NULL OR action_cooldown_until <= ?)
			AND (burnout_until IS NULL OR burnout_until <= ?)`
	args := []any{s.origin.Lat, s.origin.Lng, radius, minLevel, now, now}
	if faction != game.FactionNone {
		q += ` AND faction = ?`
		args = append(args, int(faction))
	}
	q += ` ORDER BY dist ASC, id ASC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Target loads one target regardless of eligibility.
func (s *Store) Target(id string) (game.Target, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, faction, lat, lng, level, last_seen, action_cooldown_until, burnout_until,
			distance(?, ?, lat, lng)
		FROM targets WHERE id = ?`, s.origin.Lat, s.origin.Lng, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return game.Target{}, false, nil
	}
	if err != nil {
		return game.Target{}, false, err
	}
	return t, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(r scanner) (game.Target, error) {
	var (
		t        game.Target
		faction  int
		lastSeen int64
		cooldown sql.NullInt64
		burnout  sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.Name, &faction, &t.Location.Lat, &t.Location.Lng, &t.Level, &lastSeen, &cooldown, &burnout, &t.Distance); err != nil {
		return game.Target{}, err
	}
	t.Faction = game.Faction(faction)
	t.LastSeen = time.Unix(lastSeen, 0)
	t.ActionCooldownUntil = nullTime(cooldown)
	t.BurnoutUntil = nullTime(burnout)
	return t, nil
}

// MarkActioned records the outcome of an action on target id. It does
// nothing when both times are nil; otherwise both cooldown columns are
// rewritten and a nil time clears its column.
func (s *Store) MarkActioned(id string, actionTime, burnoutTime *time.Time) error {
	if actionTime == nil && burnoutTime == nil {
		return nil
	}
	var cooldownUntil, burnoutUntil *time.Time
	if actionTime != nil {
		t := actionTime.Add(s.cooldowns.Action)
		cooldownUntil = &t
	}
	if burnoutTime != nil {
		t := burnoutTime.Add(s.cooldowns.Burnout)
		burnoutUntil = &t
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE targets SET action_cooldown_until = ?, burnout_until = ? WHERE id = ?`,
			unixOrNil(cooldownUntil), unixOrNil(burnoutUntil), id)
		if err != nil {
			return fmt.Errorf("mark actioned %s: %w", id, err)
		}
		return nil
	})
}

// DeleteEntities removes ids from targets and inventory.
func (s *Store) DeleteEntities(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, table := range []string{"targets", "inventory"} {
			stmt, err := tx.Prepare(`DELETE FROM ` + table + ` WHERE id = ?`)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := stmt.Exec(id); err != nil {
					_ = stmt.Close()
					return fmt.Errorf("delete %s %s: %w", table, id, err)
				}
			}
			_ = stmt.Close()
		}
		return nil
	})
}
