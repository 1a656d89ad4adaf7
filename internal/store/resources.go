package store

import (
	"database/sql"
	"fmt"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
)

// MergeResources inserts resources not already cached, asking r for the
// location and amount of each new id exactly once.
func (s *Store) MergeResources(ids []string, r Resolver) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		exists, err := tx.Prepare(`SELECT 1 FROM resources WHERE id = ?`)
		if err != nil {
			return err
		}
		defer exists.Close()
		insert, err := tx.Prepare(`INSERT INTO resources(id, lat, lng, amount) VALUES(?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insert.Close()

		for _, id := range ids {
			var one int
			switch err := exists.QueryRow(id).Scan(&one); err {
			case nil:
				continue
			case sql.ErrNoRows:
			default:
				return err
			}
			loc, amount, err := r.ResolveResource(id)
			if err != nil {
				return fmt.Errorf("resolve resource %s: %w", id, err)
			}
			if _, err := insert.Exec(id, loc.Lat, loc.Lng, amount); err != nil {
				return fmt.Errorf("insert resource %s: %w", id, err)
			}
		}
		return nil
	})
}

// FindNearbyResources lists resources within radius meters of the origin,
// nearest first.
func (s *Store) FindNearbyResources(radius int) ([]game.Resource, error) {
	rows, err := s.db.Query(`SELECT id, lat, lng, amount, dist
		FROM (SELECT *, distance(?, ?, lat, lng) AS dist FROM resources)
		WHERE dist <= ?
		ORDER BY dist ASC, id ASC`, s.origin.Lat, s.origin.Lng, radius)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Resource
	for rows.Next() {
		var r game.Resource
		if err := rows.Scan(&r.ID, &r.Location.Lat, &r.Location.Lng, &r.Amount, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResources removes ids. When purgeBeyond is positive every resource
// farther than that many meters from the origin is removed as well.
func (s *Store) DeleteResources(ids []string, purgeBeyond int) error {
	if len(ids) == 0 && purgeBeyond <= 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		if len(ids) > 0 {
			stmt, err := tx.Prepare(`DELETE FROM resources WHERE id = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, id := range ids {
				if _, err := stmt.Exec(id); err != nil {
					return fmt.Errorf("delete resource %s: %w", id, err)
				}
			}
		}
		if purgeBeyond > 0 {
			if _, err := tx.Exec(`DELETE FROM resources WHERE distance(?, ?, lat, lng) > ?`,
				s.origin.Lat, s.origin.Lng, purgeBeyond); err != nil {
				return fmt.Errorf("purge resources: %w", err)
			}
		}
		return nil
	})
}
