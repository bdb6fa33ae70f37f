package storage

import (
	"database/sql"
	"fmt"
)

// AddEdge inserts a directed edge. Re-adding an existing (source, target,
// relation) triple refreshes its weight and timestamp.
func (s *Store) AddEdge(e Edge) error {
	if e.Timestamp == 0 {
		e.Timestamp = NowMillis()
	}
	if e.Weight == 0 {
		e.Weight = 1.0
	}
	_, err := s.db.Exec(`
		INSERT INTO edges (source_id, target_id, relation, weight, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation)
		DO UPDATE SET weight = excluded.weight, timestamp = excluded.timestamp`,
		e.SourceID, e.TargetID, string(e.Relation), e.Weight, e.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return nil
}

// EdgesFrom returns all edges whose source is id.
func (s *Store) EdgesFrom(id string) ([]Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_id, relation, weight, timestamp
		FROM edges WHERE source_id = ? ORDER BY timestamp DESC`, id)
}

// EdgesTo returns all edges whose target is id.
func (s *Store) EdgesTo(id string) ([]Edge, error) {
	return s.queryEdges(`
		SELECT source_id, target_id, relation, weight, timestamp
		FROM edges WHERE target_id = ? ORDER BY timestamp DESC`, id)
}

func (s *Store) queryEdges(query string, args ...any) ([]Edge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var rel string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &rel, &e.Weight, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Relation = Relation(rel)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Related walks the edge graph breadth-first from id, following edges in
// both directions, and returns active units reachable within maxHops.
// Each unit appears once at its shallowest depth; the start unit is excluded.
func (s *Store) Related(id string, maxHops, limit int) ([]RelatedUnit, error) {
	if maxHops <= 0 || limit <= 0 {
		return nil, nil
	}

	visited := map[string]struct{}{id: {}}
	frontier := []string{id}
	var results []RelatedUnit

	for depth := 1; depth <= maxHops && len(frontier) > 0 && len(results) < limit; depth++ {
		var next []string
		for _, cur := range frontier {
			neighbors, err := s.neighborIDs(cur)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}

				u, err := s.GetUnit(n)
				if err == ErrNotFound {
					continue
				}
				if err != nil {
					return nil, err
				}
				if !u.IsActive {
					// Tombstones stay out of results but still conduct
					// the walk so the graph does not fragment.
					next = append(next, n)
					continue
				}
				results = append(results, RelatedUnit{Unit: u, Depth: depth})
				if len(results) >= limit {
					return results, nil
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return results, nil
}

func (s *Store) neighborIDs(id string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT target_id FROM edges WHERE source_id = ?
		UNION
		SELECT source_id FROM edges WHERE target_id = ?`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		ids = append(ids, n)
	}
	return ids, rows.Err()
}

// EdgeCount returns the total number of edges.
func (s *Store) EdgeCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
