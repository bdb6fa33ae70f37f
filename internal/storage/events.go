package storage

import (
	"database/sql"
	"fmt"
)

// AppendEvent inserts a row into the append-only event log and returns its id.
func (s *Store) AppendEvent(e Event) (int64, error) {
	if e.Timestamp == 0 {
		e.Timestamp = NowMillis()
	}
	res, err := s.db.Exec(`
		INSERT INTO events (event_type, source, content, diff, file, metadata, timestamp, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		e.EventType, e.Source, e.Content,
		nullIfEmpty(e.Diff), nullIfEmpty(e.File), nullIfEmpty(e.Metadata),
		e.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("appending event: %w", err)
	}
	return res.LastInsertId()
}

// MarkEventProcessed flips the processed flag. The only mutation the event
// log permits.
func (s *Store) MarkEventProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE events SET processed = 1 WHERE id = ?`, id)
	return err
}

// UnprocessedEvents returns up to limit events with processed = 0, oldest
// first.
func (s *Store) UnprocessedEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, event_type, source, content, diff, file, metadata, timestamp, processed
		FROM events WHERE processed = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var diff, file, metadata sql.NullString
		var processed int
		if err := rows.Scan(&e.ID, &e.EventType, &e.Source, &e.Content, &diff, &file, &metadata, &e.Timestamp, &processed); err != nil {
			return nil, err
		}
		e.Diff = diff.String
		e.File = file.String
		e.Metadata = metadata.String
		e.Processed = processed != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventCount returns the size of the event log.
func (s *Store) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
