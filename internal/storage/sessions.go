package storage

import (
	"database/sql"
	"time"
)

// OpenSession closes any still-open session and opens a new one for topic.
// Returns the new session id.
func (s *Store) OpenSession(topic string) (int64, error) {
	now := NowMillis()
	if _, err := s.db.Exec(`
		UPDATE daily_summaries SET closed_at = ? WHERE closed_at IS NULL`, now); err != nil {
		return 0, err
	}
	day := time.UnixMilli(now).UTC().Format("2006-01-02")
	res, err := s.db.Exec(`
		INSERT INTO daily_summaries (day, topic, opened_at) VALUES (?, ?, ?)`,
		day, topic, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CloseSession records a summary and closes the session.
func (s *Store) CloseSession(id int64, summary string) error {
	_, err := s.db.Exec(`
		UPDATE daily_summaries SET summary = ?, closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		summary, NowMillis(), id)
	return err
}

// RecentSessions returns the latest sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, day, topic, summary, opened_at, closed_at
		FROM daily_summaries ORDER BY opened_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var closed sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.Day, &sess.Topic, &sess.Summary, &sess.OpenedAt, &closed); err != nil {
			return nil, err
		}
		sess.ClosedAt = closed.Int64
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetIdentity upserts a key in the identity table.
func (s *Store) SetIdentity(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO identity (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, NowMillis())
	return err
}

// GetIdentity reads a key from the identity table.
func (s *Store) GetIdentity(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM identity WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetAdaptive upserts a tunable in adaptive_config.
func (s *Store) SetAdaptive(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO adaptive_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, NowMillis())
	return err
}

// GetAdaptive reads a tunable from adaptive_config.
func (s *Store) GetAdaptive(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM adaptive_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// LogFeedback appends a row to feedback_log.
func (s *Store) LogFeedback(tool string, score int, notes string) error {
	_, err := s.db.Exec(`
		INSERT INTO feedback_log (tool, score, notes, timestamp) VALUES (?, ?, ?, ?)`,
		tool, score, notes, NowMillis())
	return err
}
