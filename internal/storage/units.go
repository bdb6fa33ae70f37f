package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/cortex/internal/textutil"
)

const unitColumns = `id, kind, intent, action, reason, impact, outcome,
	related_files, tags, created_at, timestamp, confidence, importance,
	access_count, last_accessed, is_active, superseded_by, source_event_id`

// InsertUnit persists a fully-populated unit. Field normalization and dedup
// are the memory layer's job; this is the raw write. The FTS mirror is
// maintained by triggers.
func (s *Store) InsertUnit(u Unit) error {
	files, err := json.Marshal(emptyIfNil(u.RelatedFiles))
	if err != nil {
		return fmt.Errorf("marshaling related_files: %w", err)
	}
	tags, err := json.Marshal(emptyIfNil(u.Tags))
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO memory_units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, string(u.Kind), u.Intent, u.Action, u.Reason, u.Impact, u.Outcome,
		string(files), string(tags), u.CreatedAt, u.Timestamp, u.Confidence,
		u.Importance, u.AccessCount, u.LastAccessed, boolToInt(u.IsActive),
		nullIfEmpty(u.SupersededBy), nullIfZero(u.SourceEventID),
	)
	if err != nil {
		return fmt.Errorf("inserting unit %s: %w", u.ID, err)
	}
	return nil
}

// GetUnit returns the unit with the given id regardless of active state.
func (s *Store) GetUnit(id string) (Unit, error) {
	row := s.db.QueryRow(`SELECT `+unitColumns+` FROM memory_units WHERE id = ?`, id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return Unit{}, ErrNotFound
	}
	return u, err
}

// UnitChanges describes fields to replace on an active unit. Nil pointers
// leave the current value untouched.
type UnitChanges struct {
	Intent       *string
	Action       *string
	Reason       *string
	Impact       *string
	Outcome      *string
	RelatedFiles *[]string
	Tags         *[]string
	Confidence   *float64
	Importance   *float64
}

// UpdateUnit replaces the provided fields on the active unit. It is a no-op
// if the id is unknown or the unit is inactive.
func (s *Store) UpdateUnit(id string, ch UnitChanges) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if ch.Intent != nil {
		add("intent", *ch.Intent)
	}
	if ch.Action != nil {
		add("action", *ch.Action)
	}
	if ch.Reason != nil {
		add("reason", *ch.Reason)
	}
	if ch.Impact != nil {
		add("impact", *ch.Impact)
	}
	if ch.Outcome != nil {
		add("outcome", *ch.Outcome)
	}
	if ch.RelatedFiles != nil {
		b, err := json.Marshal(emptyIfNil(*ch.RelatedFiles))
		if err != nil {
			return fmt.Errorf("marshaling related_files: %w", err)
		}
		add("related_files", string(b))
	}
	if ch.Tags != nil {
		b, err := json.Marshal(emptyIfNil(*ch.Tags))
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
		add("tags", string(b))
	}
	if ch.Confidence != nil {
		add("confidence", clamp01(*ch.Confidence))
	}
	if ch.Importance != nil {
		add("importance", clamp01(*ch.Importance))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE memory_units SET " + strings.Join(sets, ", ") + " WHERE id = ? AND is_active = 1"
	_, err := s.db.Exec(query, args...)
	return err
}

// SetImportance persists a new importance value for the unit.
func (s *Store) SetImportance(id string, importance float64) error {
	_, err := s.db.Exec(`UPDATE memory_units SET importance = ? WHERE id = ?`, clampImportance(importance), id)
	return err
}

// Deactivate soft-deletes a unit, optionally recording its replacement.
// Idempotent: deactivating an already-inactive unit is a no-op.
func (s *Store) Deactivate(id, supersededBy string) error {
	_, err := s.db.Exec(`
		UPDATE memory_units SET is_active = 0, superseded_by = COALESCE(?, superseded_by)
		WHERE id = ? AND is_active = 1`,
		nullIfEmpty(supersededBy), id)
	return err
}

// Touch reinforces a unit: bumps access_count and stamps last_accessed.
// A retrieval signal row is appended for later analysis.
func (s *Store) Touch(id string) error {
	now := NowMillis()
	res, err := s.db.Exec(`
		UPDATE memory_units SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		_, err = s.db.Exec(`
			INSERT INTO user_signals (signal_type, unit_id, value, timestamp)
			VALUES ('retrieval', ?, 1, ?)`, id, now)
		return err
	}
	return nil
}

// FoldAccessCount adds delta accesses to the unit, used when merging
// duplicates so reinforcement history is not lost.
func (s *Store) FoldAccessCount(id string, delta int) error {
	_, err := s.db.Exec(`UPDATE memory_units SET access_count = access_count + ? WHERE id = ?`, delta, id)
	return err
}

// GetActive returns active units, newest first.
func (s *Store) GetActive(limit int) ([]Unit, error) {
	return s.queryUnits(`
		SELECT `+unitColumns+` FROM memory_units
		WHERE is_active = 1
		ORDER BY timestamp DESC, id ASC LIMIT ?`, limit)
}

// GetByKind returns active units of one kind, newest first.
func (s *Store) GetByKind(kind Kind, limit int) ([]Unit, error) {
	return s.queryUnits(`
		SELECT `+unitColumns+` FROM memory_units
		WHERE is_active = 1 AND kind = ?
		ORDER BY timestamp DESC, id ASC LIMIT ?`, string(kind), limit)
}

// GetByFile returns active units whose related_files mention path,
// newest first. Matching is substring in either direction, so a stored
// "src/auth/login.ts" matches a query for "auth/login.ts" and vice versa.
func (s *Store) GetByFile(path string, limit int) ([]Unit, error) {
	units, err := s.queryUnits(`
		SELECT `+unitColumns+` FROM memory_units
		WHERE is_active = 1 AND related_files != '[]'
		ORDER BY timestamp DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	matched := make([]Unit, 0, limit)
	for _, u := range units {
		if fileMatches(u.RelatedFiles, path) {
			matched = append(matched, u)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

// GetActiveByIntent returns active units of the given kind whose normalized
// intent equals the given normalized string.
func (s *Store) GetActiveByIntent(kind Kind, normalizedIntent string) ([]Unit, error) {
	units, err := s.GetByKind(kind, 10000)
	if err != nil {
		return nil, err
	}
	var out []Unit
	for _, u := range units {
		if textutil.NormalizeIntent(u.Intent) == normalizedIntent {
			out = append(out, u)
		}
	}
	return out, nil
}

// ActiveCount returns the number of active units.
func (s *Store) ActiveCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_units WHERE is_active = 1`).Scan(&n)
	return n, err
}

// TotalCount returns the number of units including tombstones.
func (s *Store) TotalCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_units`).Scan(&n)
	return n, err
}

// CountByKind returns active unit counts per kind.
func (s *Store) CountByKind() (map[Kind]int, error) {
	rows, err := s.db.Query(`
		SELECT kind, COUNT(*) FROM memory_units WHERE is_active = 1 GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts[Kind(k)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryUnits(query string, args ...any) ([]Unit, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnitRows(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (Unit, error) {
	var u Unit
	var kind, files, tags string
	var active int
	var superseded sql.NullString
	var sourceEvent sql.NullInt64
	err := row.Scan(
		&u.ID, &kind, &u.Intent, &u.Action, &u.Reason, &u.Impact, &u.Outcome,
		&files, &tags, &u.CreatedAt, &u.Timestamp, &u.Confidence, &u.Importance,
		&u.AccessCount, &u.LastAccessed, &active, &superseded, &sourceEvent,
	)
	if err != nil {
		return Unit{}, err
	}
	u.Kind = Kind(kind)
	u.IsActive = active != 0
	u.SupersededBy = superseded.String
	u.SourceEventID = sourceEvent.Int64
	if err := json.Unmarshal([]byte(files), &u.RelatedFiles); err != nil {
		return Unit{}, fmt.Errorf("decoding related_files for %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &u.Tags); err != nil {
		return Unit{}, fmt.Errorf("decoding tags for %s: %w", u.ID, err)
	}
	return u, nil
}

func scanUnitRows(rows *sql.Rows) (Unit, error) {
	return scanUnit(rows)
}

// --- small helpers ---

func unmarshalList(s string, dst *[]string) error {
	return json.Unmarshal([]byte(s), dst)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampImportance keeps importance inside its documented [0.1, 1.0] band.
func clampImportance(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 1 {
		return 1
	}
	return v
}

func fileMatches(files []string, path string) bool {
	if path == "" {
		return false
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		if strings.Contains(f, path) || strings.Contains(path, f) {
			return true
		}
	}
	return false
}
