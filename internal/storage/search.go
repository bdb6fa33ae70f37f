package storage

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// SearchFTS runs a MATCH query over the porter-stemmed FTS index and returns
// active units with a score. bm25 rank is smaller-is-better; it is negated
// here so every retrieval path agrees that larger scores win.
func (s *Store) SearchFTS(query string, limit int) ([]ScoredUnit, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT `+qualifiedUnitColumns+`, memory_fts.rank
		FROM memory_fts
		JOIN memory_units m ON m.rowid = memory_fts.rowid
		WHERE memory_fts MATCH ? AND m.is_active = 1
		ORDER BY memory_fts.rank, m.timestamp DESC, m.id ASC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query %q: %w", query, err)
	}
	defer rows.Close()

	var results []ScoredUnit
	for rows.Next() {
		u, rank, err := scanUnitWithRank(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredUnit{Unit: u, Score: -rank})
	}
	return results, rows.Err()
}

const qualifiedUnitColumns = `m.id, m.kind, m.intent, m.action, m.reason, m.impact, m.outcome,
	m.related_files, m.tags, m.created_at, m.timestamp, m.confidence, m.importance,
	m.access_count, m.last_accessed, m.is_active, m.superseded_by, m.source_event_id`

func scanUnitWithRank(rows *sql.Rows) (Unit, float64, error) {
	var u Unit
	var kind, files, tags string
	var active int
	var superseded sql.NullString
	var sourceEvent sql.NullInt64
	var rank float64
	err := rows.Scan(
		&u.ID, &kind, &u.Intent, &u.Action, &u.Reason, &u.Impact, &u.Outcome,
		&files, &tags, &u.CreatedAt, &u.Timestamp, &u.Confidence, &u.Importance,
		&u.AccessCount, &u.LastAccessed, &active, &superseded, &sourceEvent, &rank,
	)
	if err != nil {
		return Unit{}, 0, err
	}
	u.Kind = Kind(kind)
	u.IsActive = active != 0
	u.SupersededBy = superseded.String
	u.SourceEventID = sourceEvent.Int64
	if err := unmarshalList(files, &u.RelatedFiles); err != nil {
		return Unit{}, 0, fmt.Errorf("decoding related_files for %s: %w", u.ID, err)
	}
	if err := unmarshalList(tags, &u.Tags); err != nil {
		return Unit{}, 0, fmt.Errorf("decoding tags for %s: %w", u.ID, err)
	}
	return u, rank, nil
}

// --- vector sidecar ---

// SaveVector upserts the embedding for a unit.
func (s *Store) SaveVector(id string, embedding []float32) error {
	blob := encodeFloat32s(embedding)
	_, err := s.db.Exec(`
		INSERT INTO memory_vectors (id, embedding, dims, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims`,
		id, blob, len(embedding), NowMillis())
	if err != nil {
		return fmt.Errorf("saving vector for %s: %w", id, err)
	}
	return nil
}

// HasVector reports whether the unit has been embedded.
func (s *Store) HasVector(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_vectors WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// VectorCount returns the number of stored embeddings.
func (s *Store) VectorCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_vectors`).Scan(&n)
	return n, err
}

// idScore holds only id and score during the scan phase of SearchVector.
type idScore struct {
	ID    string
	Score float64
}

// SearchVector performs brute-force cosine similarity over the vector
// sidecar, returning the top-K active units. Embeddings are unit vectors,
// so cosine is the plain dot product; a zero-magnitude side scores 0.
// Units without a vector are simply absent.
func (s *Store) SearchVector(query []float32, topK int) ([]ScoredUnit, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT v.id, v.embedding FROM memory_vectors v
		JOIN memory_units m ON m.id = v.id
		WHERE m.is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer avoids a per-row allocation during the scan.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := dot(query, buf)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	scores := make(map[string]float64, h.Len())
	ids := make([]string, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		scores[item.ID] = item.Score
		ids = append(ids, item.ID)
	}

	var results []ScoredUnit
	for _, id := range ids {
		u, err := s.GetUnit(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredUnit{Unit: u, Score: scores[id]})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Unit.Timestamp != results[j].Unit.Timestamp {
			return results[i].Unit.Timestamp > results[j].Unit.Timestamp
		}
		return results[i].Unit.ID < results[j].Unit.ID
	})
	return results, nil
}

// dot computes the dot product of two equal-length vectors. Mismatched
// lengths (an embedder swap mid-corpus) score 0 rather than erroring.
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it when capacity allows.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// idScoreHeap is a min-heap of idScore used to track top-K candidates.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
