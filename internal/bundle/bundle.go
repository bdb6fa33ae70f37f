// Package bundle implements the stable export/import format. The bundle is
// versioned independently of the database schema so exports survive schema
// migrations.
package bundle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/textutil"
)

// Version is the current bundle format version.
const Version = 1

// Bundle is the wire shape of an export.
type Bundle struct {
	Version     int      `json:"version"`
	ExportedAt  string   `json:"exportedAt"`
	MemoryCount int      `json:"memoryCount"`
	Memories    []Memory `json:"memories"`
}

// Memory is one exported unit.
type Memory struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Intent       string   `json:"intent"`
	Action       string   `json:"action"`
	Reason       *string  `json:"reason"`
	Tags         []string `json:"tags"`
	RelatedFiles []string `json:"relatedFiles"`
	Confidence   float64  `json:"confidence"`
	Importance   float64  `json:"importance"`
	AccessCount  int      `json:"accessCount"`
	CreatedAt    int64    `json:"createdAt"`
	Timestamp    string   `json:"timestamp"`
}

// Export serializes every active unit.
func Export(store *storage.Store) (*Bundle, error) {
	units, err := store.GetActive(1 << 20)
	if err != nil {
		return nil, fmt.Errorf("loading active units: %w", err)
	}

	memories := make([]Memory, 0, len(units))
	for _, u := range units {
		var reason *string
		if u.Reason != "" {
			r := u.Reason
			reason = &r
		}
		memories = append(memories, Memory{
			ID:           u.ID,
			Type:         string(u.Kind),
			Intent:       u.Intent,
			Action:       u.Action,
			Reason:       reason,
			Tags:         orEmpty(u.Tags),
			RelatedFiles: orEmpty(u.RelatedFiles),
			Confidence:   u.Confidence,
			Importance:   u.Importance,
			AccessCount:  u.AccessCount,
			CreatedAt:    u.CreatedAt,
			Timestamp:    time.UnixMilli(u.Timestamp).UTC().Format(time.RFC3339),
		})
	}

	return &Bundle{
		Version:     Version,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		MemoryCount: len(memories),
		Memories:    memories,
	}, nil
}

// ImportResult counts what happened during an import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   int
}

// Import loads a bundle, skipping memories whose (type, lowercased intent)
// already exists among active units. Individual row failures are counted,
// never raised; only an unreadable or wrong-version bundle errors.
func Import(store *storage.Store, data []byte) (ImportResult, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return ImportResult{}, fmt.Errorf("parsing bundle: %w", err)
	}
	if b.Version != Version {
		return ImportResult{}, fmt.Errorf("unsupported bundle version %d (expected %d)", b.Version, Version)
	}

	var res ImportResult
	for _, m := range b.Memories {
		kind := storage.Kind(strings.ToUpper(m.Type))
		if !storage.ValidKind(kind) || strings.TrimSpace(m.Intent) == "" {
			res.Errors++
			continue
		}

		existing, err := store.GetActiveByIntent(kind, textutil.NormalizeIntent(m.Intent))
		if err != nil {
			res.Errors++
			continue
		}
		if len(existing) > 0 {
			res.Skipped++
			continue
		}

		ts := parseTimestamp(m.Timestamp, m.CreatedAt)
		created := m.CreatedAt
		if created == 0 {
			created = storage.NowMillis()
		}

		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		u := storage.Unit{
			ID:           id,
			Kind:         kind,
			Intent:       m.Intent,
			Action:       m.Action,
			Reason:       deref(m.Reason),
			Outcome:      "unknown",
			RelatedFiles: m.RelatedFiles,
			Tags:         m.Tags,
			CreatedAt:    created,
			Timestamp:    ts,
			Confidence:   clamp01(m.Confidence),
			Importance:   clampImportance(m.Importance),
			AccessCount:  m.AccessCount,
			IsActive:     true,
		}
		if err := store.InsertUnit(u); err != nil {
			res.Errors++
			continue
		}
		res.Imported++
	}
	return res, nil
}

func parseTimestamp(iso string, fallback int64) int64 {
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return t.UnixMilli()
	}
	if fallback != 0 {
		return fallback
	}
	return storage.NowMillis()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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

func clampImportance(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 1 {
		return 1
	}
	return v
}
