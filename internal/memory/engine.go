// Package memory is the write path of the store: quality gating, silent
// dedup, contradiction resolution, and the async embedding handoff all
// happen here before a unit becomes durable.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/embed"
	"github.com/kalambet/cortex/internal/quality"
	"github.com/kalambet/cortex/internal/storage"
)

// Engine owns every mutation of the unit table. Constructed once at startup
// and shared by the RPC adapter, the aging engine, and the assembler.
type Engine struct {
	store                *storage.Store
	dedupThreshold       float64
	contradictionJaccard float64
	logger               *slog.Logger
}

// New creates an Engine over the given store. Zero thresholds select the
// defaults (dedup 0.7, contradiction 0.5).
func New(store *storage.Store, dedupThreshold, contradictionJaccard float64) *Engine {
	if dedupThreshold <= 0 {
		dedupThreshold = quality.DefaultDedupThreshold
	}
	if contradictionJaccard <= 0 {
		contradictionJaccard = defaultContradictionJaccard
	}
	return &Engine{
		store:                store,
		dedupThreshold:       dedupThreshold,
		contradictionJaccard: contradictionJaccard,
		logger:               slog.Default(),
	}
}

// Store exposes the underlying storage for read paths.
func (e *Engine) Store() *storage.Store {
	return e.store
}

// AddInput is the caller-facing shape of a new observation.
type AddInput struct {
	Kind         storage.Kind
	Intent       string
	Action       string
	Reason       string
	Impact       string
	RelatedFiles []string
	Tags         []string
	Confidence   float64
	Importance   float64
	Timestamp    int64 // optional; epoch ms
	Source       string
}

// AddResult reports what happened to a store request.
type AddResult struct {
	Unit       storage.Unit
	Deduped    bool   // an existing unit was reinforced instead
	Superseded string // id of a contradicting unit that was deactivated
}

// Add runs the full write path: gate, dedup, insert, embed handoff,
// contradiction sweep. On dedup the existing unit is touched and returned
// with Deduped set; the caller observes a normal "stored" response.
func (e *Engine) Add(in AddInput) (AddResult, error) {
	if !storage.ValidKind(in.Kind) {
		return AddResult{}, fmt.Errorf("unknown kind %q", in.Kind)
	}
	intent := strings.TrimSpace(in.Intent)
	if intent == "" {
		return AddResult{}, fmt.Errorf("intent is required")
	}

	if rej := quality.Check(intent); rej != nil {
		return AddResult{}, rej
	}

	sameKind, err := e.store.GetByKind(in.Kind, 10000)
	if err != nil {
		return AddResult{}, fmt.Errorf("loading %s units for dedup: %w", in.Kind, err)
	}
	// A high-overlap intent that negates the existing one is a
	// contradiction, not a duplicate; it must be stored so it can supersede.
	dup := quality.FindDuplicate(sameKind, intent, e.dedupThreshold)
	if dup != nil && intentsNegate(dup.Intent, intent) {
		dup = nil
	}
	if dup != nil {
		if err := e.store.Touch(dup.ID); err != nil {
			return AddResult{}, fmt.Errorf("reinforcing duplicate %s: %w", dup.ID, err)
		}
		refreshed, err := e.store.GetUnit(dup.ID)
		if err != nil {
			return AddResult{}, err
		}
		return AddResult{Unit: refreshed, Deduped: true}, nil
	}

	eventID, err := e.store.AppendEvent(storage.Event{
		EventType: "store",
		Source:    in.Source,
		Content:   intent,
	})
	if err != nil {
		// The event log is advisory; a failed append must not lose the unit.
		e.logger.Warn("event append failed", "error", err)
		eventID = 0
	}

	now := storage.NowMillis()
	ts := in.Timestamp
	if ts == 0 {
		ts = now
	}
	u := storage.Unit{
		ID:            uuid.New().String(),
		Kind:          in.Kind,
		Intent:        truncate(intent, 300),
		Action:        truncate(strings.TrimSpace(in.Action), 500),
		Reason:        strings.TrimSpace(in.Reason),
		Impact:        strings.TrimSpace(in.Impact),
		Outcome:       "unknown",
		RelatedFiles:  capList(in.RelatedFiles, 20),
		Tags:          normalizeTags(in.Tags),
		CreatedAt:     now,
		Timestamp:     ts,
		Confidence:    clamp01(orDefault(in.Confidence, 0.5)),
		Importance:    clampImportance(orDefault(in.Importance, 0.5)),
		IsActive:      true,
		SourceEventID: eventID,
	}

	if err := e.store.InsertUnit(u); err != nil {
		return AddResult{}, fmt.Errorf("inserting unit: %w", err)
	}
	if eventID != 0 {
		if err := e.store.MarkEventProcessed(eventID); err != nil {
			e.logger.Warn("marking event processed failed", "event_id", eventID, "error", err)
		}
	}

	e.enqueueEmbed(u.ID)

	superseded := e.resolveContradiction(u, sameKind)

	return AddResult{Unit: u, Superseded: superseded}, nil
}

// Update replaces an active unit with a new one carrying the updated
// content, deactivating the original with a SUPERSEDED_BY edge. Returns the
// replacement.
func (e *Engine) Update(id, intent, reason string) (storage.Unit, error) {
	orig, err := e.store.GetUnit(id)
	if err != nil {
		return storage.Unit{}, err
	}
	if !orig.IsActive {
		return storage.Unit{}, fmt.Errorf("unit %s is no longer active", id)
	}

	if rej := quality.Check(intent); rej != nil {
		return storage.Unit{}, rej
	}

	now := storage.NowMillis()
	replacement := orig
	replacement.ID = uuid.New().String()
	replacement.Intent = truncate(strings.TrimSpace(intent), 300)
	if reason != "" {
		replacement.Reason = reason
	}
	replacement.CreatedAt = now
	replacement.Timestamp = now
	replacement.AccessCount = 0
	replacement.LastAccessed = 0
	replacement.SupersededBy = ""

	if err := e.store.InsertUnit(replacement); err != nil {
		return storage.Unit{}, fmt.Errorf("inserting replacement: %w", err)
	}
	if err := e.store.Deactivate(orig.ID, replacement.ID); err != nil {
		return storage.Unit{}, fmt.Errorf("deactivating original: %w", err)
	}
	if err := e.store.AddEdge(storage.Edge{
		SourceID: orig.ID,
		TargetID: replacement.ID,
		Relation: storage.RelSupersededBy,
	}); err != nil {
		e.logger.Warn("recording supersede edge failed", "error", err)
	}

	e.enqueueEmbed(replacement.ID)
	return replacement, nil
}

// Delete soft-deletes a unit. Unknown ids return storage.ErrNotFound.
func (e *Engine) Delete(id string) error {
	if _, err := e.store.GetUnit(id); err != nil {
		return err
	}
	return e.store.Deactivate(id, "")
}

// enqueueEmbed schedules the async vector write. Failure only degrades
// vector search for this unit; FTS already covers it.
func (e *Engine) enqueueEmbed(unitID string) {
	payload, err := json.Marshal(embed.Payload{UnitID: unitID})
	if err != nil {
		e.logger.Warn("marshaling embed payload failed", "unit_id", unitID, "error", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        embed.JobType,
		PayloadJSON: string(payload),
	}
	if err := e.store.EnqueueJob(job); err != nil {
		e.logger.Warn("enqueueing embed job failed", "unit_id", unitID, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func capList(s []string, max int) []string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// normalizeTags lowercases tags and drops characters outside
// letters/digits/hyphen/colon.
func normalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		var b strings.Builder
		for _, r := range strings.ToLower(strings.TrimSpace(t)) {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == ':' {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
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
