package aging

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/textutil"
)

const (
	// staleInsightAge deactivates never-accessed insights.
	staleInsightAge = 14 * 24 * time.Hour
	// staleAnyAge deactivates any never-accessed unit.
	staleAnyAge = 30 * 24 * time.Hour

	// importanceWriteDelta: persisted importance only changes when the
	// recomputed value moves more than this, keeping maintenance writes low.
	importanceWriteDelta = 0.05

	// consolidationMinActive gates consolidation entirely.
	consolidationMinActive = 50
	// consolidationGroupMin is the group size that triggers a merge.
	consolidationGroupMin = 3
	// consolidationJaccard is the pairwise similarity to the group seed.
	consolidationJaccard = 0.5
)

// Engine runs the maintenance policies against the store.
type Engine struct {
	store     *storage.Store
	maxActive int
	logger    *slog.Logger
}

// New creates an aging engine. maxActive <= 0 selects the default cap of 500.
func New(store *storage.Store, maxActive int) *Engine {
	if maxActive <= 0 {
		maxActive = 500
	}
	return &Engine{store: store, maxActive: maxActive, logger: slog.Default()}
}

// Report summarizes one maintenance run.
type Report struct {
	ImportanceUpdates int
	Deactivated       int
	Merged            int
	Consolidated      int
	Boosted           int
}

// RunMaintenance executes every policy in order: importance refresh,
// cleanup, consolidation, learning-rate boost. Errors in one policy are
// logged and do not stop the others.
func (e *Engine) RunMaintenance(now time.Time) Report {
	var rep Report

	n, err := e.RefreshImportance(now)
	if err != nil {
		e.logger.Warn("importance refresh failed", "error", err)
	}
	rep.ImportanceUpdates = n

	deactivated, merged, err := e.Cleanup(now)
	if err != nil {
		e.logger.Warn("cleanup failed", "error", err)
	}
	rep.Deactivated = deactivated
	rep.Merged = merged

	consolidated, err := e.Consolidate(now)
	if err != nil {
		e.logger.Warn("consolidation failed", "error", err)
	}
	rep.Consolidated = consolidated

	boosted, err := e.BoostLearningRate()
	if err != nil {
		e.logger.Warn("learning-rate boost failed", "error", err)
	}
	rep.Boosted = boosted

	return rep
}

// RefreshImportance recomputes effective importance for every active unit
// and persists values that moved more than the write delta.
func (e *Engine) RefreshImportance(now time.Time) (int, error) {
	units, err := e.store.GetActive(e.maxActive * 2)
	if err != nil {
		return 0, err
	}
	updated := 0
	for i := range units {
		u := &units[i]
		eff := EffectiveImportance(u, now)
		if math.Abs(eff-u.Importance) > importanceWriteDelta {
			if err := e.store.SetImportance(u.ID, eff); err != nil {
				return updated, fmt.Errorf("updating importance for %s: %w", u.ID, err)
			}
			updated++
		}
	}
	return updated, nil
}

// Cleanup deactivates stale units, enforces the active cap, and merges
// identical intents. Returns (deactivated, merged).
func (e *Engine) Cleanup(now time.Time) (int, int, error) {
	units, err := e.store.GetActive(e.maxActive * 4)
	if err != nil {
		return 0, 0, err
	}

	deactivated := 0
	remaining := units[:0]
	for i := range units {
		u := &units[i]
		age := u.Age(now)
		stale := u.AccessCount == 0 &&
			(age >= staleAnyAge || (u.Kind == storage.KindInsight && age >= staleInsightAge))
		if stale {
			if err := e.store.Deactivate(u.ID, ""); err != nil {
				return deactivated, 0, err
			}
			deactivated++
			continue
		}
		remaining = append(remaining, *u)
	}

	merged, err := e.mergeIdenticalIntents(remaining)
	if err != nil {
		return deactivated, merged, err
	}

	capped, err := e.enforceCap()
	if err != nil {
		return deactivated, merged, err
	}
	deactivated += capped

	return deactivated, merged, nil
}

// mergeIdenticalIntents groups active units by (kind, normalized intent),
// keeps the most important member of each group, folds the rest in.
func (e *Engine) mergeIdenticalIntents(units []storage.Unit) (int, error) {
	groups := make(map[string][]storage.Unit)
	for _, u := range units {
		key := string(u.Kind) + "\x00" + textutil.NormalizeIntent(u.Intent)
		groups[key] = append(groups[key], u)
	}

	merged := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		// Keep the highest importance; ties go to the newest.
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Importance != group[j].Importance {
				return group[i].Importance > group[j].Importance
			}
			return group[i].Timestamp > group[j].Timestamp
		})
		keeper := group[0]

		bonus := 0.05 * float64(len(group)-1)
		if err := e.store.SetImportance(keeper.ID, keeper.Importance+bonus); err != nil {
			return merged, err
		}

		foldedAccess := 0
		for _, dup := range group[1:] {
			foldedAccess += dup.AccessCount
			if err := e.store.Deactivate(dup.ID, keeper.ID); err != nil {
				return merged, err
			}
			merged++
		}
		if foldedAccess > 0 {
			if err := e.store.FoldAccessCount(keeper.ID, foldedAccess); err != nil {
				return merged, err
			}
		}
	}
	return merged, nil
}

// enforceCap deactivates the lowest-importance units until the active count
// is within the cap.
func (e *Engine) enforceCap() (int, error) {
	count, err := e.store.ActiveCount()
	if err != nil {
		return 0, err
	}
	if count <= e.maxActive {
		return 0, nil
	}

	units, err := e.store.GetActive(count)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Importance < units[j].Importance
	})

	over := count - e.maxActive
	deactivated := 0
	for i := 0; i < over && i < len(units); i++ {
		if err := e.store.Deactivate(units[i].ID, ""); err != nil {
			return deactivated, err
		}
		deactivated++
	}
	return deactivated, nil
}

// Consolidate merges recurring same-kind patterns into synthesized summary
// units. Only runs above the activity threshold; scans in timestamp ASC so
// grouping is reproducible.
func (e *Engine) Consolidate(now time.Time) (int, error) {
	total, err := e.store.ActiveCount()
	if err != nil {
		return 0, err
	}
	if total <= consolidationMinActive {
		return 0, nil
	}

	consolidated := 0
	for _, kind := range storage.Kinds {
		units, err := e.store.GetByKind(kind, e.maxActive)
		if err != nil {
			return consolidated, err
		}
		if len(units) < consolidationGroupMin {
			continue
		}

		// GetByKind returns newest first; reverse to timestamp ASC.
		sort.SliceStable(units, func(i, j int) bool {
			if units[i].Timestamp != units[j].Timestamp {
				return units[i].Timestamp < units[j].Timestamp
			}
			return units[i].ID < units[j].ID
		})

		n, err := e.consolidateKind(kind, units, now)
		if err != nil {
			return consolidated, err
		}
		consolidated += n
	}
	return consolidated, nil
}

func (e *Engine) consolidateKind(kind storage.Kind, units []storage.Unit, now time.Time) (int, error) {
	used := make(map[string]bool)
	consolidated := 0

	for i := range units {
		seed := &units[i]
		if used[seed.ID] || seed.HasTag("consolidated") {
			continue
		}
		seedTokens := textutil.TokenSet(seed.Intent)

		group := []storage.Unit{*seed}
		for j := i + 1; j < len(units); j++ {
			cand := &units[j]
			if used[cand.ID] || cand.HasTag("consolidated") {
				continue
			}
			if textutil.Jaccard(seedTokens, textutil.TokenSet(cand.Intent)) >= consolidationJaccard {
				group = append(group, *cand)
			}
		}
		if len(group) < consolidationGroupMin {
			continue
		}

		if err := e.mergeGroup(kind, group); err != nil {
			return consolidated, err
		}
		for _, g := range group {
			used[g.ID] = true
		}
		consolidated++
	}
	return consolidated, nil
}

// mergeGroup synthesizes one unit from a recurring group, deactivates the
// originals, and records REPLACED_BY edges.
func (e *Engine) mergeGroup(kind storage.Kind, group []storage.Unit) error {
	topics := commonTopics(group, 3)

	var sumImportance float64
	fileSet := make(map[string]struct{})
	tagSet := make(map[string]struct{})
	for _, g := range group {
		sumImportance += g.Importance
		for _, f := range g.RelatedFiles {
			fileSet[f] = struct{}{}
		}
		for _, t := range g.Tags {
			tagSet[t] = struct{}{}
		}
	}
	tagSet["consolidated"] = struct{}{}

	importance := sumImportance / float64(len(group)) * 1.2
	if importance > 1 {
		importance = 1
	}

	now := storage.NowMillis()
	merged := storage.Unit{
		ID:           uuid.New().String(),
		Kind:         kind,
		Intent:       fmt.Sprintf("Recurring %s pattern (%d occurrences): %s", strings.ReplaceAll(strings.ToLower(string(kind)), "_", " "), len(group), strings.Join(topics, ", ")),
		Outcome:      "unknown",
		RelatedFiles: sortedKeys(fileSet),
		Tags:         sortedKeys(tagSet),
		CreatedAt:    now,
		Timestamp:    now,
		Confidence:   0.8,
		Importance:   importance,
		IsActive:     true,
	}
	if err := e.store.InsertUnit(merged); err != nil {
		return fmt.Errorf("inserting consolidated unit: %w", err)
	}

	for _, g := range group {
		if err := e.store.Deactivate(g.ID, merged.ID); err != nil {
			return err
		}
		if err := e.store.AddEdge(storage.Edge{
			SourceID: g.ID,
			TargetID: merged.ID,
			Relation: storage.RelReplacedBy,
		}); err != nil {
			return err
		}
	}
	return nil
}

// BoostLearningRate raises the importance of corrections on topics the user
// keeps correcting: 3+ occurrences floor at 0.95, 2 at 0.85.
func (e *Engine) BoostLearningRate() (int, error) {
	corrections, err := e.store.GetByKind(storage.KindCorrection, e.maxActive)
	if err != nil {
		return 0, err
	}

	byTopic := make(map[string][]*storage.Unit)
	for i := range corrections {
		u := &corrections[i]
		for _, topic := range textutil.Tokenize(u.Intent) {
			byTopic[topic] = append(byTopic[topic], u)
		}
	}

	floors := make(map[string]float64)
	for _, units := range byTopic {
		var floor float64
		switch {
		case len(units) >= 3:
			floor = 0.95
		case len(units) >= 2:
			floor = 0.85
		default:
			continue
		}
		for _, u := range units {
			if floor > floors[u.ID] {
				floors[u.ID] = floor
			}
		}
	}

	boosted := 0
	for i := range corrections {
		u := &corrections[i]
		floor := floors[u.ID]
		if floor > 0 && u.Importance < floor {
			if err := e.store.SetImportance(u.ID, floor); err != nil {
				return boosted, err
			}
			boosted++
		}
	}
	return boosted, nil
}

// commonTopics returns up to max tokens that appear in most of the group's
// intents, ordered by frequency.
func commonTopics(group []storage.Unit, max int) []string {
	counts := make(map[string]int)
	for _, g := range group {
		seen := make(map[string]struct{})
		for _, t := range textutil.Tokenize(g.Intent) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
		}
	}

	type tc struct {
		tok string
		n   int
	}
	var all []tc
	threshold := (len(group)*6 + 9) / 10 // 60% of the group, rounded up
	for t, n := range counts {
		if n >= threshold {
			all = append(all, tc{t, n})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].tok < all[j].tok
	})

	var topics []string
	for i := 0; i < len(all) && i < max; i++ {
		topics = append(topics, all[i].tok)
	}
	if len(topics) == 0 {
		topics = []string{"shared pattern"}
	}
	return topics
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
