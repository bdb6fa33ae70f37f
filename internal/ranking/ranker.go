// Package ranking re-scores fused retrieval results with kind, recency,
// reinforcement, file-affinity, attention, and decay boosts. All boosts are
// multiplicative, so ordering is stable under any fixed context.
package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/kalambet/cortex/internal/aging"
	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/storage"
)

// kindBoosts reflect how actionable each kind tends to be at recall time.
var kindBoosts = map[storage.Kind]float64{
	storage.KindCorrection: 1.5,
	storage.KindDecision:   1.3,
	storage.KindConvention: 1.2,
	storage.KindBugFix:     1.1,
	storage.KindInsight:    1.0,
	storage.KindDependency: 0.8,
}

// Context carries the conversational situation a rank call happens in.
type Context struct {
	Query       string
	CurrentFile string
	Now         time.Time
}

// Rank applies every boost and sorts descending. Ties break by timestamp
// then id, matching the storage ordering contract.
func Rank(matches []retrieval.Match, ctx Context) []retrieval.Match {
	if ctx.Now.IsZero() {
		ctx.Now = time.Now()
	}
	mode := InferMode(ctx.Query)

	for i := range matches {
		matches[i].Score *= boostFor(&matches[i].Unit, mode, ctx)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Unit.Timestamp != matches[j].Unit.Timestamp {
			return matches[i].Unit.Timestamp > matches[j].Unit.Timestamp
		}
		return matches[i].Unit.ID < matches[j].Unit.ID
	})
	return matches
}

func boostFor(u *storage.Unit, mode Mode, ctx Context) float64 {
	boost := 1.0

	if kb, ok := kindBoosts[u.Kind]; ok {
		boost *= kb
	}

	boost *= 1 + 0.1*float64(u.AccessCount)

	age := ctx.Now.Sub(time.UnixMilli(u.Timestamp))
	switch {
	case age < 24*time.Hour:
		boost *= 1.5
	case age < 7*24*time.Hour:
		boost *= 1.2
	}

	if ctx.CurrentFile != "" && fileAffinity(u.RelatedFiles, ctx.CurrentFile) {
		boost *= 1.5
	}

	boost *= attentionBoost(mode, u.Kind)

	boost *= aging.EffectiveImportance(u, ctx.Now)

	return boost
}

// fileAffinity matches current file against related files by substring in
// either direction.
func fileAffinity(files []string, current string) bool {
	for _, f := range files {
		if f == "" {
			continue
		}
		if strings.Contains(f, current) || strings.Contains(current, f) {
			return true
		}
	}
	return false
}
