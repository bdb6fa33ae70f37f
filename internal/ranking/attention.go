package ranking

import (
	"strings"

	"github.com/kalambet/cortex/internal/storage"
)

// Mode is the inferred working context of the conversation.
type Mode string

const (
	ModeDebugging   Mode = "debugging"
	ModeRefactoring Mode = "refactoring"
	ModeReview      Mode = "review"
	ModeCoding      Mode = "coding"
)

var modeKeywords = []struct {
	mode  Mode
	words []string
}{
	{ModeDebugging, []string{"fix", "bug", "crash", "error", "broken", "issue", "regression"}},
	{ModeRefactoring, []string{"refactor", "rewrite", "restructure", "clean"}},
	{ModeReview, []string{"review", "audit", "check"}},
}

// attentionBoosts maps a mode to per-kind multipliers; kinds not listed get 1.
var attentionBoosts = map[Mode]map[storage.Kind]float64{
	ModeDebugging: {
		storage.KindBugFix:     1.4,
		storage.KindCorrection: 1.1,
	},
	ModeRefactoring: {
		storage.KindConvention:    1.3,
		storage.KindProvenPattern: 1.2,
	},
	ModeReview: {
		storage.KindCorrection: 1.2,
		storage.KindDecision:   1.1,
	},
	ModeCoding: {
		storage.KindConvention: 1.2,
		storage.KindDecision:   1.1,
	},
}

// InferMode classifies the query into a working mode by keyword. The first
// matching mode in priority order wins; no match means plain coding.
func InferMode(query string) Mode {
	lower := strings.ToLower(query)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	for _, mk := range modeKeywords {
		for _, w := range mk.words {
			if _, ok := wordSet[w]; ok {
				return mk.mode
			}
		}
	}
	return ModeCoding
}

// attentionBoost returns the multiplier mode applies to a unit of this kind.
func attentionBoost(mode Mode, kind storage.Kind) float64 {
	if boosts, ok := attentionBoosts[mode]; ok {
		if b, ok := boosts[kind]; ok {
			return b
		}
	}
	return 1.0
}
