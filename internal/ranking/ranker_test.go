package ranking

import (
	"testing"
	"time"

	"github.com/kalambet/cortex/internal/retrieval"
	"github.com/kalambet/cortex/internal/storage"
)

func match(id string, kind storage.Kind, score float64, age time.Duration) retrieval.Match {
	ts := time.Now().Add(-age).UnixMilli()
	return retrieval.Match{
		Unit: storage.Unit{
			ID: id, Kind: kind, Intent: "intent for " + id,
			CreatedAt: ts, Timestamp: ts,
			Importance: 0.5, IsActive: true,
		},
		Score: score,
	}
}

func TestInferMode(t *testing.T) {
	cases := []struct {
		query string
		want  Mode
	}{
		{"fix the login crash", ModeDebugging},
		{"there is a regression in checkout", ModeDebugging},
		{"refactor the storage layer", ModeRefactoring},
		{"review the new API design", ModeReview},
		{"add pagination to the users endpoint", ModeCoding},
		{"", ModeCoding},
	}
	for _, c := range cases {
		if got := InferMode(c.query); got != c.want {
			t.Errorf("InferMode(%q) = %s, want %s", c.query, got, c.want)
		}
	}
}

func TestRank_RecencyBoost(t *testing.T) {
	// Same base score; the fresh unit gets ×1.5, the 10-day-old ×1.0.
	newer := match("new", storage.KindInsight, 1.0, time.Hour)
	older := match("old", storage.KindInsight, 1.0, 10*24*time.Hour)

	ranked := Rank([]retrieval.Match{older, newer}, Context{Query: "anything at all"})
	if ranked[0].Unit.ID != "new" {
		t.Errorf("top = %s, want new", ranked[0].Unit.ID)
	}
}

func TestRank_KindBoost(t *testing.T) {
	correction := match("corr", storage.KindCorrection, 1.0, 2*24*time.Hour)
	dependency := match("dep", storage.KindDependency, 1.0, 2*24*time.Hour)

	ranked := Rank([]retrieval.Match{dependency, correction}, Context{Query: "plain topic words"})
	if ranked[0].Unit.ID != "corr" {
		t.Errorf("top = %s, want corr (1.5 vs 0.8 kind boost)", ranked[0].Unit.ID)
	}
}

func TestRank_FileAffinity(t *testing.T) {
	withFile := match("withfile", storage.KindInsight, 1.0, 2*24*time.Hour)
	withFile.Unit.RelatedFiles = []string{"src/auth/login.ts"}
	without := match("plain", storage.KindInsight, 1.0, 2*24*time.Hour)

	ranked := Rank([]retrieval.Match{without, withFile}, Context{
		Query:       "anything",
		CurrentFile: "src/auth/login.ts",
	})
	if ranked[0].Unit.ID != "withfile" {
		t.Errorf("top = %s, want withfile", ranked[0].Unit.ID)
	}
	// ×1.5 exactly, relative to the identical twin.
	ratio := ranked[0].Score / ranked[1].Score
	if ratio < 1.49 || ratio > 1.51 {
		t.Errorf("affinity ratio = %f, want 1.5", ratio)
	}
}

func TestRank_AttentionBoost(t *testing.T) {
	bugfix := match("bug", storage.KindBugFix, 1.0, 2*24*time.Hour)
	insight := match("ins", storage.KindInsight, 1.0, 2*24*time.Hour)

	// Debugging mode boosts BUG_FIX ×1.4 on top of its 1.1 kind boost.
	ranked := Rank([]retrieval.Match{insight, bugfix}, Context{Query: "fix the crash"})
	if ranked[0].Unit.ID != "bug" {
		t.Errorf("top = %s, want bug", ranked[0].Unit.ID)
	}
}

func TestRank_AccessBoost(t *testing.T) {
	popular := match("popular", storage.KindInsight, 1.0, 2*24*time.Hour)
	popular.Unit.AccessCount = 10
	fresh := match("quiet", storage.KindInsight, 1.0, 2*24*time.Hour)

	ranked := Rank([]retrieval.Match{fresh, popular}, Context{Query: "whatever"})
	if ranked[0].Unit.ID != "popular" {
		t.Errorf("top = %s, want popular", ranked[0].Unit.ID)
	}
}

func TestRank_TieBreakByTimestampThenID(t *testing.T) {
	now := time.Now().UnixMilli()
	a := match("aaa", storage.KindInsight, 1.0, time.Hour)
	b := match("bbb", storage.KindInsight, 1.0, time.Hour)
	a.Unit.Timestamp = now
	b.Unit.Timestamp = now

	ranked := Rank([]retrieval.Match{b, a}, Context{Query: "q"})
	if ranked[0].Unit.ID != "aaa" {
		t.Errorf("tie not broken by id: %s first", ranked[0].Unit.ID)
	}
}
