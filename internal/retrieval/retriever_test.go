package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/kalambet/cortex/internal/embed"
	"github.com/kalambet/cortex/internal/storage"
)

func newTestRetriever(t *testing.T) (*Retriever, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, embed.NewHashEmbedder()), s
}

func insertUnit(t *testing.T, s *storage.Store, id string, kind storage.Kind, intent string, files ...string) storage.Unit {
	t.Helper()
	now := storage.NowMillis()
	u := storage.Unit{
		ID: id, Kind: kind, Intent: intent, Outcome: "unknown",
		RelatedFiles: files,
		CreatedAt:    now, Timestamp: now,
		Confidence: 0.8, Importance: 0.5, IsActive: true,
	}
	if err := s.InsertUnit(u); err != nil {
		t.Fatalf("InsertUnit(%s): %v", id, err)
	}
	return u
}

func TestRetrieve_FTSMatch(t *testing.T) {
	r, s := newTestRetriever(t)
	insertUnit(t, s, "u1", storage.KindConvention, "Always use Zod for schema validation in this project")
	insertUnit(t, s, "u2", storage.KindDecision, "Ship the billing worker as its own deployment")

	matches, err := r.Retrieve(context.Background(), "user signup schema validation", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	if matches[0].Unit.ID != "u1" {
		t.Errorf("top match = %s, want u1", matches[0].Unit.ID)
	}
	if !hasMethod(matches[0], "fts") {
		t.Errorf("methods = %v, want fts", matches[0].Methods)
	}
}

func TestRetrieve_SynonymMatch(t *testing.T) {
	r, s := newTestRetriever(t)
	insertUnit(t, s, "u1", storage.KindCorrection, "The login endpoint must rate-limit by account id")

	// "auth" expands to login via the synonym map.
	matches, err := r.Retrieve(context.Background(), "auth problems", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) == 0 || matches[0].Unit.ID != "u1" {
		t.Fatalf("synonym expansion missed: %v", matches)
	}
}

func TestRetrieve_VectorLeg(t *testing.T) {
	r, s := newTestRetriever(t)
	u := insertUnit(t, s, "u1", storage.KindInsight, "Connection pool exhaustion causes intermittent postgres timeouts")

	// Embed the unit so the vector leg can find it even with disjoint
	// query vocabulary handled by FTS.
	vec, err := embed.NewHashEmbedder().Embed(context.Background(), embed.EmbedText(u.Intent, "", nil))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := s.SaveVector("u1", vec); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	matches, err := r.Retrieve(context.Background(), "postgres connection pool timeouts", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	if !hasMethod(matches[0], "vector") {
		t.Errorf("methods = %v, want vector contribution", matches[0].Methods)
	}
}

func TestRetrieve_FileLeg(t *testing.T) {
	r, s := newTestRetriever(t)
	insertUnit(t, s, "u1", storage.KindBugFix, "Fixed the OAuth redirect loop", "src/auth/login.ts")

	matches, err := r.Retrieve(context.Background(), "zzz nothing matches this", Options{
		CurrentFile: "src/auth/login.ts",
		MaxResults:  10,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) != 1 || !hasMethod(matches[0], "file") {
		t.Fatalf("file leg missed: %v", matches)
	}
}

func TestRetrieve_FusionPrefersMultiSource(t *testing.T) {
	r, s := newTestRetriever(t)
	both := insertUnit(t, s, "both", storage.KindConvention, "Keep database migrations reversible", "db/migrate.go")
	insertUnit(t, s, "ftsonly", storage.KindConvention, "Name database migrations with utc timestamps")

	e := embed.NewHashEmbedder()
	vec, _ := e.Embed(context.Background(), embed.EmbedText(both.Intent, "", nil))
	if err := s.SaveVector("both", vec); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	matches, err := r.Retrieve(context.Background(), "database migrations", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) < 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Unit.ID != "both" {
		t.Errorf("multi-source unit not first: %v", matches)
	}
}

func TestRetrieve_Filters(t *testing.T) {
	r, s := newTestRetriever(t)
	insertUnit(t, s, "u1", storage.KindConvention, "Always run migrations inside transactions")
	insertUnit(t, s, "u2", storage.KindDecision, "Use migrations for all schema changes going forward")

	matches, err := r.Retrieve(context.Background(), "migrations", Options{
		MaxResults: 10,
		Filters:    Filters{Kinds: []storage.Kind{storage.KindDecision}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, m := range matches {
		if m.Unit.Kind != storage.KindDecision {
			t.Errorf("filter leaked kind %s", m.Unit.Kind)
		}
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestRetrieve_MaxResultsClamped(t *testing.T) {
	r, s := newTestRetriever(t)
	for i := 0; i < 60; i++ {
		insertUnit(t, s, fmt.Sprintf("u%02d", i), storage.KindInsight,
			fmt.Sprintf("Observation %d about the caching subsystem behavior", i))
	}

	matches, err := r.Retrieve(context.Background(), "caching subsystem", Options{MaxResults: 500})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) > MaxResults {
		t.Errorf("got %d matches, cap is %d", len(matches), MaxResults)
	}
}

func TestEnrichNeighbors(t *testing.T) {
	r, s := newTestRetriever(t)
	a := insertUnit(t, s, "a", storage.KindDecision, "Adopt feature flags for risky rollouts")
	b := insertUnit(t, s, "b", storage.KindInsight, "Flag cleanup debt grows quickly without expiry dates")
	if err := s.AddEdge(storage.Edge{SourceID: a.ID, TargetID: b.ID, Relation: storage.RelRelatedTo}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	matches := []Match{{Unit: a, Score: 1.0, Methods: []string{"fts"}}}
	enriched := r.EnrichNeighbors(matches, 1, 0.7)
	if len(enriched) != 2 {
		t.Fatalf("got %d matches, want 2", len(enriched))
	}
	if enriched[1].Unit.ID != "b" {
		t.Errorf("neighbour = %s, want b", enriched[1].Unit.ID)
	}
	if enriched[1].Score != 0.7 {
		t.Errorf("neighbour score = %f, want 0.7", enriched[1].Score)
	}
}

func hasMethod(m Match, method string) bool {
	for _, v := range m.Methods {
		if v == method {
			return true
		}
	}
	return false
}
