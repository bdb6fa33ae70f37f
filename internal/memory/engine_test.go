package memory

import (
	"testing"

	"github.com/kalambet/cortex/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, 0, 0), s
}

func TestAdd_StoresAndQueuesEmbedding(t *testing.T) {
	e, s := newTestEngine(t)

	res, err := e.Add(AddInput{
		Kind:   storage.KindConvention,
		Intent: "Always use Zod for schema validation in this project",
		Tags:   []string{"Validation", "TypeScript!"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res.Deduped {
		t.Error("fresh intent flagged as dedup")
	}
	if res.Unit.Outcome != "unknown" {
		t.Errorf("Outcome = %q, want unknown", res.Unit.Outcome)
	}
	if res.Unit.Confidence != 0.5 {
		t.Errorf("Confidence = %f, want default 0.5", res.Unit.Confidence)
	}
	// Tags normalized to lowercase with punctuation stripped.
	if len(res.Unit.Tags) != 2 || res.Unit.Tags[0] != "validation" || res.Unit.Tags[1] != "typescript" {
		t.Errorf("Tags = %v", res.Unit.Tags)
	}

	pending, err := s.PendingJobCount()
	if err != nil {
		t.Fatalf("PendingJobCount: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending embed jobs = %d, want 1", pending)
	}

	// Immediately searchable via FTS (trigger-driven).
	hits, err := s.SearchFTS("validation", 5)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("FTS hits = %d, want 1", len(hits))
	}
}

func TestAdd_RejectsGated(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, err := e.Add(AddInput{Kind: storage.KindInsight, Intent: "too short"}); err == nil {
		t.Error("short intent accepted")
	}
	if _, err := e.Add(AddInput{Kind: "WISDOM", Intent: "a perfectly reasonable length intent"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestAdd_DedupSilentSuccess(t *testing.T) {
	e, s := newTestEngine(t)

	first, err := e.Add(AddInput{Kind: storage.KindConvention, Intent: "Always use functional components in React"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := e.Add(AddInput{Kind: storage.KindConvention, Intent: "Always use functional components in React apps"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !second.Deduped {
		t.Error("near-duplicate not deduped")
	}
	if second.Unit.ID != first.Unit.ID {
		t.Errorf("dedup returned %s, want %s", second.Unit.ID, first.Unit.ID)
	}
	if second.Unit.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 (touched)", second.Unit.AccessCount)
	}

	n, err := s.ActiveCount()
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}
}

func TestAdd_KindDifferentiatesDedup(t *testing.T) {
	e, s := newTestEngine(t)

	first, err := e.Add(AddInput{Kind: storage.KindConvention, Intent: "Always use functional components in React"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := e.Add(AddInput{Kind: storage.KindDecision, Intent: "Always use functional components in React apps"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if second.Deduped {
		t.Error("different kind treated as duplicate")
	}
	if second.Unit.ID == first.Unit.ID {
		t.Error("distinct kinds shared an id")
	}

	n, err := s.ActiveCount()
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if n != 2 {
		t.Errorf("ActiveCount = %d, want 2", n)
	}
}

func TestAdd_ContradictionSupersedesOlder(t *testing.T) {
	e, s := newTestEngine(t)

	first, err := e.Add(AddInput{Kind: storage.KindCorrection, Intent: "Always use const, never var"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := e.Add(AddInput{Kind: storage.KindCorrection, Intent: "Always use var, never const"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if second.Superseded != first.Unit.ID {
		t.Fatalf("Superseded = %q, want %s", second.Superseded, first.Unit.ID)
	}

	old, err := s.GetUnit(first.Unit.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if old.IsActive {
		t.Error("contradicted unit still active")
	}
	if old.SupersededBy != second.Unit.ID {
		t.Errorf("SupersededBy = %q, want %s", old.SupersededBy, second.Unit.ID)
	}

	edges, err := s.EdgesFrom(first.Unit.ID)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	found := false
	for _, edge := range edges {
		if edge.Relation == storage.RelSupersededBy && edge.TargetID == second.Unit.ID {
			found = true
		}
	}
	if !found {
		t.Error("SUPERSEDED_BY edge missing")
	}
}

func TestUpdate_CreatesReplacement(t *testing.T) {
	e, s := newTestEngine(t)

	orig, err := e.Add(AddInput{Kind: storage.KindDecision, Intent: "Deploy with blue-green strategy on Fridays"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	repl, err := e.Update(orig.Unit.ID, "Deploy with canary releases instead of blue-green", "ops feedback")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repl.ID == orig.Unit.ID {
		t.Error("update reused the original id")
	}

	old, err := s.GetUnit(orig.Unit.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if old.IsActive || old.SupersededBy != repl.ID {
		t.Errorf("original state: active=%v superseded_by=%q", old.IsActive, old.SupersededBy)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Update("nope", "some replacement intent content", ""); err != storage.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete_SoftAndNotFound(t *testing.T) {
	e, s := newTestEngine(t)

	res, err := e.Add(AddInput{Kind: storage.KindInsight, Intent: "The flaky test only fails under race detector"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Delete(res.Unit.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	u, err := s.GetUnit(res.Unit.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if u.IsActive {
		t.Error("deleted unit still active")
	}

	if err := e.Delete("missing"); err != storage.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIntentsNegate(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"Always use const, never var", "Always use var, never const", true},
		{"Use Zod for validation", "Never use Zod for validation", true},
		{"Prefer pnpm for installs", "Avoid pnpm in CI", true},
		{"Use Zod for validation", "Use Zod for parsing too", false},
		{"Enable strict mode in tsconfig", "Disable strict mode in tsconfig", true},
	}
	for _, c := range cases {
		if got := intentsNegate(c.a, c.b); got != c.want {
			t.Errorf("intentsNegate(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
