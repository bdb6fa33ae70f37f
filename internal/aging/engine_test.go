package aging

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kalambet/cortex/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func unitAt(id string, kind storage.Kind, intent string, age time.Duration, access int) storage.Unit {
	ts := time.Now().Add(-age).UnixMilli()
	return storage.Unit{
		ID: id, Kind: kind, Intent: intent, Outcome: "unknown",
		CreatedAt: ts, Timestamp: ts,
		Confidence: 0.8, Importance: 0.5, AccessCount: access, IsActive: true,
	}
}

func TestEffectiveImportance_FreshUnaccessed(t *testing.T) {
	now := time.Now()
	u := unitAt("u", storage.KindInsight, "x", 0, 0)
	got := EffectiveImportance(&u, now)
	if math.Abs(got-0.5) > 0.01 {
		t.Errorf("fresh unit importance = %f, want ~0.5", got)
	}
}

func TestEffectiveImportance_DecaysWithAge(t *testing.T) {
	now := time.Now()
	fresh := unitAt("a", storage.KindInsight, "x", 0, 0)
	old := unitAt("b", storage.KindInsight, "x", 100*24*time.Hour, 0)

	if EffectiveImportance(&old, now) >= EffectiveImportance(&fresh, now) {
		t.Error("older unit not decayed below fresh unit")
	}
}

func TestEffectiveImportance_AccessBoostCapped(t *testing.T) {
	now := time.Now()
	u := unitAt("u", storage.KindInsight, "x", 0, 100)
	u.LastAccessed = now.UnixMilli()

	// base 0.5 × decay ~1 × access cap 2.0 × recency 1.3 = 1.3, clamped to 1.
	got := EffectiveImportance(&u, now)
	if got != 1.0 {
		t.Errorf("importance = %f, want clamp at 1.0", got)
	}
}

func TestEffectiveImportance_Floor(t *testing.T) {
	now := time.Now()
	u := unitAt("u", storage.KindInsight, "x", 2000*24*time.Hour, 0)
	u.Importance = 0.1
	if got := EffectiveImportance(&u, now); got != 0.1 {
		t.Errorf("importance = %f, want floor 0.1", got)
	}
}

func TestCleanup_StaleInsights(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	stale := unitAt("stale", storage.KindInsight, "Old unaccessed insight about nothing much", 15*24*time.Hour, 0)
	kept := unitAt("kept", storage.KindInsight, "Recently accessed insight about the build", 15*24*time.Hour, 2)
	young := unitAt("young", storage.KindInsight, "Brand new insight about the deploy", time.Hour, 0)
	for _, u := range []storage.Unit{stale, kept, young} {
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	deactivated, _, err := e.Cleanup(time.Now())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deactivated != 1 {
		t.Errorf("deactivated = %d, want 1", deactivated)
	}

	u, err := s.GetUnit("stale")
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if u.IsActive {
		t.Error("stale insight survived")
	}
	for _, id := range []string{"kept", "young"} {
		u, err := s.GetUnit(id)
		if err != nil {
			t.Fatalf("GetUnit: %v", err)
		}
		if !u.IsActive {
			t.Errorf("%s was deactivated", id)
		}
	}
}

func TestCleanup_AnyKindAfterThirtyDays(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	old := unitAt("old", storage.KindDecision, "Forgotten decision from a month ago", 31*24*time.Hour, 0)
	if err := s.InsertUnit(old); err != nil {
		t.Fatalf("InsertUnit: %v", err)
	}

	if _, _, err := e.Cleanup(time.Now()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	u, _ := s.GetUnit("old")
	if u.IsActive {
		t.Error("30-day unaccessed unit survived")
	}
}

func TestCleanup_CapEnforced(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 5)

	for i := 0; i < 8; i++ {
		u := unitAt(fmt.Sprintf("u%d", i), storage.KindDecision,
			fmt.Sprintf("Completely distinct decision number %d about topic %d", i, i), time.Hour, 1)
		u.Importance = 0.1 + float64(i)*0.1
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	if _, _, err := e.Cleanup(time.Now()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	n, err := s.ActiveCount()
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if n != 5 {
		t.Errorf("ActiveCount = %d, want cap 5", n)
	}

	// Lowest-importance units were the ones dropped.
	for _, id := range []string{"u0", "u1", "u2"} {
		u, _ := s.GetUnit(id)
		if u.IsActive {
			t.Errorf("%s (low importance) survived the cap", id)
		}
	}
}

func TestCleanup_MergesIdenticalIntents(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	a := unitAt("a", storage.KindConvention, "Use dependency injection for handlers", time.Hour, 3)
	a.Importance = 0.9
	b := unitAt("b", storage.KindConvention, "use dependency injection for handlers", 2*time.Hour, 2)
	b.Importance = 0.4
	for _, u := range []storage.Unit{a, b} {
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	_, merged, err := e.Cleanup(time.Now())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if merged != 1 {
		t.Errorf("merged = %d, want 1", merged)
	}

	keeper, err := s.GetUnit("a")
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if !keeper.IsActive {
		t.Fatal("keeper deactivated")
	}
	if keeper.AccessCount != 5 {
		t.Errorf("folded AccessCount = %d, want 5", keeper.AccessCount)
	}
	if keeper.Importance < 0.95 {
		t.Errorf("keeper importance = %f, want >= 0.95 (bonus applied)", keeper.Importance)
	}

	loser, _ := s.GetUnit("b")
	if loser.IsActive || loser.SupersededBy != "a" {
		t.Errorf("loser state: active=%v superseded=%q", loser.IsActive, loser.SupersededBy)
	}
}

func TestConsolidate_BelowThresholdNoop(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	for i := 0; i < 4; i++ {
		u := unitAt(fmt.Sprintf("u%d", i), storage.KindBugFix,
			"Fixed flaky websocket reconnect logic again", time.Duration(i)*time.Hour, 1)
		u.ID = fmt.Sprintf("u%d", i)
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	n, err := e.Consolidate(time.Now())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if n != 0 {
		t.Errorf("consolidated %d groups below the activity threshold", n)
	}
}

func TestConsolidate_MergesRecurringGroup(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	// Filler to cross the >50 active threshold; pairwise-dissimilar intents
	// so no filler group consolidates.
	for i := 0; i < 50; i++ {
		u := unitAt(fmt.Sprintf("f%02d", i), storage.KindInsight,
			fmt.Sprintf("Observation alpha%d beta%d gamma%d delta%d epsilon%d", i, i+100, i+200, i+300, i+400), time.Hour, 1)
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}
	// A recurring bug-fix pattern.
	for i := 0; i < 3; i++ {
		u := unitAt(fmt.Sprintf("bug%d", i), storage.KindBugFix,
			fmt.Sprintf("Fixed websocket reconnect race condition attempt %d", i),
			time.Duration(i+1)*time.Hour, 1)
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	n, err := e.Consolidate(time.Now())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("consolidated = %d, want 1", n)
	}

	// Originals deactivated with REPLACED_BY edges to the synthesized unit.
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("bug%d", i)
		u, err := s.GetUnit(id)
		if err != nil {
			t.Fatalf("GetUnit: %v", err)
		}
		if u.IsActive {
			t.Errorf("%s still active after consolidation", id)
		}
		edges, err := s.EdgesFrom(id)
		if err != nil {
			t.Fatalf("EdgesFrom: %v", err)
		}
		found := false
		for _, edge := range edges {
			if edge.Relation == storage.RelReplacedBy {
				found = true
			}
		}
		if !found {
			t.Errorf("%s missing REPLACED_BY edge", id)
		}
	}

	// The synthesized unit is tagged and active.
	units, err := s.GetByKind(storage.KindBugFix, 10)
	if err != nil {
		t.Fatalf("GetByKind: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d active bug fixes, want 1 synthesized", len(units))
	}
	if !units[0].HasTag("consolidated") {
		t.Errorf("synthesized unit tags = %v", units[0].Tags)
	}

	// Fixed point: a second pass has nothing left to merge.
	n, err = e.Consolidate(time.Now())
	if err != nil {
		t.Fatalf("second Consolidate: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass consolidated %d, want 0", n)
	}
}

func TestBoostLearningRate(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	intents := []string{
		"Never mutate props inside React components",
		"Stop mutating props in components",
		"Props mutation breaks memoized components",
		"Unrelated correction about the release script",
	}
	for i, intent := range intents {
		u := unitAt(fmt.Sprintf("c%d", i), storage.KindCorrection, intent, time.Hour, 0)
		u.Importance = 0.5
		if err := s.InsertUnit(u); err != nil {
			t.Fatalf("InsertUnit: %v", err)
		}
	}

	boosted, err := e.BoostLearningRate()
	if err != nil {
		t.Fatalf("BoostLearningRate: %v", err)
	}
	if boosted < 3 {
		t.Errorf("boosted = %d, want >= 3", boosted)
	}

	// "components" appears in 3 corrections: all floored at 0.95.
	for _, id := range []string{"c0", "c1", "c2"} {
		u, _ := s.GetUnit(id)
		if u.Importance < 0.95 {
			t.Errorf("%s importance = %f, want >= 0.95", id, u.Importance)
		}
	}
	other, _ := s.GetUnit("c3")
	if other.Importance != 0.5 {
		t.Errorf("unrelated correction importance = %f, want 0.5", other.Importance)
	}
}

func TestRunMaintenance_Idempotent(t *testing.T) {
	s := openTestStore(t)
	e := New(s, 500)

	if err := s.InsertUnit(unitAt("u1", storage.KindDecision, "Keep the deploy pipeline single-stage for now", time.Hour, 1)); err != nil {
		t.Fatalf("InsertUnit: %v", err)
	}

	first := e.RunMaintenance(time.Now())
	second := e.RunMaintenance(time.Now())
	if second.Deactivated != 0 || second.Merged != 0 || second.Consolidated != 0 {
		t.Errorf("second run mutated state: %+v (first %+v)", second, first)
	}
}
