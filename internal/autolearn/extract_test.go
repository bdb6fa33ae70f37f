package autolearn

import (
	"testing"

	"github.com/kalambet/cortex/internal/storage"
)

func TestExtract_Corrections(t *testing.T) {
	text := "Actually, the retry loop needs jitter to avoid thundering herds."
	cands := Extract(text)
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].Kind != storage.KindCorrection {
		t.Errorf("kind = %s, want CORRECTION", cands[0].Kind)
	}
}

func TestExtract_MultipleLines(t *testing.T) {
	text := `We decided to use sqlite for local persistence.
Fixed the reconnect race by serializing writes.
Always gate new features behind flags in this repo.`

	cands := Extract(text)
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3: %v", len(cands), cands)
	}

	kinds := map[storage.Kind]bool{}
	for _, c := range cands {
		kinds[c.Kind] = true
	}
	for _, want := range []storage.Kind{storage.KindDecision, storage.KindBugFix, storage.KindConvention} {
		if !kinds[want] {
			t.Errorf("missing kind %s in %v", want, cands)
		}
	}
}

func TestExtract_NothingInPlainText(t *testing.T) {
	cands := Extract("The weather is nice and the tests are green.")
	if len(cands) != 0 {
		t.Errorf("extracted from neutral text: %v", cands)
	}
}

func TestExtract_Dedupes(t *testing.T) {
	text := "Fixed the reconnect race in the websocket client.\nFixed the reconnect race in the websocket client."
	cands := Extract(text)
	if len(cands) != 1 {
		t.Errorf("got %d candidates, want 1", len(cands))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want storage.Kind
	}{
		{"Actually we should return errors, not panic", storage.KindCorrection},
		{"Fixed the memory leak in the poller", storage.KindBugFix},
		{"Always run gofmt before committing", storage.KindConvention},
		{"Decided on postgres for the event store", storage.KindDecision},
		{"The scheduler batches writes every 50ms", storage.KindInsight},
	}
	for _, c := range cases {
		if got := Classify(c.text); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestParseAugmented(t *testing.T) {
	text := "Here you go:\n[{\"type\":\"decision\",\"statement\":\"Use sqlite for local persistence\"},{\"type\":\"nonsense\",\"statement\":\"dropped\"}]"
	out := parseAugmented(text)
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].Kind != storage.KindDecision {
		t.Errorf("kind = %s", out[0].Kind)
	}
}

func TestParseAugmented_Garbage(t *testing.T) {
	if out := parseAugmented("no json here"); out != nil {
		t.Errorf("got %v, want nil", out)
	}
}
