package textutil

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Always use Zod for schema validation in this project!")
	want := []string{"always", "zod", "schema", "validation", "project"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenize_DropsShortAndStopWords(t *testing.T) {
	got := Tokenize("it is a db of the id")
	if len(got) != 0 {
		t.Errorf("got %v, want no tokens", got)
	}
}

func TestJaccard(t *testing.T) {
	a := TokenSet("always functional components react")
	b := TokenSet("always functional components react apps")
	sim := Jaccard(a, b)
	if sim < 0.7 {
		t.Errorf("Jaccard = %f, want >= 0.7", sim)
	}

	c := TokenSet("completely unrelated sentence here")
	if s := Jaccard(a, c); s != 0 {
		t.Errorf("Jaccard disjoint = %f, want 0", s)
	}
}

func TestJaccard_Empty(t *testing.T) {
	if s := Jaccard(nil, TokenSet("something meaningful")); s != 0 {
		t.Errorf("Jaccard with empty set = %f, want 0", s)
	}
}

func TestNormalizeIntent(t *testing.T) {
	got := NormalizeIntent("  Always   Use\tZod ")
	if got != "always use zod" {
		t.Errorf("NormalizeIntent = %q", got)
	}
}

func TestSplitIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"parseHTTPRequest", []string{"parse", "http", "request"}},
		{"user_id", []string{"user", "id"}},
		{"simpleWord", []string{"simple", "word"}},
		{"CONSTANT_NAME", []string{"constant", "name"}},
	}
	for _, c := range cases {
		if got := SplitIdentifier(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("SplitIdentifier(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
