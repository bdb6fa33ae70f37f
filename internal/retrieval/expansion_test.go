package retrieval

import (
	"strings"
	"testing"
)

func TestExpandQuery_Synonyms(t *testing.T) {
	q := ExpandQuery("auth middleware")
	for _, want := range []string{`"auth"`, `"authentication"`, `"login"`, `"signin"`, `"middleware"`} {
		if !strings.Contains(q, want) {
			t.Errorf("expansion %q missing %s", q, want)
		}
	}
	if !strings.Contains(q, " OR ") {
		t.Errorf("terms not ORed: %q", q)
	}
}

func TestExpandQuery_TermCap(t *testing.T) {
	q := ExpandQuery("auth db error api test config deploy")
	n := strings.Count(q, " OR ") + 1
	if n > 8 {
		t.Errorf("expansion produced %d terms, cap is 8: %q", n, q)
	}
}

func TestExpandQuery_DropsShortTokens(t *testing.T) {
	q := ExpandQuery("go to x y z middleware")
	if strings.Contains(q, `"go"`) || strings.Contains(q, `"x"`) {
		t.Errorf("short tokens kept: %q", q)
	}
	if !strings.Contains(q, `"middleware"`) {
		t.Errorf("real token dropped: %q", q)
	}
}

func TestExpandQuery_ShortAbbreviationWithSynonyms(t *testing.T) {
	q := ExpandQuery("db pooling")
	if !strings.Contains(q, `"database"`) {
		t.Errorf("db abbreviation not expanded: %q", q)
	}
}

func TestExpandQuery_Empty(t *testing.T) {
	if q := ExpandQuery("a an of"); q != "" {
		t.Errorf("got %q, want empty", q)
	}
}

func TestBaseQuery(t *testing.T) {
	q := BaseQuery("user signup schema validation")
	want := `"user" OR "signup" OR "schema" OR "validation"`
	if q != want {
		t.Errorf("BaseQuery = %q, want %q", q, want)
	}
}
