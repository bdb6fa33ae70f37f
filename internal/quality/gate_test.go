package quality

import (
	"strings"
	"testing"

	"github.com/kalambet/cortex/internal/storage"
)

func TestCheck_LengthBoundaries(t *testing.T) {
	// 14 chars rejected, 15 accepted.
	if r := Check(strings.Repeat("ab", 7)); r == nil {
		t.Error("14-char content accepted")
	}
	if r := Check("abcde abcde abcd"[:15]); r != nil {
		t.Errorf("15-char content rejected: %v", r)
	}

	long := strings.Repeat("sentence with distinct words ", 20)
	if len(long) <= MaxContentLen {
		t.Fatalf("test content too short: %d", len(long))
	}
	if r := Check(long); r == nil || r.Rule != "too-long" {
		t.Errorf("over-long content rule = %v, want too-long", r)
	}
}

func TestCheck_Empty(t *testing.T) {
	for _, s := range []string{"", "   ", "\t\n"} {
		if r := Check(s); r == nil || r.Rule != "empty" {
			t.Errorf("Check(%q) = %v, want empty rule", s, r)
		}
	}
}

func TestCheck_GenericBlacklist(t *testing.T) {
	if r := Check("Use Best Practices"); r == nil || r.Rule != "generic" {
		t.Errorf("generic phrase passed the gate: %v", r)
	}
	// Phrase embedded in substantive content is fine.
	if r := Check("Use best practices from the RFC 7231 cache-control section here"); r != nil {
		t.Errorf("substantive content rejected: %v", r)
	}
}

func TestCheck_AllCaps(t *testing.T) {
	if r := Check("THIS IS A VERY LOUD MEMO ABOUT THE BUILD"); r == nil || r.Rule != "all-caps" {
		t.Errorf("all-caps content passed: %v", r)
	}
	// Short all-caps (<= 20 chars) passes the caps rule but fails length
	// or is allowed through.
	if r := Check("USE TLS THIRTEEN OK"); r != nil && r.Rule == "all-caps" {
		t.Errorf("short all-caps hit the caps rule: %v", r)
	}
}

func TestCheck_RepeatedChars(t *testing.T) {
	if r := Check("the build is brokennnnnnnnnn again"); r == nil || r.Rule != "repeated-chars" {
		t.Errorf("repeated run passed: %v", r)
	}
	if r := Check("the queue uses an 8-character key prefix"); r != nil {
		t.Errorf("normal content rejected: %v", r)
	}
}

func TestCheck_BareURL(t *testing.T) {
	if r := Check("https://example.com/docs/setup-guide"); r == nil || r.Rule != "bare-url" {
		t.Errorf("bare URL passed: %v", r)
	}
	if r := Check("See https://example.com/docs for the migration steps"); r != nil {
		t.Errorf("URL inside sentence rejected: %v", r)
	}
}

func TestFindDuplicate(t *testing.T) {
	units := []storage.Unit{
		{ID: "u1", Kind: storage.KindConvention, Intent: "Always use functional components in React", IsActive: true},
		{ID: "u2", Kind: storage.KindConvention, Intent: "Prefer tabs over spaces in Makefiles", IsActive: true},
	}

	dup := FindDuplicate(units, "Always use functional components in React apps", 0.7)
	if dup == nil || dup.ID != "u1" {
		t.Fatalf("dup = %v, want u1", dup)
	}

	if d := FindDuplicate(units, "Run database migrations before deploying", 0.7); d != nil {
		t.Errorf("unrelated intent matched %s", d.ID)
	}
}

func TestFindDuplicate_IgnoresInactive(t *testing.T) {
	units := []storage.Unit{
		{ID: "u1", Kind: storage.KindConvention, Intent: "Always use functional components in React", IsActive: false},
	}
	if d := FindDuplicate(units, "Always use functional components in React apps", 0.7); d != nil {
		t.Errorf("tombstone matched as duplicate")
	}
}
