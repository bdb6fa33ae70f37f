// Package textutil holds the canonical tokenizer and token-set similarity
// used across dedup, the quality gate, contradiction detection, topic
// extraction, and consolidation. Keeping a single tokenizer is what makes
// the "one active item per (kind, normalized intent)" invariant enforceable.
package textutil

import (
	"strings"
	"unicode"
)

// stopWords are dropped from all token sets before similarity checks.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "had": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "when": {},
	"what": {}, "there": {}, "their": {}, "would": {}, "about": {},
	"which": {}, "should": {}, "could": {}, "into": {}, "than": {},
	"then": {}, "them": {}, "these": {}, "some": {}, "its": {}, "also": {},
	"use": {}, "using": {}, "used": {},
}

// Tokenize lowercases text, strips punctuation, and splits on whitespace,
// dropping tokens of length <= 2 and stop words.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenSet returns the set of canonical tokens in text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard returns intersection-over-union of the two token sets.
// Two empty sets have similarity 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// JaccardText is Jaccard over the canonical token sets of two strings.
func JaccardText(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// NormalizeIntent produces the canonical form of an intent used for
// identity checks: lowercased and whitespace collapsed. Punctuation is kept.
func NormalizeIntent(intent string) string {
	return strings.Join(strings.Fields(strings.ToLower(intent)), " ")
}

// IsStopWord reports whether the token is in the stop-word set.
func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}

// SplitIdentifier splits camelCase and snake_case identifiers into lowercase
// parts. "parseHTTPRequest" -> ["parse", "http", "request"],
// "user_id" -> ["user", "id"]. Used by the fallback hash embedder so code
// identifiers contribute meaningful features.
func SplitIdentifier(ident string) []string {
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(ident)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.':
			flush()
		case unicode.IsUpper(r):
			// Boundary before an upper rune unless we're inside an acronym run.
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return parts
}
