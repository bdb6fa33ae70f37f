package retrieval

import "strings"

// synonymMap drives query expansion. The table is deliberately small and
// curated; expansion is capped at 8 terms to keep FTS queries from
// degenerating.
var synonymMap = map[string][]string{
	"auth":     {"authentication", "login", "signin"},
	"db":       {"database", "sql", "postgres", "mongodb"},
	"error":    {"bug", "fix", "issue", "crash"},
	"api":      {"endpoint", "route", "rest", "graphql"},
	"test":     {"testing", "spec", "unit", "integration"},
	"config":   {"configuration", "settings", "env"},
	"deploy":   {"deployment", "release", "ship"},
	"ui":       {"frontend", "component", "css", "layout"},
	"perf":     {"performance", "slow", "optimize", "latency"},
	"security": {"vulnerability", "xss", "injection", "cve"},
}

// maxExpandedTerms caps the FTS OR expansion.
const maxExpandedTerms = 8

// ExpandQuery tokenizes the query, drops short tokens, and ORs in synonyms
// up to the term cap. The result is an FTS5 MATCH expression. An empty
// result means the query had no usable tokens.
func ExpandQuery(query string) string {
	var terms []string
	seen := make(map[string]struct{})
	add := func(t string) bool {
		if len(terms) >= maxExpandedTerms {
			return false
		}
		if _, dup := seen[t]; dup {
			return true
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
		return true
	}

	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		// Short tokens are noise unless they are a known abbreviation
		// ("db", "ui") with a synonym entry.
		_, hasSyn := synonymMap[tok]
		if len(tok) <= 2 && !hasSyn {
			continue
		}
		if !add(tok) {
			break
		}
		for _, syn := range synonymMap[tok] {
			if !add(syn) {
				break
			}
		}
	}

	for i, t := range terms {
		terms[i] = quoteTerm(t)
	}
	return strings.Join(terms, " OR ")
}

// BaseQuery is the unexpanded fallback when the expanded query finds
// nothing: the original tokens ORed together.
func BaseQuery(query string) string {
	var terms []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if len(tok) <= 2 {
			continue
		}
		terms = append(terms, quoteTerm(tok))
	}
	return strings.Join(terms, " OR ")
}

// quoteTerm wraps the token in double quotes so FTS5 treats it as a string
// literal rather than column syntax.
func quoteTerm(t string) string {
	return `"` + strings.ReplaceAll(t, `"`, ``) + `"`
}
