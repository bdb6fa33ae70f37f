package memory

import (
	"strings"
	"unicode"

	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/textutil"
)

// defaultContradictionJaccard is the token overlap required before two
// same-kind intents are even considered as contradicting. Deliberately
// narrow: the marker check below must also fire.
const defaultContradictionJaccard = 0.5

// resolveContradiction scans the previously-loaded same-kind units for one
// whose intent negates the new unit's ("use X" against "never X"). The older
// unit is deactivated with superseded_by pointing at the new one and a
// SUPERSEDED_BY edge is recorded. Returns the id of the superseded unit,
// or "".
func (e *Engine) resolveContradiction(fresh storage.Unit, sameKind []storage.Unit) string {
	freshTokens := textutil.TokenSet(fresh.Intent)

	for i := range sameKind {
		old := &sameKind[i]
		if !old.IsActive || old.ID == fresh.ID {
			continue
		}
		if textutil.Jaccard(freshTokens, textutil.TokenSet(old.Intent)) < e.contradictionJaccard {
			continue
		}
		if !intentsNegate(fresh.Intent, old.Intent) {
			continue
		}

		if err := e.store.Deactivate(old.ID, fresh.ID); err != nil {
			e.logger.Warn("deactivating contradicted unit failed", "id", old.ID, "error", err)
			return ""
		}
		if err := e.store.AddEdge(storage.Edge{
			SourceID: old.ID,
			TargetID: fresh.ID,
			Relation: storage.RelSupersededBy,
		}); err != nil {
			e.logger.Warn("recording contradiction edge failed", "error", err)
		}
		e.logger.Info("superseded conflicting memory", "old", old.ID, "new", fresh.ID)
		return old.ID
	}
	return ""
}

// intentsNegate reports whether a term affirmed by one intent is negated by
// the other, in either direction.
func intentsNegate(a, b string) bool {
	aff1, neg1 := markerTerms(a)
	aff2, neg2 := markerTerms(b)
	return intersects(aff1, neg2) || intersects(aff2, neg1)
}

// markerTerms extracts the terms each intent affirms ("use X", "always X",
// "prefer X", "enable X") and negates ("never X", "avoid X", "don't use X",
// "disable X").
func markerTerms(intent string) (affirmed, negated map[string]struct{}) {
	affirmed = make(map[string]struct{})
	negated = make(map[string]struct{})

	words := splitWords(intent)
	for i, w := range words {
		switch w {
		case "use", "prefer", "enable", "always":
			// "never use X" and "don't use X" must not count as affirming.
			if precededByNegation(words, i) {
				continue
			}
			if t, ok := termAfter(words, i); ok {
				affirmed[t] = struct{}{}
			}
		case "never", "avoid", "disable", "not", "stop":
			if t, ok := termAfter(words, i); ok {
				negated[t] = struct{}{}
			}
		}
	}
	return affirmed, negated
}

// termAfter returns the first content word after position i, skipping filler
// like "use"/"using" so "never use X" and "stop using X" both yield X.
func termAfter(words []string, i int) (string, bool) {
	for j := i + 1; j < len(words); j++ {
		switch words[j] {
		case "use", "using", "to", "the", "a", "an":
			continue
		}
		return words[j], true
	}
	return "", false
}

func precededByNegation(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-2; j-- {
		switch words[j] {
		case "never", "avoid", "not", "don't", "dont", "stop":
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func intersects(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}
