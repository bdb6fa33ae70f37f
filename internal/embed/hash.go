package embed

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/kalambet/cortex/internal/textutil"
)

// HashEmbedder is the model-free fallback. It hashes TF-weighted unigram,
// bigram, and trigram features into the embedding dimensions using two
// independent hash functions (DJB2 and FNV-1a) with sign-bit dispersion,
// then L2-normalizes. CamelCase and snake_case identifiers are split so
// code-heavy text still lands near its natural-language neighbors.
// Retrieval quality is below the model's but the vector contract holds.
type HashEmbedder struct{}

// NewHashEmbedder returns the fallback embedder. It is always ready.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (h *HashEmbedder) Ready() bool     { return true }
func (h *HashEmbedder) Dimensions() int { return Dimensions }

// Embed hashes the text's n-gram features into a unit vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dimensions)

	features := extractFeatures(text)
	for feat, tf := range features {
		// Sub-linear TF weighting keeps one repeated token from
		// dominating the vector.
		weight := float32(1 + math.Log(float64(tf)))

		h1 := djb2(feat)
		h2 := fnv1a(feat)
		sign1 := float32(1)
		if h1&(1<<16) != 0 {
			sign1 = -1
		}
		sign2 := float32(1)
		if h2&(1<<16) != 0 {
			sign2 = -1
		}
		vec[h1%Dimensions] += sign1 * weight
		vec[h2%Dimensions] += sign2 * weight
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, h.Embed)
}

// extractFeatures builds the TF map of unigram, bigram, and trigram features
// over identifier-split tokens.
func extractFeatures(text string) map[string]int {
	// Pieces keep their original casing so camelCase boundaries survive;
	// each is filtered like textutil.Tokenize (lowercased, length > 2, no
	// stop words).
	pieces := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	// Expand identifiers: "parseHTTPRequest" contributes parse, http,
	// request alongside the full token.
	tokens := make([]string, 0, len(pieces))
	for _, p := range pieces {
		t := strings.ToLower(p)
		if len(t) <= 2 || textutil.IsStopWord(t) {
			continue
		}
		tokens = append(tokens, t)
		parts := textutil.SplitIdentifier(p)
		if len(parts) > 1 {
			for _, p := range parts {
				if len(p) > 2 {
					tokens = append(tokens, p)
				}
			}
		}
	}

	features := make(map[string]int, len(tokens)*3)
	for i, t := range tokens {
		features[t]++
		if i+1 < len(tokens) {
			features[t+" "+tokens[i+1]]++
		}
		if i+2 < len(tokens) {
			features[t+" "+tokens[i+1]+" "+tokens[i+2]]++
		}
	}
	return features
}

func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// normalize scales vec to unit length in place. A zero vector is left as-is.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// EmbedText is the canonical text representation of a memory unit for
// embedding: intent plus action plus tags.
func EmbedText(intent, action string, tags []string) string {
	parts := []string{intent}
	if action != "" {
		parts = append(parts, action)
	}
	if len(tags) > 0 {
		parts = append(parts, strings.Join(tags, " "))
	}
	return strings.Join(parts, "\n")
}
