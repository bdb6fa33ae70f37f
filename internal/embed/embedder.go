// Package embed provides text embedding for the vector retrieval path.
// The primary implementation wraps a local MiniLM ONNX export; the fallback
// is a hashing TF embedder that needs no model files. Both produce
// L2-normalized vectors of the same dimension, so cosine similarity stays
// meaningful whichever is active.
package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dimensions is the embedding width shared by all implementations.
const Dimensions = 384

// Embedder turns text into unit vectors.
type Embedder interface {
	// Embed returns an L2-normalized vector of length Dimensions.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts. Returns nil for empty input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Ready reports whether the embedder can serve requests.
	Ready() bool

	// Dimensions returns the vector width.
	Dimensions() int
}

// batchEmbed implements EmbedBatch on top of a single-text embed function,
// bounded to 4 concurrent embeds.
func batchEmbed(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := embed(gCtx, text)
			if err != nil {
				return err
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// New returns the best available embedder: the ONNX MiniLM model when built
// with the onnx tag and the model loads, otherwise the hash fallback.
// The error from the model load is returned alongside the fallback so the
// caller can log why quality is degraded.
func New(modelPath, tokenizerPath string) (Embedder, error) {
	if modelPath != "" {
		e, err := newONNXEmbedder(modelPath, tokenizerPath)
		if err == nil {
			return e, nil
		}
		return NewHashEmbedder(), err
	}
	return NewHashEmbedder(), nil
}
