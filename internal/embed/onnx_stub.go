//go:build !onnx

package embed

import "fmt"

// newONNXEmbedder is unavailable without the onnx build tag; callers fall
// back to the hash embedder.
func newONNXEmbedder(modelPath, tokenizerPath string) (Embedder, error) {
	return nil, fmt.Errorf("built without onnx support (model %s ignored)", modelPath)
}
