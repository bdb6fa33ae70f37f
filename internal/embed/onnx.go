//go:build onnx

package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxEmbedder runs a MiniLM-style sentence transformer exported to ONNX.
// Inputs are WordPiece token ids; the output hidden states are mean-pooled
// over attended positions and L2-normalized.
type onnxEmbedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
}

const onnxMaxSeqLen = 128

func newONNXEmbedder(modelPath, tokenizerPath string) (Embedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	tokenizer, err := loadWordPieceTokenizer(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session: %w", err)
	}

	return &onnxEmbedder{session: session, tokenizer: tokenizer}, nil
}

func (e *onnxEmbedder) Ready() bool     { return e.session != nil }
func (e *onnxEmbedder) Dimensions() int { return Dimensions }

func (e *onnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := e.tokenizer.tokenize(text)

	inputIDs := make([]int64, onnxMaxSeqLen)
	attentionMask := make([]int64, onnxMaxSeqLen)
	tokenTypeIDs := make([]int64, onnxMaxSeqLen)

	inputIDs[0] = int64(e.tokenizer.clsID)
	attentionMask[0] = 1

	n := len(tokens)
	if n > onnxMaxSeqLen-2 {
		n = onnxMaxSeqLen - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[n+1] = int64(e.tokenizer.sepID)
	attentionMask[n+1] = 1

	shape := ort.NewShape(1, int64(onnxMaxSeqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("creating token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	data := out.GetData()
	outShape := out.GetShape()
	if len(outShape) != 3 || outShape[2] != Dimensions {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}

	// Mean-pool hidden states over attended positions.
	seqLen := int(outShape[1])
	vec := make([]float32, Dimensions)
	attended := float32(0)
	for i := 0; i < seqLen; i++ {
		if attentionMask[i] == 0 {
			continue
		}
		attended++
		off := i * Dimensions
		for j := 0; j < Dimensions; j++ {
			vec[j] += data[off+j]
		}
	}
	if attended > 0 {
		for j := range vec {
			vec[j] /= attended
		}
	}

	normalize(vec)
	return vec, nil
}

func (e *onnxEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.Embed)
}

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer loaded from the
// model's tokenizer.json.
type wordPieceTokenizer struct {
	vocab map[string]int
	clsID int
	sepID int
	unkID int
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing tokenizer json: %w", err)
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer vocab is empty")
	}

	return &wordPieceTokenizer{
		vocab: parsed.Model.Vocab,
		clsID: 101,
		sepID: 102,
		unkID: 100,
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, sub := range t.wordPieces(word) {
			if id, ok := t.vocab[sub]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkID))
			}
		}
	}
	return tokens
}

// wordPieces greedily matches the longest known prefix, then continuation
// pieces with the ## prefix.
func (t *wordPieceTokenizer) wordPieces(word string) []string {
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				pieces = append(pieces, sub)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}
