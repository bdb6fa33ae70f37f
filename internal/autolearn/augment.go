package autolearn

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kalambet/cortex/internal/storage"
)

// Augmenter refines regex-extracted candidates through a hosted model. It is
// strictly optional: any failure returns the original candidates unchanged.
type Augmenter struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewAugmenter creates an Augmenter, or nil when no API key is configured.
func NewAugmenter(apiKey string) *Augmenter {
	if apiKey == "" {
		return nil
	}
	return &Augmenter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model("claude-haiku-4-5"),
		timeout: 15 * time.Second,
		logger:  slog.Default(),
	}
}

const augmentPrompt = `You refine observations extracted from a coding conversation.
For each candidate below, rewrite the statement as one concise, self-contained sentence
and keep its type. Drop candidates that are not durable project knowledge.
Respond with a JSON array: [{"type": "...", "statement": "..."}].

Candidates:
`

// Augment asks the model to rewrite and filter the candidates. On any
// error the input is returned as-is.
func (a *Augmenter) Augment(ctx context.Context, candidates []Candidate) []Candidate {
	if a == nil || len(candidates) == 0 {
		return candidates
	}

	var b strings.Builder
	b.WriteString(augmentPrompt)
	for _, c := range candidates {
		b.WriteString("- [")
		b.WriteString(string(c.Kind))
		b.WriteString("] ")
		b.WriteString(c.Intent)
		b.WriteString("\n")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msg, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		a.logger.Debug("augmentation call failed", "error", err)
		return candidates
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	refined := parseAugmented(text)
	if len(refined) == 0 {
		return candidates
	}
	return refined
}

func parseAugmented(text string) []Candidate {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}

	var rows []struct {
		Type      string `json:"type"`
		Statement string `json:"statement"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &rows); err != nil {
		return nil
	}

	var out []Candidate
	for _, r := range rows {
		kind := storage.Kind(strings.ToUpper(strings.TrimSpace(r.Type)))
		if !storage.ValidKind(kind) {
			continue
		}
		statement := strings.TrimSpace(r.Statement)
		if len(statement) < 10 {
			continue
		}
		out = append(out, Candidate{Kind: kind, Intent: statement})
	}
	return out
}
