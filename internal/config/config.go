package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all tunables for the cortex memory engine. Values come from
// defaults overridden by CORTEX_* environment variables.
type Config struct {
	// Debug appends diagnostic logs to ./cortex.log in addition to stderr.
	Debug bool `envconfig:"DEBUG"`

	// Port enables the HTTP health/stats listener when non-zero.
	Port int `envconfig:"PORT"`

	// DataDir is the directory holding cognitive.db.
	DataDir string `envconfig:"DATA_DIR"`

	// Workspace is the project root used for git capture and scanning.
	Workspace string `envconfig:"WORKSPACE"`

	// MaxActive is the soft cap on active memory units enforced by cleanup.
	MaxActive int `envconfig:"MAX_ACTIVE"`

	// ContradictionJaccard is the token-overlap threshold above which two
	// same-kind intents are checked for mutually exclusive markers.
	ContradictionJaccard float64 `envconfig:"CONTRADICTION_JACCARD"`

	// DedupJaccard is the similarity at which a new intent is folded into
	// an existing unit of the same kind instead of creating a new one.
	DedupJaccard float64 `envconfig:"DEDUP_JACCARD"`

	// AnthropicAPIKey enables LLM augmentation of auto_learn when set.
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// EmbedModelPath / EmbedTokenizerPath point at a local MiniLM ONNX
	// export. Empty means the hash fallback embedder is used.
	EmbedModelPath     string `envconfig:"EMBED_MODEL"`
	EmbedTokenizerPath string `envconfig:"EMBED_TOKENIZER"`

	// LogLevel is "info" or "debug".
	LogLevel string `envconfig:"LOG_LEVEL"`
}

func defaults() Config {
	return Config{
		DataDir:              filepath.Join(".ai", "brain-data", "data"),
		Workspace:            ".",
		MaxActive:            500,
		ContradictionJaccard: 0.5,
		DedupJaccard:         0.7,
		LogLevel:             "info",
	}
}

// Load returns the defaults overridden by CORTEX_* environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if err := envconfig.Process("cortex", &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 500
	}
	if cfg.ContradictionJaccard <= 0 || cfg.ContradictionJaccard > 1 {
		cfg.ContradictionJaccard = 0.5
	}
	if cfg.DedupJaccard <= 0 || cfg.DedupJaccard > 1 {
		cfg.DedupJaccard = 0.7
	}
	return cfg, nil
}
