package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent canopy configuration stored as config.toml
// in the .canopy/ directory. Sections mirror the enumerated environment
// variables: [lm], [api], [buffer], [summarization], [retrieval], [archive],
// [embedding].
type Config struct {
	Version       int                 `toml:"version"`
	LM            LMConfig            `toml:"lm"`
	API           APIConfig           `toml:"api"`
	Buffer        BufferConfig        `toml:"buffer"`
	Summarization SummarizationConfig `toml:"summarization"`
	Retrieval     RetrievalConfig     `toml:"retrieval"`
	Archive       ArchiveConfig       `toml:"archive"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
}

// LMConfig holds language-model backend settings. The API key itself is
// never stored here; it lives in credentials.toml via pkg/credentials.
type LMConfig struct {
	Provider          string `toml:"provider,omitempty"`           // "anthropic", "ollama", or "besteffort"
	ModelPrimary       string `toml:"model_primary,omitempty"`      // chat completion model
	ModelDecomposition string `toml:"model_decomposition,omitempty"` // intent + sub-query model
}

// APIConfig holds the REST/SSE server's listen address.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// BufferConfig holds the per-node rolling buffer's capacity.
type BufferConfig struct {
	MaxTurns int `toml:"max_turns,omitempty"`
}

// SummarizationConfig holds the rolling summarizer's cadence.
type SummarizationConfig struct {
	StartThreshold int `toml:"start_threshold,omitempty"`
	Interval       int `toml:"interval,omitempty"`
}

// RetrievalConfig holds the context window retriever's defaults.
type RetrievalConfig struct {
	WindowSeconds  float64 `toml:"window_seconds,omitempty"`
	TopK           int     `toml:"top_k,omitempty"`
	EnabledDefault bool    `toml:"enabled_default,omitempty"`
	RerankEnabled  bool    `toml:"rerank_enabled,omitempty"`
}

// ArchiveConfig holds the long-term vector archive's backend selection.
type ArchiveConfig struct {
	Provider string `toml:"provider,omitempty"` // "sqlite", "postgres", "qdrant", or "memory"
	Path     string `toml:"path,omitempty"`     // file path or connection target, backend-dependent
}

// EmbeddingConfig holds embedding provider settings. Changing Model or
// Dimensions requires a fresh archive collection (spec.md's embedding_model
// note): old and new vectors are not comparable.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"lm.provider": {
		get: func(c *Config) string { return c.LM.Provider },
		set: func(c *Config, v string) error { c.LM.Provider = v; return nil },
	},
	"lm.model_primary": {
		get: func(c *Config) string { return c.LM.ModelPrimary },
		set: func(c *Config, v string) error { c.LM.ModelPrimary = v; return nil },
	},
	"lm.model_decomposition": {
		get: func(c *Config) string { return c.LM.ModelDecomposition },
		set: func(c *Config, v string) error { c.LM.ModelDecomposition = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"buffer.max_turns": {
		get: func(c *Config) string { return strconv.Itoa(c.Buffer.MaxTurns) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for buffer.max_turns: must be an int >= 1, got %q", v)
			}
			c.Buffer.MaxTurns = n
			return nil
		},
	},
	"summarization.start_threshold": {
		get: func(c *Config) string { return strconv.Itoa(c.Summarization.StartThreshold) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for summarization.start_threshold: must be an int >= 1, got %q", v)
			}
			c.Summarization.StartThreshold = n
			return nil
		},
	},
	"summarization.interval": {
		get: func(c *Config) string { return strconv.Itoa(c.Summarization.Interval) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for summarization.interval: must be an int >= 1, got %q", v)
			}
			c.Summarization.Interval = n
			return nil
		},
	},
	"retrieval.window_seconds": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Retrieval.WindowSeconds, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 {
				return fmt.Errorf("invalid value for retrieval.window_seconds: must be a float > 0, got %q", v)
			}
			c.Retrieval.WindowSeconds = f
			return nil
		},
	},
	"retrieval.top_k": {
		get: func(c *Config) string { return strconv.Itoa(c.Retrieval.TopK) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for retrieval.top_k: must be an int >= 1, got %q", v)
			}
			c.Retrieval.TopK = n
			return nil
		},
	},
	"retrieval.enabled_default": {
		get: func(c *Config) string { return strconv.FormatBool(c.Retrieval.EnabledDefault) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for retrieval.enabled_default: %w", err)
			}
			c.Retrieval.EnabledDefault = b
			return nil
		},
	},
	"retrieval.rerank_enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Retrieval.RerankEnabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for retrieval.rerank_enabled: %w", err)
			}
			c.Retrieval.RerankEnabled = b
			return nil
		},
	},
	"archive.provider": {
		get: func(c *Config) string { return c.Archive.Provider },
		set: func(c *Config, v string) error { c.Archive.Provider = v; return nil },
	},
	"archive.path": {
		get: func(c *Config) string { return c.Archive.Path },
		set: func(c *Config, v string) error { c.Archive.Path = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
}
