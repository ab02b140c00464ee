package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/canopyhq/canopy/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the CANOPY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (CANOPY_LM_MODEL_PRIMARY, CANOPY_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: CANOPY_LM_MODEL_PRIMARY, CANOPY_ARCHIVE_PATH, etc.
	v.SetEnvPrefix("CANOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// LM
	v.SetDefault("lm.provider", d.LM.Provider)
	v.SetDefault("lm.model_primary", d.LM.ModelPrimary)
	v.SetDefault("lm.model_decomposition", d.LM.ModelDecomposition)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Buffer
	v.SetDefault("buffer.max_turns", d.Buffer.MaxTurns)

	// Summarization
	v.SetDefault("summarization.start_threshold", d.Summarization.StartThreshold)
	v.SetDefault("summarization.interval", d.Summarization.Interval)

	// Retrieval
	v.SetDefault("retrieval.window_seconds", d.Retrieval.WindowSeconds)
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.enabled_default", d.Retrieval.EnabledDefault)
	v.SetDefault("retrieval.rerank_enabled", d.Retrieval.RerankEnabled)

	// Archive
	v.SetDefault("archive.provider", d.Archive.Provider)
	v.SetDefault("archive.path", d.Archive.Path)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
}
