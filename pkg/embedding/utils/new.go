// Package embeddingutils builds an embedding.Embedder from a config string,
// mirroring the teacher's pkg/embeddings/utils factory.
package embeddingutils

import (
	"fmt"

	"github.com/canopyhq/canopy/pkg/embedding"
	"github.com/canopyhq/canopy/pkg/llmclient/echo"
	"github.com/canopyhq/canopy/pkg/llmclient/ollama"
)

// NewEmbedderOpts selects and configures an embedding backend.
type NewEmbedderOpts struct {
	ProviderType string // "ollama", "echo"
	TargetURL    string
	Model        string
	Dimensions   int // only consulted for "echo"
}

// NewEmbedder constructs the configured Embedder.
func NewEmbedder(o *NewEmbedderOpts) (embedding.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:        o.TargetURL,
			EmbeddingModel: o.Model,
		})
	case "echo":
		return echo.New(o.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
