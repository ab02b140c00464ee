package config

const (
	defaultLMProvider           = "ollama"
	defaultLMModelPrimary       = "llama3.1"
	defaultLMModelDecomposition = "llama3.1"

	defaultAPIListen = ":8081"

	defaultBufferMaxTurns = 15

	defaultSummarizationStartThreshold = 15
	defaultSummarizationInterval       = 5

	defaultRetrievalWindowSeconds  = 60.0
	defaultRetrievalTopK           = 5
	defaultRetrievalEnabledDefault = true
	defaultRetrievalRerankEnabled  = false

	defaultArchiveProvider = "sqlite"
	defaultArchivePath     = "archive.sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values; it mirrors the
// defaults enumerated for each environment variable.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		LM: LMConfig{
			Provider:           defaultLMProvider,
			ModelPrimary:       defaultLMModelPrimary,
			ModelDecomposition: defaultLMModelDecomposition,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Buffer: BufferConfig{
			MaxTurns: defaultBufferMaxTurns,
		},
		Summarization: SummarizationConfig{
			StartThreshold: defaultSummarizationStartThreshold,
			Interval:       defaultSummarizationInterval,
		},
		Retrieval: RetrievalConfig{
			WindowSeconds:  defaultRetrievalWindowSeconds,
			TopK:           defaultRetrievalTopK,
			EnabledDefault: defaultRetrievalEnabledDefault,
			RerankEnabled:  defaultRetrievalRerankEnabled,
		},
		Archive: ArchiveConfig{
			Provider: defaultArchiveProvider,
			Path:     defaultArchivePath,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
	}
}
