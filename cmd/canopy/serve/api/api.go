// Package apicmder provides the canopy HTTP API server cobra command.
package apicmder

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	canopyapi "github.com/canopyhq/canopy/canopyapi"
	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/archive/inmemory"
	"github.com/canopyhq/canopy/pkg/archive/sqlitevec"
	"github.com/canopyhq/canopy/pkg/credentials"
	"github.com/canopyhq/canopy/pkg/decompose"
	embeddingutils "github.com/canopyhq/canopy/pkg/embedding/utils"
	"github.com/canopyhq/canopy/pkg/llmclient"
	"github.com/canopyhq/canopy/pkg/llmclient/anthropic"
	"github.com/canopyhq/canopy/pkg/llmclient/ollama"
	"github.com/canopyhq/canopy/pkg/logger"
	"github.com/canopyhq/canopy/pkg/orchestrator"
	"github.com/canopyhq/canopy/pkg/retrieve"
	"github.com/canopyhq/canopy/pkg/summarizer"
	"github.com/canopyhq/canopy/pkg/tree"
)

type apiCommander struct {
	listen       string
	providerType string
	upstream     string
	apiKey       string
	chatModel    string
	titleModel   string

	archiveProvider string
	archivePath     string

	embeddingProvider string
	embeddingTarget   string
	embeddingModel    string
	embeddingDims     int

	maxTurns int

	configDir string
	debug     bool
	logger    *zap.Logger
}

const apiLongDesc string = `Run just canopy's HTTP API server, with no MCP tool server alongside it.`

const apiShortDesc string = "Run just the HTTP API server"

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", ":8081", "Address for the API server to listen on")
	cmd.Flags().StringVar(&cmder.providerType, "provider", "ollama", "Chat LM provider (anthropic, ollama)")
	cmd.Flags().StringVarP(&cmder.upstream, "upstream", "u", "http://localhost:11434", "Upstream LM provider URL")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "API key for hosted chat providers")
	cmd.Flags().StringVar(&cmder.chatModel, "chat-model", "", "Model used for chat turns")
	cmd.Flags().StringVar(&cmder.titleModel, "title-model", "", "Model used for follow-up decomposition")
	cmd.Flags().StringVar(&cmder.archiveProvider, "archive-provider", "inmemory", "Archive backend (inmemory, sqlitevec)")
	cmd.Flags().StringVar(&cmder.archivePath, "archive-path", "", "Path to the archive database (sqlitevec only)")
	cmd.Flags().StringVar(&cmder.embeddingProvider, "embedding-provider", "echo", "Embedding backend (ollama, echo)")
	cmd.Flags().StringVar(&cmder.embeddingTarget, "embedding-target", "http://localhost:11434", "Embedding backend URL")
	cmd.Flags().StringVar(&cmder.embeddingModel, "embedding-model", "nomic-embed-text", "Embedding model name")
	cmd.Flags().IntVar(&cmder.embeddingDims, "embedding-dimensions", 8, "Embedding vector width (echo backend only)")
	cmd.Flags().IntVar(&cmder.maxTurns, "buffer-max-turns", 15, "Turns retained per node before rolling summarization")

	return cmd
}

func (c *apiCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	if c.apiKey == "" {
		if key, err := c.loadStoredAPIKey(); err != nil {
			c.logger.Warn("loading stored credentials failed", zap.Error(err))
		} else if key != "" {
			c.apiKey = key
		}
	}

	chatClient, err := c.newChatClient()
	if err != nil {
		return fmt.Errorf("creating chat client: %w", err)
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: c.embeddingProvider,
		TargetURL:    c.embeddingTarget,
		Model:        c.embeddingModel,
		Dimensions:   c.embeddingDims,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	archiveDriver, err := c.newArchiveDriver()
	if err != nil {
		return fmt.Errorf("creating archive driver: %w", err)
	}
	defer func() {
		if closer, ok := archiveDriver.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	forest := tree.New(c.maxTurns, c.logger)

	orch := orchestrator.New(orchestrator.Config{
		Forest:     forest,
		Chat:       chatClient,
		ChatModel:  c.chatModel,
		TitleModel: c.titleModel,
		Archive:    archiveDriver,
		Embedder:   embedder,
		Decomposer: decompose.New(chatClient, c.titleModel, c.logger),
		Retriever:  retrieve.New(archiveDriver, embedder, c.logger),
		Summarizer: summarizer.New(chatClient, c.titleModel, c.logger),
		Log:        c.logger,
	})

	server := canopyapi.NewServer(canopyapi.Config{
		ListenAddr:    c.listen,
		ArchiveDriver: archiveDriver,
		Embedder:      embedder,
	}, forest, orch, c.logger)

	c.logger.Info("starting api server", zap.String("listen", c.listen))

	return server.Run()
}

// loadStoredAPIKey falls back to a key saved via "canopy auth" when --api-key
// is not given; this command does not read the provider's environment variable.
func (c *apiCommander) loadStoredAPIKey() (string, error) {
	if !credentials.IsSupportedProvider(c.providerType) {
		return "", nil
	}

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return "", err
	}

	return mgr.GetKey(c.providerType)
}

func (c *apiCommander) newChatClient() (llmclient.Client, error) {
	switch c.providerType {
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: c.apiKey, Model: c.chatModel}), nil
	case "ollama":
		return ollama.New(ollama.Config{BaseURL: c.upstream, Model: c.chatModel})
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", c.providerType)
	}
}

func (c *apiCommander) newArchiveDriver() (archive.Driver, error) {
	if c.archiveProvider == "sqlitevec" {
		driver, err := sqlitevec.New(sqlitevec.Config{DBPath: c.archivePath, Dimensions: c.embeddingDims}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlitevec archive: %w", err)
		}
		c.logger.Info("using sqlitevec archive", zap.String("path", c.archivePath))
		return driver, nil
	}

	c.logger.Info("using in-memory archive")
	return inmemory.New(), nil
}
