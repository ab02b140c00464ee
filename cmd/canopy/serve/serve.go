// Package servecmder provides the serve command with subcommands for running
// canopy's long-lived services: the HTTP API and the MCP tool server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	canopyapi "github.com/canopyhq/canopy/canopyapi"
	"github.com/canopyhq/canopy/canopyapi/mcp"
	apicmder "github.com/canopyhq/canopy/cmd/canopy/serve/api"
	mcpcmder "github.com/canopyhq/canopy/cmd/canopy/serve/mcp"
	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/archive/inmemory"
	"github.com/canopyhq/canopy/pkg/archive/sqlitevec"
	"github.com/canopyhq/canopy/pkg/credentials"
	"github.com/canopyhq/canopy/pkg/decompose"
	embeddingutils "github.com/canopyhq/canopy/pkg/embedding/utils"
	"github.com/canopyhq/canopy/pkg/eventstream"
	"github.com/canopyhq/canopy/pkg/eventstream/kafka"
	"github.com/canopyhq/canopy/pkg/eventstream/nop"
	"github.com/canopyhq/canopy/pkg/llmclient"
	"github.com/canopyhq/canopy/pkg/llmclient/anthropic"
	"github.com/canopyhq/canopy/pkg/llmclient/besteffort"
	"github.com/canopyhq/canopy/pkg/llmclient/ollama"
	"github.com/canopyhq/canopy/pkg/logger"
	"github.com/canopyhq/canopy/pkg/orchestrator"
	"github.com/canopyhq/canopy/pkg/retrieve"
	"github.com/canopyhq/canopy/pkg/summarizer"
	"github.com/canopyhq/canopy/pkg/tree"
)

type ServeCommander struct {
	apiListen    string
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

	maxTurns                  int
	retrievalEnabledByDefault bool
	retrievalRerankEnabled    bool

	eventStreamProvider string
	kafkaBrokers        string
	kafkaTopic          string

	configDir string
	debug     bool
	logger    *zap.Logger
}

const serveLongDesc string = `Run canopy services.

Use subcommands to run individual services or all services together:
  canopy serve          Run the API and MCP servers on one listener
  canopy serve api      Run just the HTTP API server
  canopy serve mcp      Run just the MCP tool server, on its own listener`

const serveShortDesc string = "Run canopy services"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
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

	registerServeFlags(cmd, cmder)

	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(mcpcmder.NewMCPCmd())

	return cmd
}

func registerServeFlags(cmd *cobra.Command, c *ServeCommander) {
	cmd.Flags().StringVarP(&c.apiListen, "api-listen", "a", ":8081", "Address for the HTTP API (and, mounted alongside it, the MCP server) to listen on")
	cmd.Flags().StringVar(&c.providerType, "provider", "ollama", "Chat LM provider (anthropic, ollama, besteffort)")
	cmd.Flags().StringVarP(&c.upstream, "upstream", "u", "http://localhost:11434", "Upstream LM provider URL")
	cmd.Flags().StringVar(&c.apiKey, "api-key", os.Getenv("ANTHROPIC_API_KEY"), "API key for hosted chat providers")
	cmd.Flags().StringVar(&c.chatModel, "chat-model", "", "Model used for chat turns (provider default if empty)")
	cmd.Flags().StringVar(&c.titleModel, "title-model", "", "Model used for follow-up decomposition (provider default if empty)")

	cmd.Flags().StringVar(&c.archiveProvider, "archive-provider", "inmemory", "Archive backend (inmemory, sqlitevec)")
	cmd.Flags().StringVar(&c.archivePath, "archive-path", "", "Path to the archive database (sqlitevec only)")

	cmd.Flags().StringVar(&c.embeddingProvider, "embedding-provider", "echo", "Embedding backend (ollama, echo)")
	cmd.Flags().StringVar(&c.embeddingTarget, "embedding-target", "http://localhost:11434", "Embedding backend URL")
	cmd.Flags().StringVar(&c.embeddingModel, "embedding-model", "nomic-embed-text", "Embedding model name")
	cmd.Flags().IntVar(&c.embeddingDims, "embedding-dimensions", 8, "Embedding vector width (echo backend only)")

	cmd.Flags().IntVar(&c.maxTurns, "buffer-max-turns", 15, "Turns retained per node before rolling summarization")
	cmd.Flags().BoolVar(&c.retrievalEnabledByDefault, "retrieval-default", true, "Run cross-branch retrieval by default on every turn")
	cmd.Flags().BoolVar(&c.retrievalRerankEnabled, "retrieval-rerank", false, "Re-rank retrieval hits by keyword overlap with the sub-queries")

	cmd.Flags().StringVar(&c.eventStreamProvider, "eventstream-provider", "nop", "Turn event sink (nop, kafka)")
	cmd.Flags().StringVar(&c.kafkaBrokers, "kafka-brokers", "localhost:9092", "Comma-separated Kafka broker addresses (kafka eventstream only)")
	cmd.Flags().StringVar(&c.kafkaTopic, "kafka-topic", "canopy.turns", "Kafka topic for turn events (kafka eventstream only)")
}

func (c *ServeCommander) run() error {
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

	publisher, err := c.newEventPublisher()
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	retriever := retrieve.New(archiveDriver, embedder, c.logger)
	retriever.RerankEnabled = c.retrievalRerankEnabled

	orch := orchestrator.New(orchestrator.Config{
		Forest:                  forest,
		Chat:                    chatClient,
		ChatModel:                c.chatModel,
		TitleModel:               c.titleModel,
		Archive:                  archiveDriver,
		Embedder:                 embedder,
		Decomposer:               decompose.New(chatClient, c.titleModel, c.logger),
		Retriever:                retriever,
		Summarizer:               summarizer.New(chatClient, c.titleModel, c.logger),
		RetrievalEnabledDefault:  c.retrievalEnabledByDefault,
		Publisher:                publisher,
		Log:                      c.logger,
	})

	apiServer := canopyapi.NewServer(canopyapi.Config{
		ListenAddr:    c.apiListen,
		ArchiveDriver: archiveDriver,
		Embedder:      embedder,
	}, forest, orch, c.logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		ArchiveDriver: archiveDriver,
		Embedder:      embedder,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	apiServer.MountMCP("/mcp", mcpServer.Handler())

	c.logger.Info("starting api and mcp servers on one listener",
		zap.String("listen", c.apiListen),
		zap.String("mcp_path", "/mcp"),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

// loadStoredAPIKey falls back to a key saved via "canopy auth" when neither
// --api-key nor the provider's environment variable is set.
func (c *ServeCommander) loadStoredAPIKey() (string, error) {
	if !credentials.IsSupportedProvider(c.providerType) {
		return "", nil
	}

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return "", err
	}

	return mgr.GetKey(c.providerType)
}

func (c *ServeCommander) newChatClient() (llmclient.Client, error) {
	switch c.providerType {
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: c.apiKey, Model: c.chatModel}), nil
	case "ollama":
		return ollama.New(ollama.Config{BaseURL: c.upstream, Model: c.chatModel})
	case "besteffort":
		primary := anthropic.New(anthropic.Config{APIKey: c.apiKey, Model: c.chatModel})
		fallback, err := ollama.New(ollama.Config{BaseURL: c.upstream, Model: c.chatModel})
		if err != nil {
			return nil, err
		}
		return besteffort.New([]llmclient.Client{primary, fallback}, c.logger), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", c.providerType)
	}
}

func (c *ServeCommander) newEventPublisher() (eventstream.Publisher, error) {
	switch c.eventStreamProvider {
	case "kafka":
		pub, err := kafka.New(kafka.Config{Brokers: strings.Split(c.kafkaBrokers, ","), Topic: c.kafkaTopic})
		if err != nil {
			return nil, err
		}
		c.logger.Info("publishing turn events to kafka", zap.String("topic", c.kafkaTopic))
		return pub, nil
	case "nop", "":
		return nop.New(), nil
	default:
		return nil, fmt.Errorf("unsupported eventstream provider: %s", c.eventStreamProvider)
	}
}

func (c *ServeCommander) newArchiveDriver() (archive.Driver, error) {
	switch c.archiveProvider {
	case "sqlitevec":
		driver, err := sqlitevec.New(sqlitevec.Config{DBPath: c.archivePath, Dimensions: c.embeddingDims}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlitevec archive: %w", err)
		}
		c.logger.Info("using sqlitevec archive", zap.String("path", c.archivePath))
		return driver, nil
	case "inmemory":
		c.logger.Info("using in-memory archive")
		return inmemory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported archive provider: %s", c.archiveProvider)
	}
}
