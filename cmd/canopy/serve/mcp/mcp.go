// Package mcpcmder provides the canopy MCP tool server cobra command.
package mcpcmder

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/canopyapi/mcp"
	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/archive/inmemory"
	"github.com/canopyhq/canopy/pkg/archive/sqlitevec"
	embeddingutils "github.com/canopyhq/canopy/pkg/embedding/utils"
	"github.com/canopyhq/canopy/pkg/logger"
)

type mcpCommander struct {
	listen string

	archiveProvider string
	archivePath     string

	embeddingProvider string
	embeddingTarget   string
	embeddingModel    string
	embeddingDims     int

	debug  bool
	logger *zap.Logger
}

const mcpLongDesc string = `Run just canopy's MCP tool server, exposing archive_search over the
Model Context Protocol for editors and external agents.`

const mcpShortDesc string = "Run just the MCP tool server"

func NewMCPCmd() *cobra.Command {
	cmder := &mcpCommander{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", ":8082", "Address for the MCP server to listen on")
	cmd.Flags().StringVar(&cmder.archiveProvider, "archive-provider", "inmemory", "Archive backend (inmemory, sqlitevec)")
	cmd.Flags().StringVar(&cmder.archivePath, "archive-path", "", "Path to the archive database (sqlitevec only)")
	cmd.Flags().StringVar(&cmder.embeddingProvider, "embedding-provider", "echo", "Embedding backend (ollama, echo)")
	cmd.Flags().StringVar(&cmder.embeddingTarget, "embedding-target", "http://localhost:11434", "Embedding backend URL")
	cmd.Flags().StringVar(&cmder.embeddingModel, "embedding-model", "nomic-embed-text", "Embedding model name")
	cmd.Flags().IntVar(&cmder.embeddingDims, "embedding-dimensions", 8, "Embedding vector width (echo backend only)")

	return cmd
}

func (c *mcpCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

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

	server, err := mcp.NewServer(mcp.Config{
		ArchiveDriver: archiveDriver,
		Embedder:      embedder,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	c.logger.Info("starting mcp server", zap.String("listen", c.listen))

	return http.ListenAndServe(c.listen, server.Handler())
}

func (c *mcpCommander) newArchiveDriver() (archive.Driver, error) {
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
