// Package mcp provides an MCP (Model Context Protocol) server exposing
// canopy's archive search as a tool for external agents and editors.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/embedding"
	"github.com/canopyhq/canopy/pkg/utils"
)

type Config struct {
	// ArchiveDriver is queried for semantic search over indexed turns.
	ArchiveDriver archive.Driver

	// Embedder converts query text to vectors for the configured ArchiveDriver.
	Embedder embedding.Embedder

	// Noop, if true, starts an empty MCP server with no tools configured.
	// Used when archive search is disabled.
	Noop bool

	// Logger is the configured zap logger.
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the archive_search tool.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "canopy",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.ArchiveDriver == nil {
		return nil, errors.New("archive driver is required")
	}
	if c.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchToolName,
		Description: searchDescription,
	}, s.handleSearch)

	s.mcpServer = mcpServer

	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
