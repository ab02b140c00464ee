package api

import (
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/orchestrator"
	"github.com/canopyhq/canopy/pkg/tree"
)

// Server is the HTTP API server for canopy conversations.
type Server struct {
	config       Config
	forest       *tree.Forest
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
	app          *fiber.App
}

// NewServer creates a new API server. The forest and orchestrator are
// injected so the server, canopy chat's REPL, and the MCP tool can share one
// running set of nodes.
func NewServer(config Config, forest *tree.Forest, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:       config,
		forest:       forest,
		orchestrator: orch,
		logger:       logger,
		app:          app,
	}

	app.Get("/health", s.handleHealth)
	app.Post("/api/conversations", s.handleCreateConversation)
	app.Post("/api/conversations/:parentID/subchats", s.handleCreateSubchat)
	app.Post("/api/conversations/:nodeID/messages", s.handleSendMessage)
	app.Post("/api/conversations/:nodeID/messages/stream", s.handleStreamMessage)
	app.Get("/api/conversations/:nodeID", s.handleGetConversation)
	app.Get("/api/conversations/:nodeID/history", s.handleGetHistory)
	app.Get("/v1/search", s.handleSearchEndpoint)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// MountMCP bridges a net/http handler (the MCP tool server) onto this Fiber
// app at the given path prefix, so "canopy serve" can run the API and MCP
// surfaces on one listener instead of two.
func (s *Server) MountMCP(pathPrefix string, handler http.Handler) {
	s.app.All(pathPrefix+"/*", adaptor.HTTPHandler(handler))
}
