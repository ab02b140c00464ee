// Package api provides an HTTP API server for conversations backed by the
// canopy orchestrator: creating conversations and subchats, sending
// messages (with an SSE streaming variant), and reading node metadata and
// buffer history.
package api

import (
	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/embedding"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// ArchiveDriver and Embedder, if both set, enable GET /v1/search.
	// Either may be nil; the search route then returns 503.
	ArchiveDriver archive.Driver
	Embedder      embedding.Embedder
}
