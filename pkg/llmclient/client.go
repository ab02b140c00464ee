// Package llmclient defines the narrow capability surface canopy needs from
// a language model: complete, stream, and embed. Concrete backends
// (anthropic, ollama, echo, besteffort) implement Client directly instead of
// the teacher's wire-format-sniffing Provider abstraction, since canopy
// always speaks its own internal llm.Message shape rather than proxying
// someone else's request bytes.
package llmclient

import (
	"context"
	"errors"

	"github.com/canopyhq/canopy/pkg/llm"
)

// ErrUnavailable is returned by a Client when the backend cannot currently
// serve requests (e.g. no API key configured, or the local daemon is down).
var ErrUnavailable = errors.New("llmclient: backend unavailable")

// Options carries generation parameters common across backends.
type Options struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
}

// Client is the capability surface canopy requires from a language model.
type Client interface {
	// Complete runs a single non-streaming completion over messages.
	Complete(ctx context.Context, messages []llm.Message, opts Options) (*llm.ChatResponse, error)

	// Stream runs a completion and delivers chunks incrementally on the
	// returned channel. The channel is closed when generation finishes or
	// ctx is canceled; the final chunk has Done=true. A channel that closes
	// without ever delivering a Done=true chunk signals a failure mid-stream
	// (upstream disconnect, malformed event, etc.) — callers must treat that
	// as an error, not a clean end of output.
	Stream(ctx context.Context, messages []llm.Message, opts Options) (<-chan llm.StreamChunk, error)

	// Embed returns a dense embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the backend for logging and config.
	Name() string

	Close() error
}
