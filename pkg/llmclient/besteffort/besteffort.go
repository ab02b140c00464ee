// Package besteffort implements a cascading llmclient.Client: it tries a
// list of backends in order and falls through to the next on failure,
// generalizing the teacher's besteffort provider (which always "handles" a
// request, however degraded) from wire-format sniffing to backend fallback.
package besteffort

import (
	"context"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
)

// Client cascades Complete/Stream/Embed calls across Backends in order,
// returning the first success. It never itself returns llmclient.ErrUnavailable
// unless every backend does.
type Client struct {
	Backends []llmclient.Client
	log      *zap.Logger
}

// New builds a cascading Client. The last backend in the list should be one
// that cannot fail (e.g. llmclient/echo) if callers want a hard guarantee of
// success.
func New(backends []llmclient.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{Backends: backends, log: log}
}

func (c *Client) Name() string { return "besteffort" }

func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts llmclient.Options) (*llm.ChatResponse, error) {
	var lastErr error
	for _, b := range c.Backends {
		resp, err := b.Complete(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.log.Warn("besteffort backend failed, falling through",
			zap.String("backend", b.Name()), zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) Stream(ctx context.Context, messages []llm.Message, opts llmclient.Options) (<-chan llm.StreamChunk, error) {
	var lastErr error
	for _, b := range c.Backends {
		ch, err := b.Stream(ctx, messages, opts)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		c.log.Warn("besteffort backend failed, falling through",
			zap.String("backend", b.Name()), zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, b := range c.Backends {
		vec, err := b.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		c.log.Warn("besteffort backend failed, falling through",
			zap.String("backend", b.Name()), zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) Close() error {
	var firstErr error
	for _, b := range c.Backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ llmclient.Client = (*Client)(nil)
