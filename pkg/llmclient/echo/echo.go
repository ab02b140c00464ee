// Package echo provides a dependency-free llmclient.Client used in tests and
// as the last resort of the besteffort cascade: it never calls out to a
// network service.
package echo

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
)

// Client answers completions with a canned reply and embeds text using a
// deterministic hash-derived vector, so retrieval tests have stable,
// reproducible geometry without a real embedding model.
type Client struct {
	Dimensions int
}

// New creates an echo Client. dimensions must match the Archive's configured
// vector width.
func New(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &Client{Dimensions: dimensions}
}

func (c *Client) Name() string { return "echo" }

func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts llmclient.Options) (*llm.ChatResponse, error) {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].GetText()
	}
	return &llm.ChatResponse{
		Model:      "echo",
		Message:    llm.NewTextMessage("assistant", "you said: "+last),
		Done:       true,
		StopReason: "end_turn",
		Usage:      &llm.Usage{},
	}, nil
}

func (c *Client) Stream(ctx context.Context, messages []llm.Message, opts llmclient.Options) (<-chan llm.StreamChunk, error) {
	resp, err := c.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.StreamChunk, 1)
	out <- llm.StreamChunk{
		Model:      resp.Model,
		Message:    resp.Message,
		Done:       true,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}
	close(out)
	return out, nil
}

// Embed hashes text into a deterministic unit vector. It carries no semantic
// meaning; it exists so retrieval logic can be exercised without a live
// embedding backend.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, c.Dimensions)
	var sumSq float64
	for i := range vec {
		b := sum[i%len(sum):]
		v := float32(int32(binary.BigEndian.Uint32(pad4(b)))) / float32(math.MaxInt32)
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func pad4(b []byte) []byte {
	if len(b) >= 4 {
		return b[:4]
	}
	out := make([]byte, 4)
	copy(out, b)
	return out
}

func (c *Client) Close() error { return nil }

var _ llmclient.Client = (*Client)(nil)
