// Package anthropic implements llmclient.Client against the Anthropic
// Messages API, reusing the wire shapes the teacher's wire-sniffing
// provider/anthropic package already defined for inbound parsing, now as an
// outbound request/response codec.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
	"github.com/canopyhq/canopy/pkg/sse"
)

const (
	// DefaultBaseURL is Anthropic's public API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel used when Options.Model is empty.
	DefaultModel = "claude-sonnet-4-5"

	anthropicVersion = "2023-06-01"
)

// Client speaks the Anthropic Messages API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// New creates a Client. APIKey is required; Complete/Stream return
// llmclient.ErrUnavailable if it is empty.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func toAnthropicMessages(messages []llm.Message) []anthropicMessage {
	out := make([]anthropicMessage, len(messages))
	for i, m := range messages {
		out[i] = anthropicMessage{Role: m.Role, Content: m.GetText()}
	}
	return out
}

func (c *Client) buildRequest(messages []llm.Message, opts llmclient.Options, stream bool) anthropicRequest {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	req := anthropicRequest{
		Model:     model,
		Messages:  toAnthropicMessages(messages),
		System:    opts.System,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	return req
}

func (c *Client) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("x-api-key", c.apiKey)
	return req, nil
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts llmclient.Options) (*llm.ChatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no anthropic api key configured", llmclient.ErrUnavailable)
	}

	body, err := json.Marshal(c.buildRequest(messages, opts, false))
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llmclient.ErrUnavailable, err)
	}

	req, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", llmclient.ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llmclient.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: anthropic returned status %d: %s", llmclient.ErrUnavailable, resp.StatusCode, string(b))
	}

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", llmclient.ErrUnavailable, err)
	}

	var text string
	for _, block := range ar.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llm.ChatResponse{
		Model:      ar.Model,
		Message:    llm.NewTextMessage("assistant", text),
		Done:       true,
		StopReason: ar.StopReason,
		Usage: &llm.Usage{
			PromptTokens:             ar.Usage.InputTokens,
			CompletionTokens:         ar.Usage.OutputTokens,
			TotalTokens:              ar.Usage.InputTokens + ar.Usage.OutputTokens,
			CacheCreationInputTokens: ar.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     ar.Usage.CacheReadInputTokens,
		},
	}, nil
}

// streamEvent mirrors the subset of Anthropic's SSE message-stream event
// payloads canopy needs to assemble incremental text.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Model string `json:"model"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

func (c *Client) Stream(ctx context.Context, messages []llm.Message, opts llmclient.Options) (<-chan llm.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no anthropic api key configured", llmclient.ErrUnavailable)
	}

	body, err := json.Marshal(c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llmclient.ErrUnavailable, err)
	}

	req, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", llmclient.ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llmclient.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: anthropic returned status %d: %s", llmclient.ErrUnavailable, resp.StatusCode, string(b))
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		tee := sse.NewTeeReader(resp.Body, io.Discard)
		model := c.model
		var usage anthropicUsage

		for {
			event, err := tee.Next()
			if err != nil || event == nil {
				return
			}

			var se streamEvent
			if err := json.Unmarshal([]byte(event.Data), &se); err != nil {
				continue
			}

			switch se.Type {
			case "message_start":
				if se.Message.Model != "" {
					model = se.Message.Model
				}
			case "content_block_delta":
				if se.Delta.Type == "text_delta" {
					select {
					case out <- llm.StreamChunk{Model: model, Message: llm.NewTextMessage("assistant", se.Delta.Text)}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				usage.OutputTokens = se.Usage.OutputTokens
			case "message_stop":
				select {
				case out <- llm.StreamChunk{
					Model:      model,
					Done:       true,
					StopReason: "end_turn",
					Usage: &llm.Usage{
						CompletionTokens: usage.OutputTokens,
					},
				}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out, nil
}

// Embed is unsupported: Anthropic's Messages API has no embedding endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: anthropic client does not implement embeddings", llmclient.ErrUnavailable)
}

func (c *Client) Close() error { return nil }

var _ llmclient.Client = (*Client)(nil)
