// Package ollama implements llmclient.Client against a local Ollama daemon,
// grounded on the teacher's pkg/embeddings/ollama HTTP client.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
)

const (
	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used for chat completions when Options.Model is empty.
	DefaultModel = "llama3.1"

	// DefaultEmbeddingModel is used for Embed.
	DefaultEmbeddingModel = "nomic-embed-text"
)

// Client wraps Ollama's chat and embedding APIs.
type Client struct {
	baseURL        string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// New creates a Client against an Ollama daemon.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	return &Client{
		baseURL:        baseURL,
		model:          model,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *Client) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model      string      `json:"model"`
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason,omitempty"`
	EvalCount  int         `json:"eval_count,omitempty"`
	PromptEval int         `json:"prompt_eval_count,omitempty"`
}

func toOllamaMessages(messages []llm.Message, system string) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.GetText()})
	}
	return out
}

func (c *Client) resolveModel(opts llmclient.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts llmclient.Options) (*llm.ChatResponse, error) {
	reqBody := chatRequest{
		Model:    c.resolveModel(opts),
		Messages: toOllamaMessages(messages, opts.System),
		Stream:   false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llmclient.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", llmclient.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llmclient.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", llmclient.ErrUnavailable, resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", llmclient.ErrUnavailable, err)
	}

	return &llm.ChatResponse{
		Model:      cr.Model,
		Message:    llm.NewTextMessage("assistant", cr.Message.Content),
		Done:       true,
		StopReason: cr.DoneReason,
		Usage: &llm.Usage{
			PromptTokens:     cr.PromptEval,
			CompletionTokens: cr.EvalCount,
			TotalTokens:      cr.PromptEval + cr.EvalCount,
		},
	}, nil
}

func (c *Client) Stream(ctx context.Context, messages []llm.Message, opts llmclient.Options) (<-chan llm.StreamChunk, error) {
	reqBody := chatRequest{
		Model:    c.resolveModel(opts),
		Messages: toOllamaMessages(messages, opts.System),
		Stream:   true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llmclient.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", llmclient.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llmclient.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", llmclient.ErrUnavailable, resp.StatusCode, string(b))
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var cr chatResponse
			if err := json.Unmarshal(line, &cr); err != nil {
				continue
			}

			chunk := llm.StreamChunk{
				Model:   cr.Model,
				Message: llm.NewTextMessage("assistant", cr.Message.Content),
				Done:    cr.Done,
			}
			if cr.Done {
				chunk.StopReason = cr.DoneReason
				chunk.Usage = &llm.Usage{
					PromptTokens:     cr.PromptEval,
					CompletionTokens: cr.EvalCount,
					TotalTokens:      cr.PromptEval + cr.EvalCount,
				}
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embedRequest{Model: c.embeddingModel, Input: text}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llmclient.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", llmclient.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llmclient.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", llmclient.ErrUnavailable, resp.StatusCode, string(b))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", llmclient.ErrUnavailable, err)
	}
	if len(er.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", llmclient.ErrUnavailable)
	}
	return er.Embeddings[0], nil
}

func (c *Client) Close() error { return nil }

var _ llmclient.Client = (*Client)(nil)
