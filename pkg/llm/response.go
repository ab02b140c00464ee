package llm

import "time"

// ChatResponse is a completed language-model reply.
type ChatResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	Message    Message   `json:"message"`
	Done       bool      `json:"done"`
	StopReason string    `json:"stop_reason,omitempty"` // "stop", "length", "tool_use", "end_turn"
	Usage      *Usage    `json:"usage,omitempty"`
}

// Usage carries token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`

	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`

	TotalDurationNs  int64 `json:"total_duration_ns,omitempty"`
	PromptDurationNs int64 `json:"prompt_duration_ns,omitempty"`
}
