package llm

import "time"

// StreamChunk is one increment of a streaming completion.
type StreamChunk struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	Message    Message   `json:"message"` // partial content for this chunk
	Done       bool      `json:"done"`
	StopReason string    `json:"stop_reason,omitempty"` // set only on the final chunk
	Usage      *Usage    `json:"usage,omitempty"`       // set only on the final chunk
}
