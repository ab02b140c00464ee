package llm

// Message is a single turn in a prompt sent to a language model. Content is
// an array of ContentBlocks so a message can carry text alongside tool calls
// without a separate wire format per block kind.
type Message struct {
	Role    string         `json:"role"` // "system", "user", "assistant", "tool"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one piece of content within a Message. Type determines
// which other fields are populated.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	Text string `json:"text,omitempty"`

	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	ToolResultID string `json:"tool_result_id,omitempty"`
	ToolOutput   string `json:"tool_output,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

// GetText concatenates the text blocks of a message. Non-text blocks are
// ignored, which is the right behavior for prompt assembly.
func (m *Message) GetText() string {
	var result string
	for _, block := range m.Content {
		if block.Type == "text" {
			result += block.Text
		}
	}
	return result
}
