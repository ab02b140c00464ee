package eventstream

import (
	"time"

	"github.com/canopyhq/canopy/pkg/buffer"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnPersisted is emitted after a conversation turn is appended
	// to a node's buffer and (best-effort) indexed into the archive.
	EventTypeTurnPersisted = "canopy.turn.persisted"
)

// TurnPersistedEvent is a transport-neutral event payload for a turn that
// completed the orchestrator's per-turn lifecycle.
type TurnPersistedEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Source        EventSource     `json:"source"`
	RequestMeta   TurnRequestMeta `json:"request_meta"`
	Node          TurnNodeMeta    `json:"node"`
	UserTurn      buffer.Turn     `json:"user_turn"`
	AssistantTurn buffer.Turn     `json:"assistant_turn"`
}

// EventSource identifies where the turn originated.
type EventSource struct {
	Project   string `json:"project,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	Provider  string `json:"provider"`
}

// TurnRequestMeta captures request lifecycle metadata for the event.
type TurnRequestMeta struct {
	Path             string        `json:"path,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
	DurationMs       int64         `json:"duration_ms"`
	Streaming        bool          `json:"streaming"`
	HTTPStatus       int           `json:"http_status"`
	TimeToFirstToken time.Duration `json:"time_to_first_token_ns,omitempty"`
	InputTokens      int           `json:"input_tokens,omitempty"`
	OutputTokens     int           `json:"output_tokens,omitempty"`
	RetrievalRan     bool          `json:"retrieval_ran"`
}

// TurnNodeMeta identifies which node in the forest this turn belongs to.
type TurnNodeMeta struct {
	NodeID   string `json:"node_id"`
	TreeID   string `json:"tree_id"`
	ParentID string `json:"parent_id,omitempty"`
}
