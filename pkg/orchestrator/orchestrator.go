// Package orchestrator implements the chat orchestrator (C9): the per-turn
// lifecycle that ties together node resolution, buffer append, retrieval,
// prompt assembly, LM streaming, and archive indexing.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/assemble"
	"github.com/canopyhq/canopy/pkg/buffer"
	"github.com/canopyhq/canopy/pkg/decompose"
	"github.com/canopyhq/canopy/pkg/embedding"
	"github.com/canopyhq/canopy/pkg/eventstream"
	"github.com/canopyhq/canopy/pkg/eventstream/nop"
	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
	"github.com/canopyhq/canopy/pkg/retrieve"
	"github.com/canopyhq/canopy/pkg/summarizer"
	"github.com/canopyhq/canopy/pkg/tree"
)

// EventType names the frames streamed to a turn's caller.
type EventType string

const (
	EventToken EventType = "token"
	EventTitle EventType = "title"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one frame of a streamed turn.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Metrics summarizes one turn for logs and tests; nothing here is persisted.
type Metrics struct {
	InputTokens        int
	OutputTokens       int
	TimeToFirstToken   time.Duration
	TimeToCompletion   time.Duration
	RetrievalRan       bool
	RetrievedRecordCount int
}

// Orchestrator runs turns against a Forest.
type Orchestrator struct {
	forest     *tree.Forest
	chat       llmclient.Client
	chatModel  string
	titleModel string

	archiveDriver archive.Driver
	embedder      embedding.Embedder
	decomposer    *decompose.Decomposer
	retriever     *retrieve.Retriever
	summarizer    *summarizer.Summarizer

	retrievalEnabledDefault bool

	publisher eventstream.Publisher

	log *zap.Logger
}

// Config wires an Orchestrator's dependencies.
type Config struct {
	Forest     *tree.Forest
	Chat       llmclient.Client
	ChatModel  string
	TitleModel string

	Archive    archive.Driver
	Embedder   embedding.Embedder
	Decomposer *decompose.Decomposer
	Retriever  *retrieve.Retriever
	Summarizer *summarizer.Summarizer

	RetrievalEnabledDefault bool

	// Publisher receives a TurnPersistedEvent after every completed turn.
	// Defaults to a no-op publisher when nil.
	Publisher eventstream.Publisher

	Log *zap.Logger
}

// New creates an Orchestrator from Config.
func New(c Config) *Orchestrator {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	publisher := c.Publisher
	if publisher == nil {
		publisher = nop.New()
	}
	return &Orchestrator{
		forest:                  c.Forest,
		chat:                    c.Chat,
		chatModel:               c.ChatModel,
		titleModel:              c.TitleModel,
		archiveDriver:           c.Archive,
		embedder:                c.Embedder,
		decomposer:              c.Decomposer,
		retriever:               c.Retriever,
		summarizer:              c.Summarizer,
		retrievalEnabledDefault: c.RetrievalEnabledDefault,
		publisher:               publisher,
		log:                     log,
	}
}

// Handle resolves nodeID, appends the user turn, assembles the prompt, and
// runs the completion to fullness (no incremental delivery). It is the
// non-streaming counterpart to Stream, used by
// POST /api/conversations/{node_id}/messages.
func (o *Orchestrator) Handle(ctx context.Context, nodeID, userText string, disableRAG bool) (responseText string, titleChanged string, metrics Metrics, err error) {
	events, metricsResult, err := o.stream(ctx, nodeID, userText, disableRAG)
	if err != nil {
		return "", "", Metrics{}, err
	}

	var sb strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventToken:
			sb.WriteString(ev.Content)
		case EventTitle:
			titleChanged = ev.Content
		case EventError:
			return "", "", Metrics{}, fmt.Errorf("orchestrator: %s", ev.Content)
		}
	}

	return sb.String(), titleChanged, <-metricsResult, nil
}

// Stream resolves nodeID, appends the user turn, assembles the prompt, and
// streams the completion. Events are emitted in this order: zero or more
// token events, an optional title event, then exactly one of done or error.
// The returned channel is closed after the terminal event.
func (o *Orchestrator) Stream(ctx context.Context, nodeID, userText string, disableRAG bool) (<-chan Event, error) {
	events, _, err := o.stream(ctx, nodeID, userText, disableRAG)
	return events, err
}

func (o *Orchestrator) stream(ctx context.Context, nodeID, userText string, disableRAG bool) (<-chan Event, <-chan Metrics, error) {
	node, err := o.forest.Get(nodeID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(userText) == "" {
		return nil, nil, fmt.Errorf("orchestrator: empty message")
	}

	events := make(chan Event)
	metricsResult := make(chan Metrics, 1)

	go o.runTurn(ctx, node, userText, disableRAG, events, metricsResult)

	return events, metricsResult, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, node *tree.Node, userText string, disableRAG bool, events chan<- Event, metricsCh chan<- Metrics) {
	defer close(events)
	defer close(metricsCh)

	// Turn N's assistant message must be appended before turn N+1's user
	// message is even read; held for the whole turn, including the LM call.
	node.LockTurn()
	defer node.UnlockTurn()

	start := time.Now()
	metrics := Metrics{}

	buf := node.Buffer()
	userTurn, _, err := buf.Append("user", userText, time.Now())
	if err != nil {
		events <- Event{Type: EventError, Content: err.Error()}
		return
	}
	o.indexBestEffort(ctx, node, "user", userText, userTurn.Timestamp)

	promptInput := assemble.Input{
		FollowUpPrompt: node.EnhancedFollowUpPrompt(),
		Summary:        buf.Summary(),
		Buffer:         buf.Recent(),
		UserText:       userText,
	}

	retrievalEnabled := o.retrievalEnabledDefault && !disableRAG
	if retrievalEnabled && o.decomposer != nil && o.retriever != nil {
		subQueries := o.decomposer.Decompose(ctx, userText)
		oldest, ok := buf.OldestTimestamp()
		cutoff := retrieve.CutoffFor(oldest, ok)

		records, err := o.retriever.Retrieve(ctx, subQueries, cutoff)
		if err != nil {
			o.log.Warn("retrieval failed, proceeding without archive memory", zap.Error(err))
		} else if len(records) > 0 {
			promptInput.Retrieved = records
			metrics.RetrievalRan = true
			metrics.RetrievedRecordCount = len(records)
		}
	}

	messages := assemble.Assemble(promptInput)

	chunks, err := o.chat.Stream(ctx, messages, llmclient.Options{Model: o.chatModel})
	if err != nil {
		events <- Event{Type: EventError, Content: err.Error()}
		return
	}

	var assistantText strings.Builder
	var sawFirstToken, sawDone bool

	for chunk := range chunks {
		if ctx.Err() != nil {
			// Client disconnected: discard whatever prefix was produced, no
			// partial persistence.
			return
		}

		if text := chunk.Message.GetText(); text != "" {
			if !sawFirstToken {
				metrics.TimeToFirstToken = time.Since(start)
				sawFirstToken = true
			}
			assistantText.WriteString(text)
			events <- Event{Type: EventToken, Content: text}
		}

		if chunk.Done {
			sawDone = true
			if chunk.Usage != nil {
				metrics.InputTokens = chunk.Usage.PromptTokens
				metrics.OutputTokens = chunk.Usage.CompletionTokens
			}
		}
	}

	if !sawDone {
		// The channel closed without a terminal Done chunk: a failure
		// mid-stream. Leave the user turn in place, do not persist any
		// assistant prefix, and end the stream with an error frame.
		events <- Event{Type: EventError, Content: "language model stream ended unexpectedly"}
		return
	}

	metrics.TimeToCompletion = time.Since(start)

	finalText := assistantText.String()
	if finalText != "" {
		assistantTurn, _, err := buf.Append("assistant", finalText, time.Now())
		if err != nil {
			o.log.Warn("failed to append assistant turn", zap.Error(err))
		} else {
			o.indexBestEffort(ctx, node, "assistant", finalText, assistantTurn.Timestamp)
			o.publishTurn(ctx, node, userTurn, assistantTurn, start, metrics)
		}

		if o.summarizer != nil {
			if err := o.summarizer.MaybeSummarize(ctx, buf); err != nil {
				o.log.Warn("summarization failed", zap.Error(err))
			}
		}

		if node.Title() == tree.DefaultTitle && node.ClaimTitleGeneration() {
			if title, err := o.generateTitle(ctx, userText, finalText); err == nil && title != "" {
				node.SetTitle(title)
				events <- Event{Type: EventTitle, Content: title}
			} else if err != nil {
				o.log.Warn("title generation failed", zap.Error(err))
			}
		}
	}

	events <- Event{Type: EventDone}
	metricsCh <- metrics
}

func (o *Orchestrator) generateTitle(ctx context.Context, userText, assistantText string) (string, error) {
	prompt := fmt.Sprintf(
		"Produce a short title (max 6 words, no punctuation at the end) for a conversation that starts:\nUser: %s\nAssistant: %s",
		userText, assistantText,
	)
	resp, err := o.chat.Complete(ctx, []llm.Message{llm.NewTextMessage("user", prompt)}, llmclient.Options{
		Model:     o.titleModel,
		MaxTokens: 24,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.GetText()), nil
}

// publishTurn emits a TurnPersistedEvent for the completed turn. Publish
// failures are logged and swallowed, same as archive indexing: the event
// stream is an observability sink, not part of the turn's durability
// guarantee.
func (o *Orchestrator) publishTurn(ctx context.Context, node *tree.Node, userTurn, assistantTurn buffer.Turn, start time.Time, metrics Metrics) {
	event := &eventstream.TurnPersistedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeTurnPersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now(),
		Source:        eventstream.EventSource{Provider: o.chatModel},
		RequestMeta: eventstream.TurnRequestMeta{
			StartedAt:        start,
			CompletedAt:      time.Now(),
			DurationMs:       metrics.TimeToCompletion.Milliseconds(),
			Streaming:        true,
			TimeToFirstToken: metrics.TimeToFirstToken,
			InputTokens:      metrics.InputTokens,
			OutputTokens:     metrics.OutputTokens,
			RetrievalRan:     metrics.RetrievalRan,
		},
		Node: eventstream.TurnNodeMeta{
			NodeID:   node.ID(),
			TreeID:   node.TreeID(),
			ParentID: node.ParentID(),
		},
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
	}

	if err := o.publisher.PublishTurn(ctx, event); err != nil {
		o.log.Warn("publishing turn event failed", zap.Error(err))
	}
}

// indexBestEffort writes a turn to the archive without letting a failure
// affect the live turn. Failures are logged and swallowed.
func (o *Orchestrator) indexBestEffort(ctx context.Context, node *tree.Node, role, text string, ts time.Time) {
	if o.archiveDriver == nil || o.embedder == nil {
		return
	}

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		o.log.Warn("archive embedding failed, skipping index", zap.Error(err))
		return
	}

	record := archive.Record{
		ID:                   uuid.NewString(),
		NodeID:               node.ID(),
		Role:                 role,
		Text:                 text,
		Timestamp:            ts,
		NodeTitleAtIndexTime: node.Title(),
		Embedding:            vec,
	}
	if err := o.archiveDriver.Index(ctx, record); err != nil {
		o.log.Warn("archive index failed, continuing turn", zap.Error(err))
	}
}
