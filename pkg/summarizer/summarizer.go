// Package summarizer implements the rolling summarizer (C2): a trigger rule
// over a buffer's processed-turn count, and an LM-backed merge step that
// folds the oldest window of turns into the running summary.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/buffer"
	"github.com/canopyhq/canopy/pkg/llm"
	"github.com/canopyhq/canopy/pkg/llmclient"
)

const (
	// StartThreshold is the minimum number of processed turns before the
	// first summarization can fire.
	StartThreshold = 15

	// Interval is the cadence, in processed turns, between summarizations
	// once StartThreshold has been reached.
	Interval = 5
)

// ShouldSummarize reports whether processed turns warrants a new
// summarization pass. The cadence is bit-exact: fire at processed==15, then
// every 5 turns after (20, 25, 30, ...).
func ShouldSummarize(processed int) bool {
	if processed < StartThreshold {
		return false
	}
	return (processed-StartThreshold)%Interval == 0
}

// Summarizer merges the oldest Interval turns of a buffer into its rolling
// summary, using an llmclient.Client to do the actual condensation.
type Summarizer struct {
	client llmclient.Client
	model  string
	log    *zap.Logger
}

// New creates a Summarizer backed by client, using model for the
// summarization completion (empty uses the client's default).
func New(client llmclient.Client, model string, log *zap.Logger) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{client: client, model: model, log: log}
}

// MaybeSummarize checks the buffer's processed count and, if the cadence
// fires, summarizes the oldest Interval turns still held in the live buffer
// and merges the result with any prior summary via ReplaceSummary. It is
// side-effect-free on the buffer's turn window itself: those turns remain
// in the buffer after summarization and may be evicted later by ordinary
// capacity pressure, independent of this call.
func (s *Summarizer) MaybeSummarize(ctx context.Context, b *buffer.Buffer) error {
	processed := b.Processed()
	if !ShouldSummarize(processed) {
		return nil
	}

	window := b.Oldest(Interval)
	if len(window) == 0 {
		return nil
	}

	prior := b.Summary()
	prompt := buildSummaryPrompt(prior, window)

	resp, err := s.client.Complete(ctx, []llm.Message{llm.NewTextMessage("user", prompt)}, llmclient.Options{
		Model:       s.model,
		System:      "You condense conversation history into a terse running summary. Respond with only the summary text.",
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		s.log.Warn("summarization failed, keeping prior summary", zap.Error(err))
		return fmt.Errorf("summarizer: complete: %w", err)
	}

	merged := strings.TrimSpace(resp.Message.GetText())
	if merged == "" {
		return nil
	}

	b.ReplaceSummary(merged)
	s.log.Debug("rolling summary updated", zap.Int("processed", processed), zap.Int("window", len(window)))
	return nil
}

func buildSummaryPrompt(prior string, window []buffer.Turn) string {
	var sb strings.Builder
	if prior != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(prior)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New turns to fold in:\n")
	for _, t := range window {
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.Role, t.Text))
	}
	sb.WriteString("\nProduce one updated summary covering the previous summary plus the new turns above.")
	return sb.String()
}
