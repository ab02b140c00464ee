// Package buffer implements the bounded per-node message window (C1):
// a FIFO of recent Turns plus the rolling summary that stands in for
// whatever has been evicted from the window.
package buffer

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/llm"
)

// ErrInvalidRole is returned when Append is given a role outside {user, assistant, system}.
var ErrInvalidRole = errors.New("buffer: invalid role")

// ErrEmptyText is returned when Append is given a turn with no text content.
var ErrEmptyText = errors.New("buffer: empty text")

// Turn is one message held in a node's buffer.
type Turn struct {
	Role      string    `json:"role"` // "user", "assistant", or "system"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func validRole(role string) bool {
	return role == "user" || role == "assistant" || role == "system"
}

// Buffer is a bounded FIFO window of Turns with an associated rolling
// summary covering everything evicted so far. MaxTurns bounds the window;
// once full, Append evicts the oldest turn before admitting the new one.
type Buffer struct {
	mu sync.RWMutex

	maxTurns      int
	turns         []Turn
	summary       string
	processed     int       // total turns ever appended, used for summarization cadence
	lastTimestamp time.Time // last stamp handed out, for monotonic distinctness

	log *zap.Logger
}

// New creates an empty Buffer bounded to maxTurns. A nil logger is replaced
// with zap.NewNop() so callers never need a nil check.
func New(maxTurns int, log *zap.Logger) *Buffer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Buffer{
		maxTurns: maxTurns,
		turns:    make([]Turn, 0, maxTurns),
		log:      log,
	}
}

// Append admits a turn stamped at ts (adjusted forward by a microsecond if it
// would collide with or precede the last timestamp handed out, keeping
// timestamps within the buffer strictly increasing), evicting the oldest
// turn first if the buffer is at capacity. Returns the turn as actually
// stored (with its possibly-adjusted timestamp) and the evicted turn, if any,
// so callers can index both into the archive.
func (b *Buffer) Append(role, text string, ts time.Time) (turn Turn, evicted *Turn, err error) {
	if !validRole(role) {
		return Turn{}, nil, ErrInvalidRole
	}
	if text == "" {
		return Turn{}, nil, ErrEmptyText
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.turns) >= b.maxTurns {
		ev := b.turns[0]
		b.turns = b.turns[1:]
		evicted = &ev
		b.log.Debug("buffer evicted oldest turn",
			zap.String("role", ev.Role),
			zap.Time("timestamp", ev.Timestamp))
	}

	if !b.lastTimestamp.IsZero() && !ts.After(b.lastTimestamp) {
		ts = b.lastTimestamp.Add(time.Microsecond)
	}
	b.lastTimestamp = ts

	turn = Turn{Role: role, Text: text, Timestamp: ts}
	b.turns = append(b.turns, turn)
	b.processed++

	b.log.Debug("buffer appended turn",
		zap.String("role", role),
		zap.Int("size", len(b.turns)),
		zap.Int("processed", b.processed))

	return turn, evicted, nil
}

// Recent returns a copy of the turns currently held in the window, oldest first.
func (b *Buffer) Recent() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Summary returns the current rolling summary text, empty if none exists yet.
func (b *Buffer) Summary() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summary
}

// ReplaceSummary overwrites the rolling summary. It never touches the
// buffer's turns: summarization is side-effect-free on the window itself.
func (b *Buffer) ReplaceSummary(summary string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = summary
}

// Processed returns the total number of turns ever appended to this buffer,
// used by the summarizer's cadence check.
func (b *Buffer) Processed() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.processed
}

// OldestTimestamp returns the timestamp of the oldest turn still held in the
// window. It is the cutoff below which archive retrieval must not duplicate
// what the buffer already holds verbatim. ok is false for an empty buffer.
func (b *Buffer) OldestTimestamp() (ts time.Time, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.turns) == 0 {
		return time.Time{}, false
	}
	return b.turns[0].Timestamp, true
}

// Oldest returns a copy of the n oldest turns still held in the window,
// oldest first. If fewer than n turns are held, it returns all of them.
// Turns returned here remain in the buffer; they are not evicted by this
// call and may be evicted later by ordinary capacity pressure.
func (b *Buffer) Oldest(n int) []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.turns) {
		n = len(b.turns)
	}
	out := make([]Turn, n)
	copy(out, b.turns[:n])
	return out
}

// Len returns the number of turns currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

// ToLLMMessages converts the current window to llm.Message values in order,
// for prompt assembly.
func (b *Buffer) ToLLMMessages() []llm.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := make([]llm.Message, len(b.turns))
	for i, t := range b.turns {
		msgs[i] = llm.NewTextMessage(t.Role, t.Text)
	}
	return msgs
}
