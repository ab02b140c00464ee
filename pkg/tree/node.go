// Package tree implements the conversation forest: nodes own a buffer each,
// link to a parent by id only, and carry the follow-up record that is the
// sole channel through which parent context reaches a child's prompt.
// The registry shape (RWMutex-guarded map, ancestry walk, not-found error)
// is grounded on the teacher's pkg/storage/inmemory node store.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/buffer"
	"github.com/canopyhq/canopy/pkg/llm"
)

// DefaultTitle is the title a node is given at creation when no title is
// supplied. The orchestrator checks against this to decide whether a node
// is still eligible for one-time title generation.
const DefaultTitle = "New Chat"

// ContextType classifies why a child node was created.
type ContextType string

const (
	ContextFollowUp ContextType = "follow_up"
	ContextNewTopic ContextType = "new_topic"
	ContextGeneral  ContextType = "general"
)

// FollowUp captures what motivated a child node's creation. It is set once,
// at creation, and never mutated afterward.
type FollowUp struct {
	SelectedText    string      `json:"selected_text"`
	FollowUpContext string      `json:"follow_up_context"`
	ContextType     ContextType `json:"context_type"`
}

// Node is one point in the conversation forest. Its id is opaque and
// immutable; its parent link is a weak reference by id only, while its
// children list is strong ownership. Each node owns exactly one Buffer.
type Node struct {
	mu sync.Mutex

	// turnMu serializes whole turns on this node: the orchestrator holds it
	// for the full duration of a turn, including the LM call, so that turn
	// N's assistant message is appended before turn N+1's user message is
	// even read. It is distinct from Buffer's own internal mutex, which
	// protects only individual snapshot/append operations and is never held
	// across an LM call.
	turnMu sync.Mutex

	id        string
	title     string
	parentID  string // empty for roots
	treeID    string
	children  []string
	followUp  *FollowUp
	createdAt time.Time

	titledOnce bool

	buf *buffer.Buffer
}

// newNode constructs a node with a fresh buffer. Not exported: nodes are
// only ever created through a Forest, which owns id assignment and registry
// bookkeeping.
func newNode(title, parentID, treeID string, followUp *FollowUp, maxTurns int, log *zap.Logger) *Node {
	return &Node{
		id:        uuid.NewString(),
		title:     title,
		parentID:  parentID,
		treeID:    treeID,
		followUp:  followUp,
		createdAt: time.Now(),
		buf:       buffer.New(maxTurns, log),
	}
}

func (n *Node) ID() string { return n.id }

func (n *Node) TreeID() string { return n.treeID }

func (n *Node) ParentID() string { return n.parentID }

func (n *Node) CreatedAt() time.Time { return n.createdAt }

func (n *Node) Buffer() *buffer.Buffer { return n.buf }

// LockTurn and UnlockTurn bracket a full turn's processing on this node.
func (n *Node) LockTurn()   { n.turnMu.Lock() }
func (n *Node) UnlockTurn() { n.turnMu.Unlock() }

func (n *Node) FollowUp() *FollowUp {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.followUp
}

func (n *Node) Title() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.title
}

// SetTitle renames the node. Mutating operations are atomic with respect to
// concurrent reads of Title.
func (n *Node) SetTitle(title string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.title = title
}

// ClaimTitleGeneration reports whether this call is the first to claim the
// one-time title generation slot for this node, atomically marking it
// claimed. Only nodes still at DefaultTitle are eligible; the orchestrator
// checks Title() == DefaultTitle before calling this.
func (n *Node) ClaimTitleGeneration() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.titledOnce {
		return false
	}
	n.titledOnce = true
	return true
}

// Children returns a snapshot of the child node ids, in creation order.
func (n *Node) Children() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) addChildID(childID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, childID)
}

// EnhancedFollowUpPrompt composes the single system message that carries a
// child's follow-up record into its own prompt assembly. It is the only way
// parent semantics reach a child; it returns "" when there is no follow-up.
func (n *Node) EnhancedFollowUpPrompt() string {
	fu := n.FollowUp()
	if fu == nil {
		return ""
	}
	return fmt.Sprintf(
		"Follow-up context: user selected %q from the parent; focus narrowly on %s.",
		fu.SelectedText, fu.FollowUpContext,
	)
}

// FollowUpMessage wraps EnhancedFollowUpPrompt as a system Message, or the zero
// value with ok=false when there is nothing to say.
func (n *Node) FollowUpMessage() (llm.Message, bool) {
	prompt := n.EnhancedFollowUpPrompt()
	if prompt == "" {
		return llm.Message{}, false
	}
	return llm.NewTextMessage("system", prompt), true
}
