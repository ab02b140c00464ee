package tree

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a node id does not resolve to any node.
type ErrNotFound struct {
	NodeID string
}

func (e ErrNotFound) Error() string {
	if e.NodeID == "" {
		return "tree: node not found"
	}
	return "tree: node not found: " + e.NodeID
}

// Forest is the registry of every node across every tree: node_id -> Node,
// tree_id -> root node_id, plus an active_node_id handle for clients that
// want a session-like model instead of tracking node ids themselves.
//
// Reads (Get, PathTitles) take the read lock only; writes (CreateRoot,
// CreateChild, Delete) take the write lock, and the lock is held only long
// enough to update the maps, never across a Buffer mutation or an LM call.
type Forest struct {
	mu sync.RWMutex

	nodes        map[string]*Node
	roots        map[string]string // tree_id -> root node_id
	activeNodeID string

	maxTurns int
	log      *zap.Logger
}

// New creates an empty Forest. maxTurns is the buffer capacity every node in
// this forest is created with.
func New(maxTurns int, log *zap.Logger) *Forest {
	if log == nil {
		log = zap.NewNop()
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Forest{
		nodes:    make(map[string]*Node),
		roots:    make(map[string]string),
		maxTurns: maxTurns,
		log:      log,
	}
}

// CreateRoot starts a new tree and returns its root node. An empty title
// defaults to DefaultTitle, the sentinel title generation checks against.
func (f *Forest) CreateRoot(title string) *Node {
	if title == "" {
		title = DefaultTitle
	}
	n := newNode(title, "", "", nil, f.maxTurns, f.log)
	n.treeID = n.id // a root is its own tree id

	f.mu.Lock()
	f.nodes[n.id] = n
	f.roots[n.treeID] = n.id
	f.mu.Unlock()

	return n
}

// CreateChild links a new child under parentID. It fails if the parent does
// not exist; the child inherits no buffer content, only the tree id and,
// optionally, a follow-up record.
func (f *Forest) CreateChild(parentID, title string, followUp *FollowUp) (*Node, error) {
	f.mu.RLock()
	parent, ok := f.nodes[parentID]
	f.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound{NodeID: parentID}
	}

	if title == "" {
		title = DefaultTitle
	}
	child := newNode(title, parentID, parent.TreeID(), followUp, f.maxTurns, f.log)

	f.mu.Lock()
	f.nodes[child.id] = child
	f.mu.Unlock()

	parent.addChildID(child.id)
	return child, nil
}

// Get resolves a node id.
func (f *Forest) Get(nodeID string) (*Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound{NodeID: nodeID}
	}
	return n, nil
}

// Root returns the root of the tree containing nodeID.
func (f *Forest) Root(nodeID string) (*Node, error) {
	n, err := f.Get(nodeID)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	rootID, ok := f.roots[n.TreeID()]
	f.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound{NodeID: n.TreeID()}
	}
	return f.Get(rootID)
}

// SetActive records nodeID as the active node for clients without a session
// cookie of their own. It does not validate that nodeID exists: a client
// may set an active node before or after deletion races, and Active() surfaces
// the not-found error at lookup time instead.
func (f *Forest) SetActive(nodeID string) {
	f.mu.Lock()
	f.activeNodeID = nodeID
	f.mu.Unlock()
}

// Active resolves the current active node, if any has been set.
func (f *Forest) Active() (*Node, error) {
	f.mu.RLock()
	id := f.activeNodeID
	f.mu.RUnlock()
	if id == "" {
		return nil, ErrNotFound{}
	}
	return f.Get(id)
}

// PathTitles returns titles from root to nodeID, for UI breadcrumbs. It is
// never consulted during prompt assembly; only EnhancedFollowUpPrompt is.
func (f *Forest) PathTitles(nodeID string) ([]string, error) {
	var reversed []string
	current := nodeID
	for {
		n, err := f.Get(current)
		if err != nil {
			return nil, fmt.Errorf("tree: walking path to %s: %w", nodeID, err)
		}
		reversed = append(reversed, n.Title())
		if n.ParentID() == "" {
			break
		}
		current = n.ParentID()
	}

	titles := make([]string, len(reversed))
	for i, t := range reversed {
		titles[len(reversed)-1-i] = t
	}
	return titles, nil
}

// Delete removes nodeID and its entire subtree, depth-first. Archive records
// belonging to evicted nodes are intentionally left untouched: long-term
// memory persists beyond node death.
func (f *Forest) Delete(nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[nodeID]
	if !ok {
		return ErrNotFound{NodeID: nodeID}
	}

	f.deleteSubtreeLocked(n)

	if f.roots[n.TreeID()] == nodeID {
		delete(f.roots, n.TreeID())
	}
	if f.activeNodeID == nodeID {
		f.activeNodeID = ""
	}
	return nil
}

func (f *Forest) deleteSubtreeLocked(n *Node) {
	for _, childID := range n.Children() {
		if child, ok := f.nodes[childID]; ok {
			f.deleteSubtreeLocked(child)
		}
	}
	delete(f.nodes, n.id)
}

// NewNodeID is exposed so callers that need to pre-allocate an id (e.g. for
// idempotent request handling) can mint one the same way the forest does.
func NewNodeID() string {
	return uuid.NewString()
}

// Count returns the number of nodes registered, for tests and metrics.
func (f *Forest) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.nodes)
}

// Roots returns the root node id of every tree currently registered, for
// callers that need to enumerate the whole Forest (e.g. the tree browser).
// Order is unspecified.
func (f *Forest) Roots() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.roots))
	for _, rootID := range f.roots {
		out = append(out, rootID)
	}
	return out
}
