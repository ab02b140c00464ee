// Package snapshot persists a Forest's topology and buffer contents to a
// libSQL-backed file, and restores it in a fresh process. "canopy tree" uses
// it to keep its Forest between sessions; "canopy serve" does not write a
// snapshot, so its in-memory state is not visible here. Grounded on the teacher's
// pkg/vector/sqlitevec use of database/sql against a local file.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/tree"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_nodes (
	node_id            TEXT PRIMARY KEY,
	tree_id            TEXT NOT NULL,
	parent_id          TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	created_at_unix_ns INTEGER NOT NULL,
	summary            TEXT NOT NULL DEFAULT '',
	follow_up_selected TEXT NOT NULL DEFAULT '',
	follow_up_context  TEXT NOT NULL DEFAULT '',
	follow_up_type     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS snapshot_turns (
	node_id             TEXT NOT NULL,
	seq                 INTEGER NOT NULL,
	role                TEXT NOT NULL,
	text                TEXT NOT NULL,
	timestamp_unix_nano INTEGER NOT NULL,
	PRIMARY KEY (node_id, seq)
);
`

// Open opens (creating if absent) a libSQL snapshot file at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("tree/snapshot: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tree/snapshot: creating schema: %w", err)
	}
	return db, nil
}

// Save writes every node reachable from forest.Roots(), its buffer turns,
// rolling summary, and active-node handle to db. Save replaces any prior
// snapshot contents wholesale; it is not incremental.
func Save(ctx context.Context, db *sql.DB, forest *tree.Forest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tree/snapshot: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"snapshot_nodes", "snapshot_turns", "snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("tree/snapshot: clearing %s: %w", table, err)
		}
	}

	for _, rootID := range forest.Roots() {
		if err := saveSubtree(ctx, tx, forest, rootID); err != nil {
			return err
		}
	}

	if active, err := forest.Active(); err == nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (key, value) VALUES ('active_node_id', ?)`,
			active.ID(),
		); err != nil {
			return fmt.Errorf("tree/snapshot: writing active node: %w", err)
		}
	}

	return tx.Commit()
}

func saveSubtree(ctx context.Context, tx *sql.Tx, forest *tree.Forest, nodeID string) error {
	node, err := forest.Get(nodeID)
	if err != nil {
		return fmt.Errorf("tree/snapshot: resolving %s: %w", nodeID, err)
	}

	var selected, followUpCtx, followUpType string
	if fu := node.FollowUp(); fu != nil {
		selected, followUpCtx, followUpType = fu.SelectedText, fu.FollowUpContext, string(fu.ContextType)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_nodes
			(node_id, tree_id, parent_id, title, created_at_unix_ns, summary,
			 follow_up_selected, follow_up_context, follow_up_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID(), node.TreeID(), node.ParentID(), node.Title(),
		node.CreatedAt().UnixNano(), node.Buffer().Summary(),
		selected, followUpCtx, followUpType,
	)
	if err != nil {
		return fmt.Errorf("tree/snapshot: writing node %s: %w", nodeID, err)
	}

	for i, turn := range node.Buffer().Recent() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_turns (node_id, seq, role, text, timestamp_unix_nano)
			VALUES (?, ?, ?, ?, ?)`,
			node.ID(), i, turn.Role, turn.Text, turn.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("tree/snapshot: writing turn %d for %s: %w", i, nodeID, err)
		}
	}

	for _, childID := range node.Children() {
		if err := saveSubtree(ctx, tx, forest, childID); err != nil {
			return err
		}
	}
	return nil
}

type snapshotNode struct {
	nodeID, treeID, parentID, title, summary string
	createdAt                                time.Time
	followUp                                 *tree.FollowUp
}

// Load reconstructs a Forest from db. maxTurns configures the Buffer
// capacity of every reconstructed node, matching the Forest.New contract.
func Load(ctx context.Context, db *sql.DB, maxTurns int, log *zap.Logger) (*tree.Forest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT node_id, tree_id, parent_id, title, created_at_unix_ns, summary,
		       follow_up_selected, follow_up_context, follow_up_type
		FROM snapshot_nodes`)
	if err != nil {
		return nil, fmt.Errorf("tree/snapshot: reading nodes: %w", err)
	}
	defer rows.Close()

	byParent := map[string][]snapshotNode{}
	var roots []snapshotNode

	for rows.Next() {
		var n snapshotNode
		var createdAtNS int64
		var followUpType string
		var selected, followUpCtx string
		if err := rows.Scan(&n.nodeID, &n.treeID, &n.parentID, &n.title, &createdAtNS, &n.summary,
			&selected, &followUpCtx, &followUpType); err != nil {
			return nil, fmt.Errorf("tree/snapshot: scanning node: %w", err)
		}
		n.createdAt = time.Unix(0, createdAtNS)
		if followUpType != "" {
			n.followUp = &tree.FollowUp{
				SelectedText:    selected,
				FollowUpContext: followUpCtx,
				ContextType:     tree.ContextType(followUpType),
			}
		}
		if n.parentID == "" {
			roots = append(roots, n)
		} else {
			byParent[n.parentID] = append(byParent[n.parentID], n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tree/snapshot: iterating nodes: %w", err)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].createdAt.Before(roots[j].createdAt) })

	forest := tree.New(maxTurns, log)
	idRemap := map[string]string{} // persisted node id -> live node id

	var restoreChildren func(ctx context.Context, db *sql.DB, persistedParentID, liveParentID string) error
	restoreChildren = func(ctx context.Context, db *sql.DB, persistedParentID, liveParentID string) error {
		children := byParent[persistedParentID]
		sort.Slice(children, func(i, j int) bool { return children[i].createdAt.Before(children[j].createdAt) })

		for _, child := range children {
			live, err := forest.CreateChild(liveParentID, child.title, child.followUp)
			if err != nil {
				return fmt.Errorf("tree/snapshot: recreating child of %s: %w", liveParentID, err)
			}
			idRemap[child.nodeID] = live.ID()
			if err := restoreTurns(ctx, db, child.nodeID, live); err != nil {
				return err
			}
			live.Buffer().ReplaceSummary(child.summary)
			if err := restoreChildren(ctx, db, child.nodeID, live.ID()); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		live := forest.CreateRoot(root.title)
		idRemap[root.nodeID] = live.ID()
		if err := restoreTurns(ctx, db, root.nodeID, live); err != nil {
			return nil, err
		}
		live.Buffer().ReplaceSummary(root.summary)
		if err := restoreChildren(ctx, db, root.nodeID, live.ID()); err != nil {
			return nil, err
		}
	}

	var activeID string
	row := db.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = 'active_node_id'`)
	if err := row.Scan(&activeID); err == nil {
		if live, ok := idRemap[activeID]; ok {
			forest.SetActive(live)
		}
	}

	return forest, nil
}

func restoreTurns(ctx context.Context, db *sql.DB, persistedNodeID string, live *tree.Node) error {
	rows, err := db.QueryContext(ctx, `
		SELECT role, text, timestamp_unix_nano FROM snapshot_turns
		WHERE node_id = ? ORDER BY seq ASC`, persistedNodeID)
	if err != nil {
		return fmt.Errorf("tree/snapshot: reading turns for %s: %w", persistedNodeID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, text string
		var tsNS int64
		if err := rows.Scan(&role, &text, &tsNS); err != nil {
			return fmt.Errorf("tree/snapshot: scanning turn: %w", err)
		}
		if _, _, err := live.Buffer().Append(role, text, time.Unix(0, tsNS)); err != nil {
			return fmt.Errorf("tree/snapshot: replaying turn onto %s: %w", live.ID(), err)
		}
	}
	return rows.Err()
}
