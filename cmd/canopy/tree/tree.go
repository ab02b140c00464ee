// Package treecmder provides the tree command: a terminal browser over a
// canopy Forest snapshot, for picking the active node and inspecting its
// buffer, summary, and follow-up context.
package treecmder

import (
	"context"
	"fmt"
	"path/filepath"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/canopyhq/canopy/pkg/dotdir"
	"github.com/canopyhq/canopy/pkg/tree/snapshot"
)

type treeCommander struct {
	snapshotPath string
	maxTurns     int
}

const treeLongDesc string = `Browse a canopy conversation Forest in the terminal.

Reads the Forest snapshot a prior "canopy tree" session wrote to disk
("canopy serve" does not write one), renders every tree and node in it,
and lets an operator pick the active node, inspect its buffer, rolling
summary, and follow-up context, and check the node back out for
"canopy chat" to resume.

Examples:
  canopy tree
  canopy tree --snapshot ./my-forest.db`

const treeShortDesc string = "Browse the conversation forest"

func NewTreeCmd() *cobra.Command {
	cmder := &treeCommander{}

	cmd := &cobra.Command{
		Use:   "tree",
		Short: treeShortDesc,
		Long:  treeLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	cmd.Flags().StringVar(&cmder.snapshotPath, "snapshot", "", "Path to the Forest snapshot file (default: .canopy/forest.db)")
	cmd.Flags().IntVar(&cmder.maxTurns, "buffer-max-turns", 15, "Buffer capacity for nodes restored from the snapshot")

	return cmd
}

func (c *treeCommander) run() error {
	ctx := context.Background()

	path, err := c.resolveSnapshotPath()
	if err != nil {
		return err
	}

	db, err := snapshot.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	forest, err := snapshot.Load(ctx, db, c.maxTurns, nil)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	model := newModel(forest)

	program := tea.NewProgram(model)
	finalModel, err := program.Run()
	if err != nil {
		return fmt.Errorf("running tree browser: %w", err)
	}

	m, ok := finalModel.(treeModel)
	if !ok || m.pickedNodeID == "" {
		return nil
	}

	if err := snapshot.Save(ctx, db, forest); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	dotdirManager := dotdir.NewManager()
	if err := dotdirManager.SaveCheckout(&dotdir.CheckoutState{NodeID: m.pickedNodeID}, ""); err != nil {
		return fmt.Errorf("checking out node: %w", err)
	}

	fmt.Printf("Checked out %s. Run \"canopy chat\" to resume.\n", m.pickedNodeID)
	return nil
}

func (c *treeCommander) resolveSnapshotPath() (string, error) {
	if c.snapshotPath != "" {
		return c.snapshotPath, nil
	}

	dotdirManager := dotdir.NewManager()
	dir, err := dotdirManager.Target("")
	if err != nil {
		return "", fmt.Errorf("resolving .canopy directory: %w", err)
	}

	return filepath.Join(dir, "forest.db"), nil
}
