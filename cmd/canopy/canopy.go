// Package canopycmder wires every canopy subcommand under the root command.
package canopycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/canopyhq/canopy/cmd/canopy/auth"
	chatcmder "github.com/canopyhq/canopy/cmd/canopy/chat"
	configcmder "github.com/canopyhq/canopy/cmd/canopy/config"
	initcmder "github.com/canopyhq/canopy/cmd/canopy/init"
	searchcmder "github.com/canopyhq/canopy/cmd/canopy/search"
	servecmder "github.com/canopyhq/canopy/cmd/canopy/serve"
	treecmder "github.com/canopyhq/canopy/cmd/canopy/tree"
	versioncmder "github.com/canopyhq/canopy/cmd/version"
)

const canopyLongDesc string = `Canopy is a hierarchical memory and retrieval layer for long-running
chat agents.

Run services using:
  canopy serve          Run the API and MCP servers together
  canopy serve api      Run only the API server
  canopy serve mcp      Run only the MCP server

Work with a running server using:
  canopy chat           Start an interactive chat session
  canopy search         Search the long-term archive
  canopy tree           Browse the conversation forest

Manage local state using:
  canopy init           Initialize a .canopy directory
  canopy config         Get, set, and list configuration values
  canopy auth           Store or inspect LM provider API keys`

const canopyShortDesc string = "Canopy - hierarchical memory for chat agents"

func NewCanopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canopy",
		Short: canopyShortDesc,
		Long:  canopyLongDesc,
	}

	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .canopy/ config directory")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(treecmder.NewTreeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
