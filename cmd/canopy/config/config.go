// Package configcmder provides the config command for managing persistent
// canopy configuration stored in the .canopy/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent canopy configuration.

Configuration is stored as config.toml in the .canopy/ directory and provides
default values for command flags. CLI flags and CANOPY_-prefixed environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  lm.provider, lm.model_primary, lm.model_decomposition,
  api.listen,
  buffer.max_turns, summarization.start_threshold, summarization.interval,
  retrieval.window_seconds, retrieval.top_k, retrieval.enabled_default,
  retrieval.rerank_enabled,
  archive.provider, archive.path,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions

Use subcommands to get, set, or list configuration values:
  canopy config set <key> <value>    Set a configuration value
  canopy config get <key>            Get a configuration value
  canopy config list                 List all configuration values

Examples:
  canopy config set lm.provider anthropic
  canopy config set embedding.model nomic-embed-text
  canopy config get lm.provider
  canopy config list`

const configShortDesc string = "Manage persistent canopy configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
