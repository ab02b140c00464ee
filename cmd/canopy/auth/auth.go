// Package authcmder provides the auth command for storing and managing
// LM provider API keys in the .canopy/ directory.
package authcmder

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/canopyhq/canopy/pkg/cliui"
	"github.com/canopyhq/canopy/pkg/credentials"
)

const authLongDesc string = `Store or inspect LM provider API keys.

Keys are written to credentials.toml in the .canopy/ directory (0600
permissions) and are read by canopy serve and canopy serve api as a
fallback when --api-key is empty (for canopy serve, --api-key defaults
to ANTHROPIC_API_KEY).

Examples:
  canopy auth anthropic              Prompt for and store an Anthropic API key
  echo "$KEY" | canopy auth anthropic   Read the key from stdin
  canopy auth --list                 Show providers with stored keys
  canopy auth --remove anthropic     Delete a stored key`

const authShortDesc string = "Store or inspect LM provider API keys"

type authCommander struct {
	list   bool
	remove bool
}

func NewAuthCmd() *cobra.Command {
	c := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth [provider]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			mgr, err := credentials.NewManager(configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			switch {
			case c.list:
				return runList(mgr)
			case c.remove:
				if len(args) != 1 {
					return fmt.Errorf("auth --remove requires a provider argument")
				}
				return runRemove(mgr, args[0])
			case len(args) == 1:
				return runAuth(mgr, args[0])
			default:
				return cmd.Help()
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return credentials.SupportedProviders(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&c.list, "list", false, "List providers with stored keys")
	cmd.Flags().BoolVar(&c.remove, "remove", false, "Remove the stored key for a provider")

	return cmd
}

func runAuth(mgr *credentials.Manager, provider string) error {
	if !credentials.IsSupportedProvider(provider) {
		return fmt.Errorf("unsupported provider: %q\n\nSupported providers: %s",
			provider, strings.Join(credentials.SupportedProviders(), ", "))
	}

	key, err := readAPIKey(provider)
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("no API key provided")
	}

	if err := mgr.SetKey(provider, key); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	fmt.Printf("\n  %s Stored API key for %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(provider),
	)
	fmt.Printf("  %s %s\n\n",
		cliui.DimStyle.Render("Saved to"),
		cliui.DimStyle.Render(mgr.GetTarget()),
	)

	return nil
}

func runList(mgr *credentials.Manager) error {
	providers, err := mgr.ListProviders()
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	if len(providers) == 0 {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No stored API keys."))
		return nil
	}

	fmt.Println()
	for _, provider := range providers {
		fmt.Printf("  %s  %s\n",
			cliui.SuccessMark,
			cliui.NameStyle.Render(provider),
		)
	}
	fmt.Println()

	return nil
}

func runRemove(mgr *credentials.Manager, provider string) error {
	if err := mgr.RemoveKey(provider); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	fmt.Printf("\n  %s Removed stored key for %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(provider),
	)

	return nil
}

// readAPIKey reads a key from a piped stdin, or prompts for hidden
// interactive input when stdin is a terminal.
func readAPIKey(provider string) (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}

	if (stat.Mode() & os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		return "", scanner.Err()
	}

	envVar := credentials.EnvVarForProvider(provider)
	fmt.Printf("\n  %s", cliui.KeyStyle.Render(fmt.Sprintf("Enter API key for %s: ", provider)))
	if envVar != "" {
		fmt.Printf("%s", cliui.DimStyle.Render(fmt.Sprintf("(or set %s)", envVar)))
	}
	fmt.Println()

	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}

	return string(key), nil
}
