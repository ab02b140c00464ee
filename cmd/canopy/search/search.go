// Package searchcmder provides the search command for semantic search over
// archived conversation turns.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apisearch "github.com/canopyhq/canopy/canopyapi/search"
	"github.com/canopyhq/canopy/pkg/config"
	"github.com/canopyhq/canopy/pkg/decompose"
	"github.com/canopyhq/canopy/pkg/logger"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	roleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	query  string
	topK   int
	nodeID string
	quiet  bool
	expand bool

	apiTarget string

	debug  bool
	logger *zap.Logger
}

const searchLongDesc string = `Search archived conversation turns via the canopy API.

Search over the long-term vector archive, returning the most relevant turns
based on the query text. Requires a running canopy API server with search
configured (archive backend and embedder).

Use --node to restrict the search to one conversation node, --quiet to
output only record ids, one per line, for piping into other commands, and
--expand to fan the query out into several heuristic paraphrases (no LLM
round-trip) before searching, merging and de-duplicating the results.

Example:
  canopy search "how to configure logging"
  canopy search "error handling patterns" --api-target http://localhost:8081
  canopy search "rate limiter design" --top 10
  canopy search "rate limiter design" --quiet`

const searchShortDesc string = "Search archived conversation turns"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") && cfg.API.Listen != "" {
				cmder.apiTarget = listenToTarget(cfg.API.Listen)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().StringVar(&cmder.nodeID, "node", "", "Restrict the search to one conversation node")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only record ids, one per line (for piping)")
	cmd.Flags().BoolVar(&cmder.expand, "expand", false, "Expand the query into heuristic paraphrases before searching (no LLM round-trip)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", "http://localhost:8081", "canopy API server URL")

	return cmd
}

// listenToTarget turns a bind address like ":8081" into a loopback URL.
func listenToTarget(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func (c *searchCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	var output *apisearch.Output
	var err error
	if c.expand {
		output, err = c.searchExpanded()
	} else {
		output, err = SearchAPI(c.apiTarget, c.query, c.topK, c.nodeID)
	}
	if err != nil {
		return err
	}

	if output.Count == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range output.Results {
			fmt.Println(result.RecordID)
		}
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		headerStyle.Render("Search results for:"),
		idStyle.Render(fmt.Sprintf("%q", output.Query)),
	)

	for i, result := range output.Results {
		c.printResult(i+1, result)
	}

	return nil
}

func (c *searchCommander) printResult(rank int, result apisearch.Result) {
	fmt.Printf("  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", result.Score)),
		idStyle.Render(result.NodeID),
	)

	text := result.Text
	if text == "" {
		text = "(no text content)"
	}
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	text = strings.ReplaceAll(text, "\n", " ")

	fmt.Printf("  %s %s\n", roleStyle.Render("["+result.Role+"]"), previewStyle.Render(text))
	fmt.Printf("  %s\n\n", dimStyle.Render(result.Timestamp))
}

// searchExpanded fans the query out into decompose.HeuristicFallback's
// paraphrases, searches once per paraphrase, and merges the results:
// de-duplicated by record id, ranked by score, capped at topK. No LLM call
// is made; this is the degraded decomposition path for searching without a
// configured decomposition model.
func (c *searchCommander) searchExpanded() (*apisearch.Output, error) {
	queries := decompose.HeuristicFallback(c.query)

	seen := make(map[string]bool)
	var merged []apisearch.Result

	for _, q := range queries {
		out, err := SearchAPI(c.apiTarget, q, c.topK, c.nodeID)
		if err != nil {
			return nil, err
		}
		for _, r := range out.Results {
			if seen[r.RecordID] {
				continue
			}
			seen[r.RecordID] = true
			merged = append(merged, r)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > c.topK {
		merged = merged[:c.topK]
	}

	return &apisearch.Output{Query: c.query, Results: merged, Count: len(merged)}, nil
}

// SearchAPI calls the canopy search endpoint and returns the parsed output.
// Exported so other commands can reuse it.
func SearchAPI(apiTarget, query string, topK int, nodeID string) (*apisearch.Output, error) {
	searchURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	searchURL.Path = "/v1/search"
	q := searchURL.Query()
	q.Set("query", query)
	q.Set("top_k", strconv.Itoa(topK))
	if nodeID != "" {
		q.Set("node_id", nodeID)
	}
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to canopy API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var output apisearch.Output
	if err := json.Unmarshal(body, &output); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	return &output, nil
}
