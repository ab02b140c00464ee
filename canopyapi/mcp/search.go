package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/canopyhq/canopy/canopyapi/search"
)

var (
	searchToolName    = "archive_search"
	searchDescription = "Search over archived conversation turns using semantic search. Returns the most relevant turns based on the query text, optionally restricted to a single conversation node."
)

// SearchInput represents the input arguments for the archive_search tool.
type SearchInput struct {
	Query  string `json:"query" jsonschema:"the search query text to find relevant turns"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
	NodeID string `json:"node_id,omitempty" jsonschema:"restrict the search to one conversation node"`
}

// handleSearch processes an archive_search tool call.
func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, search.Output, error) {
	output, err := search.Search(
		ctx,
		search.Input{Query: input.Query, TopK: input.TopK, NodeID: input.NodeID},
		s.config.Embedder,
		s.config.ArchiveDriver,
		s.config.Logger,
	)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("search failed: %v", err)},
			},
		}, search.Output{}, nil
	}

	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("failed to serialize results: %v", err)},
			},
		}, search.Output{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, *output, nil
}
