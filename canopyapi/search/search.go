// Package search provides shared search types and logic for semantic search
// over the archive (C5). It is used by both the REST API's /v1/search
// endpoint and the MCP server's archive_search tool.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/embedding"
)

// Input represents the input arguments for a search request.
type Input struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`

	// NodeID, if set, restricts the search to one conversation node.
	NodeID string `json:"node_id,omitempty"`
}

// Result represents a single search result.
type Result struct {
	RecordID  string  `json:"record_id"`
	NodeID    string  `json:"node_id"`
	Score     float32 `json:"score"`
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
}

// Output represents the output of a search operation.
type Output struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Count   int      `json:"count"`
}

// Search performs a semantic search over the archive. It embeds the query
// text, then queries the archive driver for the topK nearest records,
// optionally restricted to a single node.
func Search(
	ctx context.Context,
	in Input,
	embedder embedding.Embedder,
	archiveDriver archive.Driver,
	logger *zap.Logger,
) (*Output, error) {
	topK := in.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("search request",
		zap.String("query", in.Query),
		zap.Int("top_k", topK),
		zap.String("node_id", in.NodeID),
	)

	queryEmbedding, err := embedder.Embed(ctx, in.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	filter := archive.Filter{NodeID: in.NodeID}
	results, err := archiveDriver.Query(ctx, queryEmbedding, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			RecordID:  r.Record.ID,
			NodeID:    r.Record.NodeID,
			Score:     r.Score,
			Role:      r.Record.Role,
			Text:      r.Record.Text,
			Timestamp: r.Record.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	return &Output{
		Query:   in.Query,
		Results: out,
		Count:   len(out),
	}, nil
}
