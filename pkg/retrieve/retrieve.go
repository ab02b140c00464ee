// Package retrieve implements the context window retriever: it turns a set
// of sub-queries into a ranked, deduplicated slice of archive records, never
// surfacing anything the requesting node's own buffer already holds.
package retrieve

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/embedding"
)

const (
	DefaultTopKPerSubQuery = 5
	DefaultTopK            = 5
	DefaultWindowSeconds   = 60
)

// Retriever answers a set of sub-queries against an archive, respecting a
// buffer cutoff so results never duplicate live conversation content.
type Retriever struct {
	driver   archive.Driver
	embedder embedding.Embedder
	log      *zap.Logger

	TopKPerSubQuery int
	TopK            int
	Window          time.Duration

	// RerankEnabled turns on the optional keyword-overlap re-ranking pass
	// (Rerank) between merging sub-query hits and expanding them into
	// windows. Disabled by default; canopy serve sets it from
	// --retrieval-rerank.
	RerankEnabled bool
}

// New creates a Retriever with the spec's default tuning; callers may
// override TopKPerSubQuery, TopK, and Window on the returned value.
func New(driver archive.Driver, embedder embedding.Embedder, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		driver:          driver,
		embedder:        embedder,
		log:             log,
		TopKPerSubQuery: DefaultTopKPerSubQuery,
		TopK:            DefaultTopK,
		Window:          DefaultWindowSeconds * time.Second,
	}
}

// Retrieve runs the full algorithm: embed each sub-query, query the archive
// with a max_timestamp cutoff, merge by max score across sub-queries, then
// expand each ranked hit into its chronological ±Window neighborhood,
// deduplicated by record id.
func (r *Retriever) Retrieve(ctx context.Context, subQueries []string, cutoff *time.Time) ([]archive.Record, error) {
	best := make(map[string]archive.QueryResult)

	for _, q := range subQueries {
		vec, err := r.embedder.Embed(ctx, q)
		if err != nil {
			r.log.Warn("retrieval: embedding sub-query failed, skipping", zap.String("sub_query", q), zap.Error(err))
			continue
		}

		hits, err := r.driver.Query(ctx, vec, r.TopKPerSubQuery, archive.Filter{MaxTimestamp: cutoff})
		if err != nil {
			r.log.Warn("retrieval: archive query failed for sub-query, skipping", zap.String("sub_query", q), zap.Error(err))
			continue
		}

		for _, h := range hits {
			existing, ok := best[h.Record.ID]
			if !ok || h.Score > existing.Score {
				best[h.Record.ID] = h
			}
		}
	}

	ranked := make([]archive.QueryResult, 0, len(best))
	for _, h := range best {
		ranked = append(ranked, h)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Record.Timestamp.Equal(ranked[j].Record.Timestamp) {
			return ranked[i].Record.Timestamp.Before(ranked[j].Record.Timestamp)
		}
		return ranked[i].Record.ID < ranked[j].Record.ID
	})

	if r.RerankEnabled {
		ranked = r.Rerank(subQueries, ranked)
	}

	emitted := make(map[string]bool)
	var out []archive.Record

	for _, hit := range ranked {
		if len(out) >= r.TopK {
			break
		}

		window, err := r.driver.QueryWindow(ctx, hit.Record.NodeID, hit.Record.Timestamp, r.Window)
		if err != nil {
			r.log.Warn("retrieval: fetching context window failed, using the hit alone",
				zap.String("record_id", hit.Record.ID), zap.Error(err))
			window = []archive.Record{hit.Record}
		}

		for _, rec := range window {
			if emitted[rec.ID] {
				continue
			}
			emitted[rec.ID] = true
			out = append(out, rec)
		}
	}

	return out, nil
}

// Rerank re-scores hits by lexical overlap between the sub-queries and each
// hit's text, breaking ties the embedding-similarity ranking otherwise can't
// see. It falls back to the original score ordering whenever no hit shares a
// keyword with the sub-queries, since an all-zero overlap signal carries no
// information.
func (r *Retriever) Rerank(subQueries []string, ranked []archive.QueryResult) []archive.QueryResult {
	keywords := keywordSet(strings.Join(subQueries, " "))
	if len(keywords) == 0 {
		return ranked
	}

	type scored struct {
		hit     archive.QueryResult
		overlap float64
	}

	rescored := make([]scored, len(ranked))
	anyOverlap := false
	for i, hit := range ranked {
		overlap := keywordOverlap(keywords, hit.Record.Text)
		if overlap > 0 {
			anyOverlap = true
		}
		rescored[i] = scored{hit: hit, overlap: overlap}
	}

	if !anyOverlap {
		return ranked
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].overlap != rescored[j].overlap {
			return rescored[i].overlap > rescored[j].overlap
		}
		return rescored[i].hit.Score > rescored[j].hit.Score
	})

	out := make([]archive.QueryResult, len(rescored))
	for i, s := range rescored {
		out[i] = s.hit
	}
	return out
}

// keywordSet lowercases and tokenizes text into a deduplicated word set.
func keywordSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// keywordOverlap returns the fraction of keywords present in text.
func keywordOverlap(keywords map[string]struct{}, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	textWords := keywordSet(text)
	matches := 0
	for k := range keywords {
		if _, ok := textWords[k]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// CutoffFor computes t_cut for a buffer: its oldest timestamp, or nil
// (meaning +infinity, i.e. no cutoff) when the buffer is empty.
func CutoffFor(oldest time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &oldest
}
