// Package archive implements the durable Vector Archive (C5): a
// content-addressed store of every turn ever written, indexed by dense
// embedding for approximate nearest-neighbor search, filterable by node,
// role, and a timestamp cutoff. Concrete backends live in subpackages
// (sqlitevec, postgres, qdrant, inmemory), grounded on the teacher's
// pkg/vector driver family but extended with the metadata columns the
// archive needs that a bare vector store does not.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by record_id finds nothing.
var ErrNotFound = errors.New("archive: record not found")

// ErrDimensionMismatch is returned when a record's embedding width does not
// match the collection's configured dimensions.
var ErrDimensionMismatch = errors.New("archive: embedding dimension mismatch")

// ErrConnection is returned when the backend cannot be reached.
var ErrConnection = errors.New("archive: connection error")

// Record is one archived turn. Records are append-only: never mutated, never
// deleted by the core.
type Record struct {
	ID                   string    `json:"record_id"`
	NodeID               string    `json:"node_id"`
	Role                 string    `json:"role"`
	Text                 string    `json:"text"`
	Timestamp            time.Time `json:"timestamp"`
	NodeTitleAtIndexTime string    `json:"node_title_at_index_time"`
	Embedding            []float32 `json:"-"`
}

// Filter narrows a Query. A nil/zero field is unconstrained. MaxTimestamp
// implements the buffer-exclusion cutoff (§4.5/§4.7): only records with
// Timestamp strictly before MaxTimestamp are returned.
type Filter struct {
	NodeID       string
	Role         string
	RoleIn       []string
	MaxTimestamp *time.Time
}

// Match reports whether a record satisfies the filter. Backends that cannot
// push a predicate into their query language use this for post-filtering.
func (f Filter) Match(r Record) bool {
	if f.NodeID != "" && r.NodeID != f.NodeID {
		return false
	}
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if len(f.RoleIn) > 0 {
		found := false
		for _, role := range f.RoleIn {
			if r.Role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxTimestamp != nil && !r.Timestamp.Before(*f.MaxTimestamp) {
		return false
	}
	return true
}

// QueryResult pairs a Record with its similarity score against the query
// embedding (cosine similarity, higher is better).
type QueryResult struct {
	Record Record
	Score  float32
}

// Driver is a durable, embedding-indexed store of archive Records.
type Driver interface {
	// Index stores a record. Index is expected to be called synchronously,
	// best-effort, from the hot chat path (§4.5); callers are responsible
	// for the "log and swallow" failure policy, not the driver.
	Index(ctx context.Context, record Record) error

	// Query returns the topK records nearest to embedding under cosine
	// distance, restricted by filter, sorted by descending score.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Get retrieves records by id, for context-window expansion around a hit.
	Get(ctx context.Context, ids []string) ([]Record, error)

	// QueryWindow returns all records for nodeID whose timestamp falls in
	// [center-halfWidth, center+halfWidth], in chronological order. This
	// backs the ±W context-window expansion of C7.
	QueryWindow(ctx context.Context, nodeID string, center time.Time, halfWidth time.Duration) ([]Record, error)

	Close() error
}
