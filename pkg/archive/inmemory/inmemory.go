// Package inmemory implements archive.Driver over a plain map, for tests and
// as the default `canopy serve` archive when a durable store is not
// configured, grounded on the teacher's pkg/storage/inmemory map driver.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/canopyhq/canopy/pkg/archive"
)

// Driver is an in-memory, non-durable archive.Driver.
type Driver struct {
	mu      sync.RWMutex
	records map[string]archive.Record
}

// New creates an empty in-memory archive.
func New() *Driver {
	return &Driver{records: make(map[string]archive.Record)}
}

func (d *Driver) Index(_ context.Context, record archive.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[record.ID] = record
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func (d *Driver) Query(_ context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make([]archive.QueryResult, 0, len(d.records))
	for _, r := range d.records {
		if !filter.Match(r) {
			continue
		}
		results = append(results, archive.QueryResult{
			Record: r,
			Score:  cosineSimilarity(embedding, r.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Stable tie-break per the spec's recommended order: timestamp then
		// record_id.
		if !results[i].Record.Timestamp.Equal(results[j].Record.Timestamp) {
			return results[i].Record.Timestamp.Before(results[j].Record.Timestamp)
		}
		return results[i].Record.ID < results[j].Record.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (d *Driver) Get(_ context.Context, ids []string) ([]archive.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]archive.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := d.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *Driver) QueryWindow(_ context.Context, nodeID string, center time.Time, halfWidth time.Duration) ([]archive.Record, error) {
	lo := center.Add(-halfWidth)
	hi := center.Add(halfWidth)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []archive.Record
	for _, r := range d.records {
		if r.NodeID != nodeID {
			continue
		}
		if r.Timestamp.Before(lo) || r.Timestamp.After(hi) {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (d *Driver) Close() error { return nil }

// Count returns the number of records held, for test assertions.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

var _ archive.Driver = (*Driver)(nil)
