// Package qdrant implements archive.Driver against a remote Qdrant cluster
// over its gRPC client, mirroring the shape of the teacher's chroma HTTP
// driver (get-or-create collection, then upsert/search) but speaking
// qdrant/go-client's typed proto API instead of hand-rolled JSON.
package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/archive"
)

// Driver implements archive.Driver against a Qdrant collection.
type Driver struct {
	client     *qdrant.Client
	collection string
	log        *zap.Logger
}

// Config configures the driver.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions uint64
}

// New connects to Qdrant and ensures the configured collection exists.
func New(ctx context.Context, c Config, log *zap.Logger) (*Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if c.Collection == "" {
		return nil, fmt.Errorf("archive/qdrant: collection name is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("archive/qdrant: dimensions must be configured")
	}

	port := c.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", archive.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, c.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: checking collection: %v", archive.ErrConnection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.Dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("archive/qdrant: creating collection %s: %w", c.Collection, err)
		}
	}

	log.Info("qdrant archive initialized", zap.String("collection", c.Collection))
	return &Driver{client: client, collection: c.Collection, log: log}, nil
}

func toPayload(r archive.Record) map[string]any {
	return map[string]any{
		"node_id":                 r.NodeID,
		"role":                    r.Role,
		"text":                    r.Text,
		"timestamp_unix_nano":     r.Timestamp.UnixNano(),
		"node_title_at_index_time": r.NodeTitleAtIndexTime,
	}
}

func fromPayload(id string, payload map[string]*qdrant.Value, vec []float32) archive.Record {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	var tsNano int64
	if v, ok := payload["timestamp_unix_nano"]; ok {
		tsNano = v.GetIntegerValue()
	}
	return archive.Record{
		ID:                   id,
		NodeID:               get("node_id"),
		Role:                 get("role"),
		Text:                 get("text"),
		Timestamp:            time.Unix(0, tsNano),
		NodeTitleAtIndexTime: get("node_title_at_index_time"),
		Embedding:            vec,
	}
}

func (d *Driver) Index(ctx context.Context, record archive.Record) error {
	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(record.ID),
				Vectors: qdrant.NewVectorsDense(record.Embedding),
				Payload: qdrant.NewValueMap(toPayload(record)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("archive/qdrant: upserting record %s: %w", record.ID, err)
	}
	return nil
}

func buildFilter(filter archive.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.NodeID != "" {
		must = append(must, qdrant.NewMatch("node_id", filter.NodeID))
	}
	if filter.Role != "" {
		must = append(must, qdrant.NewMatch("role", filter.Role))
	}
	if filter.MaxTimestamp != nil {
		must = append(must, qdrant.NewRange("timestamp_unix_nano", &qdrant.Range{
			Lt: ptrFloat(float64(filter.MaxTimestamp.UnixNano())),
		}))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func ptrFloat(f float64) *float64 { return &f }

func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)

	resp, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         buildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("archive/qdrant: querying: %w", err)
	}

	results := make([]archive.QueryResult, 0, len(resp))
	for _, point := range resp {
		rec := fromPayload(point.Id.GetUuid(), point.Payload, point.Vectors.GetVector().GetData())
		results = append(results, archive.QueryResult{Record: rec, Score: point.Score})
	}
	return results, nil
}

func (d *Driver) Get(ctx context.Context, ids []string) ([]archive.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("archive/qdrant: getting records: %w", err)
	}

	out := make([]archive.Record, 0, len(points))
	for _, p := range points {
		out = append(out, fromPayload(p.Id.GetUuid(), p.Payload, p.Vectors.GetVector().GetData()))
	}
	return out, nil
}

func (d *Driver) QueryWindow(ctx context.Context, nodeID string, center time.Time, halfWidth time.Duration) ([]archive.Record, error) {
	lo := float64(center.Add(-halfWidth).UnixNano())
	hi := float64(center.Add(halfWidth).UnixNano())

	limit := uint32(1000)
	resp, err := d.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: d.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("node_id", nodeID),
				qdrant.NewRange("timestamp_unix_nano", &qdrant.Range{Gte: &lo, Lte: &hi}),
			},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("archive/qdrant: scrolling window: %w", err)
	}

	out := make([]archive.Record, 0, len(resp))
	for _, p := range resp {
		out = append(out, fromPayload(p.Id.GetUuid(), p.Payload, p.Vectors.GetVector().GetData()))
	}
	sortRecordsByTimestamp(out)
	return out, nil
}

func sortRecordsByTimestamp(records []archive.Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Timestamp.Before(records[j-1].Timestamp); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func (d *Driver) Close() error {
	return d.client.Close()
}

var _ archive.Driver = (*Driver)(nil)
