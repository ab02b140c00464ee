// Package kafka publishes turn-persisted events to a Kafka topic, for
// deployments that want per-turn metrics fed into an external pipeline
// instead of (or alongside) structured logs.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/canopyhq/canopy/pkg/eventstream"
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher publishes TurnPersistedEvent payloads as JSON to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// New creates a Publisher against the given brokers and topic.
func New(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(c.Brokers...),
			Topic:        c.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}, nil
}

// PublishTurn writes the event keyed by node id, so all turns for a node
// land on the same partition and preserve per-node ordering downstream.
func (p *Publisher) PublishTurn(ctx context.Context, event *eventstream.TurnPersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: marshaling turn event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Node.NodeID),
		Value: payload,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
