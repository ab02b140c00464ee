// Package nop provides a Publisher that drops every event, for callers that
// run without an event stream configured.
package nop

import (
	"context"

	"github.com/canopyhq/canopy/pkg/eventstream"
)

// Publisher discards every event it is given.
type Publisher struct{}

// New creates a no-op Publisher.
func New() *Publisher { return &Publisher{} }

func (Publisher) PublishTurn(context.Context, *eventstream.TurnPersistedEvent) error { return nil }

func (Publisher) Close() error { return nil }

var _ eventstream.Publisher = Publisher{}
