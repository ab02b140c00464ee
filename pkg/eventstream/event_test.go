package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/canopyhq/canopy/pkg/buffer"
	"github.com/canopyhq/canopy/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals TurnPersistedEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.TurnPersistedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeTurnPersisted,
			EventID:       "evt_123",
			EmittedAt:     now,
			Source: eventstream.EventSource{
				Project:   "my-project",
				AgentName: "canopy",
				Provider:  "anthropic",
			},
			RequestMeta: eventstream.TurnRequestMeta{
				Path:        "/api/conversations/node-1/messages/stream",
				StartedAt:   now.Add(-2 * time.Second),
				CompletedAt: now,
				DurationMs:  2000,
				Streaming:   true,
				HTTPStatus:  200,
			},
			Node: eventstream.TurnNodeMeta{
				NodeID: "node-1",
				TreeID: "node-1",
			},
			UserTurn:      buffer.Turn{Role: "user", Text: "hello", Timestamp: now.Add(-2 * time.Second)},
			AssistantTurn: buffer.Turn{Role: "assistant", Text: "hi", Timestamp: now},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("source"))
		Expect(got).To(HaveKey("request_meta"))
		Expect(got).To(HaveKey("node"))
		Expect(got).To(HaveKey("user_turn"))
		Expect(got).To(HaveKey("assistant_turn"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeTurnPersisted).To(Equal("canopy.turn.persisted"))
	})

	It("provides ErrNilTurnEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilTurnEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilTurnEvent).To(MatchError("nil turn event"))
	})
})
