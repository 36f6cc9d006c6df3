package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals BatchProcessedEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.BatchProcessedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeBatchProcessed,
			EventID:       "evt_123",
			EmittedAt:     now,
			Source: eventstream.EventSource{
				Project:   "my-project",
				SessionID: "session-1",
			},
			Batch: eventstream.BatchMeta{
				ChunksProcessed:      4,
				NodesCreated:         11,
				RelationshipsCreated: 9,
				StartedAt:            now.Add(-2 * time.Second),
				CompletedAt:          now,
				DurationMs:           2000,
				Triggered:            "debounce",
			},
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
		Expect(got).To(HaveKey("batch"))
		Expect(got).NotTo(HaveKey("error"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeBatchProcessed).To(Equal("engram.batch.processed"))
	})

	It("provides ErrNilBatchEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilBatchEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilBatchEvent).To(MatchError("nil batch event"))
	})
})
