package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeBatchProcessed is emitted after a batch of chunks has been
	// run through the processing pipeline.
	EventTypeBatchProcessed = "engram.batch.processed"
)

// BatchProcessedEvent is a transport-neutral event payload describing one
// processing batch, successful or not. Background batches are fire-and-forget
// from the caller's perspective; this event is how their outcome becomes
// observable.
type BatchProcessedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Batch         BatchMeta   `json:"batch"`

	// Error carries the failure message for batches that did not complete.
	Error string `json:"error,omitempty"`
}

// EventSource identifies the engine instance that processed the batch.
type EventSource struct {
	Project   string `json:"project,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// BatchMeta captures what the batch did.
type BatchMeta struct {
	ChunksProcessed      int       `json:"chunks_processed"`
	NodesCreated         int       `json:"nodes_created"`
	RelationshipsCreated int       `json:"relationships_created"`
	StartedAt            time.Time `json:"started_at"`
	CompletedAt          time.Time `json:"completed_at"`
	DurationMs           int64     `json:"duration_ms"`
	Triggered            string    `json:"triggered,omitempty"`
}
