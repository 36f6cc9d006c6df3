package eventstream

import "context"

// Publisher publishes processing events to an event stream backend.
type Publisher interface {
	PublishBatch(ctx context.Context, event *BatchProcessedEvent) error
	Close() error
}
