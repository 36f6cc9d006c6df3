package eventstream

import "errors"

// ErrNilBatchEvent indicates a nil batch event payload was provided to a publisher.
var ErrNilBatchEvent = errors.New("nil batch event")
