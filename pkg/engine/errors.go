package engine

import "errors"

// ErrDimensionMismatch indicates the embedding provider produced vectors of
// a different length than the engine was configured for. This is a fatal
// configuration error raised once, at first real embedding use; it is never
// retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
