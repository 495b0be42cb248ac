package service

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnreachable wraps transport-level failures reaching the engine.
var ErrUpstreamUnreachable = errors.New("document engine unreachable")

// UpstreamRejectedError is returned when the engine answers with a non-2xx status.
type UpstreamRejectedError struct {
	Operation  string
	StatusCode int
	Excerpt    string // first bytes of the engine's error body
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("%s: document engine returned status %d", e.Operation, e.StatusCode)
}
