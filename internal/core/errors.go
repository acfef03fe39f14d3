package core

import "errors"

// Error codes reported to clients on protocol problems.
const (
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeRateLimited    = "rate_limited"
)

// ErrHubStopped is returned by request/reply calls after the hub loop exited.
var ErrHubStopped = errors.New("hub stopped")
