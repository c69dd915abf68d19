package domain

import "errors"

// Failure classes shared across the gateway and the consumer pipeline.
// Broker- and breaker-specific sentinels live with their packages.
var (
	// ErrAuthFailed refuses a handshake; no session state is created.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited refuses a single operation; the caller is notified and
	// no retry is scheduled.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrEmptyContent rejects a send with no message body.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrMalformedPayload marks a consumed message that failed to
	// deserialize. Such messages are logged and dropped, never retried.
	ErrMalformedPayload = errors.New("malformed payload")
)
