// Package presence tracks which users currently have at least one live
// connection. The gateway is the single writer per user key; the notification
// dispatcher and the consumer pipeline are concurrent readers.
package presence

import "context"

// Tracker is the presence contract. Two implementations exist: an in-memory
// concurrent map for single-instance deployments and a Redis-backed tracker
// for fleets.
type Tracker interface {
	// Connect records a live connection for the user and refreshes their
	// last-seen time.
	Connect(ctx context.Context, userID, connectionID string) error

	// Disconnect removes one connection. It reports gone=true only when no
	// other live connection remains for the user, i.e. the user actually
	// went offline.
	Disconnect(ctx context.Context, userID, connectionID string) (gone bool, err error)

	// Touch refreshes the user's last-seen time without changing their
	// connection set.
	Touch(ctx context.Context, userID string) error

	// Active reports whether the user has a live, non-stale session.
	Active(ctx context.Context, userID string) (bool, error)

	// ActiveCount reports how many users are currently tracked as online.
	ActiveCount(ctx context.Context) (int, error)

	Close() error
}
