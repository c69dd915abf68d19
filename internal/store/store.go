// Package store defines the persistence collaborator the pipeline calls.
// The relational schema and query layer live in another service; this module
// only needs to persist a message and resolve conversation membership.
package store

import (
	"context"
	"errors"

	"github.com/felagos/chat-app/internal/domain"
)

// ErrNotFound is returned for unknown users and conversations.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract consumed by the message pipeline.
type Store interface {
	// CreateMessage persists an envelope as a delivered message and returns
	// the durable record with its assigned id.
	CreateMessage(ctx context.Context, conversationID, senderID, content string) (domain.PersistedMessage, error)

	// Participants lists the members of a conversation.
	Participants(ctx context.Context, conversationID string) ([]domain.User, error)

	// GetUser resolves a user's profile.
	GetUser(ctx context.Context, userID string) (domain.User, error)
}
