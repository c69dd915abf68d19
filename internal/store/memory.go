package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felagos/chat-app/internal/domain"
)

// MemoryStore is an in-process Store used in development and tests until the
// persistence service client is wired in.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	conversations map[string][]string // conversation ID -> member user IDs
	messages      []domain.PersistedMessage
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		conversations: make(map[string][]string),
	}
}

// AddUser seeds a user.
func (s *MemoryStore) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddConversation seeds a conversation with its member user IDs.
func (s *MemoryStore) AddConversation(conversationID string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append([]string(nil), memberIDs...)
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID, senderID, content string) (domain.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return domain.PersistedMessage{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	msg := domain.PersistedMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Status:         domain.StatusDelivered,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) Participants(_ context.Context, conversationID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memberIDs, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	users := make([]domain.User, 0, len(memberIDs))
	for _, id := range memberIDs {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u, nil
}

// Messages returns a copy of every persisted message, oldest first.
func (s *MemoryStore) Messages() []domain.PersistedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PersistedMessage(nil), s.messages...)
}
