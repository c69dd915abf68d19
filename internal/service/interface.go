package service

import (
	"context"

	"github.com/felagos/chat-app/internal/hub"
)

// ChatService implements the gateway operations for one authenticated
// connection. The handler decodes frames; the service owns the semantics.
type ChatService interface {
	HandleConnect(ctx context.Context, c *hub.Client) error
	HandleSendMessage(ctx context.Context, c *hub.Client, conversationID, content string) error
	HandleTyping(ctx context.Context, c *hub.Client, conversationID string, typing bool) error
	HandleJoinRoom(ctx context.Context, c *hub.Client, conversationID string) error
	HandleLeaveRoom(ctx context.Context, c *hub.Client, conversationID string) error
	HandleDisconnect(ctx context.Context, c *hub.Client) error
}
