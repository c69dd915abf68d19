// Package domain defines the wire types shared by the gateway, the broker
// pipeline and the notification dispatcher: client/server websocket events,
// queue envelopes and the error taxonomy.
package domain

// Client -> server event types.
const (
	EventSendMessage = "message:send"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventJoinRoom    = "conversation:join"
	EventLeaveRoom   = "conversation:leave"
)

// Server -> client event types.
const (
	EventMessageReceived   = "message:received"
	EventUserTyping        = "user:typing"
	EventUserStoppedTyping = "user:stopped-typing"
	EventUserJoined        = "user:joined"
	EventUserLeft          = "user:left"
	EventUserOnline        = "user:online"
	EventUserOffline       = "user:offline"
	EventError             = "error"
)

// BaseEvent carries the tag every inbound frame must have. Frames are decoded
// in two passes: the tag first, then the event-specific shape.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> server events.

type SendMessageEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

type RoomEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// Server -> client events.

type MessageReceivedEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

type UserTypingEvent struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type RoomMemberEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type PresenceEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorEvent builds an outbound error frame.
func NewErrorEvent(message, details string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Message: message, Details: details}
}
