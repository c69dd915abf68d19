package domain

import "time"

// Broker wire contract: one topic exchange, two durable queues.
const (
	Exchange = "chat"

	MessagesQueue      = "messages.queue"
	NotificationsQueue = "notifications.queue"

	RouteMessageNew       = "message.new"
	RouteNotificationSend = "notification.send"
)

// MessageStatus tracks delivery progress of a persisted message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
)

// OutboundEnvelope is the unit placed on the durable messages queue. It is
// immutable once constructed; ownership transfers to the broker client at
// publish time.
type OutboundEnvelope struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"userId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"` // epoch millis
}

// NewOutboundEnvelope stamps the envelope with the current time.
func NewOutboundEnvelope(conversationID, senderID, content string) OutboundEnvelope {
	return OutboundEnvelope{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
	}
}

// NotificationEvent is published to the notifications queue after a message
// has been persisted, for auditing and async consumers.
type NotificationEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
}

// PersistedMessage is the durable record the persistence collaborator creates
// from an OutboundEnvelope.
type PersistedMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Status         MessageStatus
	CreatedAt      time.Time
}

// User is the participant shape the persistence collaborator returns.
type User struct {
	ID       string
	Username string
	Email    string
	Phone    string // empty when the user has no phone number on file
}
