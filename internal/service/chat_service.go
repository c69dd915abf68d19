// Package service implements the connection gateway semantics: presence
// bookkeeping, room membership, live relay and the rate-limited durable
// publish.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/config"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/hub"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/internal/ratelimit"
	"github.com/felagos/chat-app/pkg/log"
)

// MessagePublisher is the broker surface the gateway publishes envelopes to.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

type chatService struct {
	hub       *hub.Hub
	publisher MessagePublisher
	tracker   presence.Tracker
	limiter   *ratelimit.Limiter
	limits    config.RateLimitConfig
	logger    zerolog.Logger
}

// NewChatService wires the gateway operations.
func NewChatService(h *hub.Hub, publisher MessagePublisher, tracker presence.Tracker, limiter *ratelimit.Limiter, limits config.RateLimitConfig, logger zerolog.Logger) ChatService {
	return &chatService{
		hub:       h,
		publisher: publisher,
		tracker:   tracker,
		limiter:   limiter,
		limits:    limits,
		logger:    logger.With().Str("component", "gateway").Logger(),
	}
}

// HandleConnect registers the freshly authenticated connection: personal
// room, presence, and the online announcement.
func (s *chatService) HandleConnect(ctx context.Context, c *hub.Client) error {
	s.hub.JoinRoom(c, domain.UserRoom(c.UserID))

	if err := s.tracker.Connect(ctx, c.UserID, c.ID); err != nil {
		s.logger.Error().Err(err).Str(log.FieldUserID, c.UserID).Msg("failed to mark user active")
	}

	s.logger.Info().Str(log.FieldUserID, c.UserID).Str(log.FieldConnectionID, c.ID).Msg("user connected")

	return s.hub.BroadcastAll(&domain.PresenceEvent{
		Type:      domain.EventUserOnline,
		UserID:    c.UserID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// HandleSendMessage validates and rate-limits the send, relays the live event
// to the conversation room, and publishes the envelope for durable delivery.
// The two paths are independent: relay does not wait on broker
// acknowledgment, and a publish failure is reported to the sender without
// touching the relay.
func (s *chatService) HandleSendMessage(ctx context.Context, c *hub.Client, conversationID, content string) error {
	if content == "" {
		c.SendEvent(domain.NewErrorEvent("Message content is empty", ""))
		return domain.ErrEmptyContent
	}

	if !s.limiter.Allow("msg:"+c.UserID, s.limits.MessageWindow, s.limits.MessageMax) {
		s.logger.Warn().Str(log.FieldUserID, c.UserID).Msg("message rate limit exceeded")
		c.SendEvent(domain.NewErrorEvent("Too many messages", "message rate limit exceeded"))
		return domain.ErrRateLimited
	}

	env := domain.NewOutboundEnvelope(conversationID, c.UserID, content)

	// Live relay first: immediate feedback for room members regardless of
	// broker state.
	relayErr := s.hub.BroadcastToRoom(domain.ConversationRoom(conversationID), &domain.MessageReceivedEvent{
		Type:           domain.EventMessageReceived,
		ConversationID: env.ConversationID,
		UserID:         env.SenderID,
		Content:        env.Content,
		Timestamp:      env.Timestamp,
	}, c.ID)
	if relayErr != nil {
		s.logger.Error().Err(relayErr).Str(log.FieldConversationID, conversationID).Msg("live relay failed")
	}

	if err := s.publisher.Publish(ctx, domain.Exchange, domain.RouteMessageNew, env); err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldUserID, c.UserID).
			Str(log.FieldConversationID, conversationID).
			Msg("failed to publish message")
		c.SendEvent(domain.NewErrorEvent("Failed to send message", err.Error()))
		return err
	}

	if err := s.tracker.Touch(ctx, c.UserID); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldUserID, c.UserID).Msg("failed to refresh presence")
	}
	return nil
}

// HandleTyping relays a typing indicator to the other room members. No
// persistence, no rate limiting.
func (s *chatService) HandleTyping(_ context.Context, c *hub.Client, conversationID string, typing bool) error {
	eventType := domain.EventUserTyping
	if !typing {
		eventType = domain.EventUserStoppedTyping
	}
	return s.hub.BroadcastToRoom(domain.ConversationRoom(conversationID), &domain.UserTypingEvent{
		Type:           eventType,
		UserID:         c.UserID,
		ConversationID: conversationID,
	}, c.ID)
}

// HandleJoinRoom adds the connection to the conversation room and announces
// the join to the other members.
func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, conversationID string) error {
	room := domain.ConversationRoom(conversationID)
	s.hub.JoinRoom(c, room)

	if err := s.tracker.Touch(ctx, c.UserID); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldUserID, c.UserID).Msg("failed to refresh presence")
	}

	return s.hub.BroadcastToRoom(room, &domain.RoomMemberEvent{
		Type:   domain.EventUserJoined,
		UserID: c.UserID,
	}, c.ID)
}

// HandleLeaveRoom removes the connection from the conversation room. Leaving
// a room does not touch presence: a user can be absent from every room and
// still be online.
func (s *chatService) HandleLeaveRoom(_ context.Context, c *hub.Client, conversationID string) error {
	room := domain.ConversationRoom(conversationID)
	s.hub.LeaveRoom(c, room)

	return s.hub.BroadcastToRoom(room, &domain.RoomMemberEvent{
		Type:   domain.EventUserLeft,
		UserID: c.UserID,
	}, c.ID)
}

// HandleDisconnect clears presence for the connection and, when it was the
// user's last one, announces the user offline.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	gone, err := s.tracker.Disconnect(ctx, c.UserID, c.ID)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldUserID, c.UserID).Msg("failed to clear presence")
	}

	s.logger.Info().Str(log.FieldUserID, c.UserID).Str(log.FieldConnectionID, c.ID).Msg("user disconnected")

	if !gone {
		// Another live connection keeps the user online.
		return nil
	}
	return s.hub.BroadcastAll(&domain.PresenceEvent{
		Type:      domain.EventUserOffline,
		UserID:    c.UserID,
		Timestamp: time.Now().UnixMilli(),
	})
}
