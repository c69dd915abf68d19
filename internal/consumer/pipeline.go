// Package consumer turns durable queue entries into persisted messages and
// fan-out decisions: persist, resolve recipients, and notify the offline ones.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/broker"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/internal/store"
	"github.com/felagos/chat-app/pkg/log"
)

// Publisher is the broker surface the pipeline publishes audit events to.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// OfflineNotifier dispatches multi-channel notifications for offline
// recipients. It never returns an error; channel failures stay internal.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipient domain.User, senderName, preview string)
}

// NotificationHandler processes events drained from the notifications queue.
type NotificationHandler func(ctx context.Context, event domain.NotificationEvent) error

// Pipeline consumes messages.queue and notifications.queue.
type Pipeline struct {
	store     store.Store
	tracker   presence.Tracker
	notifier  OfflineNotifier
	publisher Publisher

	previewLength int
	dedup         *dedup

	notificationHandler NotificationHandler
	logger              zerolog.Logger
}

// New creates a pipeline.
func New(st store.Store, tracker presence.Tracker, notifier OfflineNotifier, publisher Publisher, previewLength int, dedupTTL time.Duration, logger zerolog.Logger) *Pipeline {
	if previewLength <= 0 {
		previewLength = 50
	}
	return &Pipeline{
		store:         st,
		tracker:       tracker,
		notifier:      notifier,
		publisher:     publisher,
		previewLength: previewLength,
		dedup:         newDedup(dedupTTL),
		logger:        logger.With().Str("component", "consumer").Logger(),
	}
}

// SetNotificationHandler registers a custom handler for drained notification
// events. Without one the drain loop only logs receipt.
func (p *Pipeline) SetNotificationHandler(h NotificationHandler) {
	p.notificationHandler = h
}

// HandleMessage processes one delivery from messages.queue. A malformed body
// is reported as domain.ErrMalformedPayload so the broker drops it; a
// persistence failure propagates so the broker nacks for a bounded retry.
func (p *Pipeline) HandleMessage(ctx context.Context, d broker.Delivery) error {
	var env domain.OutboundEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.ConversationID == "" || env.SenderID == "" {
		return fmt.Errorf("%w: missing conversationId or userId", domain.ErrMalformedPayload)
	}

	msg, err := p.store.CreateMessage(ctx, env.ConversationID, env.SenderID, env.Content)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	logger := p.logger.With().
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldConversationID, msg.ConversationID).
		Logger()
	logger.Info().Msg("message saved")

	p.fanOut(ctx, logger, msg)

	// The audit event is decoupled from the synchronous dispatch above: a
	// failed publish loses the audit trail but must not requeue an already
	// persisted message.
	event := domain.NotificationEvent{
		Type:           "message",
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
	}
	if err := p.publisher.Publish(ctx, domain.Exchange, domain.RouteNotificationSend, event); err != nil {
		logger.Error().Err(err).Msg("failed to publish notification event")
	}

	return nil
}

// HandleNotification drains one event from notifications.queue.
func (p *Pipeline) HandleNotification(ctx context.Context, d broker.Delivery) error {
	var event domain.NotificationEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	if p.notificationHandler != nil {
		return p.notificationHandler(ctx, event)
	}

	p.logger.Info().
		Str(log.FieldMessageID, event.MessageID).
		Str(log.FieldConversationID, event.ConversationID).
		Msg("notification received")
	return nil
}

func (p *Pipeline) fanOut(ctx context.Context, logger zerolog.Logger, msg domain.PersistedMessage) {
	participants, err := p.store.Participants(ctx, msg.ConversationID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve participants")
		return
	}

	senderName := msg.SenderID
	if sender, err := p.store.GetUser(ctx, msg.SenderID); err == nil {
		senderName = sender.Username
	} else {
		logger.Warn().Err(err).Msg("failed to resolve sender, using id as display name")
	}

	preview := truncate(msg.Content, p.previewLength)

	for _, participant := range participants {
		if participant.ID == msg.SenderID {
			continue
		}

		active, err := p.tracker.Active(ctx, participant.ID)
		if err != nil {
			logger.Error().Err(err).Str(log.FieldRecipientID, participant.ID).Msg("presence lookup failed")
			continue
		}
		if active {
			// The gateway already relayed the live event at send time.
			continue
		}

		if !p.dedup.firstSeen(msg.ID + ":" + participant.ID) {
			logger.Debug().Str(log.FieldRecipientID, participant.ID).Msg("duplicate fan-out suppressed")
			continue
		}

		p.notifier.NotifyOffline(ctx, participant, senderName, preview)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
