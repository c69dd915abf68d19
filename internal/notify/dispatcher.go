// Package notify implements the multi-channel fallback used when a message
// recipient has no live connection: push, then email, then SMS, each
// best-effort and independent of the others.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/pkg/log"
)

// Dispatcher fans a message preview out over the offline channels. Channel
// failures are logged and never returned: notification delivery must not fail
// message processing.
type Dispatcher struct {
	tracker presence.Tracker
	devices *DeviceRegistry
	push    PushSender
	email   EmailSender
	sms     SMSSender
	logger  zerolog.Logger
}

// NewDispatcher wires the dispatcher to its sinks.
func NewDispatcher(tracker presence.Tracker, devices *DeviceRegistry, push PushSender, email EmailSender, sms SMSSender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tracker: tracker,
		devices: devices,
		push:    push,
		email:   email,
		sms:     sms,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyOffline attempts push, email and SMS for the recipient. It re-checks
// presence first: the recipient may have come online between the pipeline's
// check and this call, in which case the live relay already ran and nothing
// is sent.
func (d *Dispatcher) NotifyOffline(ctx context.Context, recipient domain.User, senderName, preview string) {
	active, err := d.tracker.Active(ctx, recipient.ID)
	if err != nil {
		d.logger.Warn().Err(err).Str(log.FieldUserID, recipient.ID).Msg("presence re-check failed, notifying anyway")
	} else if active {
		d.logger.Debug().Str(log.FieldUserID, recipient.ID).Msg("recipient came online, skipping notifications")
		return
	}

	d.sendPush(ctx, recipient, senderName, preview)
	d.sendEmail(ctx, recipient, senderName, preview)
	d.sendSMS(ctx, recipient, senderName, preview)
}

func (d *Dispatcher) sendPush(ctx context.Context, recipient domain.User, senderName, preview string) {
	tokens := d.devices.Tokens(recipient.ID)
	if len(tokens) == 0 {
		d.logger.Debug().Str(log.FieldUserID, recipient.ID).Msg("no devices registered, skipping push")
		return
	}

	title := fmt.Sprintf("New message from %s", senderName)
	if err := d.push.SendPush(ctx, recipient.ID, tokens, title, preview); err != nil {
		d.logger.Error().Err(err).Str(log.FieldUserID, recipient.ID).Msg("push notification failed")
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, recipient domain.User, senderName, preview string) {
	if err := d.email.SendEmail(ctx, recipient.Email, recipient.Username, senderName, preview); err != nil {
		d.logger.Error().Err(err).Str(log.FieldUserID, recipient.ID).Msg("email notification failed")
	}
}

func (d *Dispatcher) sendSMS(ctx context.Context, recipient domain.User, senderName, preview string) {
	if recipient.Phone == "" {
		return
	}
	if err := d.sms.SendSMS(ctx, recipient.Phone, senderName, preview); err != nil {
		d.logger.Error().Err(err).Str(log.FieldUserID, recipient.ID).Msg("sms notification failed")
	}
}
