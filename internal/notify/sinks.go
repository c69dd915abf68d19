package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// PushSender delivers a push notification to a user's registered devices.
type PushSender interface {
	SendPush(ctx context.Context, userID string, tokens []string, title, body string) error
}

// EmailSender delivers an email notification.
type EmailSender interface {
	SendEmail(ctx context.Context, toEmail, username, senderName, preview string) error
}

// SMSSender delivers an SMS notification.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, senderName, preview string) error
}

// Logging sinks stand in for the real providers (FCM/APN, SendGrid, Twilio)
// in development. They log the would-be delivery and succeed.

type LoggingPushSender struct {
	Logger zerolog.Logger
}

func (s LoggingPushSender) SendPush(_ context.Context, userID string, tokens []string, title, body string) error {
	s.Logger.Info().
		Str("user_id", userID).
		Int("devices", len(tokens)).
		Str("title", title).
		Str("body", body).
		Msg("push notification sent")
	return nil
}

type LoggingEmailSender struct {
	Logger zerolog.Logger
}

func (s LoggingEmailSender) SendEmail(_ context.Context, toEmail, username, senderName, preview string) error {
	s.Logger.Info().
		Str("to", toEmail).
		Str("username", username).
		Str("sender", senderName).
		Str("preview", preview).
		Msg("email notification sent")
	return nil
}

type LoggingSMSSender struct {
	Logger zerolog.Logger
}

func (s LoggingSMSSender) SendSMS(_ context.Context, phone, senderName, preview string) error {
	s.Logger.Info().
		Str("to", phone).
		Str("sender", senderName).
		Str("preview", preview).
		Msg("sms notification sent")
	return nil
}
