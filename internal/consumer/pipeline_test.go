package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felagos/chat-app/internal/broker"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/internal/store"
)

type notifyCall struct {
	recipient  domain.User
	senderName string
	preview    string
}

type fakeNotifier struct {
	calls []notifyCall
}

func (f *fakeNotifier) NotifyOffline(_ context.Context, recipient domain.User, senderName, preview string) {
	f.calls = append(f.calls, notifyCall{recipient, senderName, preview})
}

type publishCall struct {
	exchange   string
	routingKey string
	payload    any
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	f.calls = append(f.calls, publishCall{exchange, routingKey, payload})
	return f.err
}

type pipelineFixture struct {
	pipe      *Pipeline
	store     *store.MemoryStore
	tracker   *presence.MemoryTracker
	notifier  *fakeNotifier
	publisher *fakePublisher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.AddUser(domain.User{ID: "alice", Username: "Alice", Email: "alice@example.com"})
	st.AddUser(domain.User{ID: "bob", Username: "Bob", Email: "bob@example.com", Phone: "+15550100"})
	st.AddConversation("conv-1", "alice", "bob")

	tracker := presence.NewMemoryTracker(5*time.Minute, zerolog.Nop())
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}

	return &pipelineFixture{
		pipe:      New(st, tracker, notifier, publisher, 50, 10*time.Minute, zerolog.Nop()),
		store:     st,
		tracker:   tracker,
		notifier:  notifier,
		publisher: publisher,
	}
}

func envelopeDelivery(t *testing.T, conversationID, senderID, content string) broker.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.NewOutboundEnvelope(conversationID, senderID, content))
	require.NoError(t, err)
	return broker.Delivery{Body: body, RoutingKey: domain.RouteMessageNew}
}

func TestHandleMessagePersistsAndNotifiesOfflineRecipient(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	err := f.pipe.HandleMessage(ctx, envelopeDelivery(t, "conv-1", "alice", "hello bob"))
	require.NoError(t, err)

	messages := f.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "conv-1", messages[0].ConversationID)
	assert.Equal(t, "alice", messages[0].SenderID)
	assert.Equal(t, "hello bob", messages[0].Content)

	require.Len(t, f.notifier.calls, 1)
	call := f.notifier.calls[0]
	assert.Equal(t, "bob", call.recipient.ID)
	assert.Equal(t, "Alice", call.senderName)
	assert.Equal(t, "hello bob", call.preview)

	require.Len(t, f.publisher.calls, 1)
	assert.Equal(t, domain.Exchange, f.publisher.calls[0].exchange)
	assert.Equal(t, domain.RouteNotificationSend, f.publisher.calls[0].routingKey)
	event, ok := f.publisher.calls[0].payload.(domain.NotificationEvent)
	require.True(t, ok)
	assert.Equal(t, messages[0].ID, event.MessageID)
	assert.Equal(t, "conv-1", event.ConversationID)
	assert.Equal(t, "alice", event.SenderID)
}

func TestHandleMessageSkipsOnlineRecipient(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.Connect(ctx, "bob", "conn-1"))

	err := f.pipe.HandleMessage(ctx, envelopeDelivery(t, "conv-1", "alice", "hi"))
	require.NoError(t, err)

	assert.Empty(t, f.notifier.calls, "online recipients already got the live relay")
	assert.Len(t, f.store.Messages(), 1, "message is persisted regardless of presence")
}

func TestHandleMessageTruncatesPreview(t *testing.T) {
	f := newPipelineFixture(t)

	long := strings.Repeat("x", 200)
	err := f.pipe.HandleMessage(context.Background(), envelopeDelivery(t, "conv-1", "alice", long))
	require.NoError(t, err)

	require.Len(t, f.notifier.calls, 1)
	assert.Len(t, f.notifier.calls[0].preview, 50)
}

func TestHandleMessageMalformedBody(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.pipe.HandleMessage(context.Background(), broker.Delivery{Body: []byte("{not json")})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	assert.Empty(t, f.store.Messages())
}

func TestHandleMessageMissingFields(t *testing.T) {
	f := newPipelineFixture(t)

	body, err := json.Marshal(map[string]any{"content": "hello"})
	require.NoError(t, err)

	err = f.pipe.HandleMessage(context.Background(), broker.Delivery{Body: body})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestHandleMessagePersistenceFailurePropagates(t *testing.T) {
	f := newPipelineFixture(t)

	// Unknown conversation makes CreateMessage fail; the error must reach the
	// broker so the delivery is retried, and it must not look malformed.
	err := f.pipe.HandleMessage(context.Background(), envelopeDelivery(t, "conv-missing", "alice", "hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMalformedPayload)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.notifier.calls)
	assert.Empty(t, f.publisher.calls)
}

func TestHandleMessageUnknownSenderFallsBackToID(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.AddConversation("conv-2", "ghost", "bob")

	err := f.pipe.HandleMessage(context.Background(), envelopeDelivery(t, "conv-2", "ghost", "hi"))
	require.NoError(t, err)

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, "ghost", f.notifier.calls[0].senderName)
}

func TestHandleMessagePublishFailureDoesNotRequeue(t *testing.T) {
	f := newPipelineFixture(t)
	f.publisher.err = errors.New("broker down")

	err := f.pipe.HandleMessage(context.Background(), envelopeDelivery(t, "conv-1", "alice", "hi"))
	assert.NoError(t, err, "a persisted message must not be redelivered for a lost audit event")
	assert.Len(t, f.store.Messages(), 1)
}

func TestHandleNotificationDefaultLogsReceipt(t *testing.T) {
	f := newPipelineFixture(t)

	body, err := json.Marshal(domain.NotificationEvent{Type: "message", MessageID: "m1", ConversationID: "conv-1"})
	require.NoError(t, err)

	assert.NoError(t, f.pipe.HandleNotification(context.Background(), broker.Delivery{Body: body}))
}

func TestHandleNotificationCustomHandler(t *testing.T) {
	f := newPipelineFixture(t)

	var got domain.NotificationEvent
	f.pipe.SetNotificationHandler(func(_ context.Context, event domain.NotificationEvent) error {
		got = event
		return nil
	})

	body, err := json.Marshal(domain.NotificationEvent{Type: "message", MessageID: "m1", SenderID: "alice"})
	require.NoError(t, err)

	require.NoError(t, f.pipe.HandleNotification(context.Background(), broker.Delivery{Body: body}))
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, "alice", got.SenderID)
}

func TestHandleNotificationMalformed(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.pipe.HandleNotification(context.Background(), broker.Delivery{Body: []byte("nope")})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "hél", truncate("héllo", 3))
	assert.Equal(t, "日本語", truncate("日本語のテキスト", 3))
}
