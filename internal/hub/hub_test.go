package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felagos/chat-app/internal/config"
	"github.com/felagos/chat-app/internal/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	})
	go h.Run()
	return h
}

func newTestClient(h *Hub, id, userID string) *Client {
	return NewClient(id, userID, h, nil, h.cfg)
}

func recvEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatalf("client %s received no event", c.ID)
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("client %s received unexpected event: %s", c.ID, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "conn-1", "u1")

	h.JoinRoom(c, "conversation:42")
	h.JoinRoom(c, "conversation:42")

	assert.Equal(t, 1, h.RoomSize("conversation:42"))
	assert.True(t, h.InRoom("conn-1", "conversation:42"))
}

func TestLeaveRoomRemovesMembership(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "conn-1", "u1")

	h.JoinRoom(c, "conversation:42")
	h.LeaveRoom(c, "conversation:42")

	assert.False(t, h.InRoom("conn-1", "conversation:42"))
	assert.Equal(t, 0, h.RoomSize("conversation:42"))

	// Leaving a room never joined is a no-op.
	h.LeaveRoom(c, "conversation:missing")
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "conn-1", "u1")
	member := newTestClient(h, "conn-2", "u2")
	outsider := newTestClient(h, "conn-3", "u3")

	h.Register(sender)
	h.Register(member)
	h.Register(outsider)

	h.JoinRoom(sender, "conversation:42")
	h.JoinRoom(member, "conversation:42")

	err := h.BroadcastToRoom("conversation:42", &domain.MessageReceivedEvent{
		Type:           domain.EventMessageReceived,
		ConversationID: "42",
		UserID:         "u1",
		Content:        "hello",
	}, sender.ID)
	require.NoError(t, err)

	ev := recvEvent(t, member)
	assert.Equal(t, domain.EventMessageReceived, ev["type"])
	assert.Equal(t, "hello", ev["content"])

	assertNoEvent(t, sender)
	assertNoEvent(t, outsider)
}

func TestLateJoinerDoesNotReceiveEarlierBroadcast(t *testing.T) {
	h := newTestHub(t)
	member := newTestClient(h, "conn-1", "u1")
	late := newTestClient(h, "conn-2", "u2")

	h.Register(member)
	h.Register(late)
	h.JoinRoom(member, "conversation:42")

	// Emit while only member is in the room, then join late before the run
	// loop delivers. The event is scoped to the membership at emit time.
	err := h.BroadcastToRoom("conversation:42", &domain.MessageReceivedEvent{
		Type:    domain.EventMessageReceived,
		Content: "before join",
	}, "")
	require.NoError(t, err)
	h.JoinRoom(late, "conversation:42")

	ev := recvEvent(t, member)
	assert.Equal(t, domain.EventMessageReceived, ev["type"])
	assertNoEvent(t, late)
}

func TestLeaverStillReceivesEventEmittedWhileMember(t *testing.T) {
	h := newTestHub(t)
	member := newTestClient(h, "conn-1", "u1")

	h.Register(member)
	h.JoinRoom(member, "conversation:42")

	err := h.BroadcastToRoom("conversation:42", &domain.MessageReceivedEvent{
		Type:    domain.EventMessageReceived,
		Content: "before leave",
	}, "")
	require.NoError(t, err)
	h.LeaveRoom(member, "conversation:42")

	ev := recvEvent(t, member)
	assert.Equal(t, "before leave", ev["content"])
}

func TestBroadcastAllReachesEveryClient(t *testing.T) {
	h := newTestHub(t)
	c1 := newTestClient(h, "conn-1", "u1")
	c2 := newTestClient(h, "conn-2", "u2")

	h.Register(c1)
	h.Register(c2)

	err := h.BroadcastAll(&domain.PresenceEvent{Type: domain.EventUserOnline, UserID: "u1"})
	require.NoError(t, err)

	for _, c := range []*Client{c1, c2} {
		ev := recvEvent(t, c)
		assert.Equal(t, domain.EventUserOnline, ev["type"])
		assert.Equal(t, "u1", ev["userId"])
	}
}

func TestUnregisterClearsRoomMembership(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "conn-1", "u1")

	h.Register(c)
	h.JoinRoom(c, "conversation:42")
	h.Unregister(c)

	require.Eventually(t, func() bool {
		return !h.InRoom("conn-1", "conversation:42")
	}, time.Second, 10*time.Millisecond)
}
