// Package hub manages live websocket connections and their room memberships.
// Rooms are logical broadcast groups: one per conversation plus one personal
// room per user.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/felagos/chat-app/internal/config"
	"github.com/felagos/chat-app/pkg/log"
)

// Hub routes events to connections grouped by room. Register/unregister and
// broadcast delivery flow through the run loop; room membership mutates under
// the lock. Broadcast targets are resolved at emit time, so a connection that
// joins a room after an event was emitted never receives it.
type Hub struct {
	clients map[string]*Client            // connection ID -> client
	rooms   map[string]map[string]*Client // room -> connection ID -> client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu  sync.RWMutex
	cfg config.WebSocketConfig
}

type broadcastMessage struct {
	payload []byte
	targets []*Client // snapshot of the recipients when the event was emitted
}

// NewHub creates a hub; call Run in its own goroutine.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		cfg:        cfg,
	}
}

// Run processes registration and broadcast events until the channels close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for room, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, room)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range msg.targets {
				if _, ok := h.clients[client.ID]; !ok {
					// Dropped between emit and delivery.
					continue
				}
				select {
				case client.Send <- msg.payload:
				default:
					// Slow consumer: drop the connection rather than
					// block the broadcast loop.
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds the client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes the client from the hub and every room it joined.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom adds the client to a room. Joining a room twice is a no-op.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client
}

// LeaveRoom removes the client from a room. Leaving a room the client never
// joined is a no-op.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether the connection is currently a member of the room.
func (h *Hub) InRoom(connectionID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connectionID]
	return ok
}

// RoomSize reports the number of connections in the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom sends the event to every room member except the excluded
// connection. The member set is captured here, not when the run loop delivers,
// so the event is scoped to the connections that were in the room at emit
// time.
func (h *Hub) BroadcastToRoom(room string, event any, exclude string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for connID, client := range h.rooms[room] {
		if connID == exclude {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	h.broadcast <- &broadcastMessage{payload: payload, targets: targets}
	return nil
}

// BroadcastAll sends the event to every client connected at emit time. Used
// for the user online/offline announcements, never for message content.
func (h *Hub) BroadcastAll(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	h.broadcast <- &broadcastMessage{payload: payload, targets: targets}
	return nil
}
