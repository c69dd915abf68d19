// Package handler exposes the HTTP surface: the websocket endpoint plus the
// health and status endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/auth"
	"github.com/felagos/chat-app/internal/config"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/internal/hub"
	"github.com/felagos/chat-app/internal/ratelimit"
	"github.com/felagos/chat-app/internal/service"
	"github.com/felagos/chat-app/pkg/log"
)

// WSHandler authenticates handshakes and bridges websocket frames to the
// chat service.
type WSHandler struct {
	hub      *hub.Hub
	svc      service.ChatService
	verifier auth.Verifier
	limiter  *ratelimit.Limiter
	limits   config.RateLimitConfig
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWSHandler builds the websocket endpoint handler.
func NewWSHandler(h *hub.Hub, svc service.ChatService, verifier auth.Verifier, limiter *ratelimit.Limiter, limits config.RateLimitConfig, wsCfg config.WebSocketConfig, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:      h,
		svc:      svc,
		verifier: verifier,
		limiter:  limiter,
		limits:   limits,
		wsCfg:    wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin policy is enforced upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// ServeHTTP performs authentication and rate limiting before the upgrade, so
// refused handshakes stay plain HTTP errors.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := log.ClientIP(r)
	if !h.limiter.Allow("req:"+ip, h.limits.RequestWindow, h.limits.RequestMax) {
		h.logger.Warn().Str(log.FieldClientIP, ip).Msg("connection rate limit exceeded")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldClientIP, ip).Msg("handshake refused")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).Str(log.FieldClientIP, ip).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), identity.UserID, h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	ctx := r.Context()
	if err := h.svc.HandleConnect(context.WithoutCancel(ctx), client); err != nil {
		h.logger.Error().Err(err).Str(log.FieldUserID, identity.UserID).Msg("connect handling failed")
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.dispatch)
		if err := h.svc.HandleDisconnect(context.Background(), client); err != nil {
			h.logger.Error().Err(err).Str(log.FieldUserID, client.UserID).Msg("disconnect handling failed")
		}
	}()
}

// authenticate resolves the bearer token and checks that the identity the
// client claims matches the one the token carries.
func (h *WSHandler) authenticate(r *http.Request) (auth.Identity, error) {
	token := bearerToken(r)
	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		return auth.Identity{}, err
	}

	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != identity.UserID {
		return auth.Identity{}, domain.ErrAuthFailed
	}
	return identity, nil
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for browser websocket clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
			return rest
		}
	}
	return r.URL.Query().Get("token")
}

// dispatch decodes one inbound frame and routes it. Runs on the client's read
// goroutine, so events from one connection are handled in arrival order.
func (h *WSHandler) dispatch(c *hub.Client, raw []byte) {
	var base domain.BaseEvent
	if err := json.Unmarshal(raw, &base); err != nil {
		c.SendEvent(domain.NewErrorEvent("Malformed event", err.Error()))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.EventSendMessage:
		var ev domain.SendMessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.SendEvent(domain.NewErrorEvent("Malformed event", err.Error()))
			return
		}
		h.svc.HandleSendMessage(ctx, c, ev.ConversationID, ev.Content)

	case domain.EventTypingStart:
		var ev domain.TypingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.svc.HandleTyping(ctx, c, ev.ConversationID, true)

	case domain.EventTypingStop:
		var ev domain.TypingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.svc.HandleTyping(ctx, c, ev.ConversationID, false)

	case domain.EventJoinRoom:
		var ev domain.RoomEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.svc.HandleJoinRoom(ctx, c, ev.ConversationID)

	case domain.EventLeaveRoom:
		var ev domain.RoomEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.svc.HandleLeaveRoom(ctx, c, ev.ConversationID)

	default:
		c.SendEvent(domain.NewErrorEvent("Unknown event type", base.Type))
	}
}
