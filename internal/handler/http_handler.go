package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/breaker"
	"github.com/felagos/chat-app/internal/notify"
	"github.com/felagos/chat-app/internal/presence"
	"github.com/felagos/chat-app/pkg/log"
)

// Queue health states reported by the health endpoint.
const (
	QueueHealthy     = "healthy"
	QueueUnhealthy   = "unhealthy"
	QueueUnreachable = "unreachable"
)

// HTTPHandler serves the operational endpoints.
type HTTPHandler struct {
	brk       *breaker.Breaker
	tracker   presence.Tracker
	devices   *notify.DeviceRegistry
	startedAt time.Time
	logger    zerolog.Logger
}

// NewHTTPHandler builds the health and status handler.
func NewHTTPHandler(brk *breaker.Breaker, tracker presence.Tracker, devices *notify.DeviceRegistry, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		brk:       brk,
		tracker:   tracker,
		devices:   devices,
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "http_handler").Logger(),
	}
}

// Register mounts the operational routes on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/devices", h.RegisterDevice)
}

// Health reports overall liveness plus the broker path state derived from
// the circuit breaker.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	queue := QueueHealthy
	switch h.brk.State() {
	case breaker.StateOpen:
		queue = QueueUnreachable
	case breaker.StateHalfOpen:
		queue = QueueUnhealthy
	}

	status := http.StatusOK
	if queue == QueueUnreachable {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, map[string]any{
		"status":       "ok",
		"messageQueue": queue,
		"timestamp":    time.Now().UnixMilli(),
	})
}

// Status reports runtime statistics for dashboards.
func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	active, err := h.tracker.ActiveCount(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to count active users")
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds":     int64(time.Since(h.startedAt).Seconds()),
		"activeUsers":       active,
		"registeredDevices": h.devices.Count(),
		"goroutines":        runtime.NumGoroutine(),
		"memory": map[string]any{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"numGC":      mem.NumGC,
		},
	})
}

// RegisterDevice records a push device token so offline message notifications
// can reach the device.
func (h *HTTPHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.UserID == "" || req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "userId and token are required"})
		return
	}

	h.devices.Register(req.UserID, req.Token)
	h.logger.Info().Str(log.FieldUserID, req.UserID).Msg("device registered")
	h.writeJSON(w, http.StatusCreated, map[string]any{"registered": true})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("failed to write response")
	}
}
