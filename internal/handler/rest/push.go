package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
	"github.com/webitel/im-realtime-bench/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxSendBody         = 64 << 10
)

// PushStatus describes the push transport for the stats endpoint.
type PushStatus interface {
	Sessions() int64
}

// Transport reports the push bus state.
type Transport interface {
	Driver() string
	State() string
}

type PushHandler struct {
	sender    service.Sender
	poller    service.Poller
	metrics   *metrics.Aggregator
	sessions  PushStatus
	transport Transport
	logger    *slog.Logger
}

func NewPushHandler(sender service.Sender, poller service.Poller, agg *metrics.Aggregator, sessions PushStatus, transport Transport, logger *slog.Logger) *PushHandler {
	return &PushHandler{
		sender:    sender,
		poller:    poller,
		metrics:   agg,
		sessions:  sessions,
		transport: transport,
		logger:    logger,
	}
}

func (h *PushHandler) Routes(r chi.Router) {
	r.Post("/send", h.Send)
	r.Get("/stats", h.Stats)
	r.Get("/notifications/history", h.History)
	r.Post("/metrics/reset", resetChannel(h.metrics, model.ChannelPush, h.logger))
}

// LegacyRoutes keeps the older websocket-named paths working.
func (h *PushHandler) LegacyRoutes(r chi.Router) {
	r.Post("/send-notification", h.Send)
	r.Get("/stats", h.Stats)
	r.Get("/notifications/history", h.History)
	r.Post("/metrics/reset", resetChannel(h.metrics, model.ChannelPush, h.logger))
}

type SendRequest struct {
	Message string `json:"message"`
}

type SendResponse struct {
	Message         string                  `json:"message"`
	Notification    marshaller.Notification `json:"notification"`
	WaitersResolved int                     `json:"waitersResolved"`
	Pushed          bool                    `json:"pushed"`
}

// Send validates, persists and dispatches a manual notification.
func (h *PushHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		writeError(w, r, h.logger, model.NewValidationError("body", "must be a JSON object with a message"))
		return
	}

	n, report, err := h.sender.Send(r.Context(), req.Message)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		Message:         "notification sent",
		Notification:    marshaller.MapNotification(n),
		WaitersResolved: report.WaitersResolved,
		Pushed:          report.Pushed,
	})
}

type PushStats struct {
	Status         string `json:"status"`
	ConnectionType string `json:"connectionType"`
	Transport      string `json:"transport"`
	Breaker        string `json:"breaker"`
	Subscribers    int64  `json:"subscribers"`
}

func (h *PushHandler) Stats(w http.ResponseWriter, r *http.Request) {
	status := "active"
	if h.transport.State() == "open" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, PushStats{
		Status:         status,
		ConnectionType: "persistent",
		Transport:      h.transport.Driver(),
		Breaker:        h.transport.State(),
		Subscribers:    h.sessions.Sessions(),
	})
}

func (h *PushHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultHistoryLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	batch, err := h.poller.History(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, marshaller.MapNotifications(batch))
}
