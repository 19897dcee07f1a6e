package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-realtime-bench/internal/handler/marshaller/lp"
	"github.com/webitel/im-realtime-bench/internal/service"
)

// HeaderClientID echoes the client id, generated when the caller sent none.
const HeaderClientID = "X-Client-Id"

type LongPollingHandler struct {
	poller  service.Poller
	waiters registry.Waiters
	metrics *metrics.Aggregator
	logger  *slog.Logger
}

func NewLongPollingHandler(poller service.Poller, waiters registry.Waiters, agg *metrics.Aggregator, logger *slog.Logger) *LongPollingHandler {
	return &LongPollingHandler{poller: poller, waiters: waiters, metrics: agg, logger: logger}
}

func (h *LongPollingHandler) Routes(r chi.Router) {
	r.Get("/notifications", h.Poll)
	r.Get("/stats", h.Stats)
	r.Post("/force-timeout", h.ForceTimeout)
	r.Post("/metrics/reset", resetChannel(h.metrics, model.ChannelLong, h.logger))
}

// Poll holds the request until notifications arrive or the deadline passes.
func (h *LongPollingHandler) Poll(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.poller.LongPoll(r.Context(), since, r.URL.Query().Get("clientId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Outcome == registry.OutcomeCanceled {
		// Client disconnected.
		return
	}

	data, err := lpmarshaller.MarshallBatch(res.Notifications)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Debug("LONG_POLL_ANSWERED",
		"client_id", res.ClientID,
		"outcome", res.Outcome.String(),
		"immediate", res.Immediate,
		"count", len(res.Notifications),
		"duration_ms", res.Elapsed.Milliseconds(),
	)
	w.Header().Set(HeaderClientID, res.ClientID)
	writeRaw(w, http.StatusOK, data)
}

type LongPollingStats struct {
	WaitingClients int `json:"waitingClients"`
}

func (h *LongPollingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LongPollingStats{WaitingClients: h.waiters.Count()})
}

type ForceTimeoutResponse struct {
	Message  string `json:"message"`
	Released int    `json:"released"`
}

func (h *LongPollingHandler) ForceTimeout(w http.ResponseWriter, r *http.Request) {
	released := h.waiters.ForceTimeoutAll()
	h.logger.Info("LONG_POLL_FORCED_TIMEOUT", "released", released)
	writeJSON(w, http.StatusOK, ForceTimeoutResponse{Message: "forced timeout on every waiting client", Released: released})
}
