package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
	"github.com/webitel/im-realtime-bench/internal/service"
)

const defaultLatestLimit = 10

type ShortPollingHandler struct {
	poller  service.Poller
	metrics *metrics.Aggregator
	logger  *slog.Logger
}

func NewShortPollingHandler(poller service.Poller, agg *metrics.Aggregator, logger *slog.Logger) *ShortPollingHandler {
	return &ShortPollingHandler{poller: poller, metrics: agg, logger: logger}
}

func (h *ShortPollingHandler) Routes(r chi.Router) {
	r.Get("/notifications", h.Notifications)
	r.Get("/notifications/latest", h.Latest)
	r.Get("/notifications/count", h.Count)
	r.Post("/metrics/reset", resetChannel(h.metrics, model.ChannelShort, h.logger))
}

// Notifications returns and claims the pending batch.
func (h *ShortPollingHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	batch, err := h.poller.ShortPoll(r.Context(), since)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, marshaller.MapNotifications(batch))
}

func (h *ShortPollingHandler) Latest(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLatestLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	batch, err := h.poller.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, marshaller.MapNotifications(batch))
}

func (h *ShortPollingHandler) Count(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	count, err := h.poller.Count(r.Context(), since)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}

// resetChannel builds the per-technique reset endpoint.
func resetChannel(agg *metrics.Aggregator, ch model.Channel, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := agg.ResetChannel(r.Context(), ch); err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: ch.DisplayName() + " metrics reset"})
	}
}
