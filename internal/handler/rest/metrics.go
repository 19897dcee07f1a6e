package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
)

type MetricsHandler struct {
	metrics *metrics.Aggregator
	logger  *slog.Logger
}

func NewMetricsHandler(agg *metrics.Aggregator, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{metrics: agg, logger: logger}
}

func (h *MetricsHandler) Routes(r chi.Router) {
	r.Get("/", h.All)
	r.Get("/summary", h.Summary)
	r.Get("/comparison", h.Comparison)
	r.Post("/reset", h.ResetAll)
	r.Get("/{channel}", h.Channel)
	r.Post("/{channel}/reset", h.ResetChannel)
}

func (h *MetricsHandler) All(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, marshaller.MapMetricsList(h.metrics.All()))
}

func (h *MetricsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, marshaller.MapSummary(h.metrics.Summary()))
}

func (h *MetricsHandler) Comparison(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, marshaller.MapComparison(h.metrics.Comparison()))
}

func (h *MetricsHandler) Channel(w http.ResponseWriter, r *http.Request) {
	ch, err := model.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := h.metrics.Get(ch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, marshaller.MapMetrics(rec))
}

func (h *MetricsHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.metrics.Reset(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "all metrics reset"})
}

func (h *MetricsHandler) ResetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := model.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resetChannel(h.metrics, ch, h.logger)(w, r)
}
