package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
	"github.com/webitel/im-realtime-bench/internal/service"
)

const dashboardLatest = 10

type DashboardHandler struct {
	poller    service.Poller
	metrics   *metrics.Aggregator
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

func NewDashboardHandler(poller service.Poller, agg *metrics.Aggregator, transport Transport, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{poller: poller, metrics: agg, transport: transport, logger: logger, now: time.Now}
}

func (h *DashboardHandler) Routes(r chi.Router) {
	r.Get("/data", h.Data)
	r.Get("/realtime", h.Realtime)
	r.Get("/health", h.Health)
	r.Post("/reset", h.Reset)
}

type GeneralStats struct {
	TotalNotifications       int64 `json:"totalNotifications"`
	UndeliveredNotifications int64 `json:"undeliveredNotifications"`
	Timestamp                int64 `json:"timestamp"`
}

type DashboardData struct {
	Metrics             marshaller.MetricsSummary `json:"metrics"`
	LatestNotifications []marshaller.Notification `json:"latestNotifications"`
	GeneralStats        GeneralStats              `json:"generalStats"`
}

// Data is the composite dashboard view. Reads run concurrently.
func (h *DashboardHandler) Data(w http.ResponseWriter, r *http.Request) {
	var (
		latest []model.Notification
		totals service.Totals
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		latest, err = h.poller.Recent(ctx, dashboardLatest)
		return err
	})
	g.Go(func() (err error) {
		totals, err = h.poller.Totals(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardData{
		Metrics:             marshaller.MapSummary(h.metrics.Summary()),
		LatestNotifications: marshaller.MapNotifications(latest),
		GeneralStats: GeneralStats{
			TotalNotifications:       totals.Total,
			UndeliveredNotifications: totals.Undelivered,
			Timestamp:                h.now().UnixMilli(),
		},
	})
}

type RealtimeStats struct {
	Metrics          marshaller.MetricsSummary `json:"metrics"`
	UndeliveredCount int64                     `json:"undeliveredCount"`
	LastUpdate       int64                     `json:"lastUpdate"`
}

func (h *DashboardHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	totals, err := h.poller.Totals(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RealtimeStats{
		Metrics:          marshaller.MapSummary(h.metrics.Summary()),
		UndeliveredCount: totals.Undelivered,
		LastUpdate:       h.now().UnixMilli(),
	})
}

type Health struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"notificationService": "UP",
		"metricsService":      "UP",
		"database":            "UP",
		"push":                "UP",
	}
	status, code := "UP", http.StatusOK

	if _, err := h.poller.Totals(r.Context()); err != nil {
		h.logger.Warn("HEALTH_STORE_DOWN", "err", err)
		services["database"] = "DOWN"
		status, code = "DOWN", http.StatusServiceUnavailable
	}
	if h.transport.State() == "open" {
		services["push"] = "DEGRADED"
	}

	writeJSON(w, code, Health{Status: status, Timestamp: h.now().UnixMilli(), Services: services})
}

// Reset clears every metric. With all=true it also purges the store and
// releases parked long-poll clients.
func (h *DashboardHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.metrics.Reset(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if r.URL.Query().Get("all") == "true" {
		if err := h.poller.Purge(r.Context()); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "dashboard reset, notifications purged"})
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "dashboard reset"})
}
