package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups every route owner mounted by NewRouter.
type Handlers struct {
	Short     *ShortPollingHandler
	Long      *LongPollingHandler
	Push      *PushHandler
	Metrics   *MetricsHandler
	Dashboard *DashboardHandler
	// WS serves the push stream upgrade.
	WS http.Handler
}

// NewRouter builds the HTTP surface. gatherer may be nil to skip /prometheus.
func NewRouter(h Handlers, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/short-polling", h.Short.Routes)
		r.Route("/long-polling", h.Long.Routes)
		r.Route("/push", h.Push.Routes)
		r.Route("/websocket", h.Push.LegacyRoutes)
		r.Route("/metrics", h.Metrics.Routes)
		r.Route("/dashboard", h.Dashboard.Routes)
	})

	if h.WS != nil {
		r.Get("/ws", h.WS.ServeHTTP)
	}
	if gatherer != nil {
		r.Handle("/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", RequestID: middleware.GetReqID(r.Context())})
	})
	return r
}
