package rest

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/handler/ws"
)

// transport joins the bus driver with the publish breaker state.
type transport struct {
	bus  *pubsub.Bus
	push pubsub.EventDispatcher
}

func (t transport) Driver() string { return t.bus.Driver() }
func (t transport) State() string  { return t.push.State() }

var Module = fx.Module("rest",
	fx.Provide(
		func(bus *pubsub.Bus, push pubsub.EventDispatcher) Transport {
			return transport{bus: bus, push: push}
		},
		func(w *ws.WSHandler) PushStatus { return w },
		NewShortPollingHandler,
		NewLongPollingHandler,
		NewPushHandler,
		NewMetricsHandler,
		NewDashboardHandler,
		func(
			short *ShortPollingHandler,
			long *LongPollingHandler,
			push *PushHandler,
			metrics *MetricsHandler,
			dashboard *DashboardHandler,
			wsHandler *ws.WSHandler,
			reg *prometheus.Registry,
			logger *slog.Logger,
		) http.Handler {
			return NewRouter(Handlers{
				Short:     short,
				Long:      long,
				Push:      push,
				Metrics:   metrics,
				Dashboard: dashboard,
				WS:        wsHandler,
			}, reg, logger.With("component", "http"))
		},
	),
)
