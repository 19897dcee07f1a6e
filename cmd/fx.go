package cmd

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-realtime-bench/config"
	httpsrv "github.com/webitel/im-realtime-bench/infra/server/http"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
	bushandler "github.com/webitel/im-realtime-bench/internal/handler/bus"
	"github.com/webitel/im-realtime-bench/internal/handler/rest"
	"github.com/webitel/im-realtime-bench/internal/handler/ws"
	"github.com/webitel/im-realtime-bench/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(Options(cfg))
}

// Options is the whole dependency graph. Hooks stop in reverse module order:
// HTTP server, generator, registry, bus router, pubsub, store.
func Options(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
			ProvidePrometheusRegistry,
		),
		fx.Invoke(RegisterConfigWatcher),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		store.Module,
		pubsub.Module,
		metrics.Module,
		bushandler.Module,
		registry.Module,
		service.Module,
		ws.Module,
		rest.Module,
		httpsrv.Module,
	)
}
