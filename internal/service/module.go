package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		NewDispatcher,
		// [DECORATION_LAYER] Every Sender consumer gets the logging decorator
		func(d *Dispatcher, logger *slog.Logger) Sender {
			return NewSenderMiddleware(d, logger.With("component", "sender"))
		},
		fx.Annotate(
			func(st store.NotificationStore, w registry.Waiters, rec metrics.Recorder, cfg *config.Config, logger *slog.Logger) *PollingService {
				return NewPollingService(st, w, rec, cfg.LongPoll.Timeout, logger.With("component", "poller"))
			},
			fx.As(new(Poller)),
		),
		func(s Sender, cfg *config.Config, logger *slog.Logger) *Generator {
			return NewGenerator(s, cfg.Generator.Interval, logger.With("component", "generator"))
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, g *Generator, cfg *config.Config) {
		if !cfg.Generator.Enabled {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				g.Start()
				return nil
			},
			OnStop: g.Stop,
		})
	}),
)
