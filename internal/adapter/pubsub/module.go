package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(cfg *config.Config, wmLogger watermill.LoggerAdapter, logger *slog.Logger) (*Bus, error) {
			return NewBus(cfg.PubSub, wmLogger, logger.With("component", "pubsub"))
		},
		func(bus *Bus, cfg *config.Config, logger *slog.Logger) EventDispatcher {
			return NewEventDispatcher(bus.Publisher(), bus.Topic(), cfg.Push, logger.With("component", "push"))
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, bus *Bus) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return bus.Close() },
		})
	}),
)
