package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/im-realtime-bench/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Registry {
			return New(
				WithDefaultTimeout(cfg.LongPoll.Timeout),
				WithLogger(logger.With("component", "registry")),
			)
		},
		func(r *Registry) Waiters { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				r.Shutdown() // [GRACEFUL_SHUTDOWN] answer every parked client
				return nil
			},
		})
	}),
)
