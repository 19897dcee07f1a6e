package store

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
)

var Module = fx.Module("store",
	fx.Provide(
		New,
		func(s Store) NotificationStore { return s },
		func(s Store) MetricsStore { return s },
	),
	fx.Invoke(func(lc fx.Lifecycle, s Store) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.Close()
			},
		})
	}),
)

// New builds the configured backend.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Info("STORE_READY", "driver", "memory")
		return NewMemory(), nil
	case "sqlite":
		s, err := OpenSQLite(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("STORE_READY", "driver", "sqlite", "dsn", cfg.Store.DSN)
		return s, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
}
