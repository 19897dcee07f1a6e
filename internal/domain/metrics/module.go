package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func(reg *prometheus.Registry, waiters registry.Waiters) (*Exporter, error) {
			return NewExporter(reg, waiters.Count)
		},
		func(s store.MetricsStore, e *Exporter, logger *slog.Logger) *Aggregator {
			return NewAggregator(s,
				WithExporter(e),
				WithLogger(logger.With("component", "metrics")),
			)
		},
		func(a *Aggregator) Recorder { return a },
	),
	fx.Invoke(func(lc fx.Lifecycle, a *Aggregator) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(startCtx context.Context) error {
				if err := a.Restore(startCtx); err != nil {
					cancel()
					return err
				}
				// [BACKGROUND_PERSIST] stops after every recorder, flushing the tail
				go func() {
					defer close(done)
					a.Run(ctx)
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case <-done:
					return nil
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			},
		})
	}),
)
