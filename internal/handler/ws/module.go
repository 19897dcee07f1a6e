package ws

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
)

var Module = fx.Module("ws",
	fx.Provide(
		func(logger *slog.Logger, bus *pubsub.Bus, push pubsub.EventDispatcher, rec metrics.Recorder, cfg *config.Config) (*WSHandler, error) {
			return NewWSHandler(logger.With("component", "ws"), bus, push, rec, cfg.WS)
		},
	),
)
