package bus

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
)

var Module = fx.Module("bus-handler",
	fx.Provide(
		NewInboundHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(h *InboundHandler, router *message.Router, bus *pubsub.Bus, cfg *config.Config) error {
		return h.RegisterHandlers(router, bus, cfg)
	}),
)
