package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/service"
)

const (
	// ------------------- HANDLERS -------------------
	HandlerNotificationInbound = "ON_NOTIFICATION_INBOUND"

	// ------------------- TOPICS ---------------------
	PoisonTopicSuffix = ".poison"
)

type InboundHandler struct {
	sender service.Sender
	logger *slog.Logger
}

func NewInboundHandler(sender service.Sender, logger *slog.Logger) *InboundHandler {
	return &InboundHandler{sender: sender, logger: logger.With("component", "bus")}
}

// NewWatermillRouter builds the router and ties it to the fx lifecycle.
func NewWatermillRouter(lc fx.Lifecycle, wmLogger watermill.LoggerAdapter, logger *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *InboundHandler) RegisterHandlers(router *message.Router, bus *pubsub.Bus, cfg *config.Config) error {
	inbound := cfg.PubSub.InboundTopic
	if inbound == "" {
		h.logger.Info("INBOUND_PIPELINE_DISABLED")
		bus.RegisterBridge(router)
		return nil
	}

	poison, err := middleware.PoisonQueue(bus.Publisher(), inbound+PoisonTopicSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{HandlerNotificationInbound, inbound, Bind(h, h.OnNotificationReceivedV1)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, bus.Subscriber(), c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.logger).Middleware,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	// [PUSH_BRIDGE] broker deliveries reach local push sessions
	bus.RegisterBridge(router)

	h.logger.Info("INBOUND_PIPELINE_READY", "topic", inbound, "driver", bus.Driver())
	return nil
}
