package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/im-realtime-bench/config"
)

const (
	DriverGoChannel = "gochannel"
	DriverAMQP      = "amqp"

	// bridgeHandler copies broker notifications onto the local fan-out.
	bridgeHandler = "PUSH_BRIDGE"
)

// Bus owns the push topic transport.
//
// Push sessions always read from an in-process gochannel. With the amqp
// driver, notifications go through the broker first and a router handler
// bridges them back to the local fan-out, so every node sees every event.
type Bus struct {
	driver string
	topic  string

	local      *gochannel.GoChannel
	publisher  message.Publisher
	subscriber message.Subscriber

	logger *slog.Logger
}

// NewBus builds the transport selected by cfg.Driver.
func NewBus(cfg config.PubSubConfig, wmLogger watermill.LoggerAdapter, logger *slog.Logger) (*Bus, error) {
	local := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.Buffer,
	}, wmLogger)

	b := &Bus{
		driver: cfg.Driver,
		topic:  cfg.Topic,
		local:  local,
		logger: logger,
	}

	switch cfg.Driver {
	case DriverGoChannel, "":
		b.driver = DriverGoChannel
		b.publisher = local
		b.subscriber = local
	case DriverAMQP:
		amqpCfg := amqp.NewDurablePubSubConfig(cfg.URL, amqp.GenerateQueueNameTopicNameWithSuffix(watermill.NewShortUUID()))

		pub, err := amqp.NewPublisher(amqpCfg, wmLogger)
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("AMQP_PUBLISHER_FAILED: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, wmLogger)
		if err != nil {
			_ = pub.Close()
			_ = local.Close()
			return nil, fmt.Errorf("AMQP_SUBSCRIBER_FAILED: %w", err)
		}
		b.publisher = pub
		b.subscriber = sub
	default:
		_ = local.Close()
		return nil, fmt.Errorf("pubsub: unsupported driver %q", cfg.Driver)
	}

	logger.Info("PUSH_BUS_READY", "driver", b.driver, "topic", b.topic)
	return b, nil
}

func (b *Bus) Driver() string { return b.driver }

func (b *Bus) Topic() string { return b.topic }

// Publisher writes to the active transport.
func (b *Bus) Publisher() message.Publisher { return b.publisher }

// Subscriber reads from the active transport. Inbound consumers use it.
func (b *Bus) Subscriber() message.Subscriber { return b.subscriber }

// SubscribeLocal opens a push stream for one session. The channel closes
// when ctx is done or the bus is closed. Every message must be acked.
func (b *Bus) SubscribeLocal(ctx context.Context) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, b.topic)
}

// Bridged reports whether the broker feeds the local fan-out.
func (b *Bus) Bridged() bool { return b.driver == DriverAMQP }

// RegisterBridge adds the broker to local copy handler on router. It is a
// no-op for the in-process driver.
func (b *Bus) RegisterBridge(router *message.Router) {
	if !b.Bridged() {
		return
	}
	router.AddHandler(bridgeHandler, b.topic, b.subscriber, b.topic, b.local,
		func(msg *message.Message) ([]*message.Message, error) {
			out := message.NewMessage(msg.UUID, msg.Payload)
			for k, v := range msg.Metadata {
				out.Metadata.Set(k, v)
			}
			return []*message.Message{out}, nil
		},
	)
	b.logger.Info("PUSH_BRIDGE_READY", "topic", b.topic)
}

func (b *Bus) Close() error {
	var errs []error
	if b.Bridged() {
		errs = append(errs, b.publisher.Close(), b.subscriber.Close())
	}
	errs = append(errs, b.local.Close())
	return errors.Join(errs...)
}
