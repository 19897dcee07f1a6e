package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

const (
	MetadataNotificationID = "notification_id"
	MetadataTraceID        = "trace_id"
)

// NotificationPayload is the body of a push topic message.
type NotificationPayload struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Delivered bool      `json:"delivered"`
}

func (p NotificationPayload) ToDomain() model.Notification {
	return model.Notification{ID: p.ID, Message: p.Message, CreatedAt: p.CreatedAt.UTC(), Delivered: p.Delivered}
}

// DecodeNotification parses a push topic message.
func DecodeNotification(msg *message.Message) (model.Notification, error) {
	var p NotificationPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return model.Notification{}, fmt.Errorf("decode notification %s: %w", msg.UUID, err)
	}
	return p.ToDomain(), nil
}

// EventDispatcher publishes notifications to the push topic.
type EventDispatcher interface {
	Publish(ctx context.Context, n model.Notification) error
	// State reports the publish circuit state: closed, half-open or open.
	State() string
}

type eventDispatcher struct {
	publisher message.Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewEventDispatcher wraps pub with a circuit breaker so a dead broker fails
// fast instead of stalling every fan-out.
func NewEventDispatcher(pub message.Publisher, topic string, cfg config.PushConfig, logger *slog.Logger) EventDispatcher {
	maxFailures := max(cfg.BreakerMaxFailures, 1)
	return &eventDispatcher{
		publisher: pub,
		topic:     topic,
		logger:    logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "push-publish",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("PUSH_BREAKER_STATE", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(NotificationPayload{
		ID:        n.ID,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
		Delivered: n.Delivered,
	})
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataNotificationID, fmt.Sprint(n.ID))
	if traceID, ok := TraceID(ctx); ok {
		msg.Metadata.Set(MetadataTraceID, traceID)
	}
	msg.SetContext(ctx)

	_, err = d.breaker.Execute(func() (any, error) {
		return nil, d.publisher.Publish(d.topic, msg)
	})
	if err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", d.topic, err)
	}

	d.logger.Debug("PUSH_PUBLISHED", "topic", d.topic, "notification_id", n.ID, "msg_id", msg.UUID)
	return nil
}

func (d *eventDispatcher) State() string {
	return d.breaker.State().String()
}

type traceIDKey struct{}

// WithTraceID carries a trace id into published message metadata.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the id set by WithTraceID.
func TraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok
}
