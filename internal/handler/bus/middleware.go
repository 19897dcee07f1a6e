package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
)

// [TRACE_ID_MIDDLEWARE]
// Ensures TraceID persistence through the call chain.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(pubsub.MetadataTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set(pubsub.MetadataTraceID, traceID)
		}

		msg.SetContext(pubsub.WithTraceID(msg.Context(), traceID))

		return h(msg)
	}
}

// Inbound outcomes reported by INBOUND_NOTIFICATION_HANDLED.
const (
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusMalformed = "malformed"
	StatusFailed    = "failed"
)

// inboundResult is filled by Bind and the listener while a message is handled.
type inboundResult struct {
	notificationID int64
	status         string
}

type inboundResultKey struct{}

// noteInbound updates the result slot carried by ctx, if any.
func noteInbound(ctx context.Context, fn func(*inboundResult)) {
	if res, ok := ctx.Value(inboundResultKey{}).(*inboundResult); ok {
		fn(res)
	}
}

// [LOGGING_MIDDLEWARE]
// One line per inbound notification: outcome, stored id, payload size, and latency.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			res := &inboundResult{}
			msg.SetContext(context.WithValue(msg.Context(), inboundResultKey{}, res))

			msgs, err := h(msg)
			if err != nil {
				res.status = StatusFailed
			}

			attrs := []any{
				"status", res.status,
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get(pubsub.MetadataTraceID),
				"payload_bytes", len(msg.Payload),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if res.notificationID > 0 {
				attrs = append(attrs, "notification_id", res.notificationID)
			}
			if err != nil {
				logger.Warn("INBOUND_NOTIFICATION_HANDLED", append(attrs, "err", err)...)
				return msgs, err
			}
			logger.Debug("INBOUND_NOTIFICATION_HANDLED", attrs...)
			return msgs, nil
		}
	}
}

// [RETRY_MIDDLEWARE]
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Warn("INBOUND_RETRY", "attempt", retryNum, "delay_ms", delay.Milliseconds())
		},
	}
}
