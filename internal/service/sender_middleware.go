package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// senderMiddleware implements [DECORATOR_PATTERN] to add observability
// to notification intake without touching the dispatch logic.
type senderMiddleware struct {
	next   Sender
	logger *slog.Logger
}

// NewSenderMiddleware creates a new logging decorator for the Sender.
func NewSenderMiddleware(next Sender, logger *slog.Logger) Sender {
	return &senderMiddleware{next: next, logger: logger}
}

func (m *senderMiddleware) Send(ctx context.Context, message string) (model.Notification, FanoutReport, error) {
	start := time.Now()

	n, report, err := m.next.Send(ctx, message)
	duration := time.Since(start)

	switch {
	case err != nil:
		m.logger.Warn("NOTIFICATION_SEND_FAILED",
			"err", err,
			"duration_ms", duration.Milliseconds(),
		)
	case report.Err() != nil:
		m.logger.Warn("NOTIFICATION_SENT_DEGRADED",
			"notification_id", n.ID,
			"err", report.Err(),
			"duration_ms", duration.Milliseconds(),
		)
	default:
		m.logger.Debug("NOTIFICATION_SENT",
			"notification_id", n.ID,
			"waiters_resolved", report.WaitersResolved,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return n, report, err
}
