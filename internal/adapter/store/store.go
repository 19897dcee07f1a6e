// Package store persists notifications and channel metrics.
package store

import (
	"context"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// NotificationStore is the event store behind every pull channel.
//
// Query methods that take markDelivered claim the returned rows atomically:
// concurrent callers never both receive the same undelivered notification.
type NotificationStore interface {
	// Save assigns the next id and persists n.
	Save(ctx context.Context, n model.Notification) (model.Notification, error)
	// After returns notifications created strictly after since, newest first.
	After(ctx context.Context, since time.Time, markDelivered bool) ([]model.Notification, error)
	// Undelivered returns notifications not yet read by a pull consumer, oldest first.
	Undelivered(ctx context.Context, markDelivered bool) ([]model.Notification, error)
	// Latest returns up to limit notifications, newest first, without mutation.
	Latest(ctx context.Context, limit int) ([]model.Notification, error)
	MarkDelivered(ctx context.Context, ids []int64) error
	CountAfter(ctx context.Context, since time.Time) (int64, error)
	CountUndelivered(ctx context.Context) (int64, error)
	// Reset removes every notification.
	Reset(ctx context.Context) error
}

// MetricsStore persists PerformanceMetrics records. Only the metrics
// aggregator talks to it.
type MetricsStore interface {
	LoadMetrics(ctx context.Context) ([]model.PerformanceMetrics, error)
	SaveMetrics(ctx context.Context, m model.PerformanceMetrics) error
	DeleteMetrics(ctx context.Context, ch model.Channel) error
	DeleteAllMetrics(ctx context.Context) error
}

// Store bundles both repositories over one backend.
type Store interface {
	NotificationStore
	MetricsStore
	Close() error
}
