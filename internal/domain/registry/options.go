package registry

import (
	"log/slog"
	"time"
)

// DefaultTimeout applies when Register is called with a non-positive deadline.
const DefaultTimeout = 30 * time.Second

// Option defines a functional configuration type for the Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the deadline used when a caller does not pass one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.config.defaultTimeout = d
		}
	}
}

// WithLogger attaches a logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for registration stamps.
// Deadline timers always run on the real clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
