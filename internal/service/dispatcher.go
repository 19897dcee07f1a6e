package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
)

const tracerName = "github.com/webitel/im-realtime-bench/internal/service"

// Fan-out legs, in execution order.
const (
	LegLongPoll    = "long_poll"
	LegPush        = "push"
	LegPushMetrics = "push_metrics"
)

// [SENDER] ENTRY POINT FOR EVERY NEW NOTIFICATION (generator, HTTP, bus)
type Sender interface {
	Send(ctx context.Context, message string) (model.Notification, FanoutReport, error)
}

// FanoutReport describes one fan-out. Failed legs never stop the others.
type FanoutReport struct {
	NotificationID  int64
	WaitersResolved int
	Pushed          bool
	Failures        map[string]error
}

// Err joins every leg failure, or returns nil.
func (r FanoutReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, leg := range []string{LegLongPoll, LegPush, LegPushMetrics} {
		if err, ok := r.Failures[leg]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sender = (*Dispatcher)(nil)

// Dispatcher persists notifications and fans them out to the three channels.
type Dispatcher struct {
	store   store.NotificationStore
	waiters registry.Waiters
	push    pubsub.EventDispatcher
	metrics metrics.Recorder
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(
	st store.NotificationStore,
	waiters registry.Waiters,
	push pubsub.EventDispatcher,
	rec metrics.Recorder,
	tp trace.TracerProvider,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:   st,
		waiters: waiters,
		push:    push,
		metrics: rec,
		tracer:  tp.Tracer(tracerName),
		logger:  logger,
		now:     time.Now,
	}
}

// Send validates and persists message, then publishes it. A storage failure
// is returned and nothing is published.
func (d *Dispatcher) Send(ctx context.Context, message string) (model.Notification, FanoutReport, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Send")
	defer span.End()

	n, err := model.NewNotification(message, d.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.Notification{}, FanoutReport{}, err
	}

	// [PERSIST_FIRST] the store write happens-before any channel sees the event
	saved, err := d.store.Save(ctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return model.Notification{}, FanoutReport{}, asStorageError("send", err)
	}
	span.SetAttributes(attribute.Int64("notification.id", saved.ID))

	return saved, d.Publish(ctx, saved), nil
}

// Publish runs the fan-out legs. Each leg is isolated: errors and panics are
// logged, traced and recorded in the report.
func (d *Dispatcher) Publish(ctx context.Context, n model.Notification) FanoutReport {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Publish",
		trace.WithAttributes(attribute.Int64("notification.id", n.ID)))
	defer span.End()

	report := FanoutReport{NotificationID: n.ID}

	d.leg(ctx, &report, LegLongPoll, func(context.Context) error {
		report.WaitersResolved = d.waiters.ResolveAll([]model.Notification{n})
		return nil
	})
	d.leg(ctx, &report, LegPush, func(ctx context.Context) error {
		if err := d.push.Publish(ctx, n); err != nil {
			return err
		}
		report.Pushed = true
		return nil
	})
	d.leg(ctx, &report, LegPushMetrics, func(ctx context.Context) error {
		d.metrics.IncrementNotificationCount(ctx, model.ChannelPush)
		return nil
	})

	span.SetAttributes(
		attribute.Int("fanout.waiters_resolved", report.WaitersResolved),
		attribute.Bool("fanout.pushed", report.Pushed),
	)
	if err := report.Err(); err != nil {
		span.SetStatus(codes.Error, "fan-out degraded")
	}
	return report
}

func (d *Dispatcher) leg(ctx context.Context, report *FanoutReport, name string, fn func(context.Context) error) {
	ctx, span := d.tracer.Start(ctx, "fanout."+name)
	defer span.End()

	err := func() (err error) {
		// [PANIC_RECOVERY] a broken leg must not take the fan-out with it
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("PANIC_RECOVERED", "leg", name, "err", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err == nil {
		return
	}

	err = model.WrapDispatch(name, err)
	if report.Failures == nil {
		report.Failures = make(map[string]error, 1)
	}
	report.Failures[name] = err
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.logger.Warn("FANOUT_LEG_FAILED", "leg", name, "notification_id", report.NotificationID, "err", err)
}

// asStorageError keeps store errors as they are and marks anything else.
func asStorageError(op string, err error) error {
	if errors.Is(err, model.ErrStorage) {
		return err
	}
	return model.WrapStorage(op, err)
}
