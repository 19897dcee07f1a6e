package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
)

// [POLLER] READ SIDE OF THE PULL CHANNELS (short polling, long polling, history)
type Poller interface {
	ShortPoll(ctx context.Context, since *time.Time) ([]model.Notification, error)
	Latest(ctx context.Context, limit int) ([]model.Notification, error)
	Count(ctx context.Context, since *time.Time) (int64, error)
	History(ctx context.Context, limit int) ([]model.Notification, error)
	// Recent is Latest without channel accounting, for composite views.
	Recent(ctx context.Context, limit int) ([]model.Notification, error)
	LongPoll(ctx context.Context, since *time.Time, clientID string) (LongPollResult, error)
	Totals(ctx context.Context) (Totals, error)
	Purge(ctx context.Context) error
}

// LongPollResult is the terminal state of one long-poll request.
type LongPollResult struct {
	ClientID      string
	Notifications []model.Notification
	Outcome       registry.Outcome
	// Immediate is set when the store already had notifications.
	Immediate bool
	Elapsed   time.Duration
}

// Totals are the store-wide counters shown on the dashboard.
type Totals struct {
	Total       int64
	Undelivered int64
}

var _ Poller = (*PollingService)(nil)

type PollingService struct {
	store   store.NotificationStore
	waiters registry.Waiters
	metrics metrics.Recorder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewPollingService(st store.NotificationStore, waiters registry.Waiters, rec metrics.Recorder, timeout time.Duration, logger *slog.Logger) *PollingService {
	return &PollingService{
		store:   st,
		waiters: waiters,
		metrics: rec,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// query runs the shared pull query: strictly after since, newest first, or
// every undelivered notification, oldest first.
func (s *PollingService) query(ctx context.Context, since *time.Time, mark bool) ([]model.Notification, error) {
	if since != nil {
		return s.store.After(ctx, *since, mark)
	}
	return s.store.Undelivered(ctx, mark)
}

// ShortPoll returns and claims the pending batch in one step.
func (s *PollingService) ShortPoll(ctx context.Context, since *time.Time) ([]model.Notification, error) {
	start := s.now()

	batch, err := s.query(ctx, since, true)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRequest(ctx, model.ChannelShort, s.now().Sub(start))
	for range batch {
		s.metrics.IncrementNotificationCount(ctx, model.ChannelShort)
	}
	return model.WithDelivered(batch), nil
}

// Latest returns the most recent notifications without claiming them.
func (s *PollingService) Latest(ctx context.Context, limit int) ([]model.Notification, error) {
	return s.latest(ctx, model.ChannelShort, limit)
}

// History is Latest accounted to the push channel.
func (s *PollingService) History(ctx context.Context, limit int) ([]model.Notification, error) {
	return s.latest(ctx, model.ChannelPush, limit)
}

func (s *PollingService) Recent(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit < 0 {
		return nil, model.NewValidationError("limit", "must not be negative")
	}
	return s.store.Latest(ctx, limit)
}

func (s *PollingService) latest(ctx context.Context, ch model.Channel, limit int) ([]model.Notification, error) {
	if limit < 0 {
		return nil, model.NewValidationError("limit", "must not be negative")
	}
	start := s.now()

	batch, err := s.store.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRequest(ctx, ch, s.now().Sub(start))
	return batch, nil
}

func (s *PollingService) Count(ctx context.Context, since *time.Time) (int64, error) {
	start := s.now()

	var (
		count int64
		err   error
	)
	if since != nil {
		count, err = s.store.CountAfter(ctx, *since)
	} else {
		count, err = s.store.CountUndelivered(ctx)
	}
	if err != nil {
		return 0, err
	}
	s.metrics.RecordRequest(ctx, model.ChannelShort, s.now().Sub(start))
	return count, nil
}

// LongPoll answers immediately when the query has results, otherwise parks
// the caller until a notification arrives, the deadline passes, or ctx ends.
//
// A canceled request returns OutcomeCanceled and records no latency.
func (s *PollingService) LongPoll(ctx context.Context, since *time.Time, clientID string) (LongPollResult, error) {
	start := s.now()
	if clientID == "" {
		clientID = uuid.NewString()
	}
	res := LongPollResult{ClientID: clientID}

	// [FAST_PATH]
	batch, err := s.query(ctx, since, true)
	if err != nil {
		return res, err
	}
	if len(batch) > 0 {
		res.Notifications = model.WithDelivered(batch)
		res.Outcome = registry.OutcomeDelivered
		res.Immediate = true
		s.finish(ctx, &res, start)
		return res, nil
	}

	// [PARK]
	w := s.waiters.Register(clientID, s.timeout)

	// A notification saved between the query and Register would be missed by
	// ResolveAll, so look once more without claiming.
	peek, err := s.query(ctx, since, false)
	switch {
	case err != nil:
		s.logger.Warn("LONG_POLL_RECHECK_FAILED", "client_id", clientID, "err", err)
	case len(peek) > 0:
		s.waiters.ResolveOne(clientID, peek)
	}

	out := w.Wait(ctx)
	res.Outcome = out.Outcome

	switch out.Outcome {
	case registry.OutcomeDelivered:
		if err := s.store.MarkDelivered(ctx, model.IDs(out.Notifications)); err != nil {
			s.logger.Warn("LONG_POLL_MARK_FAILED", "client_id", clientID, "err", err)
		}
		res.Notifications = model.WithDelivered(out.Notifications)
	case registry.OutcomeCanceled:
		res.Elapsed = s.now().Sub(start)
		s.logger.Debug("LONG_POLL_CLIENT_GONE", "client_id", clientID)
		return res, nil
	case registry.OutcomeClosed:
		res.Elapsed = s.now().Sub(start)
		res.Notifications = []model.Notification{}
		return res, nil
	default:
		res.Notifications = []model.Notification{}
	}

	s.finish(ctx, &res, start)
	return res, nil
}

func (s *PollingService) finish(ctx context.Context, res *LongPollResult, start time.Time) {
	res.Elapsed = s.now().Sub(start)
	s.metrics.RecordRequest(ctx, model.ChannelLong, res.Elapsed)
	for range res.Notifications {
		s.metrics.IncrementNotificationCount(ctx, model.ChannelLong)
	}
}

func (s *PollingService) Totals(ctx context.Context) (Totals, error) {
	total, err := s.store.CountAfter(ctx, time.Unix(0, 0))
	if err != nil {
		return Totals{}, err
	}
	undelivered, err := s.store.CountUndelivered(ctx)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Total: total, Undelivered: undelivered}, nil
}

// Purge removes every notification and releases parked clients.
func (s *PollingService) Purge(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	released := s.waiters.ForceTimeoutAll()
	s.logger.Info("STORE_PURGED", "waiters_released", released)
	return nil
}
