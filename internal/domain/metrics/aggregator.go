// Package metrics keeps the per-channel delivery counters.
//
// The Aggregator is the only writer of PerformanceMetrics. Every mutation is
// mirrored to a Persister best-effort and, when configured, to Prometheus.
// While Run is active, persistence is batched in the background; otherwise
// each mutation is written through.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// Recorder is what channel adapters and the dispatcher need to report activity.
type Recorder interface {
	RecordRequest(ctx context.Context, ch model.Channel, latency time.Duration)
	IncrementNotificationCount(ctx context.Context, ch model.Channel)
}

// Persister stores metric snapshots. store.MetricsStore satisfies it.
type Persister interface {
	LoadMetrics(ctx context.Context) ([]model.PerformanceMetrics, error)
	SaveMetrics(ctx context.Context, m model.PerformanceMetrics) error
	DeleteMetrics(ctx context.Context, ch model.Channel) error
	DeleteAllMetrics(ctx context.Context) error
}

// DefaultFlushInterval bounds how long a change waits before Run persists it.
const DefaultFlushInterval = 250 * time.Millisecond

var _ Recorder = (*Aggregator)(nil)

type Aggregator struct {
	mu      sync.RWMutex
	records map[model.Channel]model.PerformanceMetrics
	// dirty and running are guarded by mu.
	dirty   map[model.Channel]struct{}
	running bool

	// saveMu serializes persister writes against resets.
	saveMu sync.Mutex
	kick   chan struct{}

	persist    Persister
	exporter   *Exporter
	logger     *slog.Logger
	now        func() time.Time
	flushEvery time.Duration
}

type Option func(*Aggregator)

func WithExporter(e *Exporter) Option {
	return func(a *Aggregator) { a.exporter = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.flushEvery = d
		}
	}
}

// NewAggregator returns an empty aggregator. persist may be nil.
func NewAggregator(persist Persister, opts ...Option) *Aggregator {
	a := &Aggregator{
		records:    make(map[model.Channel]model.PerformanceMetrics),
		dirty:      make(map[model.Channel]struct{}),
		kick:       make(chan struct{}, 1),
		persist:    persist,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		flushEvery: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordRequest adds one request and its latency, truncated to milliseconds.
func (a *Aggregator) RecordRequest(ctx context.Context, ch model.Channel, latency time.Duration) {
	latency = max(latency, 0)
	a.update(ctx, ch, func(m *model.PerformanceMetrics) {
		m.RequestCount++
		m.TotalLatencyMs += latency.Milliseconds()
	})
	if a.exporter != nil {
		a.exporter.observeRequest(ch, latency)
	}
}

func (a *Aggregator) IncrementNotificationCount(ctx context.Context, ch model.Channel) {
	a.update(ctx, ch, func(m *model.PerformanceMetrics) {
		m.NotificationCount++
	})
	if a.exporter != nil {
		a.exporter.observeNotification(ch)
	}
}

func (a *Aggregator) update(ctx context.Context, ch model.Channel, mutate func(*model.PerformanceMetrics)) {
	a.mu.Lock()
	rec, ok := a.records[ch]
	if !ok {
		rec = model.NewPerformanceMetrics(ch, a.now())
	}
	mutate(&rec)
	rec.LastUpdate = a.now().UTC()
	a.records[ch] = rec
	async := a.running
	if async {
		a.dirty[ch] = struct{}{}
	}
	a.mu.Unlock()

	if a.persist == nil {
		return
	}
	if async {
		select {
		case a.kick <- struct{}{}:
		default:
		}
		return
	}

	// [WRITE_THROUGH] save the newest record, not the one mutated above, so
	// concurrent writers never persist out of order.
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	a.mu.RLock()
	rec, ok = a.records[ch]
	a.mu.RUnlock()
	if !ok {
		return
	}
	if err := a.persist.SaveMetrics(ctx, rec); err != nil {
		a.logger.Warn("METRICS_PERSIST_FAILED", "channel", ch, "err", err)
	}
}

// Run persists changed records in batches until ctx is done, then flushes
// whatever is left. Mutations made while Run is active return without I/O.
func (a *Aggregator) Run(ctx context.Context) {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	flushCtx := context.WithoutCancel(ctx)
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		_ = a.Flush(flushCtx)
	}()

	timer := time.NewTimer(a.flushEvery)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.kick:
		}

		// Coalesce everything recorded within one interval.
		timer.Reset(a.flushEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		_ = a.Flush(flushCtx)
	}
}

// Flush writes every record changed since the previous flush. Records whose
// write failed stay pending.
func (a *Aggregator) Flush(ctx context.Context) error {
	if a.persist == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	batch := make([]model.PerformanceMetrics, 0, len(a.dirty))
	for _, ch := range model.Channels {
		if _, ok := a.dirty[ch]; !ok {
			continue
		}
		if rec, ok := a.records[ch]; ok {
			batch = append(batch, rec)
		}
	}
	clear(a.dirty)
	a.mu.Unlock()

	var errs []error
	for _, rec := range batch {
		if err := a.persist.SaveMetrics(ctx, rec); err != nil {
			a.logger.Warn("METRICS_PERSIST_FAILED", "channel", rec.Channel, "err", err)
			errs = append(errs, err)
			a.mu.Lock()
			if _, ok := a.records[rec.Channel]; ok {
				a.dirty[rec.Channel] = struct{}{}
			}
			a.mu.Unlock()
		}
	}
	if len(batch) > 0 {
		a.logger.Debug("METRICS_FLUSHED", "channels", len(batch), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Get returns the record of ch, or a NotFound error when none exists yet.
func (a *Aggregator) Get(ch model.Channel) (model.PerformanceMetrics, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[ch]
	if !ok {
		return model.PerformanceMetrics{}, model.NewNotFoundError("metrics", string(ch))
	}
	return rec, nil
}

// All returns existing records in channel display order.
func (a *Aggregator) All() []model.PerformanceMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.PerformanceMetrics, 0, len(a.records))
	for _, ch := range model.Channels {
		if rec, ok := a.records[ch]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Summary totals every record. AverageLatency is the plain mean of the
// per-channel averages of channels that saw at least one request.
func (a *Aggregator) Summary() model.MetricsSummary {
	all := a.All()

	sum := model.MetricsSummary{Channels: all}
	var avgTotal float64
	var active int
	for _, rec := range all {
		sum.TotalRequests += rec.RequestCount
		sum.TotalNotifications += rec.NotificationCount
		if rec.RequestCount > 0 {
			avgTotal += rec.AverageLatency()
			active++
		}
	}
	if active > 0 {
		sum.AverageLatency = avgTotal / float64(active)
	}
	return sum
}

// Comparison returns the three techniques side by side. Missing records are
// reported as zero-valued records of their channel.
func (a *Aggregator) Comparison() model.Comparison {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pick := func(ch model.Channel) model.PerformanceMetrics {
		if rec, ok := a.records[ch]; ok {
			return rec
		}
		return model.PerformanceMetrics{Channel: ch}
	}
	return model.Comparison{
		ShortPolling: pick(model.ChannelShort),
		LongPolling:  pick(model.ChannelLong),
		Push:         pick(model.ChannelPush),
	}
}

// Reset drops every record.
func (a *Aggregator) Reset(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	clear(a.records)
	clear(a.dirty)
	a.mu.Unlock()

	a.logger.Info("METRICS_RESET", "scope", "all")
	if a.persist == nil {
		return nil
	}
	return a.persist.DeleteAllMetrics(ctx)
}

func (a *Aggregator) ResetChannel(ctx context.Context, ch model.Channel) error {
	if !slices.Contains(model.Channels, ch) {
		return model.NewNotFoundError("channel", string(ch))
	}

	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	delete(a.records, ch)
	delete(a.dirty, ch)
	a.mu.Unlock()

	a.logger.Info("METRICS_RESET", "scope", ch)
	if a.persist == nil {
		return nil
	}
	return a.persist.DeleteMetrics(ctx, ch)
}

// Restore loads persisted records, replacing the in-memory state.
func (a *Aggregator) Restore(ctx context.Context) error {
	if a.persist == nil {
		return nil
	}
	recs, err := a.persist.LoadMetrics(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.records)
	clear(a.dirty)
	for _, rec := range recs {
		if slices.Contains(model.Channels, rec.Channel) {
			a.records[rec.Channel] = rec
		}
	}
	a.logger.Info("METRICS_RESTORED", "channels", len(a.records))
	return nil
}
