package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

type failingPersister struct {
	store.MetricsStore
}

func (failingPersister) SaveMetrics(context.Context, model.PerformanceMetrics) error {
	return errors.New("disk full")
}

// gatedPersister blocks every save until gate is closed.
type gatedPersister struct {
	store.MetricsStore
	gate  chan struct{}
	saves atomic.Int32
	fail  atomic.Bool
}

func (p *gatedPersister) SaveMetrics(ctx context.Context, rec model.PerformanceMetrics) error {
	p.saves.Add(1)
	<-p.gate
	if p.fail.Load() {
		return errors.New("disk full")
	}
	return p.MetricsStore.SaveMetrics(ctx, rec)
}

func startRun(t *testing.T, agg *Aggregator) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		agg.mu.RLock()
		defer agg.mu.RUnlock()
		return agg.running
	}, time.Second, time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func TestAggregator_AverageLatency(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(store.NewMemory())

	for _, ms := range []int{10, 20, 30} {
		agg.RecordRequest(ctx, model.ChannelShort, time.Duration(ms)*time.Millisecond)
	}

	rec, err := agg.Get(model.ChannelShort)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.RequestCount)
	assert.Equal(t, int64(60), rec.TotalLatencyMs)
	assert.InDelta(t, 20.0, rec.AverageLatency(), 1e-9)
}

func TestAggregator_GetUnknownChannel(t *testing.T) {
	_, err := NewAggregator(nil).Get(model.ChannelLong)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAggregator_SummaryIsMeanOfChannelAverages(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(nil)

	// short: avg 10 over 1 request, long: avg 30 over 3 requests
	agg.RecordRequest(ctx, model.ChannelShort, 10*time.Millisecond)
	for range 3 {
		agg.RecordRequest(ctx, model.ChannelLong, 30*time.Millisecond)
	}
	// push has notifications but no requests and is excluded from the mean
	agg.IncrementNotificationCount(ctx, model.ChannelPush)
	agg.IncrementNotificationCount(ctx, model.ChannelPush)

	sum := agg.Summary()
	assert.Equal(t, int64(4), sum.TotalRequests)
	assert.Equal(t, int64(2), sum.TotalNotifications)
	assert.InDelta(t, 20.0, sum.AverageLatency, 1e-9)
	require.Len(t, sum.Channels, 3)
	assert.Equal(t, model.ChannelShort, sum.Channels[0].Channel)
}

func TestAggregator_EmptySummary(t *testing.T) {
	sum := NewAggregator(nil).Summary()
	assert.Zero(t, sum.TotalRequests)
	assert.Zero(t, sum.AverageLatency)
	assert.Empty(t, sum.Channels)
}

func TestAggregator_ComparisonFillsMissingChannels(t *testing.T) {
	agg := NewAggregator(nil)
	agg.RecordRequest(context.Background(), model.ChannelLong, 5*time.Millisecond)

	cmp := agg.Comparison()
	assert.Equal(t, model.ChannelShort, cmp.ShortPolling.Channel)
	assert.Zero(t, cmp.ShortPolling.RequestCount)
	assert.Equal(t, int64(1), cmp.LongPolling.RequestCount)
	assert.Equal(t, model.ChannelPush, cmp.Push.Channel)
}

func TestAggregator_Reset(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	agg.RecordRequest(ctx, model.ChannelShort, time.Millisecond)
	agg.RecordRequest(ctx, model.ChannelLong, time.Millisecond)

	require.NoError(t, agg.ResetChannel(ctx, model.ChannelShort))
	_, err := agg.Get(model.ChannelShort)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = agg.Get(model.ChannelLong)
	assert.NoError(t, err)

	require.NoError(t, agg.Reset(ctx))
	assert.Empty(t, agg.All())

	persisted, err := mem.LoadMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestAggregator_ResetUnknownChannel(t *testing.T) {
	err := NewAggregator(nil).ResetChannel(context.Background(), model.Channel("smoke-signals"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAggregator_RestoreFromPersister(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	first := NewAggregator(mem)
	first.RecordRequest(ctx, model.ChannelPush, 40*time.Millisecond)
	first.IncrementNotificationCount(ctx, model.ChannelPush)

	second := NewAggregator(mem)
	require.NoError(t, second.Restore(ctx))

	rec, err := second.Get(model.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RequestCount)
	assert.Equal(t, int64(40), rec.TotalLatencyMs)
	assert.Equal(t, int64(1), rec.NotificationCount)
}

func TestAggregator_PersistFailureKeepsCounting(t *testing.T) {
	agg := NewAggregator(failingPersister{MetricsStore: store.NewMemory()})
	agg.RecordRequest(context.Background(), model.ChannelShort, time.Millisecond)

	rec, err := agg.Get(model.ChannelShort)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RequestCount)
}

func TestAggregator_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(store.NewMemory())

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			agg.RecordRequest(ctx, model.ChannelLong, 2*time.Millisecond)
			agg.IncrementNotificationCount(ctx, model.ChannelLong)
		})
	}
	wg.Wait()

	rec, err := agg.Get(model.ChannelLong)
	require.NoError(t, err)
	assert.Equal(t, int64(50), rec.RequestCount)
	assert.Equal(t, int64(100), rec.TotalLatencyMs)
	assert.Equal(t, int64(50), rec.NotificationCount)
}

func TestExporter_MirrorsAndSurvivesReset(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	exp, err := NewExporter(reg, func() int { return 7 })
	require.NoError(t, err)

	agg := NewAggregator(nil, WithExporter(exp))
	agg.RecordRequest(ctx, model.ChannelShort, 3*time.Millisecond)
	agg.RecordRequest(ctx, model.ChannelShort, 3*time.Millisecond)
	agg.IncrementNotificationCount(ctx, model.ChannelPush)
	require.NoError(t, agg.Reset(ctx))

	assert.InDelta(t, 2, testutil.ToFloat64(exp.requests.WithLabelValues("short")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(exp.notifications.WithLabelValues("push")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(exp.waiters), 1e-9)

	_, err = NewExporter(reg, nil)
	assert.Error(t, err, "second registration on the same registry must fail")
}

func TestAggregator_LastUpdateFollowsClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	agg := NewAggregator(nil, WithClock(func() time.Time { return at }))

	agg.RecordRequest(ctx, model.ChannelShort, time.Millisecond)
	rec, err := agg.Get(model.ChannelShort)
	require.NoError(t, err)
	assert.Equal(t, at, rec.LastUpdate)

	at = at.Add(time.Minute)
	agg.IncrementNotificationCount(ctx, model.ChannelShort)
	rec, err = agg.Get(model.ChannelShort)
	require.NoError(t, err)
	assert.Equal(t, at, rec.LastUpdate)
}

func TestAggregator_BackgroundPersistDoesNotBlockRecording(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p := &gatedPersister{MetricsStore: mem, gate: make(chan struct{})}
	agg := NewAggregator(p, WithFlushInterval(5*time.Millisecond))
	stop := startRun(t, agg)

	agg.RecordRequest(ctx, model.ChannelShort, time.Millisecond)
	require.Eventually(t, func() bool { return p.saves.Load() == 1 }, time.Second, time.Millisecond)

	// the flusher is now stuck inside SaveMetrics
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		for range 50 {
			agg.RecordRequest(ctx, model.ChannelShort, time.Millisecond)
		}
	}()
	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("recording blocked on a slow persister")
	}

	close(p.gate)
	stop()

	recs, err := mem.LoadMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(51), recs[0].RequestCount)
	assert.Less(t, p.saves.Load(), int32(51), "saves are coalesced")
}

func TestAggregator_RunFlushesOnStop(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem, WithFlushInterval(time.Hour))
	stop := startRun(t, agg)

	for range 3 {
		agg.RecordRequest(ctx, model.ChannelShort, 10*time.Millisecond)
	}
	agg.IncrementNotificationCount(ctx, model.ChannelLong)
	require.NoError(t, agg.ResetChannel(ctx, model.ChannelLong))

	recs, err := mem.LoadMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs, "nothing written before the interval elapses")

	stop()

	recs, err = mem.LoadMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ChannelShort, recs[0].Channel)
	assert.Equal(t, int64(3), recs[0].RequestCount)
}

func TestAggregator_FlushKeepsFailedRecordsPending(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p := &gatedPersister{MetricsStore: mem, gate: make(chan struct{})}
	close(p.gate)
	p.fail.Store(true)
	agg := NewAggregator(p, WithFlushInterval(time.Hour))
	stop := startRun(t, agg)
	defer stop()

	agg.RecordRequest(ctx, model.ChannelPush, 20*time.Millisecond)
	require.Error(t, agg.Flush(ctx))

	p.fail.Store(false)
	require.NoError(t, agg.Flush(ctx))

	rec, err := mem.LoadMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, int64(20), rec[0].TotalLatencyMs)
}
