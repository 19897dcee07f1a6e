package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/adapter/store"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/registry"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
	"github.com/webitel/im-realtime-bench/internal/handler/ws"
	"github.com/webitel/im-realtime-bench/internal/service"
)

type api struct {
	server   *httptest.Server
	registry *registry.Registry
	metrics  *metrics.Aggregator
}

func newAPI(t *testing.T, longPollTimeout time.Duration) *api {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := config.Default()

	st := store.NewMemory()
	reg := registry.New(registry.WithDefaultTimeout(longPollTimeout))
	promReg := prometheus.NewRegistry()
	exp, err := metrics.NewExporter(promReg, reg.Count)
	require.NoError(t, err)
	agg := metrics.NewAggregator(st, metrics.WithExporter(exp))

	bus, err := pubsub.NewBus(cfg.PubSub, watermill.NopLogger{}, logger)
	require.NoError(t, err)
	push := pubsub.NewEventDispatcher(bus.Publisher(), bus.Topic(), cfg.Push, logger)

	dispatcher := service.NewDispatcher(st, reg, push, agg, noop.NewTracerProvider(), logger)
	poller := service.NewPollingService(st, reg, agg, longPollTimeout, logger)
	wsHandler, err := ws.NewWSHandler(logger, bus, push, agg, cfg.WS)
	require.NoError(t, err)
	tr := transport{bus: bus, push: push}

	router := NewRouter(Handlers{
		Short:     NewShortPollingHandler(poller, agg, logger),
		Long:      NewLongPollingHandler(poller, reg, agg, logger),
		Push:      NewPushHandler(dispatcher, poller, agg, wsHandler, tr, logger),
		Metrics:   NewMetricsHandler(agg, logger),
		Dashboard: NewDashboardHandler(poller, agg, tr, logger),
		WS:        wsHandler,
	}, promReg, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		reg.Shutdown()
		srv.Close()
		_ = bus.Close()
	})
	return &api{server: srv, registry: reg, metrics: agg}
}

func (a *api) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestAPI_SendThenLatest(t *testing.T) {
	a := newAPI(t, time.Minute)

	status, body := a.do(t, http.MethodPost, "/api/push/send", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	sent := decode[SendResponse](t, body)
	assert.Equal(t, "hello", sent.Notification.Message)
	assert.False(t, sent.Notification.Delivered)

	status, body = a.do(t, http.MethodGet, "/api/short-polling/notifications/latest?limit=1", "")
	require.Equal(t, http.StatusOK, status)
	latest := decode[[]marshaller.Notification](t, body)
	require.Len(t, latest, 1)
	assert.Equal(t, "hello", latest[0].Message)
}

func TestAPI_SendValidation(t *testing.T) {
	a := newAPI(t, time.Minute)

	for _, body := range []string{`{"message":"   "}`, `{}`, `not json`} {
		status, data := a.do(t, http.MethodPost, "/api/push/send", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.NotEmpty(t, decode[ErrorResponse](t, data).Error)
	}
}

func TestAPI_LegacySendAlias(t *testing.T) {
	a := newAPI(t, time.Minute)

	status, _ := a.do(t, http.MethodPost, "/api/websocket/send-notification", `{"message":"legacy"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := a.do(t, http.MethodGet, "/api/push/notifications/history", "")
	require.Equal(t, http.StatusOK, status)
	history := decode[[]marshaller.Notification](t, body)
	require.Len(t, history, 1)
	assert.Equal(t, "legacy", history[0].Message)
}

func TestAPI_ShortPolling(t *testing.T) {
	a := newAPI(t, time.Minute)
	a.do(t, http.MethodPost, "/api/push/send", `{"message":"a"}`)
	a.do(t, http.MethodPost, "/api/push/send", `{"message":"b"}`)

	status, body := a.do(t, http.MethodGet, "/api/short-polling/notifications/count", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), decode[int64](t, body))

	status, body = a.do(t, http.MethodGet, "/api/short-polling/notifications", "")
	require.Equal(t, http.StatusOK, status)
	batch := decode[[]marshaller.Notification](t, body)
	require.Len(t, batch, 2)
	assert.True(t, batch[0].Delivered)

	status, body = a.do(t, http.MethodGet, "/api/short-polling/notifications", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	status, _ = a.do(t, http.MethodGet, "/api/short-polling/notifications?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodGet, "/api/short-polling/notifications/latest?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_LongPollDeferred(t *testing.T) {
	a := newAPI(t, time.Minute)

	type reply struct {
		status int
		body   []byte
	}
	done := make(chan reply, 1)
	go func() {
		status, body := a.do(t, http.MethodGet, "/api/long-polling/notifications?clientId=c1", "")
		done <- reply{status, body}
	}()
	require.Eventually(t, func() bool { return a.registry.Count() == 1 }, 2*time.Second, time.Millisecond)

	status, body := a.do(t, http.MethodGet, "/api/long-polling/stats", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"waitingClients":1}`, string(body))

	a.do(t, http.MethodPost, "/api/push/send", `{"message":"X"}`)

	select {
	case r := <-done:
		require.Equal(t, http.StatusOK, r.status)
		batch := decode[[]marshaller.Notification](t, r.body)
		require.Len(t, batch, 1)
		assert.Equal(t, "X", batch[0].Message)
	case <-time.After(2 * time.Second):
		t.Fatal("long poll was not answered")
	}
	assert.Zero(t, a.registry.Count())
}

func TestAPI_LongPollTimeoutAndForce(t *testing.T) {
	a := newAPI(t, 50*time.Millisecond)

	status, body := a.do(t, http.MethodGet, "/api/long-polling/notifications", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	long := newAPI(t, time.Minute)
	done := make(chan []byte, 1)
	go func() {
		_, body := long.do(t, http.MethodGet, "/api/long-polling/notifications?clientId=x", "")
		done <- body
	}()
	require.Eventually(t, func() bool { return long.registry.Count() == 1 }, 2*time.Second, time.Millisecond)

	status, body = long.do(t, http.MethodPost, "/api/long-polling/force-timeout", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decode[ForceTimeoutResponse](t, body).Released)
	assert.JSONEq(t, `[]`, string(<-done))
}

func TestAPI_Metrics(t *testing.T) {
	a := newAPI(t, time.Minute)

	status, _ := a.do(t, http.MethodGet, "/api/metrics/long", "")
	assert.Equal(t, http.StatusNotFound, status, "no record yet")
	status, _ = a.do(t, http.MethodGet, "/api/metrics/carrier-pigeon", "")
	assert.Equal(t, http.StatusNotFound, status)

	a.do(t, http.MethodGet, "/api/short-polling/notifications", "")

	status, body := a.do(t, http.MethodGet, "/api/metrics/short", "")
	require.Equal(t, http.StatusOK, status)
	rec := decode[marshaller.PerformanceMetrics](t, body)
	assert.Equal(t, "short", rec.Technique)
	assert.Equal(t, int64(1), rec.RequestCount)

	status, body = a.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]marshaller.PerformanceMetrics](t, body), 1)

	status, body = a.do(t, http.MethodGet, "/api/metrics/summary", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), decode[marshaller.MetricsSummary](t, body).TotalRequests)

	status, body = a.do(t, http.MethodGet, "/api/metrics/comparison", "")
	require.Equal(t, http.StatusOK, status)
	var cmp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &cmp))
	assert.Contains(t, cmp, "shortPolling")
	assert.Contains(t, cmp, "longPolling")
	assert.Contains(t, cmp, "push")

	status, _ = a.do(t, http.MethodPost, "/api/metrics/websocket/reset", "")
	assert.Equal(t, http.StatusOK, status, "websocket is an alias of push")
	status, _ = a.do(t, http.MethodPost, "/api/short-polling/metrics/reset", "")
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodGet, "/api/metrics/short", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, http.MethodPost, "/api/metrics/reset", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, a.metrics.All())
}

func TestAPI_Dashboard(t *testing.T) {
	a := newAPI(t, time.Minute)
	a.do(t, http.MethodPost, "/api/push/send", `{"message":"one"}`)
	a.do(t, http.MethodPost, "/api/push/send", `{"message":"two"}`)

	status, body := a.do(t, http.MethodGet, "/api/dashboard/data", "")
	require.Equal(t, http.StatusOK, status)
	data := decode[DashboardData](t, body)
	assert.Len(t, data.LatestNotifications, 2)
	assert.Equal(t, "two", data.LatestNotifications[0].Message)
	assert.Equal(t, int64(2), data.GeneralStats.TotalNotifications)
	assert.Equal(t, int64(2), data.GeneralStats.UndeliveredNotifications)
	assert.Equal(t, int64(2), data.Metrics.TotalNotifications, "push counted both")

	status, body = a.do(t, http.MethodGet, "/api/dashboard/realtime", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), decode[RealtimeStats](t, body).UndeliveredCount)

	status, body = a.do(t, http.MethodGet, "/api/dashboard/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "UP", decode[Health](t, body).Status)

	status, _ = a.do(t, http.MethodPost, "/api/dashboard/reset?all=true", "")
	require.Equal(t, http.StatusOK, status)
	_, body = a.do(t, http.MethodGet, "/api/dashboard/data", "")
	assert.Empty(t, decode[DashboardData](t, body).LatestNotifications)
}

func TestAPI_PushStats(t *testing.T) {
	a := newAPI(t, time.Minute)

	status, body := a.do(t, http.MethodGet, "/api/push/stats", "")
	require.Equal(t, http.StatusOK, status)
	stats := decode[PushStats](t, body)
	assert.Equal(t, "active", stats.Status)
	assert.Equal(t, "gochannel", stats.Transport)
	assert.Equal(t, "closed", stats.Breaker)
	assert.Zero(t, stats.Subscribers)
}

func TestAPI_CORSPreflight(t *testing.T) {
	a := newAPI(t, time.Minute)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, a.server.URL+"/api/push/send", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_Prometheus(t *testing.T) {
	a := newAPI(t, time.Minute)
	a.do(t, http.MethodGet, "/api/short-polling/notifications", "")

	status, body := a.do(t, http.MethodGet, "/prometheus", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `realtime_channel_requests_total{channel="short"} 1`)
	assert.Contains(t, string(body), "realtime_long_poll_waiting_clients 0")
}

func TestAPI_UnknownRoute(t *testing.T) {
	a := newAPI(t, time.Minute)
	status, body := a.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "route not found", decode[ErrorResponse](t, body).Error)
}
