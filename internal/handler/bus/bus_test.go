package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/service"
)

type stubSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubSender) Send(_ context.Context, msg string) (model.Notification, service.FanoutReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if s.err != nil {
		return model.Notification{}, service.FanoutReport{}, s.err
	}
	return model.Notification{ID: int64(len(s.calls)), Message: msg}, service.FanoutReport{}, nil
}

func (s *stubSender) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type pipeline struct {
	bus    *pubsub.Bus
	cfg    *config.Config
	sender *stubSender
}

func startPipeline(t *testing.T, sender *stubSender) *pipeline {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := config.Default()

	b, err := pubsub.NewBus(cfg.PubSub, watermill.NopLogger{}, logger)
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	router, err := NewWatermillRouter(lc, watermill.NopLogger{}, logger)
	require.NoError(t, err)

	h := NewInboundHandler(sender, logger)
	require.NoError(t, h.RegisterHandlers(router, b, cfg))

	lc.RequireStart()
	t.Cleanup(func() {
		lc.RequireStop()
		_ = b.Close()
	})
	return &pipeline{bus: b, cfg: cfg, sender: sender}
}

func (p *pipeline) publish(t *testing.T, payload string) {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	require.NoError(t, p.bus.Publisher().Publish(p.cfg.PubSub.InboundTopic, msg))
}

func TestInbound_AcceptsNotification(t *testing.T) {
	p := startPipeline(t, &stubSender{})

	p.publish(t, `{"message":"from the bus"}`)

	require.Eventually(t, func() bool { return len(p.sender.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "from the bus", p.sender.received()[0])
}

func TestInbound_MalformedPayloadIsAcked(t *testing.T) {
	p := startPipeline(t, &stubSender{})

	p.publish(t, `{not json`)
	p.publish(t, `{"message":"after the bad one"}`)

	require.Eventually(t, func() bool { return len(p.sender.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "after the bad one", p.sender.received()[0])
}

func TestInbound_ValidationErrorIsNotRetried(t *testing.T) {
	sender := &stubSender{err: model.NewValidationError("message", "must not be blank")}
	p := startPipeline(t, sender)

	p.publish(t, `{"message":""}`)

	require.Eventually(t, func() bool { return len(sender.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, sender.received(), 1)
}

func TestInbound_StorageErrorIsRetriedThenPoisoned(t *testing.T) {
	sender := &stubSender{err: model.WrapStorage("save", errors.New("disk full"))}
	p := startPipeline(t, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poisoned, err := p.bus.Subscriber().Subscribe(ctx, p.cfg.PubSub.InboundTopic+PoisonTopicSuffix)
	require.NoError(t, err)

	p.publish(t, `{"message":"doomed"}`)

	select {
	case msg := <-poisoned:
		msg.Ack()
		assert.JSONEq(t, `{"message":"doomed"}`, string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the poison topic")
	}
	assert.Len(t, sender.received(), 4, "one attempt plus three retries")
}

func TestTraceIDMiddleware_KeepsExistingID(t *testing.T) {
	var seen string
	h := TraceIDMiddleware(func(msg *message.Message) ([]*message.Message, error) {
		seen, _ = pubsub.TraceID(msg.Context())
		return nil, nil
	})

	msg := message.NewMessage("1", nil)
	msg.Metadata.Set(pubsub.MetadataTraceID, "abc")
	_, err := h(msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", seen)

	fresh := message.NewMessage("2", nil)
	_, err = h(fresh)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.Metadata.Get(pubsub.MetadataTraceID))
}

func TestLoggingMiddleware_ReportsInboundOutcome(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		err     error
		status  string
		id      float64
	}{
		{name: "accepted", payload: `{"message":"hello"}`, status: StatusAccepted, id: 1},
		{name: "rejected", payload: `{"message":""}`, err: model.NewValidationError("message", "must not be blank"), status: StatusRejected},
		{name: "malformed", payload: `{oops`, status: StatusMalformed},
		{name: "failed", payload: `{"message":"x"}`, err: model.WrapStorage("save", errors.New("disk full")), status: StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			h := NewInboundHandler(&stubSender{err: tc.err}, slog.New(slog.DiscardHandler))

			bound := Bind(h, h.OnNotificationReceivedV1)
			handle := LoggingMiddleware(logger)(func(msg *message.Message) ([]*message.Message, error) {
				return nil, bound(msg)
			})

			msg := message.NewMessage(watermill.NewUUID(), []byte(tc.payload))
			_, err := handle(msg)
			assert.Equal(t, tc.status == StatusFailed, err != nil)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
			assert.Equal(t, "INBOUND_NOTIFICATION_HANDLED", entry["msg"])
			assert.Equal(t, tc.status, entry["status"])
			assert.Equal(t, float64(len(tc.payload)), entry["payload_bytes"])
			if tc.id > 0 {
				assert.Equal(t, tc.id, entry["notification_id"])
			} else {
				assert.NotContains(t, entry, "notification_id")
			}
		})
	}
}
