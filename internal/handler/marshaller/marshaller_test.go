package marshaller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

func TestMapNotifications_EmptyIsArray(t *testing.T) {
	data, err := json.Marshal(MapNotifications(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestMapNotification_ISOTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 30, 0, 500, time.FixedZone("X", 3600))
	data, err := json.Marshal(MapNotification(model.Notification{ID: 3, Message: "m", CreatedAt: at, Delivered: true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"message":"m","createdAt":"2025-06-01T09:30:00.0000005Z","delivered":true}`, string(data))
}

func TestMapComparison_UsesDisplayNames(t *testing.T) {
	cmp := MapComparison(model.Comparison{
		ShortPolling: model.PerformanceMetrics{Channel: model.ChannelShort, RequestCount: 2, TotalLatencyMs: 10},
		LongPolling:  model.PerformanceMetrics{Channel: model.ChannelLong},
		Push:         model.PerformanceMetrics{Channel: model.ChannelPush},
	})
	assert.Equal(t, "Short Polling", cmp.ShortPolling.Name)
	assert.Equal(t, "WebSocket", cmp.Push.Name)
	assert.InDelta(t, 5.0, cmp.ShortPolling.AverageLatency, 1e-9)
}
