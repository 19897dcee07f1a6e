package model

import "time"

// PerformanceMetrics is the per-channel counter record.
type PerformanceMetrics struct {
	Channel           Channel
	RequestCount      int64
	TotalLatencyMs    int64
	NotificationCount int64
	LastUpdate        time.Time
}

// NewPerformanceMetrics returns an empty record for the channel.
func NewPerformanceMetrics(ch Channel, now time.Time) PerformanceMetrics {
	return PerformanceMetrics{Channel: ch, LastUpdate: now.UTC()}
}

// AverageLatency is TotalLatencyMs / RequestCount, or 0 without requests.
func (m PerformanceMetrics) AverageLatency() float64 {
	if m.RequestCount <= 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(m.RequestCount)
}

// MetricsSummary aggregates every channel record.
//
// AverageLatency is the mean of per-channel averages over channels that saw
// at least one request. It is not weighted by request count.
type MetricsSummary struct {
	TotalRequests      int64
	TotalNotifications int64
	AverageLatency     float64
	Channels           []PerformanceMetrics
}

// Comparison is the side-by-side view of the three techniques.
type Comparison struct {
	ShortPolling PerformanceMetrics
	LongPolling  PerformanceMetrics
	Push         PerformanceMetrics
}
