package marshaller

import (
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

type PerformanceMetrics struct {
	Technique         string    `json:"technique"`
	RequestCount      int64     `json:"requestCount"`
	TotalLatency      int64     `json:"totalLatency"`
	NotificationCount int64     `json:"notificationCount"`
	AverageLatency    float64   `json:"averageLatency"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

type MetricsSummary struct {
	TotalRequests      int64                `json:"totalRequests"`
	TotalNotifications int64                `json:"totalNotifications"`
	AverageLatency     float64              `json:"averageLatency"`
	TechniqueMetrics   []PerformanceMetrics `json:"techniqueMetrics"`
}

// TechniqueStats is one column of the comparison view.
type TechniqueStats struct {
	Name              string    `json:"name"`
	RequestCount      int64     `json:"requestCount"`
	NotificationCount int64     `json:"notificationCount"`
	AverageLatency    float64   `json:"averageLatency"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

type Comparison struct {
	ShortPolling TechniqueStats `json:"shortPolling"`
	LongPolling  TechniqueStats `json:"longPolling"`
	Push         TechniqueStats `json:"push"`
}

func MapMetrics(m model.PerformanceMetrics) PerformanceMetrics {
	return PerformanceMetrics{
		Technique:         string(m.Channel),
		RequestCount:      m.RequestCount,
		TotalLatency:      m.TotalLatencyMs,
		NotificationCount: m.NotificationCount,
		AverageLatency:    m.AverageLatency(),
		LastUpdate:        m.LastUpdate.UTC(),
	}
}

func MapMetricsList(all []model.PerformanceMetrics) []PerformanceMetrics {
	out := make([]PerformanceMetrics, 0, len(all))
	for _, m := range all {
		out = append(out, MapMetrics(m))
	}
	return out
}

func MapSummary(s model.MetricsSummary) MetricsSummary {
	return MetricsSummary{
		TotalRequests:      s.TotalRequests,
		TotalNotifications: s.TotalNotifications,
		AverageLatency:     s.AverageLatency,
		TechniqueMetrics:   MapMetricsList(s.Channels),
	}
}

func MapComparison(c model.Comparison) Comparison {
	stats := func(m model.PerformanceMetrics) TechniqueStats {
		return TechniqueStats{
			Name:              m.Channel.DisplayName(),
			RequestCount:      m.RequestCount,
			NotificationCount: m.NotificationCount,
			AverageLatency:    m.AverageLatency(),
			LastUpdate:        m.LastUpdate.UTC(),
		}
	}
	return Comparison{
		ShortPolling: stats(c.ShortPolling),
		LongPolling:  stats(c.LongPolling),
		Push:         stats(c.Push),
	}
}
