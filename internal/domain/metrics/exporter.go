package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// Exporter mirrors aggregator activity as Prometheus series. Its counters are
// monotonic and are not touched by metric resets.
type Exporter struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	waiters       prometheus.GaugeFunc
}

// NewExporter registers the channel series on reg. waiting reports the
// current number of parked long-poll clients.
func NewExporter(reg prometheus.Registerer, waiting func() int) (*Exporter, error) {
	e := &Exporter{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "realtime",
				Name:      "channel_requests_total",
				Help:      "Total number of delivery requests handled per channel",
			},
			[]string{"channel"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "realtime",
				Name:      "channel_request_latency_seconds",
				Help:      "Request latency per delivery channel",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30}, // 1ms to 30s
			},
			[]string{"channel"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "realtime",
				Name:      "channel_notifications_total",
				Help:      "Total number of notifications delivered per channel",
			},
			[]string{"channel"},
		),
	}
	if waiting != nil {
		e.waiters = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "realtime",
				Name:      "long_poll_waiting_clients",
				Help:      "Long-poll clients currently parked",
			},
			func() float64 { return float64(waiting()) },
		)
	}

	collectors := []prometheus.Collector{e.requests, e.latency, e.notifications}
	if e.waiters != nil {
		collectors = append(collectors, e.waiters)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register channel metrics: %w", err)
		}
	}
	return e, nil
}

func (e *Exporter) observeRequest(ch model.Channel, latency time.Duration) {
	e.requests.WithLabelValues(string(ch)).Inc()
	e.latency.WithLabelValues(string(ch)).Observe(latency.Seconds())
}

func (e *Exporter) observeNotification(ch model.Channel) {
	e.notifications.WithLabelValues(string(ch)).Inc()
}
