package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in process. Notifications are kept in creation order.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	items   []model.Notification
	metrics map[model.Channel]model.PerformanceMetrics
}

func NewMemory() *Memory {
	return &Memory{metrics: make(map[model.Channel]model.PerformanceMetrics)}
}

func (m *Memory) Save(ctx context.Context, n model.Notification) (model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return model.Notification{}, model.WrapStorage("save", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = n.CreatedAt.UTC()

	// Clock skew can produce an older timestamp; keep the slice sorted.
	idx, _ := slices.BinarySearchFunc(m.items, n, func(a, b model.Notification) int {
		if a.Before(b) {
			return -1
		}
		return 1
	})
	m.items = slices.Insert(m.items, idx, n)
	return n, nil
}

func (m *Memory) After(ctx context.Context, since time.Time, markDelivered bool) ([]model.Notification, error) {
	return m.query(ctx, func(n model.Notification) bool { return n.CreatedAt.After(since) }, markDelivered, true)
}

func (m *Memory) Undelivered(ctx context.Context, markDelivered bool) ([]model.Notification, error) {
	return m.query(ctx, func(n model.Notification) bool { return !n.Delivered }, markDelivered, false)
}

func (m *Memory) query(ctx context.Context, match func(model.Notification) bool, mark, newestFirst bool) ([]model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapStorage("query", err)
	}
	if mark {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}

	out := make([]model.Notification, 0)
	for i := range m.items {
		if !match(m.items[i]) {
			continue
		}
		if mark {
			m.items[i].Delivered = true
		}
		out = append(out, m.items[i])
	}
	if newestFirst {
		slices.Reverse(out)
	}
	return out, nil
}

func (m *Memory) Latest(ctx context.Context, limit int) ([]model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapStorage("latest", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(limit, len(m.items))
	out := make([]model.Notification, 0, max(n, 0))
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *Memory) MarkDelivered(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return model.WrapStorage("mark delivered", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if slices.Contains(ids, m.items[i].ID) {
			m.items[i].Delivered = true
		}
	}
	return nil
}

func (m *Memory) CountAfter(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.WrapStorage("count", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, n := range m.items {
		if n.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountUndelivered(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.WrapStorage("count", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, n := range m.items {
		if !n.Delivered {
			count++
		}
	}
	return count, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

func (m *Memory) LoadMetrics(ctx context.Context) ([]model.PerformanceMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.PerformanceMetrics, 0, len(m.metrics))
	for _, rec := range m.metrics {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b model.PerformanceMetrics) int {
		return compareChannels(a.Channel, b.Channel)
	})
	return out, nil
}

func (m *Memory) SaveMetrics(ctx context.Context, rec model.PerformanceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[rec.Channel] = rec
	return nil
}

func (m *Memory) DeleteMetrics(ctx context.Context, ch model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, ch)
	return nil
}

func (m *Memory) DeleteAllMetrics(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.metrics)
	return nil
}

func (m *Memory) Close() error { return nil }

func compareChannels(a, b model.Channel) int {
	return slices.Index(model.Channels, a) - slices.Index(model.Channels, b)
}
