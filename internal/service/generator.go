package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Generator feeds the dispatcher with synthetic notifications on a fixed interval.
type Generator struct {
	sender   Sender
	interval time.Duration
	logger   *slog.Logger

	counter atomic.Int64
	now     func() time.Time
	intn    func(lo, hi int) int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGenerator(sender Sender, interval time.Duration, logger *slog.Logger) *Generator {
	return &Generator{
		sender:   sender,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		intn:     func(lo, hi int) int { return lo + rand.IntN(hi-lo) },
	}
}

// Next renders the next message. Every call advances the counter.
func (g *Generator) Next() string {
	seq := g.counter.Add(1)
	templates := []func() string{
		func() string { return fmt.Sprintf("New notification #%d", seq) },
		func() string { return "System updated - " + g.now().UTC().Format(time.RFC3339) },
		func() string { return "Security alert detected" },
		func() string { return "Backup completed successfully" },
		func() string { return fmt.Sprintf("User connected: user%d", g.intn(1000, 9999)) },
		func() string { return fmt.Sprintf("Process finished: %d", g.intn(1, 100)) },
		func() string { return fmt.Sprintf("Memory usage: %d%%", g.intn(60, 95)) },
		func() string { return fmt.Sprintf("Server temperature: %d°C", g.intn(35, 75)) },
	}
	return templates[g.intn(0, len(templates))]()
}

// Tick generates and sends one notification.
func (g *Generator) Tick(ctx context.Context) {
	n, report, err := g.sender.Send(ctx, g.Next())
	if err != nil {
		g.logger.Error("GENERATOR_SEND_FAILED", "err", err)
		return
	}
	g.logger.Info("NOTIFICATION_GENERATED",
		"notification_id", n.ID,
		"waiters_resolved", report.WaitersResolved,
		"pushed", report.Pushed,
	)
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (g *Generator) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})

	go g.loop(ctx, g.done)
	g.logger.Info("GENERATOR_STARTED", "interval", g.interval.String())
}

func (g *Generator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight tick, bounded by ctx.
func (g *Generator) Stop(ctx context.Context) error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		g.logger.Info("GENERATOR_STOPPED", "generated", g.counter.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
