/*
Package registry tracks parked long-poll clients and resolves each of them exactly once.

Key Architectural Concepts:
  - One-shot Waiters: every parked request owns a buffered completion slot that
    receives a single terminal Result (delivered, timeout, forced, superseded,
    canceled or closed).
  - Claim Before Act: a waiter moves from pending to resolved through an atomic
    compare-and-swap, so explicit resolution, deadline expiry and bulk release
    can race freely and only one of them ever delivers.
  - Lock-free Lookups: waiters live in a sync.Map keyed by client id, so
    unrelated clients never contend on a global mutex.
  - Snapshot Fan-out: bulk operations only touch waiters registered before the
    call began, tracked by a monotonic registration sequence.
*/
package registry

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// Waiters is the contract consumed by the dispatch and polling services.
type Waiters interface {
	Register(clientID string, timeout time.Duration) *Waiter
	ResolveOne(clientID string, batch []model.Notification) bool
	ResolveAll(batch []model.Notification) int
	ForceTimeoutAll() int
	Count() int
}

var _ Waiters = (*Registry)(nil)

// Stats is a point-in-time view of registry activity.
type Stats struct {
	Waiting    int   `json:"waitingClients"`
	Registered int64 `json:"registered"`
	Delivered  int64 `json:"delivered"`
	TimedOut   int64 `json:"timedOut"`
	Forced     int64 `json:"forced"`
	Superseded int64 `json:"superseded"`
	Canceled   int64 `json:"canceled"`
}

type registryConfig struct {
	defaultTimeout time.Duration
}

// Registry maps client ids to pending waiters.
type Registry struct {
	// waiters stores Map[string]*Waiter.
	waiters sync.Map

	// [SNAPSHOT_CUT] every waiter gets the next value; bulk calls read the
	// current value first and skip anything newer.
	seq atomic.Uint64

	pending  atomic.Int64
	outcomes [outcomeCount]atomic.Int64
	closed   atomic.Bool

	config registryConfig
	logger *slog.Logger
	now    func() time.Time
}

func New(opts ...Option) *Registry {
	r := &Registry{
		config: registryConfig{defaultTimeout: DefaultTimeout},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register parks a new waiter under clientID and arms its deadline.
// A waiter already parked under the same id is resolved with ErrSuperseded.
// After Shutdown the returned waiter is already resolved with ErrRegistryClosed.
func (r *Registry) Register(clientID string, timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = r.config.defaultTimeout
	}

	w := newWaiter(r, clientID, r.seq.Add(1), r.now(), timeout)
	if r.closed.Load() {
		w.resolveClosed()
		return w
	}

	r.pending.Add(1)
	r.outcomes[OutcomePending].Add(1)

	// The timer is armed before the waiter is visible, so no other path can
	// observe a waiter without one. Expiry never touches the timer itself.
	w.timer = time.AfterFunc(timeout, func() {
		if r.settle(w, Result{Outcome: OutcomeTimeout}, false) {
			r.logger.Debug("LONG_POLL_WAITER_EXPIRED", "client_id", clientID)
		}
	})

	if prev, loaded := r.waiters.Swap(clientID, w); loaded {
		if r.settle(prev.(*Waiter), Result{Outcome: OutcomeSuperseded, Err: ErrSuperseded}, true) {
			r.logger.Debug("LONG_POLL_WAITER_SUPERSEDED", "client_id", clientID)
		}
	}

	// An expiry that fired before the Swap could not delete the entry.
	if w.Resolved() {
		r.waiters.CompareAndDelete(clientID, w)
	}

	// Shutdown may have taken its snapshot between the closed check and the Swap.
	if r.closed.Load() {
		r.settle(w, Result{Outcome: OutcomeClosed, Err: ErrRegistryClosed}, true)
	}

	return w
}

// ResolveOne delivers batch to the waiter parked under clientID, if any.
func (r *Registry) ResolveOne(clientID string, batch []model.Notification) bool {
	val, ok := r.waiters.Load(clientID)
	if !ok {
		return false
	}
	return r.settle(val.(*Waiter), Result{
		Notifications: slices.Clone(batch),
		Outcome:       OutcomeDelivered,
	}, true)
}

// ResolveAll delivers batch to every waiter registered before the call.
// It returns how many waiters this call resolved.
func (r *Registry) ResolveAll(batch []model.Notification) int {
	if len(batch) == 0 {
		return 0
	}

	resolved := 0
	for _, w := range r.snapshot() {
		if r.settle(w, Result{Notifications: slices.Clone(batch), Outcome: OutcomeDelivered}, true) {
			resolved++
		}
	}

	if resolved > 0 {
		r.logger.Info("LONG_POLL_CLIENTS_NOTIFIED", "clients", resolved, "notifications", len(batch))
	}
	return resolved
}

// ForceTimeoutAll resolves every waiter registered before the call with an
// empty batch.
func (r *Registry) ForceTimeoutAll() int {
	released := 0
	for _, w := range r.snapshot() {
		if r.settle(w, Result{Outcome: OutcomeForced}, true) {
			released++
		}
	}
	r.logger.Info("LONG_POLL_FORCED_TIMEOUT", "clients", released)
	return released
}

// Shutdown rejects further registrations and releases every parked waiter
// with ErrRegistryClosed.
func (r *Registry) Shutdown() int {
	r.closed.Store(true)

	released := 0
	r.waiters.Range(func(_, val any) bool {
		if r.settle(val.(*Waiter), Result{Outcome: OutcomeClosed, Err: ErrRegistryClosed}, true) {
			released++
		}
		return true
	})

	r.logger.Info("LONG_POLL_REGISTRY_CLOSED", "released", released, "stats", r.Stats())
	return released
}

// Count returns the number of unresolved waiters.
func (r *Registry) Count() int {
	return int(r.pending.Load())
}

func (r *Registry) Stats() Stats {
	return Stats{
		Waiting:    r.Count(),
		Registered: r.outcomes[OutcomePending].Load(),
		Delivered:  r.outcomes[OutcomeDelivered].Load(),
		TimedOut:   r.outcomes[OutcomeTimeout].Load(),
		Forced:     r.outcomes[OutcomeForced].Load(),
		Superseded: r.outcomes[OutcomeSuperseded].Load(),
		Canceled:   r.outcomes[OutcomeCanceled].Load(),
	}
}

func (r *Registry) snapshot() []*Waiter {
	cut := r.seq.Load()

	var out []*Waiter
	r.waiters.Range(func(_, val any) bool {
		if w := val.(*Waiter); w.seq <= cut && !w.Resolved() {
			out = append(out, w)
		}
		return true
	})
	return out
}

// settle is the only path from pending to resolved.
func (r *Registry) settle(w *Waiter, res Result, stopTimer bool) bool {
	if !w.claim() {
		return false
	}

	if stopTimer && w.timer != nil {
		w.timer.Stop()
	}
	r.waiters.CompareAndDelete(w.clientID, w)
	r.pending.Add(-1)
	r.outcomes[res.Outcome].Add(1)

	w.done <- res
	close(w.done)
	return true
}
