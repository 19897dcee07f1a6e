package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

// Terminal errors carried by a Result when a waiter did not end normally.
var (
	ErrSuperseded     = errors.New("registry: waiter superseded by a newer registration")
	ErrCanceled       = errors.New("registry: waiter canceled")
	ErrRegistryClosed = errors.New("registry: closed")
)

// Outcome names the cause that won the race for a waiter.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeDelivered
	OutcomeTimeout
	OutcomeForced
	OutcomeSuperseded
	OutcomeCanceled
	OutcomeClosed
	outcomeCount
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeForced:
		return "forced"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the single terminal value of a waiter.
type Result struct {
	Notifications []model.Notification
	Outcome       Outcome
	Err           error
}

// Empty reports whether the result carries no notifications.
func (r Result) Empty() bool { return len(r.Notifications) == 0 }

const (
	statePending uint32 = iota
	stateResolved
)

// Waiter is a one-shot completion slot for a parked long-poll client.
type Waiter struct {
	clientID     string
	seq          uint64
	registeredAt time.Time
	deadline     time.Time

	// [CLAIM] pending -> resolved exactly once, whoever gets there first.
	state atomic.Uint32

	// done is buffered so the winner never blocks; it yields one Result and is closed.
	done  chan Result
	timer *time.Timer
	reg   *Registry
}

func newWaiter(reg *Registry, clientID string, seq uint64, now time.Time, timeout time.Duration) *Waiter {
	return &Waiter{
		clientID:     clientID,
		seq:          seq,
		registeredAt: now,
		deadline:     now.Add(timeout),
		done:         make(chan Result, 1),
		reg:          reg,
	}
}

func (w *Waiter) ClientID() string        { return w.clientID }
func (w *Waiter) Deadline() time.Time     { return w.deadline }
func (w *Waiter) RegisteredAt() time.Time { return w.registeredAt }

// Done yields exactly one Result, then the channel is closed.
func (w *Waiter) Done() <-chan Result { return w.done }

// Resolved reports whether some cause already claimed the waiter.
func (w *Waiter) Resolved() bool { return w.state.Load() == stateResolved }

// Cancel resolves the waiter with ErrCanceled. It returns false if another
// cause won first.
func (w *Waiter) Cancel() bool {
	return w.reg.settle(w, Result{Outcome: OutcomeCanceled, Err: ErrCanceled}, true)
}

// Wait parks until the waiter resolves or ctx ends. On ctx end the waiter is
// canceled, and whichever result actually won is returned.
func (w *Waiter) Wait(ctx context.Context) Result {
	select {
	case res := <-w.done:
		return res
	case <-ctx.Done():
		w.Cancel()
		return <-w.done
	}
}

func (w *Waiter) claim() bool {
	return w.state.CompareAndSwap(statePending, stateResolved)
}

// resolveClosed finishes a waiter that never entered the map.
func (w *Waiter) resolveClosed() {
	w.state.Store(stateResolved)
	w.done <- Result{Outcome: OutcomeClosed, Err: ErrRegistryClosed}
	close(w.done)
}
