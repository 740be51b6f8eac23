// Package router implements the Execution Router (C6): a hot-swappable
// pointer to the currently active Execution Backend. Every in-flight
// call holds a lease on the backend it started with, so a swap never
// cancels work already underway and a drain deadline bounds how long a
// swap waits for stragglers. Every dispatch is wrapped in a circuit
// breaker scoped to the active backend, so a failing exchange stops
// receiving new calls until it cools down.
//
// Grounded on the teacher's core.Router (mutex-guarded subscription
// table) and execution.Executor's PaperMode/live dispatch, generalized
// from a static boolean flag and an RWMutex-guarded map into an atomic
// pointer swap so the hot path never blocks behind a writer.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/substrate"
	"github.com/web3guy0/execcore/internal/types"
)

// leasedBackend pairs a Backend with a count of in-flight calls against
// it, so Swap can wait for them to drain before the old backend is
// dropped for good, and a CircuitBreaker scoped to this backend
// instance so a swap always starts a fresh breaker rather than
// carrying over a tripped state from the backend it replaced.
type leasedBackend struct {
	backend  execution.Backend
	breaker  *substrate.CircuitBreaker
	inFlight atomic.Int64
}

// Router holds the currently active backend behind an atomic pointer.
// Reads (acquire) are wait-free; a Swap installs a new pointer and then
// waits, up to a deadline, for the previous backend's lease count to
// reach zero.
type Router struct {
	current atomic.Pointer[leasedBackend]
	mode    atomic.Value // types.ExecutionMode
}

// New builds a Router seeded with an initial backend.
func New(initial execution.Backend, mode types.ExecutionMode) *Router {
	r := &Router{}
	lb := &leasedBackend{backend: initial, breaker: substrate.NewCircuitBreaker(initial.Name(), substrate.DefaultBreakerConfig())}
	r.current.Store(lb)
	r.mode.Store(mode)
	return r
}

// Mode reports which mode the active backend belongs to, or
// ModeTransitioning while a Swap is draining the previous backend.
func (r *Router) Mode() types.ExecutionMode {
	return r.mode.Load().(types.ExecutionMode)
}

// lease is a handle on one in-flight call. Release must be called
// exactly once, typically via defer, to let a concurrent Swap proceed.
type lease struct {
	lb *leasedBackend
}

func (l *lease) Release() {
	l.lb.inFlight.Add(-1)
}

// acquire takes a lease on whichever backend is current at call time.
func (r *Router) acquire() (*leasedBackend, *lease) {
	lb := r.current.Load()
	lb.inFlight.Add(1)
	return lb, &lease{lb: lb}
}

// PlaceOrder dispatches to the currently active backend under a lease,
// so a concurrent Swap cannot drop the backend out from under this
// call. The call is gated by the backend's circuit breaker: a tripped
// breaker fails fast with BackendUnavailable instead of dispatching.
func (r *Router) PlaceOrder(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	lb, l := r.acquire()
	defer l.Release()
	if !lb.breaker.Allow() {
		return types.OrderReceipt{}, coreerr.New(coreerr.KindBackendUnavailable, "circuit breaker open for backend "+lb.backend.Name())
	}
	receipt, err := lb.backend.PlaceOrder(ctx, req)
	recordOutcome(lb.breaker, err)
	return receipt, err
}

// ClosePosition dispatches a close to the currently active backend,
// gated the same way as PlaceOrder.
func (r *Router) ClosePosition(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	lb, l := r.acquire()
	defer l.Release()
	if !lb.breaker.Allow() {
		return types.OrderReceipt{}, coreerr.New(coreerr.KindBackendUnavailable, "circuit breaker open for backend "+lb.backend.Name())
	}
	receipt, err := lb.backend.ClosePosition(ctx, req)
	recordOutcome(lb.breaker, err)
	return receipt, err
}

// GetOpenOrders dispatches to the currently active backend, gated the
// same way as PlaceOrder.
func (r *Router) GetOpenOrders(ctx context.Context) ([]types.OrderRef, error) {
	lb, l := r.acquire()
	defer l.Release()
	if !lb.breaker.Allow() {
		return nil, coreerr.New(coreerr.KindBackendUnavailable, "circuit breaker open for backend "+lb.backend.Name())
	}
	refs, err := lb.backend.GetOpenOrders(ctx)
	recordOutcome(lb.breaker, err)
	return refs, err
}

func recordOutcome(b *substrate.CircuitBreaker, err error) {
	if err != nil {
		b.RecordFailure()
		return
	}
	b.RecordSuccess()
}

// Swap installs a new backend for a new mode, then blocks until every
// call that started against the previous backend has released its
// lease or drainDeadline elapses, whichever first. Mode reports
// ModeTransitioning until Swap returns, then the new mode. A timed-out
// drain (or a cancelled ctx) returns a Swapping error, but the new
// backend and mode stay installed and the old backend's remaining
// leases are abandoned, since the Backend interface holds no resources
// that require a clean close beyond what its own network connections
// already do.
func (r *Router) Swap(ctx context.Context, next execution.Backend, mode types.ExecutionMode, drainDeadline time.Duration) error {
	prev := r.current.Load()

	newLB := &leasedBackend{backend: next, breaker: substrate.NewCircuitBreaker(next.Name(), substrate.DefaultBreakerConfig())}
	r.mode.Store(types.ModeTransitioning)
	defer r.mode.Store(mode)
	r.current.Store(newLB)

	deadline := time.Now().Add(drainDeadline)
	for prev.inFlight.Load() > 0 {
		if time.Now().After(deadline) {
			return coreerr.New(coreerr.KindSwapping, "drain deadline exceeded, abandoning prior backend with in-flight calls")
		}
		select {
		case <-ctx.Done():
			return coreerr.Wrap(coreerr.KindSwapping, "swap cancelled while draining prior backend", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}
