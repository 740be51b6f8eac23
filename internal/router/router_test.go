package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/types"
)

type blockingBackend struct {
	name    string
	release chan struct{}
}

func (b *blockingBackend) Name() string { return b.name }
func (b *blockingBackend) PlaceOrder(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	<-b.release
	return types.OrderReceipt{BackendOrderID: b.name}, nil
}
func (b *blockingBackend) ClosePosition(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	return types.OrderReceipt{}, nil
}
func (b *blockingBackend) GetOpenOrders(ctx context.Context) ([]types.OrderRef, error) {
	return nil, nil
}

func TestSwapWaitsForInFlightCalls(t *testing.T) {
	first := &blockingBackend{name: "first", release: make(chan struct{})}
	r := New(first, types.ModePaper)

	var wg sync.WaitGroup
	wg.Add(1)
	var receipt types.OrderReceipt
	go func() {
		defer wg.Done()
		receipt, _ = r.PlaceOrder(context.Background(), execution.OrderRequest{})
	}()

	time.Sleep(10 * time.Millisecond) // let PlaceOrder acquire its lease

	swapDone := make(chan error, 1)
	go func() {
		second := &blockingBackend{name: "second", release: make(chan struct{})}
		close(second.release)
		swapDone <- r.Swap(context.Background(), second, types.ModeLive, time.Second)
	}()

	select {
	case <-swapDone:
		t.Fatalf("swap must not complete before the in-flight call releases its lease")
	case <-time.After(30 * time.Millisecond):
	}

	close(first.release)
	wg.Wait()

	if err := <-swapDone; err != nil {
		t.Fatalf("unexpected swap error: %v", err)
	}
	if receipt.BackendOrderID != "first" {
		t.Fatalf("in-flight call should have completed against the original backend, got %q", receipt.BackendOrderID)
	}
	if r.Mode() != types.ModeLive {
		t.Fatalf("expected router mode to be LIVE after swap, got %s", r.Mode())
	}
}

type flakyBackend struct {
	name string
	err  error
}

func (b *flakyBackend) Name() string { return b.name }
func (b *flakyBackend) PlaceOrder(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	return types.OrderReceipt{}, b.err
}
func (b *flakyBackend) ClosePosition(ctx context.Context, req execution.OrderRequest) (types.OrderReceipt, error) {
	return types.OrderReceipt{}, b.err
}
func (b *flakyBackend) GetOpenOrders(ctx context.Context) ([]types.OrderRef, error) {
	return nil, b.err
}

func TestPlaceOrderTripsBreakerAfterRepeatedFailures(t *testing.T) {
	backend := &flakyBackend{name: "flaky", err: context.DeadlineExceeded}
	r := New(backend, types.ModePaper)

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = r.PlaceOrder(context.Background(), execution.OrderRequest{})
	}
	if lastErr == nil {
		t.Fatalf("expected every call against a failing backend to return an error")
	}

	_, err := r.PlaceOrder(context.Background(), execution.OrderRequest{})
	if err == nil {
		t.Fatalf("expected the circuit breaker to be open after repeated failures")
	}
}

func TestSwapAbandonsAfterDrainDeadline(t *testing.T) {
	first := &blockingBackend{name: "first", release: make(chan struct{})}
	r := New(first, types.ModePaper)

	go func() {
		_, _ = r.PlaceOrder(context.Background(), execution.OrderRequest{})
	}()
	time.Sleep(10 * time.Millisecond)
	defer close(first.release)

	second := &blockingBackend{name: "second", release: make(chan struct{})}
	close(second.release)

	err := r.Swap(context.Background(), second, types.ModeLive, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a drain deadline error, got nil")
	}
}
