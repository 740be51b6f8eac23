package execution

import (
	"context"
	"testing"
	"time"

	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

func TestPaperBackendLongOpenPaysSlippagePremium(t *testing.T) {
	b := NewPaperBackend(10) // 0.10%
	req := OrderRequest{
		Instrument:     "BTCZAR",
		Side:           types.SideLong,
		Quantity:       money.MustNew("1"),
		ReferencePrice: money.MustNew("1000000"),
	}

	receipt, err := b.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.AverageFillPrice.GreaterThan(req.ReferencePrice) {
		t.Fatalf("expected long open fill price above reference, got %s vs %s", receipt.AverageFillPrice, req.ReferencePrice)
	}
}

func TestPaperBackendLongCloseReceivesSlippageDiscount(t *testing.T) {
	b := NewPaperBackend(10)
	req := OrderRequest{
		Instrument:     "BTCZAR",
		Side:           types.SideLong,
		Quantity:       money.MustNew("1"),
		ReferencePrice: money.MustNew("1000000"),
	}

	receipt, err := b.ClosePosition(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.AverageFillPrice.LessThan(req.ReferencePrice) {
		t.Fatalf("expected long close fill price below reference, got %s vs %s", receipt.AverageFillPrice, req.ReferencePrice)
	}
}

func TestPaperBackendIsDeterministicGivenSameClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewPaperBackend(5)
	b.clock = func() time.Time { return fixed }

	req := OrderRequest{
		Instrument:     "ETHZAR",
		Side:           types.SideShort,
		Quantity:       money.MustNew("2"),
		ReferencePrice: money.MustNew("50000"),
	}

	r1, _ := b.PlaceOrder(context.Background(), req)
	r2, _ := b.PlaceOrder(context.Background(), req)

	if !r1.AverageFillPrice.Equal(r2.AverageFillPrice) {
		t.Fatalf("expected identical fill price across calls, got %s vs %s", r1.AverageFillPrice, r2.AverageFillPrice)
	}
	if !r1.Fees.Equal(r2.Fees) {
		t.Fatalf("expected identical fees across calls, got %s vs %s", r1.Fees, r2.Fees)
	}
}

func TestPaperBackendGetOpenOrdersAlwaysEmpty(t *testing.T) {
	b := NewPaperBackend(10)
	refs, err := b.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no open orders from paper backend, got %d", len(refs))
	}
}
