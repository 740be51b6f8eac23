package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/pricefeed"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := New(ctx, db, pricefeed.New(pricefeed.DefaultMaxAge), money.MustNew("100000"))
	if err != nil {
		t.Fatalf("new portfolio store: %v", err)
	}
	return s
}

func TestOpenAndCloseMaintainsEquityIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := s.Snapshot().State
	position := types.Position{
		ID:         "pos-1",
		Instrument: "BTCZAR",
		Side:       types.SideLong,
		Quantity:   money.MustNew("0.1"),
		EntryPrice: money.MustNew("1000000"),
		EntryValue: money.MustNew("100000"),
		OpenedAt:   time.Now(),
	}
	if err := s.OpenPosition(ctx, position); err != nil {
		t.Fatalf("open position: %v", err)
	}

	afterOpen := s.Snapshot().State
	total := afterOpen.CashBalance.Add(
		func() money.Amount {
			sum := money.Zero
			for _, p := range s.Snapshot().OpenPositions {
				sum = sum.Add(p.EntryValue)
			}
			return sum
		}(),
	)
	if !total.Equal(before.TotalValue) {
		t.Fatalf("cash + position entry value must equal prior total value: got %s want %s", total, before.TotalValue)
	}

	if err := s.ClosePosition(ctx, "pos-1", types.ReasonTarget, money.MustNew("1100000"), money.Zero); err != nil {
		t.Fatalf("close position: %v", err)
	}
	afterClose := s.Snapshot()
	if len(afterClose.OpenPositions) != 0 {
		t.Fatalf("expected no open positions after close")
	}
	if afterClose.State.DailyPnL.LessThanOrEqual(money.Zero) {
		t.Fatalf("expected positive daily PnL after a profitable close, got %s", afterClose.State.DailyPnL)
	}
}

func TestDoubleCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	position := types.Position{
		ID: "pos-2", Instrument: "ETHZAR", Side: types.SideLong,
		Quantity: money.MustNew("1"), EntryPrice: money.MustNew("50000"), EntryValue: money.MustNew("50000"),
		OpenedAt: time.Now(),
	}
	if err := s.OpenPosition(ctx, position); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.ClosePosition(ctx, "pos-2", types.ReasonManual, money.MustNew("51000"), money.Zero); err != nil {
		t.Fatalf("first close: %v", err)
	}
	pnlAfterFirst := s.Snapshot().State.DailyPnL

	if err := s.ClosePosition(ctx, "pos-2", types.ReasonManual, money.MustNew("99999"), money.Zero); err != nil {
		t.Fatalf("second close must be a harmless no-op, got error: %v", err)
	}
	if !s.Snapshot().State.DailyPnL.Equal(pnlAfterFirst) {
		t.Fatalf("second close must not double-count PnL")
	}
}
