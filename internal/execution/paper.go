package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// PaperBackend is a deterministic fill simulator. Grounded on the
// teacher's Executor.simulateFill: buys pay a slippage premium, sells
// receive a slippage discount, and every fill pays a flat taker fee.
// Deterministic because it never calls time.Now() for price derivation
// — fills are computed purely from the request and configured slippage.
type PaperBackend struct {
	slippageBps int
	feeRate     money.Amount
	clock       func() time.Time
	seq         atomic.Uint64
}

// NewPaperBackend builds a paper backend with the given slippage in
// basis points (10 = 0.10%, matching the teacher's default).
func NewPaperBackend(slippageBps int) *PaperBackend {
	return &PaperBackend{
		slippageBps: slippageBps,
		feeRate:     money.MustNew("0.001"),
		clock:       time.Now,
	}
}

func (b *PaperBackend) Name() string { return "paper" }

func (b *PaperBackend) PlaceOrder(ctx context.Context, req OrderRequest) (types.OrderReceipt, error) {
	return b.fill(req, true)
}

func (b *PaperBackend) ClosePosition(ctx context.Context, req OrderRequest) (types.OrderReceipt, error) {
	return b.fill(req, false)
}

func (b *PaperBackend) fill(req OrderRequest, opening bool) (types.OrderReceipt, error) {
	slippage := money.FromInt(int64(b.slippageBps)).Div(money.FromInt(10000))
	one := money.FromInt(1)

	// A LONG open (or SHORT close) buys: pay slightly more. A SHORT
	// open (or LONG close) sells: receive slightly less.
	buying := (req.Side == types.SideLong) == opening
	var fillPrice money.Amount
	if buying {
		fillPrice = req.ReferencePrice.Mul(one.Add(slippage))
	} else {
		fillPrice = req.ReferencePrice.Mul(one.Sub(slippage))
	}

	notional := fillPrice.Mul(req.Quantity)
	fee := notional.Mul(b.feeRate)

	now := b.clock()
	id := fmt.Sprintf("paper-%d", b.seq.Add(1))

	return types.OrderReceipt{
		BackendOrderID:   id,
		FilledQuantity:   req.Quantity,
		AverageFillPrice: fillPrice,
		Fees:             fee,
		AcceptedAt:       now,
		SettledAt:        now,
	}, nil
}

// GetOpenOrders always returns empty: paper fills are synchronous and
// complete, so nothing is ever left open.
func (b *PaperBackend) GetOpenOrders(ctx context.Context) ([]types.OrderRef, error) {
	return nil, nil
}
