package riskgate

import (
	"context"
	"testing"

	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

func baseLimits() config.RiskLimits {
	return config.RiskLimits{
		MaxDrawdownPct:              money.MustNew("0.15"),
		DailyLossLimitPct:           money.MustNew("0.05"),
		MaxSinglePositionPct:        money.MustNew("0.25"),
		MaxSectorExposurePct:        money.MustNew("0.50"),
		MaxCorrelationThreshold:     money.MustNew("0.70"),
		MaxLeverage:                 money.MustNew("3"),
		MaxPortfolioRiskExposurePct: money.MustNew("0.15"),
		MinPositionSizePct:          money.MustNew("0.005"),
		FractionalKellyCoeff:        money.MustNew("0.25"),
		VolTarget:                   money.MustNew("0.10"),
		VolFloor:                    money.MustNew("0.05"),
		MaxCloseAttempts:            5,
		SectorTaxonomy:              map[types.Symbol]string{},
	}
}

func baseSnapshot() types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		State: types.PortfolioState{
			TotalValue:         money.MustNew("100000"),
			CashBalance:        money.MustNew("100000"),
			PeakValue:          money.MustNew("100000"),
			CurrentDrawdownPct: money.Zero,
			DailyPnL:           money.Zero,
			DailyAnchorValue:   money.MustNew("100000"),
		},
	}
}

func baseProposal() types.TradeProposal {
	return types.TradeProposal{
		Instrument:               "BTCZAR",
		Side:                     types.SideLong,
		ReferencePrice:           money.MustNew("1000000"),
		AdvisoryLeverage:         money.MustNew("2"),
		AdvisoryStopLossPct:      money.MustNew("0.02"),
		AdvisoryTakeProfitPct:    money.MustNew("0.04"),
		Confidence:               money.MustNew("0.6"),
		VolatilityForecastAnnual: money.MustNew("0.10"),
	}
}

func TestGateDeterminism(t *testing.T) {
	g := New(baseLimits(), nil)
	snap := baseSnapshot()
	proposal := baseProposal()

	first := g.Evaluate(context.Background(), proposal, snap)
	second := g.Evaluate(context.Background(), proposal, snap)

	if first.Passed != second.Passed {
		t.Fatalf("gate is not deterministic: %v vs %v", first.Passed, second.Passed)
	}
	if len(first.Violations) != len(second.Violations) {
		t.Fatalf("violation count differs across identical calls")
	}
}

func TestGateCompleteness(t *testing.T) {
	limits := baseLimits()
	snap := baseSnapshot()
	snap.State.CurrentDrawdownPct = money.MustNew("0.20") // breach #1
	snap.State.DailyPnL = money.MustNew("-10000")         // breach #2 (10% of 100k anchor)
	snap.OpenPositions = []types.Position{{
		Instrument: "ETHZAR",
		Quantity:   money.MustNew("10"),
		EntryPrice: money.MustNew("50000"), // 500000 notional vs 100000 total value, breach #7
	}}

	proposal := baseProposal()

	g := New(limits, nil)
	decision := g.Evaluate(context.Background(), proposal, snap)

	if decision.Passed {
		t.Fatalf("expected decision to fail")
	}
	seen := map[types.CheckID]bool{}
	for _, v := range decision.Violations {
		seen[v.Check] = true
	}
	for _, want := range []types.CheckID{types.CheckDrawdown, types.CheckDailyLoss, types.CheckLeverage} {
		if !seen[want] {
			t.Errorf("expected violation %s to be reported alongside the others", want)
		}
	}
}

func TestGateDrawdownBoundaryExactlyAtLimit(t *testing.T) {
	limits := baseLimits()
	snap := baseSnapshot()
	snap.State.CurrentDrawdownPct = limits.MaxDrawdownPct // exactly at limit, not beyond

	g := New(limits, nil)
	decision := g.Evaluate(context.Background(), baseProposal(), snap)

	if decision.Passed {
		t.Fatalf("drawdown exactly at the limit must be rejected (>=), not accepted")
	}
}

func TestGateZeroTotalValue(t *testing.T) {
	limits := baseLimits()
	snap := baseSnapshot()
	snap.State.TotalValue = money.Zero

	g := New(limits, nil)
	decision := g.Evaluate(context.Background(), baseProposal(), snap)

	if decision.Passed {
		t.Fatalf("zero total portfolio value must never pass the risk capacity check")
	}
}

func TestGateConfidenceBoundaries(t *testing.T) {
	limits := baseLimits()
	snap := baseSnapshot()
	g := New(limits, nil)

	for _, conf := range []string{"0", "1"} {
		proposal := baseProposal()
		proposal.Confidence = money.MustNew(conf)
		decision := g.Evaluate(context.Background(), proposal, snap)
		if decision.Sized == nil && decision.Passed {
			t.Fatalf("passed decision must carry a sized proposal")
		}
	}
}

func TestGatePassesCleanProposal(t *testing.T) {
	g := New(baseLimits(), nil)
	decision := g.Evaluate(context.Background(), baseProposal(), baseSnapshot())

	if !decision.Passed {
		t.Fatalf("expected a clean proposal against a healthy portfolio to pass, got violations: %+v", decision.Violations)
	}
	if decision.Sized == nil {
		t.Fatalf("expected a sized proposal to be attached on pass")
	}
}

type stubCorrelation struct {
	value money.Amount
	err   error
}

func (s stubCorrelation) Correlation(_ context.Context, _, _ types.Symbol) (money.Amount, error) {
	return s.value, s.err
}

func TestGateCorrelationRejectsHighlyCorrelatedBook(t *testing.T) {
	limits := baseLimits()
	snap := baseSnapshot()
	snap.OpenPositions = []types.Position{{
		Instrument: "ETHZAR",
		Quantity:   money.MustNew("1"),
		EntryPrice: money.MustNew("50000"),
	}}

	g := New(limits, stubCorrelation{value: money.MustNew("0.95")})
	decision := g.Evaluate(context.Background(), baseProposal(), snap)

	if decision.Passed {
		t.Fatalf("expected correlation check to reject a 0.95-correlated book")
	}
}
