package sizing

import (
	"testing"

	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

func testLimits() config.RiskLimits {
	return config.RiskLimits{
		MaxSinglePositionPct: money.MustNew("0.25"),
		FractionalKellyCoeff: money.MustNew("0.25"),
		VolTarget:            money.MustNew("0.10"),
		VolFloor:             money.MustNew("0.05"),
	}
}

func testProposal() types.TradeProposal {
	return types.TradeProposal{
		Instrument:               "BTCZAR",
		Side:                     types.SideLong,
		ReferencePrice:           money.MustNew("1000000"),
		AdvisoryStopLossPct:      money.MustNew("0.02"),
		AdvisoryTakeProfitPct:    money.MustNew("0.04"),
		Confidence:               money.MustNew("0.6"),
		VolatilityForecastAnnual: money.MustNew("0.10"),
	}
}

func TestSizeNeverExceedsSinglePositionCap(t *testing.T) {
	limits := testLimits()
	totalValue := money.MustNew("100000")
	sized := Size(testProposal(), totalValue, limits)

	capValue := totalValue.Mul(limits.MaxSinglePositionPct)
	if sized.PositionValue.GreaterThan(capValue) {
		t.Fatalf("sized position value %s exceeds cap %s", sized.PositionValue, capValue)
	}
}

func TestSizePositionValueMatchesQuantityTimesPrice(t *testing.T) {
	proposal := testProposal()
	sized := Size(proposal, money.MustNew("100000"), testLimits())

	want := sized.Quantity.Mul(proposal.ReferencePrice)
	if !sized.PositionValue.Equal(want) {
		t.Fatalf("position value %s does not match quantity*price %s", sized.PositionValue, want)
	}
}

func TestSizeZeroConfidenceYieldsZeroKelly(t *testing.T) {
	proposal := testProposal()
	proposal.Confidence = money.Zero
	sized := Size(proposal, money.MustNew("100000"), testLimits())

	if !sized.KellyFraction.IsZero() {
		t.Fatalf("expected zero Kelly fraction at zero confidence, got %s", sized.KellyFraction)
	}
	if !sized.Quantity.IsZero() {
		t.Fatalf("expected zero quantity at zero Kelly fraction, got %s", sized.Quantity)
	}
}

func TestSizeShortStopAboveEntryTakeProfitBelow(t *testing.T) {
	proposal := testProposal()
	proposal.Side = types.SideShort
	sized := Size(proposal, money.MustNew("100000"), testLimits())

	if !sized.StopLossPrice.GreaterThan(proposal.ReferencePrice) {
		t.Fatalf("expected short stop-loss above reference price, got %s vs %s", sized.StopLossPrice, proposal.ReferencePrice)
	}
	if !sized.TakeProfitPrice.LessThan(proposal.ReferencePrice) {
		t.Fatalf("expected short take-profit below reference price, got %s vs %s", sized.TakeProfitPrice, proposal.ReferencePrice)
	}
}

func TestSizeZeroReferencePriceYieldsZeroQuantity(t *testing.T) {
	proposal := testProposal()
	proposal.ReferencePrice = money.Zero
	sized := Size(proposal, money.MustNew("100000"), testLimits())

	if !sized.Quantity.IsZero() {
		t.Fatalf("expected zero quantity when reference price is zero, got %s", sized.Quantity)
	}
}
