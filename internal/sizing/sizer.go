// Package sizing implements the Position Sizer (C4): fractional-Kelly
// sizing scaled by a volatility target, bounded by the configured caps.
// Pure function, no I/O — grounded on the teacher's
// risk.Sizer.CalculateWithKelly, generalized from a win-rate/avg-win
// Kelly estimate to the advisory take-profit/stop-loss ratio Kelly
// formula the spec requires.
package sizing

import (
	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// Size computes a SizedProposal from a TradeProposal and the
// portfolio's current total value, per spec.md §4.4. It never mutates its inputs
// and performs no I/O.
func Size(proposal types.TradeProposal, totalValue money.Amount, limits config.RiskLimits) types.SizedProposal {
	one := money.FromInt(1)

	// b = take_profit_pct / stop_loss_pct (payoff ratio)
	b := proposal.AdvisoryTakeProfitPct.Div(proposal.AdvisoryStopLossPct)

	// Kelly fraction k = (p*b - (1-p)) / b, clamped into [0,1].
	p := proposal.Confidence
	var k money.Amount
	if b.IsZero() {
		k = money.Zero
	} else {
		numerator := p.Mul(b).Sub(one.Sub(p))
		k = numerator.Div(b)
	}
	k = money.Clamp(k, money.Zero, one)

	fractionalKelly := k.Mul(limits.FractionalKellyCoeff)

	// Volatility scalar v = min(1, vol_target / max(vol_floor, forecast)).
	denom := money.Max(limits.VolFloor, proposal.VolatilityForecastAnnual)
	var volScalar money.Amount
	if denom.IsZero() {
		volScalar = money.Zero
	} else {
		volScalar = money.Min(one, limits.VolTarget.Div(denom))
	}

	rawValue := totalValue.Mul(fractionalKelly).Mul(volScalar)
	capValue := totalValue.Mul(limits.MaxSinglePositionPct)
	boundedValue := money.Min(rawValue, capValue)

	var quantity money.Amount
	if proposal.ReferencePrice.IsZero() {
		quantity = money.Zero
	} else {
		quantity = boundedValue.Div(proposal.ReferencePrice)
	}
	quantity = quantity.RoundLot(lotSizeFor(proposal.Instrument))

	// Re-derive position value from the lot-rounded quantity so
	// PositionValue never exceeds what Quantity*ReferencePrice implies
	// (sizer-bound testable property in spec.md §8).
	positionValue := quantity.Mul(proposal.ReferencePrice)

	stopLoss, takeProfit := stopTakeLevels(proposal)

	return types.SizedProposal{
		TradeProposal:    proposal,
		KellyFraction:    k,
		FractionalKelly:  fractionalKelly,
		VolatilityScalar: volScalar,
		RawPositionValue: rawValue,
		PositionValue:    positionValue,
		Quantity:         quantity,
		StopLossPrice:    stopLoss,
		TakeProfitPrice:  takeProfit,
	}
}

// stopTakeLevels derives absolute stop-loss/take-profit prices from the
// reference price and the proposal's advisory percentages, accounting
// for side (a LONG's stop sits below entry, a SHORT's sits above).
func stopTakeLevels(p types.TradeProposal) (stopLoss, takeProfit money.Amount) {
	ref := p.ReferencePrice
	slDelta := ref.Mul(p.AdvisoryStopLossPct)
	tpDelta := ref.Mul(p.AdvisoryTakeProfitPct)

	if p.Side == types.SideShort {
		return ref.Add(slDelta), ref.Sub(tpDelta)
	}
	return ref.Sub(slDelta), ref.Add(tpDelta)
}

// lotSizeFor returns the minimum tradable increment for an instrument.
// A real deployment would source this from the exchange's instrument
// metadata; this core treats it as a fixed 8-decimal-place floor
// (money.Amount's quantity scale) absent a richer instrument registry,
// which is out of this core's scope per spec.md §1.
func lotSizeFor(_ types.Symbol) money.Amount {
	return money.MustNew("0.00000001")
}
