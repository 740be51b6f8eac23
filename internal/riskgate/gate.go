// Package riskgate implements the Risk Gate (C3): seven independent,
// non-short-circuiting checks run in a fixed order against a proposal
// sized by the Position Sizer. Every check runs regardless of earlier
// failures so a caller sees every violation in one round trip.
//
// Grounded on the teacher's risk.RiskGate.CanEnter, generalized from a
// short-circuiting sequence of hard blocks into an always-evaluate,
// ordered-violation-list design.
package riskgate

import (
	"context"
	"errors"

	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/sizing"
	"github.com/web3guy0/execcore/internal/substrate"
	"github.com/web3guy0/execcore/internal/types"
)

// CorrelationSource supplies the correlation coefficient between an
// incoming instrument and each currently open instrument. It is an
// out-of-process collaborator, so Gate treats any error (including one
// surfaced by a tripped circuit breaker, see BreakerGuardedCorrelation
// below) as a correlation equal to MaxCorrelationThreshold. The check
// trips only strictly above the threshold, so a failed lookup does not
// by itself reject the proposal.
type CorrelationSource interface {
	Correlation(ctx context.Context, a, b types.Symbol) (money.Amount, error)
}

// BreakerGuardedCorrelation wraps a CorrelationSource in a circuit
// breaker, matching the Execution Router's treatment of every other
// out-of-process collaborator: repeated lookup failures trip the
// breaker and subsequent calls fail fast without hitting the network,
// until the cooldown elapses and probationary calls are let through
// again.
type BreakerGuardedCorrelation struct {
	inner   CorrelationSource
	breaker *substrate.CircuitBreaker
}

// NewBreakerGuardedCorrelation wraps source behind a circuit breaker
// using the package-default breaker configuration.
func NewBreakerGuardedCorrelation(name string, source CorrelationSource) *BreakerGuardedCorrelation {
	return &BreakerGuardedCorrelation{
		inner:   source,
		breaker: substrate.NewCircuitBreaker(name, substrate.DefaultBreakerConfig()),
	}
}

func (b *BreakerGuardedCorrelation) Correlation(ctx context.Context, a, sym types.Symbol) (money.Amount, error) {
	if !b.breaker.Allow() {
		return money.Zero, errCorrelationBreakerOpen
	}
	v, err := b.inner.Correlation(ctx, a, sym)
	if err != nil {
		b.breaker.RecordFailure()
		return money.Zero, err
	}
	b.breaker.RecordSuccess()
	return v, nil
}

var errCorrelationBreakerOpen = errors.New("correlation source circuit breaker is open")

// Gate evaluates trade proposals against a portfolio snapshot.
type Gate struct {
	limits      config.RiskLimits
	correlation CorrelationSource
}

// New builds a Gate. correlation may be nil, in which case the
// Correlation check always passes (degraded-open), matching the
// portfolio-risk-capacity check's own fail-safe default documented in
// spec.md §9 Open Question #2.
func New(limits config.RiskLimits, correlation CorrelationSource) *Gate {
	return &Gate{limits: limits, correlation: correlation}
}

// Evaluate sizes the proposal, then runs all seven checks against the
// sized proposal and the supplied snapshot. It performs no I/O beyond
// an optional CorrelationSource lookup and never mutates its inputs.
func (g *Gate) Evaluate(ctx context.Context, proposal types.TradeProposal, snapshot types.PortfolioSnapshot) types.RiskDecision {
	sized := sizing.Size(proposal, snapshot.State.TotalValue, g.limits)

	violations := make([]types.Violation, 0, 7)
	appendIfViolated := func(v *types.Violation) {
		if v != nil {
			violations = append(violations, *v)
		}
	}

	appendIfViolated(checkDrawdown(snapshot, g.limits))
	appendIfViolated(checkDailyLoss(snapshot, g.limits))
	appendIfViolated(checkRiskCapacity(snapshot, sized, g.limits))
	appendIfViolated(checkSinglePosition(snapshot, sized, g.limits))
	appendIfViolated(checkSectorExposure(snapshot, sized, g.limits))
	appendIfViolated(g.checkCorrelation(ctx, snapshot, sized))
	appendIfViolated(checkLeverage(snapshot, sized, g.limits))

	if len(violations) > 0 {
		return types.RiskDecision{Passed: false, Violations: violations}
	}
	return types.RiskDecision{Passed: true, Sized: &sized}
}

// 1. Drawdown: reject any new exposure once current drawdown has
// reached the configured ceiling. This check is the one documented
// exception to the general boundary rule below: reaching the ceiling
// exactly is itself the failure condition, so the comparison is
// inclusive (>=) rather than strict.
func checkDrawdown(snap types.PortfolioSnapshot, limits config.RiskLimits) *types.Violation {
	if snap.State.CurrentDrawdownPct.GreaterThanOrEqual(limits.MaxDrawdownPct) {
		return &types.Violation{
			Check:    types.CheckDrawdown,
			Observed: snap.State.CurrentDrawdownPct,
			Limit:    limits.MaxDrawdownPct,
			Message:  "current drawdown has reached the maximum drawdown limit",
		}
	}
	return nil
}

// 2. Daily loss: reject once today's realized+unrealized PnL (the
// store keeps DailyPnL as TotalValue minus DailyAnchorValue) has
// breached the daily loss limit, expressed as a fraction of the
// day's anchor value. Unlike Drawdown above, this follows the general
// boundary rule (caps violate strictly past the limit, per spec's
// edge-case note): exactly at the limit still passes.
func checkDailyLoss(snap types.PortfolioSnapshot, limits config.RiskLimits) *types.Violation {
	anchor := snap.State.DailyAnchorValue
	if anchor.IsZero() {
		return nil
	}
	lossPct := snap.State.DailyPnL.Neg().Div(anchor)
	if lossPct.GreaterThan(limits.DailyLossLimitPct) {
		return &types.Violation{
			Check:    types.CheckDailyLoss,
			Observed: lossPct,
			Limit:    limits.DailyLossLimitPct,
			Message:  "daily loss has reached the daily loss limit",
		}
	}
	return nil
}

// 3. Risk capacity: the sum of capital at risk (quantity*entry*stop_pct)
// across every open position plus the candidate must not exceed the
// configured fraction of total portfolio value.
func checkRiskCapacity(snap types.PortfolioSnapshot, sized types.SizedProposal, limits config.RiskLimits) *types.Violation {
	if snap.State.TotalValue.IsZero() {
		return &types.Violation{
			Check:    types.CheckRiskCapacity,
			Observed: money.Zero,
			Limit:    limits.MaxPortfolioRiskExposurePct,
			Message:  "total portfolio value is zero, risk capacity undefined",
		}
	}

	totalAtRisk := money.Zero
	for _, p := range snap.OpenPositions {
		totalAtRisk = totalAtRisk.Add(types.AtRisk(p, stopLossPctOf(p)))
	}
	candidateAtRisk := sized.Quantity.Mul(sized.ReferencePrice).Mul(sized.AdvisoryStopLossPct)
	totalAtRisk = totalAtRisk.Add(candidateAtRisk)

	observedPct := totalAtRisk.Div(snap.State.TotalValue)
	if observedPct.GreaterThan(limits.MaxPortfolioRiskExposurePct) {
		return &types.Violation{
			Check:    types.CheckRiskCapacity,
			Observed: observedPct,
			Limit:    limits.MaxPortfolioRiskExposurePct,
			Message:  "aggregate capital at risk exceeds portfolio risk capacity",
		}
	}
	return nil
}

// stopLossPctOf recovers a position's stop-loss distance as a fraction
// of its entry price, for use in the aggregate at-risk sum.
func stopLossPctOf(p types.Position) money.Amount {
	if p.EntryPrice.IsZero() {
		return money.Zero
	}
	diff := p.EntryPrice.Sub(p.StopLossPrice).Abs()
	return diff.Div(p.EntryPrice)
}

// 4. Single position size: the sized proposal's notional must not
// exceed the configured fraction of total portfolio value.
func checkSinglePosition(snap types.PortfolioSnapshot, sized types.SizedProposal, limits config.RiskLimits) *types.Violation {
	if snap.State.TotalValue.IsZero() {
		return nil // already reported by checkRiskCapacity
	}
	pct := sized.PositionValue.Div(snap.State.TotalValue)
	if pct.GreaterThan(limits.MaxSinglePositionPct) {
		return &types.Violation{
			Check:    types.CheckSinglePosition,
			Observed: pct,
			Limit:    limits.MaxSinglePositionPct,
			Message:  "sized position value exceeds the maximum single position fraction",
		}
	}
	return nil
}

// 5. Sector exposure: the candidate's sector, summed across every open
// position in that sector plus the candidate, must not exceed the
// configured fraction of total portfolio value.
func checkSectorExposure(snap types.PortfolioSnapshot, sized types.SizedProposal, limits config.RiskLimits) *types.Violation {
	if snap.State.TotalValue.IsZero() {
		return nil
	}
	sector := limits.SectorOf(sized.Instrument)
	exposure := sized.PositionValue
	for _, p := range snap.OpenPositions {
		if limits.SectorOf(p.Instrument) == sector {
			exposure = exposure.Add(p.Quantity.Mul(p.EntryPrice))
		}
	}
	pct := exposure.Div(snap.State.TotalValue)
	if pct.GreaterThan(limits.MaxSectorExposurePct) {
		return &types.Violation{
			Check:    types.CheckSectorExposure,
			Observed: pct,
			Limit:    limits.MaxSectorExposurePct,
			Message:  "sector exposure for " + sector + " exceeds the maximum sector exposure fraction",
		}
	}
	return nil
}

// 6. Correlation: reject if the candidate instrument's correlation to
// any other currently open instrument exceeds the configured threshold.
// Open positions in the candidate's own instrument are not looked up. A
// lookup failure counts as a correlation equal to the threshold, which
// does not by itself trip the strict comparison.
func (g *Gate) checkCorrelation(ctx context.Context, snap types.PortfolioSnapshot, sized types.SizedProposal) *types.Violation {
	if g.correlation == nil {
		return nil
	}
	worst := money.Zero
	for _, p := range snap.OpenPositions {
		if p.Instrument == sized.Instrument {
			continue
		}
		c, err := g.correlation.Correlation(ctx, sized.Instrument, p.Instrument)
		if err != nil {
			worst = money.Max(worst, g.limits.MaxCorrelationThreshold) // count a failed lookup as the threshold itself
			continue
		}
		if c.Abs().GreaterThan(worst) {
			worst = c.Abs()
		}
	}
	if worst.GreaterThan(g.limits.MaxCorrelationThreshold) {
		return &types.Violation{
			Check:    types.CheckCorrelation,
			Observed: worst,
			Limit:    g.limits.MaxCorrelationThreshold,
			Message:  "candidate instrument is too highly correlated with an open position",
		}
	}
	return nil
}

// 7. Leverage: the aggregate notional of every open position plus the
// candidate, divided by total portfolio value, must not exceed the
// configured leverage ceiling.
func checkLeverage(snap types.PortfolioSnapshot, sized types.SizedProposal, limits config.RiskLimits) *types.Violation {
	if snap.State.TotalValue.IsZero() {
		return nil // already reported by checkRiskCapacity
	}

	totalNotional := sized.PositionValue
	for _, p := range snap.OpenPositions {
		totalNotional = totalNotional.Add(p.Quantity.Mul(p.EntryPrice))
	}

	observedLeverage := totalNotional.Div(snap.State.TotalValue)
	if observedLeverage.GreaterThan(limits.MaxLeverage) {
		return &types.Violation{
			Check:    types.CheckLeverage,
			Observed: observedLeverage,
			Limit:    limits.MaxLeverage,
			Message:  "aggregate notional leverage exceeds the maximum leverage limit",
		}
	}
	return nil
}
