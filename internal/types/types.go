// Package types holds the domain types shared across every component of
// the execution core. They live in their own package, mirroring the
// teacher's types package, so risk, sizing, execution, and lifecycle
// can all depend on them without import cycles.
package types

import (
	"time"

	"github.com/web3guy0/execcore/internal/money"
)

// Symbol is an immutable instrument identifier, e.g. "BTCZAR".
type Symbol string

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) IsValid() bool { return s == SideLong || s == SideShort }

// PositionStatus is the lifecycle state of a Position. Terminal states
// are everything after OPEN; once set, no further transitions occur.
type PositionStatus string

const (
	StatusPending          PositionStatus = "PENDING"
	StatusOpen             PositionStatus = "OPEN"
	StatusClosedByTarget   PositionStatus = "CLOSED_BY_TARGET"
	StatusStoppedOut       PositionStatus = "STOPPED_OUT"
	StatusTimedOut         PositionStatus = "TIMED_OUT"
	StatusManualClose      PositionStatus = "MANUAL_CLOSE"
	StatusEmergencyClose   PositionStatus = "EMERGENCY_CLOSE"
)

// IsTerminal reports whether no further transitions may occur.
func (s PositionStatus) IsTerminal() bool {
	switch s {
	case StatusClosedByTarget, StatusStoppedOut, StatusTimedOut, StatusManualClose, StatusEmergencyClose:
		return true
	default:
		return false
	}
}

// CloseReason mirrors the terminal PositionStatus values; kept as a
// distinct type so callers of Close() pass an explicit reason rather
// than any PositionStatus (PENDING/OPEN are not valid reasons).
type CloseReason string

const (
	ReasonTarget    CloseReason = CloseReason(StatusClosedByTarget)
	ReasonStopLoss  CloseReason = CloseReason(StatusStoppedOut)
	ReasonTimeout   CloseReason = CloseReason(StatusTimedOut)
	ReasonManual    CloseReason = CloseReason(StatusManualClose)
	ReasonEmergency CloseReason = CloseReason(StatusEmergencyClose)
)

// ExecutionMode selects which Execution Backend the Router dispatches
// to. TRANSITIONING is a momentary state the Router reports only while
// a swap is in progress.
type ExecutionMode string

const (
	ModePaper         ExecutionMode = "PAPER"
	ModeLive          ExecutionMode = "LIVE"
	ModeTransitioning ExecutionMode = "TRANSITIONING"
)

// TrailingConfig describes a ratchet-only trailing stop for one
// proposal; nil means off. It is carried on TradeProposal (and so on
// SizedProposal) but neither the sizer nor the lifecycle manager reads
// it: a position's StopLossPrice does not move after open.
type TrailingConfig struct {
	StartPct    money.Amount // start trailing after this much favorable move
	DistancePct money.Amount // trail this far behind the high/low water mark
}

// TradeProposal is the external input to the Risk Gate.
type TradeProposal struct {
	Instrument               Symbol
	Side                     Side
	ReferencePrice           money.Amount
	AdvisorySizePct          money.Amount
	AdvisoryLeverage         money.Amount
	AdvisoryStopLossPct      money.Amount
	AdvisoryTakeProfitPct    money.Amount
	Confidence               money.Amount // [0,1]
	VolatilityForecastAnnual money.Amount
	Rationale                string
	TrailingStop             *TrailingConfig
	ClientOrderID            string
}

// SizedProposal is the output of the Position Sizer: a TradeProposal
// plus every derived field, kept for auditability.
type SizedProposal struct {
	TradeProposal
	KellyFraction     money.Amount
	FractionalKelly   money.Amount
	VolatilityScalar  money.Amount
	RawPositionValue  money.Amount
	PositionValue     money.Amount
	Quantity          money.Amount
	StopLossPrice     money.Amount
	TakeProfitPrice   money.Amount
}

// CheckID names one of the seven Risk Gate checks, in their fixed
// evaluation order.
type CheckID string

const (
	CheckDrawdown       CheckID = "DRAWDOWN"
	CheckDailyLoss      CheckID = "DAILY_LOSS"
	CheckRiskCapacity   CheckID = "RISK_CAPACITY"
	CheckSinglePosition CheckID = "SINGLE_POSITION_SIZE"
	CheckSectorExposure CheckID = "SECTOR_EXPOSURE"
	CheckCorrelation    CheckID = "CORRELATION"
	CheckLeverage       CheckID = "LEVERAGE"
)

// Violation records one failing check with enough context to explain
// the rejection to an operator or an upstream caller.
type Violation struct {
	Check    CheckID
	Observed money.Amount
	Limit    money.Amount
	Message  string
}

// RiskDecision is the Risk Gate's output: either every check passed
// and Sized is populated, or one or more Violations are reported in
// the fixed check order.
type RiskDecision struct {
	Passed     bool
	Violations []Violation
	Sized      *SizedProposal
}

// Position is the durable record of one trade's lifecycle.
type Position struct {
	ID              string
	Instrument      Symbol
	Side            Side
	Quantity        money.Amount
	EntryPrice      money.Amount
	EntryValue      money.Amount
	Leverage        money.Amount
	StopLossPrice   money.Amount
	TakeProfitPrice money.Amount
	OpenedAt        time.Time
	Deadline        time.Time
	Status          PositionStatus
	CloseReason     CloseReason
	ExitPrice       money.Amount
	RealizedPnL     money.Amount
	Fees            money.Amount
	HighWaterMark   money.Amount // for ratchet-only trailing stops
	CloseAttempts   int
	ClientOrderID   string
}

// PortfolioState is the singleton authoritative monetary state owned
// exclusively by the Portfolio State Store.
type PortfolioState struct {
	TotalValue        money.Amount
	CashBalance       money.Amount
	PositionsValue    money.Amount
	PeakValue         money.Amount
	CurrentDrawdownPct money.Amount
	MaxDrawdownPct    money.Amount
	DailyPnL          money.Amount
	TotalPnL          money.Amount
	DailyAnchorValue  money.Amount
	DailyAnchorAt     time.Time
}

// PortfolioSnapshot is a consistent, immutable view of state and open
// positions at one instant, plus the prices used to value them.
type PortfolioSnapshot struct {
	State         PortfolioState
	OpenPositions []Position
	Prices        map[Symbol]money.Amount
	AsOf          time.Time
}

// AtRisk returns quantity*entry_price*stop_loss_pct for an open
// position, the unit the Risk Capacity check sums across the book.
func AtRisk(p Position, stopLossPct money.Amount) money.Amount {
	return p.Quantity.Mul(p.EntryPrice).Mul(stopLossPct)
}

// OrderReceipt is returned by a successful Execution Backend order
// placement.
type OrderReceipt struct {
	BackendOrderID   string
	FilledQuantity   money.Amount
	AverageFillPrice money.Amount
	Fees             money.Amount
	AcceptedAt       time.Time
	SettledAt        time.Time
}

// OrderRef identifies an open order on the backend, used by
// get_open_orders for mode-switch pre-validation.
type OrderRef struct {
	BackendOrderID string
	Instrument     Symbol
	Side           Side
	Quantity       money.Amount
}
