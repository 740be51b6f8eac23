// Package storage persists every durable, append-only record the core
// produces: portfolio state snapshots, the position ledger, and the
// audit trails for mode changes, risk decisions, feature flags, and
// circuit breaker trips.
//
// Grounded on the teacher's storage.Database (connect, migrate,
// persist), but built on gorm.io/gorm rather than raw database/sql +
// lib/pq: gorm (plus its postgres and sqlite drivers) is what the
// teacher's go.mod actually declares, while storage/database.go's own
// use of database/sql + lib/pq is a dependency the teacher never
// wired into go.mod at all.
package storage

import (
	"time"

	"gorm.io/gorm"

	"github.com/web3guy0/execcore/internal/money"
)

// PortfolioStateRow is the append-only ledger of portfolio state. Each
// write is a new row, never an update, so the history of equity over
// time is reconstructable for audit.
type PortfolioStateRow struct {
	gorm.Model
	TotalValue         money.Amount `gorm:"type:numeric"`
	CashBalance        money.Amount `gorm:"type:numeric"`
	PositionsValue     money.Amount `gorm:"type:numeric"`
	PeakValue          money.Amount `gorm:"type:numeric"`
	CurrentDrawdownPct money.Amount `gorm:"type:numeric"`
	MaxDrawdownPct     money.Amount `gorm:"type:numeric"`
	DailyPnL           money.Amount `gorm:"type:numeric"`
	TotalPnL           money.Amount `gorm:"type:numeric"`
	DailyAnchorValue   money.Amount `gorm:"type:numeric"`
	DailyAnchorAt      time.Time
}

// PositionRow is the durable record of one position's full lifecycle,
// updated in place as the position transitions (PENDING -> OPEN ->
// terminal) but never deleted.
type PositionRow struct {
	gorm.Model
	PositionID      string `gorm:"uniqueIndex"`
	Instrument      string
	Side            string
	Quantity        money.Amount `gorm:"type:numeric"`
	EntryPrice      money.Amount `gorm:"type:numeric"`
	EntryValue      money.Amount `gorm:"type:numeric"`
	Leverage        money.Amount `gorm:"type:numeric"`
	StopLossPrice   money.Amount `gorm:"type:numeric"`
	TakeProfitPrice money.Amount `gorm:"type:numeric"`
	OpenedAt        time.Time
	Deadline        time.Time
	Status          string
	CloseReason     string
	ExitPrice       money.Amount `gorm:"type:numeric"`
	RealizedPnL     money.Amount `gorm:"type:numeric"`
	Fees            money.Amount `gorm:"type:numeric"`
	HighWaterMark   money.Amount `gorm:"type:numeric"`
	CloseAttempts   int
	ClientOrderID   string
}

// ModeAuditRow records every attempted mode transition, whether it
// succeeded or was rejected, for operator audit.
type ModeAuditRow struct {
	gorm.Model
	FromMode  string
	ToMode    string
	Accepted  bool
	Reason    string
	Operator  string
	RequestedAt time.Time
}

// RiskDecisionRow records every Risk Gate evaluation, passed or not, so
// rejected proposals are reconstructable after the fact.
type RiskDecisionRow struct {
	gorm.Model
	Instrument     string
	Passed         bool
	ViolationsJSON string // serialized []types.Violation
	SizedJSON      string // serialized *types.SizedProposal, "null" if rejected
	DecidedAt      time.Time
}

// PortfolioSnapshotRow is the periodic full-book snapshot taken by the
// Autonomous Engine's snapshot loop, distinct from PortfolioStateRow in
// that it also carries the open position set and prices used.
type PortfolioSnapshotRow struct {
	gorm.Model
	StateJSON         string
	OpenPositionsJSON string
	PricesJSON        string
	AsOf              time.Time
}

// FlagAuditRow records feature flag changes (Set/Kill/ForceReset).
type FlagAuditRow struct {
	gorm.Model
	FlagName string
	Action   string
	Detail   string
	At       time.Time
}

// BreakerAuditRow records every circuit breaker state transition.
type BreakerAuditRow struct {
	gorm.Model
	BreakerName string
	FromState   string
	ToState     string
	At          time.Time
}

// AllModels lists every model AutoMigrate must create or update.
func AllModels() []any {
	return []any{
		&PortfolioStateRow{},
		&PositionRow{},
		&ModeAuditRow{},
		&RiskDecisionRow{},
		&PortfolioSnapshotRow{},
		&FlagAuditRow{},
		&BreakerAuditRow{},
	}
}
