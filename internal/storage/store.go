package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/types"
)

// Store is the durable persistence layer backing the Portfolio State
// Store. Every table is append-only except the position rows, which
// UpsertPosition updates in place. It never enforces business rules: it
// only records what the portfolio actor tells it to record.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured driver and runs AutoMigrate,
// mirroring the teacher's NewDatabase+migrate sequence.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, coreerr.New(coreerr.KindConfiguration, fmt.Sprintf("unsupported database driver %q", driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "open durable store", err)
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "migrate durable store", err)
	}

	log.Info().Str("driver", driver).Msg("durable store connected")
	return &Store{db: db}, nil
}

// AppendState writes a new portfolio state row.
func (s *Store) AppendState(state types.PortfolioState) error {
	row := PortfolioStateRow{
		TotalValue:         state.TotalValue,
		CashBalance:        state.CashBalance,
		PositionsValue:     state.PositionsValue,
		PeakValue:          state.PeakValue,
		CurrentDrawdownPct: state.CurrentDrawdownPct,
		MaxDrawdownPct:     state.MaxDrawdownPct,
		DailyPnL:           state.DailyPnL,
		TotalPnL:           state.TotalPnL,
		DailyAnchorValue:   state.DailyAnchorValue,
		DailyAnchorAt:      state.DailyAnchorAt,
	}
	return s.db.Create(&row).Error
}

// LatestState returns the most recently appended portfolio state, or
// ok=false if the store is empty (a fresh boot).
func (s *Store) LatestState() (types.PortfolioState, bool, error) {
	var row PortfolioStateRow
	err := s.db.Order("id desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.PortfolioState{}, false, nil
	}
	if err != nil {
		return types.PortfolioState{}, false, err
	}
	return types.PortfolioState{
		TotalValue:         row.TotalValue,
		CashBalance:        row.CashBalance,
		PositionsValue:     row.PositionsValue,
		PeakValue:          row.PeakValue,
		CurrentDrawdownPct: row.CurrentDrawdownPct,
		MaxDrawdownPct:     row.MaxDrawdownPct,
		DailyPnL:           row.DailyPnL,
		TotalPnL:           row.TotalPnL,
		DailyAnchorValue:   row.DailyAnchorValue,
		DailyAnchorAt:      row.DailyAnchorAt,
	}, true, nil
}

// UpsertPosition creates a new position row or updates the existing
// row for the same PositionID in place.
func (s *Store) UpsertPosition(p types.Position) error {
	row := positionToRow(p)
	var existing PositionRow
	err := s.db.Where("position_id = ?", p.ID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.ID = existing.ID
	return s.db.Save(&row).Error
}

// OpenPositions returns every position whose status has not reached a
// terminal state.
func (s *Store) OpenPositions() ([]types.Position, error) {
	var rows []PositionRow
	terminal := []string{
		string(types.StatusClosedByTarget), string(types.StatusStoppedOut),
		string(types.StatusTimedOut), string(types.StatusManualClose),
		string(types.StatusEmergencyClose),
	}
	if err := s.db.Where("status NOT IN ?", terminal).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToPosition(r))
	}
	return out, nil
}

func positionToRow(p types.Position) PositionRow {
	return PositionRow{
		PositionID:      p.ID,
		Instrument:      string(p.Instrument),
		Side:            string(p.Side),
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		EntryValue:      p.EntryValue,
		Leverage:        p.Leverage,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		OpenedAt:        p.OpenedAt,
		Deadline:        p.Deadline,
		Status:          string(p.Status),
		CloseReason:     string(p.CloseReason),
		ExitPrice:       p.ExitPrice,
		RealizedPnL:     p.RealizedPnL,
		Fees:            p.Fees,
		HighWaterMark:   p.HighWaterMark,
		CloseAttempts:   p.CloseAttempts,
		ClientOrderID:   p.ClientOrderID,
	}
}

func rowToPosition(r PositionRow) types.Position {
	return types.Position{
		ID:              r.PositionID,
		Instrument:      types.Symbol(r.Instrument),
		Side:            types.Side(r.Side),
		Quantity:        r.Quantity,
		EntryPrice:      r.EntryPrice,
		EntryValue:      r.EntryValue,
		Leverage:        r.Leverage,
		StopLossPrice:   r.StopLossPrice,
		TakeProfitPrice: r.TakeProfitPrice,
		OpenedAt:        r.OpenedAt,
		Deadline:        r.Deadline,
		Status:          types.PositionStatus(r.Status),
		CloseReason:     types.CloseReason(r.CloseReason),
		ExitPrice:       r.ExitPrice,
		RealizedPnL:     r.RealizedPnL,
		Fees:            r.Fees,
		HighWaterMark:   r.HighWaterMark,
		CloseAttempts:   r.CloseAttempts,
		ClientOrderID:   r.ClientOrderID,
	}
}

// AppendModeAudit records one mode-change attempt.
func (s *Store) AppendModeAudit(from, to types.ExecutionMode, accepted bool, reason, operator string) error {
	return s.db.Create(&ModeAuditRow{
		FromMode: string(from), ToMode: string(to),
		Accepted: accepted, Reason: reason, Operator: operator,
		RequestedAt: time.Now(),
	}).Error
}

// AppendRiskDecision records one Risk Gate evaluation.
func (s *Store) AppendRiskDecision(instrument types.Symbol, decision types.RiskDecision) error {
	violations, err := json.Marshal(decision.Violations)
	if err != nil {
		return err
	}
	sized, err := json.Marshal(decision.Sized)
	if err != nil {
		return err
	}
	return s.db.Create(&RiskDecisionRow{
		Instrument: string(instrument), Passed: decision.Passed,
		ViolationsJSON: string(violations), SizedJSON: string(sized),
		DecidedAt: time.Now(),
	}).Error
}

// AppendSnapshot records one full-book snapshot from the Autonomous
// Engine's snapshot loop.
func (s *Store) AppendSnapshot(snap types.PortfolioSnapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(snap.OpenPositions)
	if err != nil {
		return err
	}
	prices, err := json.Marshal(snap.Prices)
	if err != nil {
		return err
	}
	return s.db.Create(&PortfolioSnapshotRow{
		StateJSON: string(state), OpenPositionsJSON: string(positions),
		PricesJSON: string(prices), AsOf: snap.AsOf,
	}).Error
}

// AppendFlagAudit records a feature flag administrative action.
func (s *Store) AppendFlagAudit(flagName, action, detail string) error {
	return s.db.Create(&FlagAuditRow{FlagName: flagName, Action: action, Detail: detail, At: time.Now()}).Error
}

// AppendBreakerAudit records a circuit breaker state transition.
func (s *Store) AppendBreakerAudit(breakerName string, from, to string) error {
	return s.db.Create(&BreakerAuditRow{BreakerName: breakerName, FromState: from, ToState: to, At: time.Now()}).Error
}
