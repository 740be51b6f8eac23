// Package portfolio implements the Portfolio State Store (C1): the
// single authoritative owner of monetary state and the open-position
// ledger. All mutation flows through one goroutine processing a
// bounded command channel; every other goroutine reads a lock-free,
// wait-free snapshot via atomic.Pointer.
//
// Grounded on the teacher's risk.Manager (mutex-guarded equity/PnL
// tracking) and storage.Database (persistence on every mutation),
// generalized from a mutex-per-field design into a single-writer actor
// so reads never contend with the writer at all.
package portfolio

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/pricefeed"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

// commandKind enumerates the mutations the writer goroutine accepts.
type commandKind int

const (
	cmdOpenPosition commandKind = iota
	cmdClosePosition
	cmdUpdateHighWaterMark
	cmdIncrementCloseAttempt
	cmdDailyReset
	cmdRevalue
)

type command struct {
	kind   commandKind
	result chan error

	// payload, interpreted per kind
	position    types.Position
	positionID  string
	closeReason types.CloseReason
	exitPrice   money.Amount
	fees        money.Amount
	highWater   money.Amount
}

// queueDepth bounds the command channel; a full queue rejects new
// commands with coreerr.ErrOverloaded rather than blocking the caller
// indefinitely, matching the core's "overloaded" taxonomy entry.
const queueDepth = 256

// Store is the single-writer Portfolio State Store.
type Store struct {
	commands chan command
	snapshot atomic.Pointer[types.PortfolioSnapshot]

	durable *storage.Store
	prices  *pricefeed.Cache

	state     types.PortfolioState
	positions map[string]types.Position
}

// New boots a Store, restoring state from the durable layer when
// present, and starts its single writer goroutine. Run until ctx is
// cancelled.
func New(ctx context.Context, durable *storage.Store, prices *pricefeed.Cache, startingCash money.Amount) (*Store, error) {
	s := &Store{
		commands:  make(chan command, queueDepth),
		durable:   durable,
		prices:    prices,
		positions: make(map[string]types.Position),
	}

	restored, ok, err := durable.LatestState()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "restore portfolio state", err)
	}
	if ok {
		s.state = restored
	} else {
		s.state = types.PortfolioState{
			TotalValue:       startingCash,
			CashBalance:      startingCash,
			PeakValue:        startingCash,
			DailyAnchorValue: startingCash,
			DailyAnchorAt:    time.Now(),
		}
	}

	openPositions, err := durable.OpenPositions()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "restore open positions", err)
	}
	for _, p := range openPositions {
		s.positions[p.ID] = p
	}

	s.publish()
	go s.run(ctx)
	return s, nil
}

// Snapshot returns the latest consistent view. Wait-free: it is a
// single atomic load, contending with nothing.
func (s *Store) Snapshot() types.PortfolioSnapshot {
	return *s.snapshot.Load()
}

func (s *Store) publish() {
	positions := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status.IsTerminal() {
			continue
		}
		positions = append(positions, p)
	}
	snap := types.PortfolioSnapshot{
		State:         s.state,
		OpenPositions: positions,
		Prices:        s.prices.Snapshot(),
		AsOf:          time.Now(),
	}
	s.snapshot.Store(&snap)
}

func (s *Store) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			cmd.result <- s.apply(cmd)
		}
	}
}

func (s *Store) submit(ctx context.Context, cmd command) error {
	cmd.result = make(chan error, 1)
	select {
	case s.commands <- cmd:
	default:
		return coreerr.ErrOverloaded
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return coreerr.Wrap(coreerr.KindTimeout, "portfolio command cancelled", ctx.Err())
	}
}

// OpenPosition records a newly opened position, deducting its entry
// value from cash and adding it to the open book.
func (s *Store) OpenPosition(ctx context.Context, p types.Position) error {
	return s.submit(ctx, command{kind: cmdOpenPosition, position: p})
}

// ClosePosition records a position's terminal transition, releasing its
// entry value back to cash along with realized PnL and fees.
func (s *Store) ClosePosition(ctx context.Context, positionID string, reason types.CloseReason, exitPrice, fees money.Amount) error {
	return s.submit(ctx, command{kind: cmdClosePosition, positionID: positionID, closeReason: reason, exitPrice: exitPrice, fees: fees})
}

// UpdateHighWaterMark ratchets a position's trailing-stop high/low
// water mark. Rejected silently (no-op) if the new mark would not
// improve on the existing one; callers are expected to have already
// computed a monotonic candidate, so this is a defensive re-check.
func (s *Store) UpdateHighWaterMark(ctx context.Context, positionID string, mark money.Amount) error {
	return s.submit(ctx, command{kind: cmdUpdateHighWaterMark, positionID: positionID, highWater: mark})
}

// IncrementCloseAttempt records one more failed attempt to close a
// position, for the Lifecycle Manager's EmergencyHalt escalation.
func (s *Store) IncrementCloseAttempt(ctx context.Context, positionID string) error {
	return s.submit(ctx, command{kind: cmdIncrementCloseAttempt, positionID: positionID})
}

// DailyReset re-anchors the daily PnL baseline to the current total
// value, called once per UTC day boundary by the Autonomous Engine.
func (s *Store) DailyReset(ctx context.Context) error {
	return s.submit(ctx, command{kind: cmdDailyReset})
}

// Revalue recomputes PositionsValue, TotalValue, DailyPnL, and the
// drawdown fields from the current price cache, called by the engine's
// monitor loop on every tick.
func (s *Store) Revalue(ctx context.Context) error {
	return s.submit(ctx, command{kind: cmdRevalue})
}

func (s *Store) apply(cmd command) error {
	var err error
	switch cmd.kind {
	case cmdOpenPosition:
		err = s.applyOpenPosition(cmd.position)
	case cmdClosePosition:
		err = s.applyClosePosition(cmd.positionID, cmd.closeReason, cmd.exitPrice, cmd.fees)
	case cmdUpdateHighWaterMark:
		err = s.applyUpdateHighWaterMark(cmd.positionID, cmd.highWater)
	case cmdIncrementCloseAttempt:
		err = s.applyIncrementCloseAttempt(cmd.positionID)
	case cmdDailyReset:
		err = s.applyDailyReset()
	case cmdRevalue:
		err = s.applyRevalue()
	default:
		err = fmt.Errorf("unknown portfolio command kind %d", cmd.kind)
	}
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

func (s *Store) applyOpenPosition(p types.Position) error {
	p.Status = types.StatusOpen
	s.positions[p.ID] = p
	s.state.CashBalance = s.state.CashBalance.Sub(p.EntryValue)
	s.state.PositionsValue = s.state.PositionsValue.Add(p.EntryValue)

	if err := s.durable.UpsertPosition(p); err != nil {
		return coreerr.Wrap(coreerr.KindBackendUnavailable, "persist opened position", err)
	}
	return s.durable.AppendState(s.state)
}

func (s *Store) applyClosePosition(positionID string, reason types.CloseReason, exitPrice, fees money.Amount) error {
	p, ok := s.positions[positionID]
	if !ok {
		return coreerr.New(coreerr.KindInvariantViolated, "close requested for unknown position "+positionID)
	}
	if p.Status.IsTerminal() {
		log.Warn().Str("position_id", positionID).Msg("close requested for already-terminal position, ignoring")
		return nil
	}

	var pnl money.Amount
	if p.Side == types.SideLong {
		pnl = exitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	} else {
		pnl = p.EntryPrice.Sub(exitPrice).Mul(p.Quantity)
	}
	pnl = pnl.Sub(fees)

	p.Status = types.PositionStatus(reason)
	p.CloseReason = reason
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	p.Fees = p.Fees.Add(fees)
	s.positions[positionID] = p

	s.state.CashBalance = s.state.CashBalance.Add(p.EntryValue).Add(pnl)
	s.state.PositionsValue = s.state.PositionsValue.Sub(p.EntryValue)
	s.state.DailyPnL = s.state.DailyPnL.Add(pnl)
	s.state.TotalPnL = s.state.TotalPnL.Add(pnl)

	if err := s.durable.UpsertPosition(p); err != nil {
		return coreerr.Wrap(coreerr.KindBackendUnavailable, "persist closed position", err)
	}
	return s.recomputeAndPersist()
}

func (s *Store) applyUpdateHighWaterMark(positionID string, mark money.Amount) error {
	p, ok := s.positions[positionID]
	if !ok {
		return coreerr.New(coreerr.KindInvariantViolated, "high-water-mark update for unknown position "+positionID)
	}
	if p.Side == types.SideLong && mark.LessThanOrEqual(p.HighWaterMark) {
		return nil
	}
	if p.Side == types.SideShort && !p.HighWaterMark.IsZero() && mark.GreaterThanOrEqual(p.HighWaterMark) {
		return nil
	}
	p.HighWaterMark = mark
	s.positions[positionID] = p
	return s.durable.UpsertPosition(p)
}

func (s *Store) applyIncrementCloseAttempt(positionID string) error {
	p, ok := s.positions[positionID]
	if !ok {
		return coreerr.New(coreerr.KindInvariantViolated, "close-attempt increment for unknown position "+positionID)
	}
	p.CloseAttempts++
	s.positions[positionID] = p
	return s.durable.UpsertPosition(p)
}

func (s *Store) applyDailyReset() error {
	s.state.DailyPnL = money.Zero
	s.state.DailyAnchorValue = s.state.TotalValue
	s.state.DailyAnchorAt = time.Now()
	return s.durable.AppendState(s.state)
}

func (s *Store) applyRevalue() error {
	return s.recomputeAndPersist()
}

// recomputeAndPersist revalues every open position at the latest cached
// price, updates TotalValue/PeakValue/drawdown and DailyPnL (TotalValue
// minus DailyAnchorValue), and appends a new durable state row. A position whose instrument has no cached price
// is valued at its entry price (conservative: neither gain nor loss is
// invented for a stale or missing mark).
func (s *Store) recomputeAndPersist() error {
	prices := s.prices.Snapshot()

	positionsValue := money.Zero
	for _, p := range s.positions {
		if p.Status.IsTerminal() {
			continue
		}
		mark, ok := prices[p.Instrument]
		if !ok {
			mark = p.EntryPrice
		}
		positionsValue = positionsValue.Add(p.Quantity.Mul(mark))
	}
	s.state.PositionsValue = positionsValue
	s.state.TotalValue = s.state.CashBalance.Add(positionsValue)
	s.state.DailyPnL = s.state.TotalValue.Sub(s.state.DailyAnchorValue)

	if s.state.TotalValue.GreaterThan(s.state.PeakValue) {
		s.state.PeakValue = s.state.TotalValue
	}
	if s.state.PeakValue.IsZero() {
		s.state.CurrentDrawdownPct = money.Zero
	} else {
		s.state.CurrentDrawdownPct = s.state.PeakValue.Sub(s.state.TotalValue).Div(s.state.PeakValue)
		s.state.CurrentDrawdownPct = money.Max(s.state.CurrentDrawdownPct, money.Zero)
	}
	if s.state.CurrentDrawdownPct.GreaterThan(s.state.MaxDrawdownPct) {
		s.state.MaxDrawdownPct = s.state.CurrentDrawdownPct
	}

	return s.durable.AppendState(s.state)
}
