// Package engine implements the Autonomous Engine (C9): three
// independently-paced loops wired together by channels — a decision
// loop that evaluates incoming trade proposals, a monitor loop that
// evaluates open positions for exit conditions, and a snapshot loop
// that periodically persists a full-book snapshot.
//
// Grounded on the teacher's core.Engine.mainLoop (tick-driven decision
// loop) and positionMonitorLoop (ticker-driven exit monitor),
// generalized from two loops into three by splitting snapshot
// persistence out of the monitor loop's cadence, since the spec
// requires a distinct, independently configurable snapshot interval.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/alert"
	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/lifecycle"
	"github.com/web3guy0/execcore/internal/portfolio"
	"github.com/web3guy0/execcore/internal/pricefeed"
	"github.com/web3guy0/execcore/internal/riskgate"
	"github.com/web3guy0/execcore/internal/router"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

// ProposalResult is delivered back to whoever submitted a TradeProposal.
type ProposalResult struct {
	Decision types.RiskDecision
	Receipt  *types.OrderReceipt
	Err      error
}

type proposalJob struct {
	proposal types.TradeProposal
	result   chan ProposalResult
}

// Engine wires the Portfolio Store, Risk Gate, Router, and Lifecycle
// Manager together into the three autonomous loops.
type Engine struct {
	cfg       config.EngineConfig
	store     *portfolio.Store
	gate      *riskgate.Gate
	router    *router.Router
	lifecycle *lifecycle.Manager
	prices    *pricefeed.Cache
	durable   *storage.Store
	notifier  alert.Notifier

	proposals chan proposalJob

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an Engine. Call Start to launch its loops and Stop to
// shut them down cleanly.
func New(
	cfg config.EngineConfig,
	store *portfolio.Store,
	gate *riskgate.Gate,
	rtr *router.Router,
	lc *lifecycle.Manager,
	prices *pricefeed.Cache,
	durable *storage.Store,
	notifier alert.Notifier,
) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		gate:      gate,
		router:    rtr,
		lifecycle: lc,
		prices:    prices,
		durable:   durable,
		notifier:  notifier,
		proposals: make(chan proposalJob, 64),
	}
}

// Start launches the decision, monitor, and snapshot loops.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go e.decisionLoop(ctx)
	go e.monitorLoop(ctx)
	go e.snapshotLoop(ctx)

	log.Info().Msg("autonomous engine started")
}

// Stop signals every loop to exit and waits for them to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	log.Info().Msg("autonomous engine stopped")
}

// Submit hands a trade proposal to the decision loop and blocks until
// it has been evaluated (and, if accepted, executed) or ctx is done.
func (e *Engine) Submit(ctx context.Context, proposal types.TradeProposal) ProposalResult {
	job := proposalJob{proposal: proposal, result: make(chan ProposalResult, 1)}
	select {
	case e.proposals <- job:
	case <-ctx.Done():
		return ProposalResult{Err: coreerr.Wrap(coreerr.KindTimeout, "submit cancelled", ctx.Err())}
	default:
		return ProposalResult{Err: coreerr.ErrOverloaded}
	}

	select {
	case res := <-job.result:
		return res
	case <-ctx.Done():
		return ProposalResult{Err: coreerr.Wrap(coreerr.KindTimeout, "awaiting decision cancelled", ctx.Err())}
	}
}

// decisionLoop evaluates every submitted proposal against the current
// snapshot and, on acceptance, dispatches the order through the Router.
func (e *Engine) decisionLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.proposals:
			e.handleProposal(ctx, job)
		}
	}
}

// EmergencyStop force-closes every open position with EMERGENCY_CLOSE
// and halts the decision loop so no further proposals are accepted.
// Monitoring and snapshotting continue; only new opens are refused
// (via the lifecycle manager's Halted() flag, consulted in
// handleProposal), since halting is meant to stop new risk, not stop
// observing the book that remains.
func (e *Engine) EmergencyStop(ctx context.Context) {
	log.Error().Msg("emergency stop triggered: closing all open positions and halting new opens")
	e.lifecycle.CloseAll(ctx, types.ReasonEmergency)
}

func (e *Engine) handleProposal(ctx context.Context, job proposalJob) {
	if e.lifecycle.Halted() {
		job.result <- ProposalResult{Err: coreerr.ErrHalted}
		return
	}

	snap := e.store.Snapshot()
	decision := e.gate.Evaluate(ctx, job.proposal, snap)

	if err := e.durable.AppendRiskDecision(job.proposal.Instrument, decision); err != nil {
		log.Error().Err(err).Msg("failed to persist risk decision")
	}

	if !decision.Passed {
		job.result <- ProposalResult{Decision: decision}
		return
	}

	sized := decision.Sized
	req := execution.OrderRequest{
		Instrument:     sized.Instrument,
		Side:           sized.Side,
		Quantity:       sized.Quantity,
		ReferencePrice: sized.ReferencePrice,
		ClientOrderID:  sized.ClientOrderID,
	}
	receipt, err := e.router.PlaceOrder(ctx, req)
	if err != nil {
		job.result <- ProposalResult{Decision: decision, Err: err}
		return
	}

	position := types.Position{
		ID:              receipt.BackendOrderID,
		Instrument:      sized.Instrument,
		Side:            sized.Side,
		Quantity:        receipt.FilledQuantity,
		EntryPrice:      receipt.AverageFillPrice,
		EntryValue:      receipt.AverageFillPrice.Mul(receipt.FilledQuantity),
		Leverage:        sized.AdvisoryLeverage,
		StopLossPrice:   sized.StopLossPrice,
		TakeProfitPrice: sized.TakeProfitPrice,
		OpenedAt:        receipt.AcceptedAt,
		Deadline:        receipt.AcceptedAt.Add(e.cfg.Risk.MaxHoldDuration),
		ClientOrderID:   sized.ClientOrderID,
	}
	if err := e.store.OpenPosition(ctx, position); err != nil {
		job.result <- ProposalResult{Decision: decision, Receipt: &receipt, Err: err}
		return
	}

	job.result <- ProposalResult{Decision: decision, Receipt: &receipt}
}

// monitorLoop evaluates every open position's exit conditions on a
// fixed interval, grounded on the teacher's positionMonitorLoop ticker.
// It also watches for a UTC day rollover on every tick: the first tick
// whose current UTC date differs from the portfolio's daily anchor date
// re-anchors daily_pnl/daily_anchor_value, per the daily-loss check's
// UTC-midnight reset rule.
func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Risk.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.rollDailyAnchorIfNeeded(ctx)
			e.lifecycle.EvaluateAll(ctx, e.prices.Snapshot())
			if err := e.store.Revalue(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to revalue portfolio")
			}
		}
	}
}

// rollDailyAnchorIfNeeded fires DailyReset the first time a tick
// observes that the wall-clock UTC date has moved past the portfolio
// state's current daily anchor date.
func (e *Engine) rollDailyAnchorIfNeeded(ctx context.Context) {
	anchor := e.store.Snapshot().State.DailyAnchorAt
	if anchor.UTC().Year() == time.Now().UTC().Year() &&
		anchor.UTC().YearDay() == time.Now().UTC().YearDay() {
		return
	}
	log.Info().Time("previous_anchor", anchor).Msg("UTC day rolled over, resetting daily anchor")
	if err := e.store.DailyReset(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to roll daily anchor")
	}
}

// snapshotLoop periodically persists a full-book snapshot for audit
// and post-hoc reconstruction, independent of the monitor cadence.
func (e *Engine) snapshotLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Risk.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.store.Snapshot()
			if err := e.durable.AppendSnapshot(snap); err != nil {
				log.Warn().Err(err).Msg("failed to persist portfolio snapshot")
			}
		}
	}
}
