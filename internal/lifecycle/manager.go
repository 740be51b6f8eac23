// Package lifecycle implements the Position Lifecycle Manager (C8):
// evaluates each open position's exit conditions in a fixed order
// (stop-loss, take-profit, deadline), records each position's high/low
// water mark, moving it only in the favorable direction (the stop-loss
// price set at open is never moved; TradeProposal.TrailingStop is not
// read), and escalates to an emergency close after
// repeated close failures.
//
// Grounded on the teacher's risk.TPSLManager.CheckExit (ordered TP/SL/
// max-hold-time checks, trailing stop high-water-mark ratchet),
// generalized from a single shared RWMutex to one stripe lock per
// position so closing one position never blocks evaluating another.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/portfolio"
	"github.com/web3guy0/execcore/internal/router"
	"github.com/web3guy0/execcore/internal/types"
)

// Notifier is the operator-alerting capability the Lifecycle Manager
// escalates to once a position exceeds its close-attempt budget.
type Notifier interface {
	NotifyEmergency(positionID, reason string)
}

// Manager evaluates and acts on every open position's exit conditions.
type Manager struct {
	store            *portfolio.Store
	router           *router.Router
	notifier         Notifier
	maxCloseAttempts int

	// halted is set once any position escalates past its close-attempt
	// budget, or when CloseAll runs with ReasonEmergency. A halted
	// manager refuses new opens (checked by the engine's decision loop
	// via Halted()) but keeps monitoring and closing
	// existing positions — halting stops new risk, not unwinding it.
	halted atomic.Bool

	stripesMu sync.Mutex
	stripes   map[string]*sync.Mutex
}

// New builds a Lifecycle Manager.
func New(store *portfolio.Store, rtr *router.Router, notifier Notifier, maxCloseAttempts int) *Manager {
	return &Manager{
		store:            store,
		router:           rtr,
		notifier:         notifier,
		maxCloseAttempts: maxCloseAttempts,
		stripes:          make(map[string]*sync.Mutex),
	}
}

// Halted reports whether the manager has escalated a position to
// emergency, or run an emergency CloseAll, and is refusing new opens. Monitoring and closing existing
// positions continue regardless.
func (m *Manager) Halted() bool {
	return m.halted.Load()
}

// CloseAll force-closes every open position with the given reason,
// bypassing the normal exit-condition checks. Used by an operator- or
// engine-triggered emergency stop, where every position must be
// unwound immediately rather than waiting for its own stop/target/
// deadline to fire. With ReasonEmergency it also halts the manager, so
// Halted() reports true and new opens are refused from then on.
func (m *Manager) CloseAll(ctx context.Context, reason types.CloseReason) {
	if reason == types.ReasonEmergency {
		m.halted.Store(true)
	}
	snap := m.store.Snapshot()
	var wg sync.WaitGroup
	for _, p := range snap.OpenPositions {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			stripe := m.stripeFor(p.ID)
			stripe.Lock()
			defer stripe.Unlock()
			m.close(ctx, p, reason, p.EntryPrice)
		}()
	}
	wg.Wait()
}

func (m *Manager) stripeFor(positionID string) *sync.Mutex {
	m.stripesMu.Lock()
	defer m.stripesMu.Unlock()
	s, ok := m.stripes[positionID]
	if !ok {
		s = &sync.Mutex{}
		m.stripes[positionID] = s
	}
	return s
}

// EvaluateAll runs one pass over every open position in the current
// snapshot, evaluating and acting on exit conditions. Positions are
// evaluated concurrently (one goroutine per position, bounded by the
// position's own stripe lock) since they are independent of one
// another.
func (m *Manager) EvaluateAll(ctx context.Context, prices map[types.Symbol]money.Amount) {
	snap := m.store.Snapshot()
	var wg sync.WaitGroup
	for _, p := range snap.OpenPositions {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.evaluateOne(ctx, p, prices)
		}()
	}
	wg.Wait()
}

func (m *Manager) evaluateOne(ctx context.Context, p types.Position, prices map[types.Symbol]money.Amount) {
	stripe := m.stripeFor(p.ID)
	stripe.Lock()
	defer stripe.Unlock()

	price, ok := prices[p.Instrument]
	if !ok {
		return // no fresh mark, nothing to evaluate this pass
	}

	if exit, reason := m.checkExit(p, price); exit {
		m.close(ctx, p, reason, price)
		return
	}

	m.ratchetTrailingStop(ctx, p, price)
}

// checkExit evaluates exit conditions in the fixed order: stop-loss,
// take-profit, deadline. Stop-loss is checked first, so a price that
// meets both the stop and the target (possible only when the two levels
// cross) is recorded as stopped out, the more conservative outcome.
func (m *Manager) checkExit(p types.Position, price money.Amount) (bool, types.CloseReason) {
	if p.Side == types.SideLong {
		if price.LessThanOrEqual(p.StopLossPrice) {
			return true, types.ReasonStopLoss
		}
		if price.GreaterThanOrEqual(p.TakeProfitPrice) {
			return true, types.ReasonTarget
		}
	} else {
		if price.GreaterThanOrEqual(p.StopLossPrice) {
			return true, types.ReasonStopLoss
		}
		if price.LessThanOrEqual(p.TakeProfitPrice) {
			return true, types.ReasonTarget
		}
	}

	if !p.Deadline.IsZero() && time.Now().After(p.Deadline) {
		return true, types.ReasonTimeout
	}
	return false, ""
}

// ratchetTrailingStop updates a position's high-water mark if price has
// moved favorably; the mark itself only ever moves in the position's
// favor (a ratchet), never backward. It runs for every open position,
// whatever the proposal's TrailingStop setting, and only records the
// mark: StopLossPrice is left unchanged.
func (m *Manager) ratchetTrailingStop(ctx context.Context, p types.Position, price money.Amount) {
	favorable := (p.Side == types.SideLong && price.GreaterThan(p.HighWaterMark)) ||
		(p.Side == types.SideShort && (p.HighWaterMark.IsZero() || price.LessThan(p.HighWaterMark)))
	if !favorable {
		return
	}
	if err := m.store.UpdateHighWaterMark(ctx, p.ID, price); err != nil {
		log.Warn().Err(err).Str("position_id", p.ID).Msg("failed to update high water mark")
	}
}

func (m *Manager) close(ctx context.Context, p types.Position, reason types.CloseReason, price money.Amount) {
	req := execution.OrderRequest{
		Instrument:     p.Instrument,
		Side:           p.Side,
		Quantity:       p.Quantity,
		ReferencePrice: price,
		ClientOrderID:  p.ClientOrderID,
	}
	receipt, err := m.router.ClosePosition(ctx, req)
	if err != nil {
		if incErr := m.store.IncrementCloseAttempt(ctx, p.ID); incErr != nil {
			log.Error().Err(incErr).Str("position_id", p.ID).Msg("failed to record close attempt")
		}
		if p.CloseAttempts+1 >= m.maxCloseAttempts {
			m.escalate(ctx, p, reason)
		}
		log.Warn().Err(err).Str("position_id", p.ID).Str("reason", string(reason)).Msg("close attempt failed")
		return
	}

	if err := m.store.ClosePosition(ctx, p.ID, reason, receipt.AverageFillPrice, receipt.Fees); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("failed to record closed position")
	}
}

// escalate transitions a position that has exhausted its close-attempt
// budget into an emergency state and alerts the operator; it does not
// itself retry the close, since repeated retries are exactly what
// exhausted the budget.
func (m *Manager) escalate(ctx context.Context, p types.Position, originalReason types.CloseReason) {
	log.Error().Str("position_id", p.ID).Int("attempts", p.CloseAttempts+1).
		Msg("position exceeded max close attempts, escalating to emergency halt")
	m.halted.Store(true)
	if err := m.store.ClosePosition(ctx, p.ID, types.ReasonEmergency, p.EntryPrice, money.Zero); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("failed to record emergency close")
	}
	if m.notifier != nil {
		m.notifier.NotifyEmergency(p.ID, "exceeded max close attempts while handling "+string(originalReason))
	}
}
