// Package modeorchestrator implements the Mode Orchestrator (C7): gates
// PAPER<->LIVE transitions behind pre-switch validation (the active
// backend must report no open orders; open positions in the portfolio
// store are not checked) and durable audit logging, and refuses to run
// two transitions concurrently.
//
// Grounded on the teacher's risk.Manager circuit-breaker cooldown/state
// transition style (mutex-guarded state with an explicit "busy" path),
// generalized to a binary mode with a mutex TryLock instead of a
// boolean flag so a concurrent change attempt fails fast instead of
// queuing.
package modeorchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/alert"
	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/router"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

// Orchestrator gates execution mode transitions.
type Orchestrator struct {
	router   *router.Router
	durable  *storage.Store
	notifier alert.Notifier

	busy sync.Mutex
}

// New builds a Mode Orchestrator.
func New(rtr *router.Router, durable *storage.Store, notifier alert.Notifier) *Orchestrator {
	return &Orchestrator{router: rtr, durable: durable, notifier: notifier}
}

// RequestChange attempts to switch the active mode. It refuses
// concurrently with another in-flight change (ModeChangeBusy), and
// refuses if the currently active backend reports open orders. The
// incoming backend is not queried, and open positions are not checked.
func (o *Orchestrator) RequestChange(ctx context.Context, target types.ExecutionMode, next execution.Backend, operator string, drainDeadlineSeconds int) error {
	if !o.busy.TryLock() {
		return coreerr.ErrModeBusy
	}
	defer o.busy.Unlock()

	from := o.router.Mode()
	if from == target {
		return nil // already in the requested mode, no-op
	}

	if err := o.validateFlatBook(ctx); err != nil {
		o.audit(from, target, false, err.Error(), operator)
		return err
	}

	if err := o.router.Swap(ctx, next, target, secondsToDuration(drainDeadlineSeconds)); err != nil {
		o.audit(from, target, false, err.Error(), operator)
		return err
	}

	o.audit(from, target, true, "", operator)
	return nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func (o *Orchestrator) validateFlatBook(ctx context.Context) error {
	open, err := o.router.GetOpenOrders(ctx)
	if err != nil {
		return coreerr.Wrap(coreerr.KindModeChangeRejected, "could not verify book is flat before mode change", err)
	}
	if len(open) > 0 {
		return coreerr.New(coreerr.KindModeChangeRejected, "book is not flat: open orders exist on the active backend")
	}
	return nil
}

func (o *Orchestrator) audit(from, to types.ExecutionMode, accepted bool, reason, operator string) {
	if err := o.durable.AppendModeAudit(from, to, accepted, reason, operator); err != nil {
		log.Error().Err(err).Msg("failed to persist mode change audit record")
	}
	if o.notifier != nil {
		o.notifier.NotifyModeChange(string(from), string(to), accepted, reason)
	}
}
