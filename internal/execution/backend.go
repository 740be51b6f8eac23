// Package execution implements the Execution Backend capability contract
// (C5): a single interface both the Paper simulator and the Live adapter
// satisfy, so the Router can swap between them without the rest of the
// core knowing which one is live.
//
// Grounded on the teacher's execution.Executor (order lifecycle state
// machine) and exec.Client (HMAC-signed HTTP client), generalized from a
// single CLOB-bound client into a capability-contract pair.
package execution

import (
	"context"
	"strings"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// OrderRequest is what the Router hands to a Backend to open a position.
type OrderRequest struct {
	Instrument    types.Symbol
	Side          types.Side
	Quantity      money.Amount
	ReferencePrice money.Amount
	ClientOrderID string
}

// Backend is the capability contract every execution destination must
// satisfy. Implementations classify every returned error into the
// coreerr taxonomy (InsufficientEquity, BackendRateLimited,
// BackendUnavailable, ExecutionFailed) so the Router and Lifecycle
// Manager can apply retry and circuit-breaking policy uniformly.
type Backend interface {
	// PlaceOrder opens a new position-sized order.
	PlaceOrder(ctx context.Context, req OrderRequest) (types.OrderReceipt, error)

	// ClosePosition closes an existing position by instrument and side.
	ClosePosition(ctx context.Context, req OrderRequest) (types.OrderReceipt, error)

	// GetOpenOrders lists every order the backend believes is still
	// live, used by the Mode Orchestrator's pre-switch validation.
	GetOpenOrders(ctx context.Context) ([]types.OrderRef, error)

	// Name identifies the backend for logging and audit records.
	Name() string
}

// classifyHTTPStatus maps an exchange HTTP status code to the core's
// error taxonomy, matching the teacher's doRequest's >=400 handling but
// distinguishing the cases the Router and Lifecycle Manager must act on
// differently.
func classifyHTTPStatus(status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return coreerr.New(coreerr.KindBackendUnavailable, "authentication rejected: "+body)
	case status == 429:
		return coreerr.New(coreerr.KindBackendRateLimited, body)
	case status == 402 || status == 400 && containsInsufficientFunds(body):
		return coreerr.New(coreerr.KindInsufficientEquity, body)
	case status >= 500:
		return coreerr.New(coreerr.KindBackendUnavailable, body)
	case status >= 400:
		return coreerr.New(coreerr.KindExecutionFailed, body)
	default:
		return nil
	}
}

func containsInsufficientFunds(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "insufficient") || strings.Contains(lower, "not enough balance")
}
