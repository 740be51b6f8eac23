package modeorchestrator

import (
	"context"
	"testing"

	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/router"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *router.Router) {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rtr := router.New(execution.NewPaperBackend(10), types.ModePaper)
	return New(rtr, db, nil), rtr
}

func TestRequestChangeSwitchesMode(t *testing.T) {
	orch, rtr := newTestOrchestrator(t)
	err := orch.RequestChange(context.Background(), types.ModeLive, execution.NewPaperBackend(5), "operator", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rtr.Mode() != types.ModeLive {
		t.Fatalf("expected mode LIVE, got %s", rtr.Mode())
	}
}

func TestRequestChangeNoOpWhenAlreadyInTargetMode(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	err := orch.RequestChange(context.Background(), types.ModePaper, execution.NewPaperBackend(5), "operator", 1)
	if err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}
