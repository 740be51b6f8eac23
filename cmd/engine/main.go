// Command engine boots the execution core as a standalone process:
// loads configuration, opens the durable store, wires every component,
// and runs until an operating-system signal requests shutdown.
//
// Grounded on the teacher's cmd/polybot/main.go bootstrap sequence
// (load config -> open database -> wire components -> run until
// signal), generalized with the exit-code taxonomy the core's error
// handling design requires for supervised restarts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/alert"
	"github.com/web3guy0/execcore/internal/config"
	"github.com/web3guy0/execcore/internal/engine"
	"github.com/web3guy0/execcore/internal/execution"
	"github.com/web3guy0/execcore/internal/lifecycle"
	"github.com/web3guy0/execcore/internal/modeorchestrator"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/portfolio"
	"github.com/web3guy0/execcore/internal/pricefeed"
	"github.com/web3guy0/execcore/internal/riskgate"
	"github.com/web3guy0/execcore/internal/router"
	"github.com/web3guy0/execcore/internal/storage"
	"github.com/web3guy0/execcore/internal/types"
)

// Exit codes for supervised restarts.
const (
	exitClean                = 0
	exitConfigInvalid        = 10
	exitDurableStoreDown     = 20
	exitOperatorTokenMissing = 30
	exitInvariantViolated    = 40
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Checked ahead of config.Load() so a missing operator token gets its
	// own exit code instead of being folded into the generic invalid-config
	// code alongside unrelated validation problems.
	if types.ExecutionMode(os.Getenv("BOOT_MODE")) == types.ModeLive && os.Getenv("OPERATOR_TOKEN") == "" {
		log.Error().Msg("operator token required to boot directly into LIVE mode")
		os.Exit(exitOperatorTokenMissing)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		os.Exit(exitConfigInvalid)
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("mode", string(cfg.BootMode)).Msg("execution core starting")

	durable, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Error().Err(err).Msg("durable store unavailable")
		os.Exit(exitDurableStoreDown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices := pricefeed.New(cfg.Risk.MaxPriceAge)

	store, err := portfolio.New(ctx, durable, prices, money.MustNew("0"))
	if err != nil {
		log.Error().Err(err).Msg("failed to restore portfolio state")
		os.Exit(exitDurableStoreDown)
	}

	gate := riskgate.New(cfg.Risk, nil)

	var initial execution.Backend
	if cfg.BootMode == types.ModeLive {
		initial = execution.NewLiveBackend(cfg.ExchangeBaseURL, cfg.ExchangeWSURL, cfg.ExchangeAPIKey, cfg.ExchangeAPISecret)
	} else {
		initial = execution.NewPaperBackend(cfg.PaperSlippageBps)
	}
	rtr := router.New(initial, cfg.BootMode)

	var notifier alert.Notifier = alert.NoOp{}
	if cfg.TelegramToken != "" {
		tg, err := alert.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize telegram alerting, continuing without it")
		} else {
			notifier = tg
		}
	}

	lc := lifecycle.New(store, rtr, notifier, cfg.Risk.MaxCloseAttempts)
	orchestrator := modeorchestrator.New(rtr, durable, notifier)
	_ = orchestrator // exposed to an operator control surface outside this core's scope

	eng := engine.New(*cfg, store, gate, rtr, lc, prices, durable, notifier)
	eng.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	eng.Stop()
	cancel()

	os.Exit(exitClean)
}
