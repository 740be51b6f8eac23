// Package config loads the execution core's configuration from the
// environment, grounded on the teacher's internal/config.Load()
// getEnv*-helper pattern and generalized to the money.Amount type so
// every limit in RiskLimits is an exact decimal, never a float64.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// RiskLimits is the configuration surface from spec.md §6.
type RiskLimits struct {
	MaxDrawdownPct              money.Amount
	DailyLossLimitPct           money.Amount
	MaxSinglePositionPct        money.Amount
	MaxSectorExposurePct        money.Amount
	MaxCorrelationThreshold     money.Amount
	MaxLeverage                 money.Amount
	MaxPortfolioRiskExposurePct money.Amount
	MinPositionSizePct          money.Amount
	FractionalKellyCoeff        money.Amount
	VolTarget                   money.Amount
	VolFloor                    money.Amount
	MaxHoldDuration             time.Duration
	MonitorInterval             time.Duration
	SnapshotInterval            time.Duration
	MaxPriceAge                 time.Duration
	MaxCloseAttempts            int

	// SectorTaxonomy resolves an instrument to its sector for the
	// Sector Exposure check (§4.3 item 5 / Open Question #3). Unmapped
	// instruments default to "CRYPTO".
	SectorTaxonomy map[types.Symbol]string
}

// DefaultSector is used for any instrument absent from SectorTaxonomy,
// matching the source's single-sector assumption.
const DefaultSector = "CRYPTO"

// SectorOf looks up an instrument's sector, falling back to DefaultSector.
func (r RiskLimits) SectorOf(sym types.Symbol) string {
	if s, ok := r.SectorTaxonomy[sym]; ok {
		return s
	}
	return DefaultSector
}

// EngineConfig wraps RiskLimits with the remaining boot-time settings:
// durable store DSN, live-exchange credentials, operator alert
// settings, and the operator confirmation token required to enter
// LIVE mode.
type EngineConfig struct {
	Risk RiskLimits

	// Storage (gorm): Postgres in production, sqlite for local/dev and
	// tests, matching the teacher's dual driver dependency.
	DatabaseDriver string // "postgres" | "sqlite"
	DatabaseDSN    string

	// Live exchange adapter.
	ExchangeBaseURL   string
	ExchangeWSURL     string
	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeDryRun    bool
	LiveSlippageBps   int
	PaperSlippageBps  int

	// Operator control.
	OperatorToken string
	BootMode      types.ExecutionMode

	// Operator alerting (Telegram), ambient concern.
	TelegramToken  string
	TelegramChatID int64

	Debug bool
}

// Load reads configuration from the environment (optionally seeded by
// a .env file), mirroring the teacher's boot sequence: attempt
// godotenv.Load(), fall back to process environment silently.
func Load() (*EngineConfig, error) {
	_ = godotenv.Load() // best effort; absence of .env is not fatal

	cfg := &EngineConfig{
		Risk: RiskLimits{
			MaxDrawdownPct:              getEnvAmount("MAX_DRAWDOWN_PCT", money.MustNew("0.15")),
			DailyLossLimitPct:           getEnvAmount("DAILY_LOSS_LIMIT_PCT", money.MustNew("0.05")),
			MaxSinglePositionPct:        getEnvAmount("MAX_SINGLE_POSITION_PCT", money.MustNew("0.25")),
			MaxSectorExposurePct:        getEnvAmount("MAX_SECTOR_EXPOSURE_PCT", money.MustNew("0.50")),
			MaxCorrelationThreshold:     getEnvAmount("MAX_CORRELATION_THRESHOLD", money.MustNew("0.70")),
			MaxLeverage:                 getEnvAmount("MAX_LEVERAGE", money.MustNew("3")),
			MaxPortfolioRiskExposurePct: getEnvAmount("MAX_PORTFOLIO_RISK_EXPOSURE_PCT", money.MustNew("0.15")),
			MinPositionSizePct:          getEnvAmount("MIN_POSITION_SIZE_PCT", money.MustNew("0.005")),
			FractionalKellyCoeff:        getEnvAmount("FRACTIONAL_KELLY_COEFF", money.MustNew("0.25")),
			VolTarget:                   getEnvAmount("VOL_TARGET", money.MustNew("0.10")),
			VolFloor:                    getEnvAmount("VOL_FLOOR", money.MustNew("0.05")),
			MaxHoldDuration:             getEnvDuration("MAX_HOLD_DURATION", 72*time.Hour),
			MonitorInterval:             getEnvDuration("MONITOR_INTERVAL", 1*time.Second),
			SnapshotInterval:            getEnvDuration("SNAPSHOT_INTERVAL", 60*time.Second),
			MaxPriceAge:                 getEnvDuration("MAX_PRICE_AGE", 60*time.Second),
			MaxCloseAttempts:            getEnvInt("MAX_CLOSE_ATTEMPTS", 5),
			SectorTaxonomy:              parseSectorTaxonomy(os.Getenv("SECTOR_TAXONOMY")),
		},

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "execcore.db"),

		ExchangeBaseURL:   getEnv("EXCHANGE_BASE_URL", ""),
		ExchangeWSURL:     getEnv("EXCHANGE_WS_URL", ""),
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
		ExchangeDryRun:    getEnvBool("EXCHANGE_DRY_RUN", true),
		LiveSlippageBps:   getEnvInt("LIVE_SLIPPAGE_BPS", 5),
		PaperSlippageBps:  getEnvInt("PAPER_SLIPPAGE_BPS", 10),

		OperatorToken: os.Getenv("OPERATOR_TOKEN"),
		BootMode:      types.ExecutionMode(getEnv("BOOT_MODE", string(types.ModePaper))),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

		Debug: getEnvBool("DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate aggregates every invalid/missing field instead of failing on
// the first, matching the Risk Gate's own "report every violation"
// design so a bad boot configuration is diagnosed in one shot.
func (c *EngineConfig) Validate() error {
	var problems []string

	r := c.Risk
	checkPct := func(name string, v money.Amount) {
		if v.LessThan(money.Zero) || v.GreaterThan(money.FromInt(1)) {
			problems = append(problems, fmt.Sprintf("%s must be in [0,1], got %s", name, v))
		}
	}
	checkPct("MAX_DRAWDOWN_PCT", r.MaxDrawdownPct)
	checkPct("DAILY_LOSS_LIMIT_PCT", r.DailyLossLimitPct)
	checkPct("MAX_SINGLE_POSITION_PCT", r.MaxSinglePositionPct)
	checkPct("MAX_SECTOR_EXPOSURE_PCT", r.MaxSectorExposurePct)
	checkPct("MAX_CORRELATION_THRESHOLD", r.MaxCorrelationThreshold)
	checkPct("MAX_PORTFOLIO_RISK_EXPOSURE_PCT", r.MaxPortfolioRiskExposurePct)
	checkPct("MIN_POSITION_SIZE_PCT", r.MinPositionSizePct)
	checkPct("FRACTIONAL_KELLY_COEFF", r.FractionalKellyCoeff)

	if r.MaxLeverage.LessThan(money.FromInt(1)) {
		problems = append(problems, fmt.Sprintf("MAX_LEVERAGE must be >= 1, got %s", r.MaxLeverage))
	}
	if r.MaxCloseAttempts <= 0 {
		problems = append(problems, "MAX_CLOSE_ATTEMPTS must be positive")
	}
	if r.MaxHoldDuration <= 0 {
		problems = append(problems, "MAX_HOLD_DURATION must be positive")
	}

	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}

	if c.BootMode == types.ModeLive && c.OperatorToken == "" {
		problems = append(problems, "OPERATOR_TOKEN is required to boot directly into LIVE mode")
	}
	if c.BootMode != types.ModePaper && c.BootMode != types.ModeLive {
		problems = append(problems, fmt.Sprintf("BOOT_MODE must be PAPER or LIVE, got %q", c.BootMode))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("configuration invalid: %s", strings.Join(problems, "; "))
}

func parseSectorTaxonomy(raw string) map[types.Symbol]string {
	taxonomy := make(map[types.Symbol]string)
	if raw == "" {
		return taxonomy
	}
	// Format: "BTCZAR=MAJOR,ETHZAR=MAJOR,SOLZAR=ALT"
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		taxonomy[types.Symbol(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return taxonomy
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAmount(key string, fallback money.Amount) money.Amount {
	if v := os.Getenv(key); v != "" {
		if a, err := money.New(v); err == nil {
			return a
		}
	}
	return fallback
}
