// Package kernel assembles every other package in this module into one
// running process: clock, bus, cache, data/execution/risk engines,
// portfolio, venue adapters, and strategies, per spec §4.11 and §9's
// "a process owns exactly one logical clock and one message bus"
// single-instance rule. It generalizes the teacher's
// internal/engine.Engine (one hardcoded Polymarket market-maker
// orchestrator) into a venue-agnostic kernel that can host any number
// of strategies against any venue adapter satisfying
// execution.Client/data.HistoricalProvider.
package kernel

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level kernel configuration, generalizing the
// teacher's config.Config from one wallet/one venue/one strategy into
// one typed account, a single venue connection (spec.md scopes "one
// reference venue adapter"), and one strategy configuration that every
// discovered instrument's Maker is seeded with.
type Config struct {
	Environment   string             `mapstructure:"environment"` // "backtest" or "live"
	TraderID      string             `mapstructure:"trader_id"`
	DryRun        bool               `mapstructure:"dry_run"`
	Account       AccountConfig      `mapstructure:"account"`
	Venue         VenueConfig        `mapstructure:"venue"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Discovery     DiscoveryConfig    `mapstructure:"discovery"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Catalog       CatalogConfig      `mapstructure:"catalog"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AccountConfig describes the single trading account this kernel
// instance owns, generalizing the teacher's implicit single-wallet
// assumption into an explicit account type per spec §3.8.
type AccountConfig struct {
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"` // CASH, MARGIN, BETTING
	OMS  string `mapstructure:"oms"`  // NETTING, HEDGING
}

// VenueConfig holds connection details for the single reference venue
// adapter spec.md §6 calls for, generalizing the teacher's
// WalletConfig+APIConfig pair (Polymarket-specific signing fields)
// into a pluggable HMAC-keyed REST+WS venue.
type VenueConfig struct {
	Name         string        `mapstructure:"name"`
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	WSMarketURL  string        `mapstructure:"ws_market_url"`
	WSUserURL    string        `mapstructure:"ws_user_url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	APIPassphrase string       `mapstructure:"api_passphrase"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
	OrderBurst   float64       `mapstructure:"order_burst"`
	OrderRate    float64       `mapstructure:"order_rate"`
	CancelBurst  float64       `mapstructure:"cancel_burst"`
	CancelRate   float64       `mapstructure:"cancel_rate"`
	QueryBurst   float64       `mapstructure:"query_burst"`
	QueryRate    float64       `mapstructure:"query_rate"`
}

// RiskConfig mirrors internal/risk.Config, kept as a separate
// mapstructure-tagged type so kernel's YAML schema doesn't leak
// internal/risk's Go-native field names.
type RiskConfig struct {
	MaxPositionPerInstrument float64       `mapstructure:"max_position_per_instrument"`
	MaxGlobalExposure        float64       `mapstructure:"max_global_exposure"`
	MaxInstrumentsActive     int           `mapstructure:"max_instruments_active"`
	KillSwitchDropPct        float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec      int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss             float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill        time.Duration `mapstructure:"cooldown_after_kill"`
	ReconciliationInterval   time.Duration `mapstructure:"reconciliation_interval"`
}

// StrategyConfig tunes the reference Avellaneda-Stoikov maker every
// discovered instrument is seeded with, mirroring the teacher's
// config.StrategyConfig one-for-one (same field names, same formula)
// per DESIGN.md's "keep the reservation-price/optimal-spread formulas
// ... unchanged" decision.
type StrategyConfig struct {
	Gamma            float64       `mapstructure:"gamma"`
	Sigma            float64       `mapstructure:"sigma"`
	K                float64       `mapstructure:"k"`
	T                float64       `mapstructure:"t"`
	DefaultSpreadBps int           `mapstructure:"default_spread_bps"`
	OrderSizeUSD     float64       `mapstructure:"order_size_usd"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`

	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// DiscoveryConfig mirrors internal/adapters.DiscoveryConfig in
// mapstructure form.
type DiscoveryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MinSpread      float64       `mapstructure:"min_spread"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	MaxResults     int           `mapstructure:"max_results"`
	IncludeSymbols []string      `mapstructure:"include_symbols"`
	ExcludeSymbols []string      `mapstructure:"exclude_symbols"`
}

// CacheConfig selects and configures the durable cache.Backend,
// generalizing the teacher's StoreConfig.DataDir into a choice of
// backend implementation per DESIGN.md's internal/cache section.
type CacheConfig struct {
	Backend string `mapstructure:"backend"` // "memory", "file", "badger"
	Dir     string `mapstructure:"dir"`
}

// CatalogConfig configures the optional Postgres historical bar store.
// Empty DSN disables the catalog and leaves the venue's REST client as
// the sole data.HistoricalProvider.
type CatalogConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig mirrors the teacher's DashboardConfig, renamed
// to match internal/observability's wider scope (dashboard + metrics).
type ObservabilityConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with NAUTILUS_* environment
// overrides, generalizing the teacher's config.Load (POLY_* prefix) to
// the renamed platform.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NAUTILUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("kernel: read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("kernel: unmarshal config: %w", err)
	}

	if key := os.Getenv("NAUTILUS_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("NAUTILUS_API_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}
	if pass := os.Getenv("NAUTILUS_API_PASSPHRASE"); pass != "" {
		cfg.Venue.APIPassphrase = pass
	}
	if os.Getenv("NAUTILUS_DRY_RUN") == "true" || os.Getenv("NAUTILUS_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges, mirroring the
// teacher's config.Config.Validate shape.
func (c *Config) Validate() error {
	if c.TraderID == "" {
		return fmt.Errorf("trader_id is required")
	}
	if c.Environment != "backtest" && c.Environment != "live" {
		return fmt.Errorf("environment must be \"backtest\" or \"live\"")
	}
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	switch c.Account.Type {
	case "CASH", "MARGIN", "BETTING":
	default:
		return fmt.Errorf("account.type must be one of CASH, MARGIN, BETTING")
	}
	switch c.Account.OMS {
	case "NETTING", "HEDGING":
	default:
		return fmt.Errorf("account.oms must be one of NETTING, HEDGING")
	}
	if c.Environment == "live" && c.Venue.RESTBaseURL == "" {
		return fmt.Errorf("venue.rest_base_url is required in live environment")
	}
	if c.Strategy.Gamma <= 0 {
		return fmt.Errorf("strategy.gamma must be > 0")
	}
	if c.Strategy.OrderSizeUSD <= 0 {
		return fmt.Errorf("strategy.order_size_usd must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Risk.MaxInstrumentsActive <= 0 {
		return fmt.Errorf("risk.max_instruments_active must be > 0")
	}
	return nil
}
