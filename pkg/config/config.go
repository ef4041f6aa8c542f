// Package config loads engine configuration from .env and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"arbcore/internal/core"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// VenueConfig describes one venue gateway.
type VenueConfig struct {
	Name       string  `mapstructure:"name"`
	Kind       string  `mapstructure:"kind"` // simulated | ws
	StreamURL  string  `mapstructure:"stream_url"`
	StartPrice float64 `mapstructure:"start_price"`
	Step       float64 `mapstructure:"step"`
	SpreadPct  float64 `mapstructure:"spread_pct"`
	MakerFee   float64 `mapstructure:"maker_fee"`
	TakerFee   float64 `mapstructure:"taker_fee"`
	RateLimit  float64 `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst  int     `mapstructure:"rate_burst"`
}

// ArbitrageConfig holds the detection and execution parameters.
type ArbitrageConfig struct {
	Symbol              string        `mapstructure:"symbol"`
	MinSpreadPct        float64       `mapstructure:"min_spread_pct"`
	MaxSpreadPct        float64       `mapstructure:"max_spread_pct"`
	MinVolume           float64       `mapstructure:"min_volume"`
	MaxPositionSize     float64       `mapstructure:"max_position_size"`
	ExecutionTimeout    time.Duration `mapstructure:"execution_timeout"`
	OpportunityTTL      time.Duration `mapstructure:"opportunity_ttl"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	MaxSlippagePct      float64       `mapstructure:"max_slippage_pct"`
	LatencyThreshold    time.Duration `mapstructure:"latency_threshold"`
	MaxConcurrentTrades int           `mapstructure:"max_concurrent_trades"`
	PollTimeout         time.Duration `mapstructure:"poll_timeout"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`
	QuoteStaleAfter     time.Duration `mapstructure:"quote_stale_after"`
}

// RedisConfig configures the optional redis event sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Stream   string `mapstructure:"stream"`
}

// ServerConfig configures the HTTP control plane and metrics endpoint.
type ServerConfig struct {
	APIAddr     string `mapstructure:"api_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

// Config is the root configuration object handed to the engine.
type Config struct {
	Scope          string          `mapstructure:"scope"`
	AccountBalance float64         `mapstructure:"account_balance"`
	Venues         []VenueConfig   `mapstructure:"venues"`
	Arbitrage      ArbitrageConfig `mapstructure:"arbitrage"`
	RiskLimits     core.RiskLimits `mapstructure:"risk_limits"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Server         ServerConfig    `mapstructure:"server"`
	DBPath         string          `mapstructure:"db_path"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Scope:          "arbitrage",
		AccountBalance: 100000.0,
		Venues: []VenueConfig{
			{Name: "alpha", Kind: "simulated", StartPrice: 45000, Step: 30, SpreadPct: 0.02, TakerFee: 0.001},
			{Name: "beta", Kind: "simulated", StartPrice: 45000, Step: 40, SpreadPct: 0.03, TakerFee: 0.001},
		},
		Arbitrage: ArbitrageConfig{
			Symbol:              "BTCUSDT",
			MinSpreadPct:        0.5,
			MaxSpreadPct:        10.0,
			MinVolume:           100.0,
			MaxPositionSize:     1000.0,
			ExecutionTimeout:    30 * time.Second,
			OpportunityTTL:      10 * time.Second,
			MinConfidence:       0.7,
			MaxSlippagePct:      0.2,
			LatencyThreshold:    500 * time.Millisecond,
			MaxConcurrentTrades: 3,
			PollTimeout:         2 * time.Second,
			RefreshInterval:     time.Second,
			ScanInterval:        time.Second,
			MonitorInterval:     5 * time.Second,
			QuoteStaleAfter:     5 * time.Second,
		},
		RiskLimits: core.DefaultRiskLimits("arbitrage"),
		Server: ServerConfig{
			APIAddr:     ":8880",
			MetricsAddr: ":9090",
		},
		DBPath: "arbcore.db",
	}
}

// Load reads .env, then the named config file (yaml), then ARB_* env
// overrides, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if secret := v.GetString("jwt_secret"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if cfg.RiskLimits.Scope == "" {
		cfg.RiskLimits.Scope = cfg.Scope
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration before it can be applied.
func (c Config) Validate() error {
	a := c.Arbitrage
	if a.ExecutionTimeout <= 0 {
		return fmt.Errorf("%w: execution_timeout must be positive", ErrInvalidConfig)
	}
	if a.OpportunityTTL <= 0 {
		return fmt.Errorf("%w: opportunity_ttl must be positive", ErrInvalidConfig)
	}
	if a.MinSpreadPct < 0 || a.MaxSpreadPct <= 0 || a.MinSpreadPct > a.MaxSpreadPct {
		return fmt.Errorf("%w: spread band [%.2f, %.2f]", ErrInvalidConfig, a.MinSpreadPct, a.MaxSpreadPct)
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0,1]", ErrInvalidConfig)
	}
	if a.MaxPositionSize <= 0 {
		return fmt.Errorf("%w: max_position_size must be positive", ErrInvalidConfig)
	}
	if a.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("%w: max_concurrent_trades must be positive", ErrInvalidConfig)
	}
	return ValidateLimits(c.RiskLimits)
}

// ValidateLimits rejects malformed risk limits. Zero means "unset" for the
// optional limits, negative is always invalid.
func ValidateLimits(l core.RiskLimits) error {
	if l.DailyLossLimit < 0 || l.DailyProfitLimit < 0 || l.MaxDrawdownLimit < 0 ||
		l.PositionSizeLimit < 0 || l.VaRLimit < 0 || l.VolatilityThreshold < 0 {
		return fmt.Errorf("%w: risk limits must be non-negative", ErrInvalidConfig)
	}
	if l.MaxOpenPositions < 0 {
		return fmt.Errorf("%w: max_open_positions must be non-negative", ErrInvalidConfig)
	}
	if l.MaxCorrelation < 0 || l.MaxCorrelation > 1 {
		return fmt.Errorf("%w: max_correlation must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}
