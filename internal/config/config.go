// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	App        AppConfig        `toml:"app"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Sizing     SizingConfig     `toml:"sizing"`
	Detector   DetectorConfig   `toml:"detector"`
	Execution  ExecutionConfig  `toml:"execution"`
	Inference  InferenceConfig  `toml:"inference"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Wallet     WalletConfig     `toml:"wallet"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	// Mode selects what the process does: "run" (cycle loop + API),
	// "once" (single cycle, print result), "serve" (API only),
	// "archive" (move aged rows to object storage).
	Mode string `toml:"mode"`
	// TradingMode selects how sized orders are realised: "paper" or "live".
	TradingMode   string   `toml:"trading_mode"`
	LogLevel      string   `toml:"log_level"`
	LogFormat     string   `toml:"log_format"` // "json" or "text"
	CycleInterval duration `toml:"cycle_interval"`
}

// ArbitrageConfig holds detection and scanning thresholds.
type ArbitrageConfig struct {
	// MinSpreadThreshold: a market is flagged only when yes+no < 1 - threshold.
	MinSpreadThreshold float64 `toml:"min_spread_threshold"`
	// EpsInequality is the violation tolerance for implication and
	// mutual-exclusion constraints.
	EpsInequality float64 `toml:"eps_inequality"`
	// EpsEquivalence is the price-divergence tolerance for equivalent markets.
	EpsEquivalence       float64 `toml:"eps_equivalence"`
	MinProfitPerShare    float64 `toml:"min_profit_per_share"`
	MinLiquidityUSD      float64 `toml:"min_liquidity_usd"`
	MaxResolutionGapDays int     `toml:"max_resolution_gap_days"`
}

// SizingConfig holds the risk budget and viability thresholds.
type SizingConfig struct {
	MinProfitUSD       float64 `toml:"min_profit_usd"`
	MinROIPct          float64 `toml:"min_roi_pct"`
	MaxPositionSizeUSD float64 `toml:"max_position_size_usd"`
	// PortfolioRiskPct is the per-trade fraction of portfolio value, e.g. 0.03.
	PortfolioRiskPct    float64 `toml:"portfolio_risk_pct"`
	MaxTotalExposureUSD float64 `toml:"max_total_exposure_usd"`
	// LiquidityCapFraction bounds a cross trade at this fraction of the
	// thinner leg's liquidity.
	LiquidityCapFraction float64 `toml:"liquidity_cap_fraction"`
	MaxSlippagePct       float64 `toml:"max_slippage_pct"`
	SlippageFactor       float64 `toml:"slippage_factor"`
	MaxSlippageCap       float64 `toml:"max_slippage_cap"`
	MinOrderSize         float64 `toml:"min_order_size"`
	// PortfolioValueUSD is the portfolio source in paper mode; live mode
	// reads the venue balance instead.
	PortfolioValueUSD float64 `toml:"portfolio_value_usd"`
}

// DetectorConfig holds relationship-detection parameters.
type DetectorConfig struct {
	UseInference           bool     `toml:"use_inference"`
	MaxMarketsForInference int      `toml:"max_markets_for_inference"`
	InferenceTimeout       duration `toml:"inference_timeout"`
	// MinConfidence drops merged relationships below this level before
	// scanning: "low" (keep all), "medium", "high".
	MinConfidence string `toml:"min_confidence"`
	// RelationshipTTL is how long cached detections stay valid for an
	// unchanged market set.
	RelationshipTTL duration `toml:"relationship_ttl"`
}

// ExecutionConfig holds order submission and monitoring parameters.
type ExecutionConfig struct {
	PollInterval duration `toml:"poll_interval"`
	FillTimeout  duration `toml:"fill_timeout"`
	// DedupTTL suppresses re-execution of an opportunity key seen within
	// the window.
	DedupTTL        duration `toml:"dedup_ttl"`
	SubmitRateLimit int      `toml:"submit_rate_limit"`
	SubmitRateWin   duration `toml:"submit_rate_window"`
}

// InferenceConfig holds the relationship-inference provider settings.
type InferenceConfig struct {
	BaseURL     string  `toml:"base_url"`
	ApiKey      string  `toml:"api_key"` // env-only in practice
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	// MaxMarkets caps how many markets one snapshot fetch returns.
	MaxMarkets int `toml:"max_markets"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays: rows older than this are archived in archive mode.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every endpoint except health. Empty disables auth;
	// env-only in practice.
	APIKey string `toml:"api_key"`
	// RateLimitPerMin caps requests per client IP per minute. 0 disables;
	// limiting also requires Redis.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Mode:          "run",
			TradingMode:   "paper",
			LogLevel:      "info",
			LogFormat:     "json",
			CycleInterval: duration{60 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinSpreadThreshold:   0.02,
			EpsInequality:        0.01,
			EpsEquivalence:       0.05,
			MinProfitPerShare:    0.01,
			MinLiquidityUSD:      500.0,
			MaxResolutionGapDays: 90,
		},
		Sizing: SizingConfig{
			MinProfitUSD:         1.0,
			MinROIPct:            1.0,
			MaxPositionSizeUSD:   500.0,
			PortfolioRiskPct:     0.03,
			MaxTotalExposureUSD:  2000.0,
			LiquidityCapFraction: 0.05,
			MaxSlippagePct:       2.0,
			SlippageFactor:       10.0,
			MaxSlippageCap:       10.0,
			MinOrderSize:         5.0,
			PortfolioValueUSD:    10000.0,
		},
		Detector: DetectorConfig{
			UseInference:           false,
			MaxMarketsForInference: 50,
			InferenceTimeout:       duration{20 * time.Second},
			MinConfidence:          "low",
			RelationshipTTL:        duration{15 * time.Minute},
		},
		Execution: ExecutionConfig{
			PollInterval:    duration{2 * time.Second},
			FillTimeout:     duration{30 * time.Second},
			DedupTTL:        duration{2 * time.Minute},
			SubmitRateLimit: 10,
			SubmitRateWin:   duration{1 * time.Second},
		},
		Inference: InferenceConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   2048,
			Temperature: 0.0,
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
			MaxMarkets:    200,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "cycle_error"},
		},
	}
}

// validModes enumerates the accepted values for App.Mode.
var validModes = map[string]bool{
	"run":     true,
	"once":    true,
	"serve":   true,
	"archive": true,
}

// validTradingModes enumerates the accepted values for App.TradingMode.
var validTradingModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for App.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validConfidences enumerates the accepted values for Detector.MinConfidence.
var validConfidences = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// App
	if !validModes[strings.ToLower(c.App.Mode)] {
		errs = append(errs, fmt.Sprintf("app: unknown mode %q (valid: run, once, serve, archive)", c.App.Mode))
	}
	if !validTradingModes[strings.ToLower(c.App.TradingMode)] {
		errs = append(errs, fmt.Sprintf("app: unknown trading_mode %q (valid: paper, live)", c.App.TradingMode))
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app: unknown log_level %q (valid: debug, info, warn, error)", c.App.LogLevel))
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("app: unknown log_format %q (valid: json, text)", c.App.LogFormat))
	}
	if c.App.Mode == "run" && c.App.CycleInterval.Duration <= 0 {
		errs = append(errs, "app: cycle_interval must be > 0 for run mode")
	}

	// Arbitrage thresholds
	if c.Arbitrage.MinSpreadThreshold < 0 || c.Arbitrage.MinSpreadThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: min_spread_threshold must be in [0, 1), got %g", c.Arbitrage.MinSpreadThreshold))
	}
	if c.Arbitrage.EpsInequality < 0 {
		errs = append(errs, "arbitrage: eps_inequality must be >= 0")
	}
	if c.Arbitrage.EpsEquivalence < 0 {
		errs = append(errs, "arbitrage: eps_equivalence must be >= 0")
	}
	if c.Arbitrage.MaxResolutionGapDays < 0 {
		errs = append(errs, "arbitrage: max_resolution_gap_days must be >= 0")
	}

	// Sizing
	if c.Sizing.PortfolioRiskPct <= 0 || c.Sizing.PortfolioRiskPct > 1 {
		errs = append(errs, fmt.Sprintf("sizing: portfolio_risk_pct must be in (0, 1], got %g", c.Sizing.PortfolioRiskPct))
	}
	if c.Sizing.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "sizing: max_position_size_usd must be > 0")
	}
	if c.Sizing.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "sizing: max_total_exposure_usd must be > 0")
	}
	if c.Sizing.LiquidityCapFraction <= 0 || c.Sizing.LiquidityCapFraction > 1 {
		errs = append(errs, fmt.Sprintf("sizing: liquidity_cap_fraction must be in (0, 1], got %g", c.Sizing.LiquidityCapFraction))
	}
	if c.Sizing.MaxSlippagePct < 0 {
		errs = append(errs, "sizing: max_slippage_pct must be >= 0")
	}
	if c.App.TradingMode == "paper" && c.Sizing.PortfolioValueUSD <= 0 {
		errs = append(errs, "sizing: portfolio_value_usd must be > 0 in paper mode")
	}

	// Detector
	if c.Detector.UseInference {
		if c.Detector.MaxMarketsForInference < 2 {
			errs = append(errs, "detector: max_markets_for_inference must be >= 2 when use_inference is set")
		}
		if c.Detector.InferenceTimeout.Duration <= 0 {
			errs = append(errs, "detector: inference_timeout must be > 0 when use_inference is set")
		}
		if c.Inference.ApiKey == "" {
			errs = append(errs, "inference: api_key is required when detector.use_inference is set")
		}
		if c.Inference.Model == "" {
			errs = append(errs, "inference: model must not be empty when detector.use_inference is set")
		}
	}
	if !validConfidences[strings.ToLower(c.Detector.MinConfidence)] {
		errs = append(errs, fmt.Sprintf("detector: unknown min_confidence %q (valid: low, medium, high)", c.Detector.MinConfidence))
	}

	// Execution
	if c.Execution.PollInterval.Duration <= 0 {
		errs = append(errs, "execution: poll_interval must be > 0")
	}
	if c.Execution.FillTimeout.Duration < c.Execution.PollInterval.Duration {
		errs = append(errs, "execution: fill_timeout must be >= poll_interval")
	}

	// Wallet, only needed when live orders will be signed.
	if c.App.TradingMode == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live trading")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
			errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
		}
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.App.TradingMode == "live" && c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty for live trading")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3, required by archive mode.
	if c.S3.Enabled || c.App.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
