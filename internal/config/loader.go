package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── App ──
	setStr(&cfg.App.Mode, "ARBOT_MODE")
	setStr(&cfg.App.TradingMode, "ARBOT_TRADING_MODE")
	setStr(&cfg.App.LogLevel, "ARBOT_LOG_LEVEL")
	setStr(&cfg.App.LogFormat, "ARBOT_LOG_FORMAT")
	setDuration(&cfg.App.CycleInterval, "ARBOT_CYCLE_INTERVAL")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinSpreadThreshold, "ARBOT_ARBITRAGE_MIN_SPREAD_THRESHOLD")
	setFloat64(&cfg.Arbitrage.EpsInequality, "ARBOT_ARBITRAGE_EPS_INEQUALITY")
	setFloat64(&cfg.Arbitrage.EpsEquivalence, "ARBOT_ARBITRAGE_EPS_EQUIVALENCE")
	setFloat64(&cfg.Arbitrage.MinProfitPerShare, "ARBOT_ARBITRAGE_MIN_PROFIT_PER_SHARE")
	setFloat64(&cfg.Arbitrage.MinLiquidityUSD, "ARBOT_ARBITRAGE_MIN_LIQUIDITY_USD")
	setInt(&cfg.Arbitrage.MaxResolutionGapDays, "ARBOT_ARBITRAGE_MAX_RESOLUTION_GAP_DAYS")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.MinProfitUSD, "ARBOT_SIZING_MIN_PROFIT_USD")
	setFloat64(&cfg.Sizing.MinROIPct, "ARBOT_SIZING_MIN_ROI_PCT")
	setFloat64(&cfg.Sizing.MaxPositionSizeUSD, "ARBOT_SIZING_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Sizing.PortfolioRiskPct, "ARBOT_SIZING_PORTFOLIO_RISK_PCT")
	setFloat64(&cfg.Sizing.MaxTotalExposureUSD, "ARBOT_SIZING_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Sizing.LiquidityCapFraction, "ARBOT_SIZING_LIQUIDITY_CAP_FRACTION")
	setFloat64(&cfg.Sizing.MaxSlippagePct, "ARBOT_SIZING_MAX_SLIPPAGE_PCT")
	setFloat64(&cfg.Sizing.SlippageFactor, "ARBOT_SIZING_SLIPPAGE_FACTOR")
	setFloat64(&cfg.Sizing.MaxSlippageCap, "ARBOT_SIZING_MAX_SLIPPAGE_CAP")
	setFloat64(&cfg.Sizing.MinOrderSize, "ARBOT_SIZING_MIN_ORDER_SIZE")
	setFloat64(&cfg.Sizing.PortfolioValueUSD, "ARBOT_SIZING_PORTFOLIO_VALUE_USD")

	// ── Detector ──
	setBool(&cfg.Detector.UseInference, "ARBOT_DETECTOR_USE_INFERENCE")
	setInt(&cfg.Detector.MaxMarketsForInference, "ARBOT_DETECTOR_MAX_MARKETS_FOR_INFERENCE")
	setDuration(&cfg.Detector.InferenceTimeout, "ARBOT_DETECTOR_INFERENCE_TIMEOUT")
	setStr(&cfg.Detector.MinConfidence, "ARBOT_DETECTOR_MIN_CONFIDENCE")
	setDuration(&cfg.Detector.RelationshipTTL, "ARBOT_DETECTOR_RELATIONSHIP_TTL")

	// ── Execution ──
	setDuration(&cfg.Execution.PollInterval, "ARBOT_EXECUTION_POLL_INTERVAL")
	setDuration(&cfg.Execution.FillTimeout, "ARBOT_EXECUTION_FILL_TIMEOUT")
	setDuration(&cfg.Execution.DedupTTL, "ARBOT_EXECUTION_DEDUP_TTL")
	setInt(&cfg.Execution.SubmitRateLimit, "ARBOT_EXECUTION_SUBMIT_RATE_LIMIT")
	setDuration(&cfg.Execution.SubmitRateWin, "ARBOT_EXECUTION_SUBMIT_RATE_WINDOW")

	// ── Inference ──
	setStr(&cfg.Inference.BaseURL, "ARBOT_INFERENCE_BASE_URL")
	setStr(&cfg.Inference.ApiKey, "ARBOT_INFERENCE_API_KEY")
	setStr(&cfg.Inference.ApiKey, "OPENAI_API_KEY") // conventional alias
	setStr(&cfg.Inference.Model, "ARBOT_INFERENCE_MODEL")
	setInt(&cfg.Inference.MaxTokens, "ARBOT_INFERENCE_MAX_TOKENS")
	setFloat64(&cfg.Inference.Temperature, "ARBOT_INFERENCE_TEMPERATURE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "ARBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "ARBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "ARBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "ARBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "ARBOT_POLYMARKET_SIGNATURE_TYPE")
	setInt(&cfg.Polymarket.MaxMarkets, "ARBOT_POLYMARKET_MAX_MARKETS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBOT_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "ARBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBOT_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "ARBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
