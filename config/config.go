// Package config loads bot configuration from .env, an optional YAML file
// of trading parameters, and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"sniperbot/internal/model"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Trading holds the strategy parameters read from the YAML file.
type Trading struct {
	Symbol               string  `yaml:"symbol"`
	Timeframe            string  `yaml:"timeframe"`
	Size                 int     `yaml:"size"`
	RiskPerTrade         float64 `yaml:"risk_per_trade"` // percent of balance
	MaxPositions         int     `yaml:"max_positions"`
	MinConfidence        float64 `yaml:"min_confidence"`
	StopLossPercent      float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent    float64 `yaml:"take_profit_percent"`
	Testnet              bool    `yaml:"testnet"`
	NotificationsEnabled bool    `yaml:"notifications_enabled"`
	InitialBalance       float64 `yaml:"initial_balance"` // used when the exchange balance is unavailable
}

// Config holds all application configuration.
type Config struct {
	Trading Trading

	// Exchange credentials
	APIKey    string
	SecretKey string
	Paper     bool
	// Simulated fill slippage in basis points (paper mode)
	PaperSlippageBps float64

	// Infrastructure
	DatabaseURL   string // Postgres ledger; empty selects the SQLite journal
	SQLitePath    string
	RedisAddr     string // empty disables Redis publishing
	RedisPassword string
	MetricsAddr   string
	APIAddr       string

	// Notifications
	WebhookURL         string // Discord
	TelegramBotToken   string
	TelegramChatID     string
	AlertWebhookURL    string
	OperatorTOTPSecret string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// DefaultTrading returns the built-in trading parameters.
func DefaultTrading() Trading {
	return Trading{
		Symbol:            "ETH/USDT",
		Timeframe:         "1m",
		Size:              1,
		RiskPerTrade:      2.0,
		MaxPositions:      3,
		MinConfidence:     0.7,
		StopLossPercent:   2.0,
		TakeProfitPercent: 4.0,
		Testnet:           true,
		InitialBalance:    1000,
	}
}

// Load reads .env (if present), the YAML file at CONFIG_PATH (default
// config.yaml, missing file keeps defaults), then environment overrides,
// and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not parse .env", "error", err)
	}

	trading := DefaultTrading()
	path := getEnv("CONFIG_PATH", "config.yaml")
	if err := loadYAML(path, &trading); err != nil {
		return nil, err
	}
	applyTradingEnv(&trading)

	cfg := &Config{
		Trading: trading,

		APIKey:           getEnv("API_KEY", ""),
		SecretKey:        getEnv("SECRET_KEY", ""),
		Paper:            getEnvBool("PAPER", false),
		PaperSlippageBps: getEnvFloat("PAPER_SLIPPAGE_BPS", 5),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/sniper.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:     getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		OperatorTOTPSecret: getEnv("OPERATOR_TOTP_SECRET", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, t *Trading) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyTradingEnv(t *Trading) {
	t.Symbol = getEnv("SYMBOL", t.Symbol)
	t.Timeframe = getEnv("TIMEFRAME", t.Timeframe)
	t.RiskPerTrade = getEnvFloat("RISK_PER_TRADE", t.RiskPerTrade)
	t.MinConfidence = getEnvFloat("MIN_CONFIDENCE", t.MinConfidence)
	t.Testnet = getEnvBool("TESTNET", t.Testnet)
	t.NotificationsEnabled = getEnvBool("NOTIFICATIONS_ENABLED", t.NotificationsEnabled)
	t.InitialBalance = getEnvFloat("INITIAL_BALANCE", t.InitialBalance)
}

// Validate checks value ranges. Live trading also needs exchange credentials.
func (c *Config) Validate() error {
	t := c.Trading
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalid)
	case strings.TrimSpace(t.Timeframe) == "":
		return fmt.Errorf("%w: timeframe cannot be empty", ErrInvalid)
	case t.RiskPerTrade <= 0 || t.RiskPerTrade > 100:
		return fmt.Errorf("%w: risk_per_trade must be between 0 and 100", ErrInvalid)
	case t.MinConfidence < 0 || t.MinConfidence > 1:
		return fmt.Errorf("%w: min_confidence must be between 0.0 and 1.0", ErrInvalid)
	case t.StopLossPercent <= 0 || t.StopLossPercent > 100:
		return fmt.Errorf("%w: stop_loss_percent must be between 0 and 100", ErrInvalid)
	case t.TakeProfitPercent <= 0 || t.TakeProfitPercent > 100:
		return fmt.Errorf("%w: take_profit_percent must be between 0 and 100", ErrInvalid)
	case !c.Paper && (c.APIKey == "" || c.SecretKey == ""):
		return fmt.Errorf("%w: API_KEY and SECRET_KEY are required unless PAPER=true", ErrInvalid)
	}
	return nil
}

// NormalizedSymbol returns the symbol without separators, upper-cased ("ETHUSDT").
func (c *Config) NormalizedSymbol() string {
	return model.NormalizeSymbol(c.Trading.Symbol)
}

// WSSymbol returns the lower-case stream symbol ("ethusdt").
func (c *Config) WSSymbol() string {
	return strings.ToLower(c.NormalizedSymbol())
}

// RiskPerTradeDecimal returns the risk percent as a fraction (2.0 -> 0.02).
func (c *Config) RiskPerTradeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.RiskPerTrade).Div(decimal.NewFromInt(100))
}

// InitialBalanceDecimal returns the fallback balance.
func (c *Config) InitialBalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.InitialBalance)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid bool env var, using default", "key", key, "value", v)
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number env var, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v)
		return fallback
	}
	return n
}
