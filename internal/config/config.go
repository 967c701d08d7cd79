// Package config provides configuration management for the analysis application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "chart-analyst/internal/errors"
)

// Config holds all application configuration. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Models        ModelsConfig       `mapstructure:"models"`
	Inference     InferenceConfig    `mapstructure:"inference"`
	Exchange      ExchangeConfig     `mapstructure:"exchange"`
	Analysis      AnalysisConfig     `mapstructure:"analysis"`
	Batch         BatchConfig        `mapstructure:"batch"`
	Results       ResultsConfig      `mapstructure:"results"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded separately
}

// ModelsConfig names the models used by each stage.
type ModelsConfig struct {
	Quantitative ModelConfig `mapstructure:"quantitative"`
	Visual       ModelConfig `mapstructure:"visual"`
}

// ModelConfig holds sampling options for one model.
type ModelConfig struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// InferenceConfig holds model-serving endpoint configuration.
type InferenceConfig struct {
	Provider          string        `mapstructure:"provider"` // ollama, openai
	BaseURL           string        `mapstructure:"base_url"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// ExchangeConfig holds market data configuration.
type ExchangeConfig struct {
	Default           string        `mapstructure:"default"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	DataDir           string        `mapstructure:"data_dir"`
}

// AnalysisConfig holds pipeline thresholds.
type AnalysisConfig struct {
	MinPeriods       int    `mapstructure:"min_periods"`
	Periods          int    `mapstructure:"periods"`
	PromptPeriods    int    `mapstructure:"prompt_periods"`
	DefaultTimeframe string `mapstructure:"default_timeframe"`
	StrictChartNames bool   `mapstructure:"strict_chart_names"`
	ChartFolder      string `mapstructure:"chart_folder"`
}

// BatchConfig holds batch runner configuration.
type BatchConfig struct {
	Workers  int    `mapstructure:"workers"`
	Schedule string `mapstructure:"schedule"`
}

// ResultsConfig holds output configuration.
type ResultsConfig struct {
	JSONFolder string `mapstructure:"json_folder"`
}

// StorageConfig selects the persistence sinks.
type StorageConfig struct {
	Backends   []string `mapstructure:"backends"` // json, sqlite, postgres
	SQLitePath string   `mapstructure:"sqlite_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, divergence_only, errors_only
	Terminal TerminalConfig `mapstructure:"terminal"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	ChatID  int64 `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI   OpenAICredentials   `mapstructure:"openai"`
	Telegram TelegramCredentials `mapstructure:"telegram"`
	Postgres PostgresCredentials `mapstructure:"postgres"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// TelegramCredentials holds the Telegram bot token.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// PostgresCredentials holds the Postgres connection string.
type PostgresCredentials struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/chart-analyst"
	}
	return filepath.Join(home, ".config", "chart-analyst")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("models.quantitative.name", "qwen3-coder:30b")
	v.SetDefault("models.quantitative.temperature", 0.3)
	v.SetDefault("models.quantitative.top_p", 0.9)
	v.SetDefault("models.quantitative.top_k", 40)
	v.SetDefault("models.quantitative.max_tokens", 2000)
	v.SetDefault("models.visual.name", "qwen3-vl:8b")
	v.SetDefault("models.visual.temperature", 0.4)
	v.SetDefault("models.visual.top_p", 0.9)
	v.SetDefault("models.visual.top_k", 40)
	v.SetDefault("models.visual.max_tokens", 2500)

	v.SetDefault("inference.provider", "ollama")
	v.SetDefault("inference.base_url", "http://localhost:11434")
	v.SetDefault("inference.openai_base_url", "")
	v.SetDefault("inference.timeout", "120s")
	v.SetDefault("inference.retry_attempts", 3)
	v.SetDefault("inference.retry_delay", "2s")
	v.SetDefault("inference.requests_per_second", 2.0)
	v.SetDefault("inference.breaker_failures", 5)
	v.SetDefault("inference.breaker_cooldown", "60s")

	v.SetDefault("exchange.default", "binance")
	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.timeout", "30s")
	v.SetDefault("exchange.requests_per_second", 5.0)
	v.SetDefault("exchange.cache_ttl", "15m")
	v.SetDefault("exchange.data_dir", "data/ccxt")

	v.SetDefault("analysis.min_periods", 100)
	v.SetDefault("analysis.periods", 200)
	v.SetDefault("analysis.prompt_periods", 50)
	v.SetDefault("analysis.default_timeframe", "4h")
	v.SetDefault("analysis.strict_chart_names", false)
	v.SetDefault("analysis.chart_folder", "charts/manual")

	v.SetDefault("batch.workers", 2)
	v.SetDefault("batch.schedule", "0 5 */4 * * *")

	v.SetDefault("results.json_folder", "results/json")

	v.SetDefault("storage.backends", []string{"json", "sqlite"})
	v.SetDefault("storage.sqlite_path", filepath.Join(configDir, "analyst.db"))

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "divergence_only")
	v.SetDefault("notifications.terminal.enabled", true)
	v.SetDefault("notifications.terminal.bell", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "analyst.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and continue with defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("ANALYST_PROVIDER"); v != "" {
		cfg.Inference.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANALYST_RESULTS_DIR"); v != "" {
		cfg.Results.JSONFolder = v
	}
	if v := os.Getenv("ANALYST_DATABASE_URL"); v != "" {
		cfg.Credentials.Postgres.DatabaseURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Inference.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("%w: invalid inference provider: %s (must be 'ollama' or 'openai')",
			apperrors.ErrConfigInvalid, c.Inference.Provider)
	}

	if c.Models.Quantitative.Name == "" || c.Models.Visual.Name == "" {
		return fmt.Errorf("%w: both quantitative and visual model names are required", apperrors.ErrConfigInvalid)
	}
	for name, m := range map[string]ModelConfig{"quantitative": c.Models.Quantitative, "visual": c.Models.Visual} {
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("%w: models.%s.temperature must be between 0 and 2", apperrors.ErrConfigInvalid, name)
		}
		if m.TopP < 0 || m.TopP > 1 {
			return fmt.Errorf("%w: models.%s.top_p must be between 0 and 1", apperrors.ErrConfigInvalid, name)
		}
	}

	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("%w: inference.timeout must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Inference.RetryAttempts < 1 {
		return fmt.Errorf("%w: inference.retry_attempts must be at least 1", apperrors.ErrConfigInvalid)
	}

	if c.Analysis.MinPeriods <= 0 {
		return fmt.Errorf("%w: analysis.min_periods must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Analysis.Periods < c.Analysis.MinPeriods {
		return fmt.Errorf("%w: analysis.periods (%d) must be >= analysis.min_periods (%d)",
			apperrors.ErrConfigInvalid, c.Analysis.Periods, c.Analysis.MinPeriods)
	}
	if c.Analysis.PromptPeriods <= 0 {
		return fmt.Errorf("%w: analysis.prompt_periods must be positive", apperrors.ErrConfigInvalid)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("%w: batch.workers must be at least 1", apperrors.ErrConfigInvalid)
	}

	for _, b := range c.Storage.Backends {
		switch b {
		case "json", "sqlite", "postgres":
		default:
			return fmt.Errorf("%w: unknown storage backend: %s", apperrors.ErrConfigInvalid, b)
		}
	}

	switch c.Notifications.Level {
	case "", "all", "divergence_only", "errors_only":
	default:
		return fmt.Errorf("%w: invalid notifications.level: %s", apperrors.ErrConfigInvalid, c.Notifications.Level)
	}

	return nil
}

// HasBackend reports whether the named storage backend is enabled.
func (c *Config) HasBackend(name string) bool {
	for _, b := range c.Storage.Backends {
		if b == name {
			return true
		}
	}
	return false
}
