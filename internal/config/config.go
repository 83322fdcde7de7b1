// Package config provides configuration management for the trading floor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	ferrors "trading-floor/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Session     SessionConfig  `mapstructure:"session" yaml:"session"`
	Market      MarketConfig   `mapstructure:"market" yaml:"market"`
	Prices      PricesConfig   `mapstructure:"prices" yaml:"prices"`
	Research    ResearchConfig `mapstructure:"research" yaml:"research"`
	LLM         LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Log         LogConfig      `mapstructure:"log" yaml:"log"`
	Archive     ArchiveConfig  `mapstructure:"archive" yaml:"archive"`
	Tracing     TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Traders     []TraderConfig `mapstructure:"traders" yaml:"traders"`
	Credentials Credentials    `mapstructure:"-" yaml:"-"` // Loaded separately
}

// SessionConfig holds scheduler settings.
type SessionConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	RunWhenClosed   bool          `mapstructure:"run_when_closed" yaml:"run_when_closed"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
	LogRetention    int           `mapstructure:"log_retention" yaml:"log_retention"`
}

// MarketConfig holds the trading calendar.
type MarketConfig struct {
	Timezone string   `mapstructure:"timezone" yaml:"timezone"`
	Open     string   `mapstructure:"open" yaml:"open"`   // HH:MM
	Close    string   `mapstructure:"close" yaml:"close"` // HH:MM
	Holidays []string `mapstructure:"holidays" yaml:"holidays"`
	// Source is "hours" (local calendar) or "polygon" (market status endpoint).
	Source string `mapstructure:"source" yaml:"source"`
}

// PricesConfig selects and tunes the price-lookup collaborator.
type PricesConfig struct {
	Source           string        `mapstructure:"source" yaml:"source"` // simulated, polygon, kite
	Seed             int64         `mapstructure:"seed" yaml:"seed"`
	Volatility       float64       `mapstructure:"volatility" yaml:"volatility"`
	Exchange         string        `mapstructure:"exchange" yaml:"exchange"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

// ResearchConfig selects the research collaborator.
type ResearchConfig struct {
	Source       string   `mapstructure:"source" yaml:"source"` // static, headlines, llm
	URLs         []string `mapstructure:"urls" yaml:"urls"`
	Selector     string   `mapstructure:"selector" yaml:"selector"`
	MaxHeadlines int      `mapstructure:"max_headlines" yaml:"max_headlines"`
	Static       string   `mapstructure:"static" yaml:"static"`
}

// LLMConfig holds OpenAI settings shared by deciders and researchers.
type LLMConfig struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  bool   `mapstructure:"file" yaml:"file"`
	Path  string `mapstructure:"path" yaml:"path"`
}

// ArchiveConfig controls the SQLite audit mirror.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ResolvedPath returns Path with a leading "~/" expanded to the home directory.
func (a ArchiveConfig) ResolvedPath() string {
	if strings.HasPrefix(a.Path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, a.Path[2:])
		}
	}
	return a.Path
}

// TracingConfig controls span export.
type TracingConfig struct {
	Stdout bool `mapstructure:"stdout" yaml:"stdout"`
}

// TraderConfig describes one trader created at session start.
type TraderConfig struct {
	Name           string             `mapstructure:"name" yaml:"name"`
	Lastname       string             `mapstructure:"lastname" yaml:"lastname"`
	Model          string             `mapstructure:"model" yaml:"model"`
	InitialBalance float64            `mapstructure:"initial_balance" yaml:"initial_balance"`
	Strategy       string             `mapstructure:"strategy" yaml:"strategy"`
	Decider        string             `mapstructure:"decider" yaml:"decider"` // llm, allocation
	Targets        map[string]float64 `mapstructure:"targets" yaml:"targets"`
}

// Balance returns the initial balance as a decimal.
func (t TraderConfig) Balance() decimal.Decimal {
	return decimal.NewFromFloat(t.InitialBalance)
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI  OpenAICredentials  `mapstructure:"openai"`
	Polygon PolygonCredentials `mapstructure:"polygon"`
	Kite    KiteCredentials    `mapstructure:"kite"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// PolygonCredentials holds Polygon.io API credentials.
type PolygonCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// KiteCredentials holds Zerodha Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/trading-floor"
	}
	return filepath.Join(home, ".config", "trading-floor")
}

// ConfigPath returns the path of the main config file in configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "floor.toml")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and then read.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	loadDotEnv(configDir)

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading floor.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv reads .env from the working directory and the config directory.
// Variables already present in the environment win.
func loadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.interval_minutes", 60)
	v.SetDefault("session.run_when_closed", false)
	v.SetDefault("session.cycle_timeout", "5m")
	v.SetDefault("session.log_retention", 10000)

	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.open", "09:30")
	v.SetDefault("market.close", "16:00")
	v.SetDefault("market.source", "hours")

	v.SetDefault("prices.source", "simulated")
	v.SetDefault("prices.seed", 42)
	v.SetDefault("prices.volatility", 0.01)
	v.SetDefault("prices.exchange", "NSE")
	v.SetDefault("prices.breaker_threshold", 5)
	v.SetDefault("prices.breaker_timeout", "30s")

	v.SetDefault("research.source", "static")
	v.SetDefault("research.selector", "h3")
	v.SetDefault("research.max_headlines", 20)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2048)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)

	v.SetDefault("archive.enabled", false)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("floor")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and read it back
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
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
			// Keys may still arrive through the environment
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Credentials.Polygon.APIKey = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}

	// Session
	if v := os.Getenv("FLOOR_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.IntervalMinutes = n
		}
	}
	if v := os.Getenv("FLOOR_RUN_WHEN_CLOSED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Session.RunWhenClosed = b
		}
	}
}

// normalize fixes up values viper cannot express. Viper lowercases map keys, so
// target symbols are restored to upper case here.
func (c *Config) normalize() {
	for i := range c.Traders {
		t := &c.Traders[i]
		if t.Decider == "" {
			t.Decider = "llm"
		}
		if t.Model == "" {
			t.Model = c.LLM.Model
		}
		if len(t.Targets) > 0 {
			targets := make(map[string]float64, len(t.Targets))
			for sym, w := range t.Targets {
				targets[strings.ToUpper(sym)] = w
			}
			t.Targets = targets
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Traders) == 0 {
		return ferrors.NewValidationError("traders", 0, "at least one trader must be configured")
	}

	if c.Session.IntervalMinutes < 1 {
		return ferrors.NewValidationError("session.interval_minutes", c.Session.IntervalMinutes, "must be at least 1")
	}
	if c.Session.CycleTimeout < 0 {
		return ferrors.NewValidationError("session.cycle_timeout", c.Session.CycleTimeout, "must be non-negative")
	}
	if c.Session.LogRetention < 0 {
		return ferrors.NewValidationError("session.log_retention", c.Session.LogRetention, "must be non-negative")
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return ferrors.NewValidationError("market.timezone", c.Market.Timezone, err.Error())
	}
	for _, field := range []struct{ name, value string }{
		{"market.open", c.Market.Open},
		{"market.close", c.Market.Close},
	} {
		if _, err := time.Parse("15:04", field.value); err != nil {
			return ferrors.NewValidationError(field.name, field.value, "must be HH:MM")
		}
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return ferrors.NewValidationError("market.holidays", h, "must be YYYY-MM-DD")
		}
	}
	if !oneOf(c.Market.Source, "hours", "polygon") {
		return ferrors.NewValidationError("market.source", c.Market.Source, "must be 'hours' or 'polygon'")
	}

	if !oneOf(c.Prices.Source, "simulated", "polygon", "kite") {
		return ferrors.NewValidationError("prices.source", c.Prices.Source, "must be 'simulated', 'polygon' or 'kite'")
	}
	if c.Prices.Volatility < 0 || c.Prices.Volatility >= 1 {
		return ferrors.NewValidationError("prices.volatility", c.Prices.Volatility, "must be in [0, 1)")
	}

	if !oneOf(c.Research.Source, "static", "headlines", "llm") {
		return ferrors.NewValidationError("research.source", c.Research.Source, "must be 'static', 'headlines' or 'llm'")
	}
	if c.Research.Source != "static" && len(c.Research.URLs) == 0 {
		return ferrors.NewValidationError("research.urls", c.Research.URLs, "required for headline research")
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		return ferrors.NewValidationError("archive.path", c.Archive.Path, "required when the archive is enabled")
	}

	seen := make(map[string]bool, len(c.Traders))
	for i, t := range c.Traders {
		field := fmt.Sprintf("traders[%d]", i)
		if t.Name == "" {
			return ferrors.NewValidationError(field+".name", t.Name, "must not be empty")
		}
		if seen[t.Name] {
			return ferrors.NewValidationError(field+".name", t.Name, "duplicate trader name")
		}
		seen[t.Name] = true

		if t.InitialBalance <= 0 {
			return ferrors.NewValidationError(field+".initial_balance", t.InitialBalance, "must be positive")
		}
		if !oneOf(t.Decider, "llm", "allocation") {
			return ferrors.NewValidationError(field+".decider", t.Decider, "must be 'llm' or 'allocation'")
		}

		var total float64
		for sym, w := range t.Targets {
			if w < 0 || w > 1 {
				return ferrors.NewValidationError(field+".targets."+sym, w, "weight must be in [0, 1]")
			}
			total += w
		}
		if total > 1.0001 {
			return ferrors.NewValidationError(field+".targets", total, "weights must not sum above 1")
		}
	}

	return nil
}

// Trader returns the configuration of the named trader.
func (c *Config) Trader(name string) (TraderConfig, bool) {
	for _, t := range c.Traders {
		if t.Name == name {
			return t, true
		}
	}
	return TraderConfig{}, false
}

func oneOf(value string, options ...string) bool {
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}
