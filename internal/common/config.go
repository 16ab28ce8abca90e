// Package common provides shared utilities for Yieldwatch
package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Yieldwatch
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Market      MarketConfig    `toml:"market"`
	Sync        SyncConfig      `toml:"sync"`
	Safety      SafetyConfig    `toml:"safety"`
	Providers   ProvidersConfig `toml:"providers"`
	Routes      RoutesConfig    `toml:"routes"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Secrets     SecretsConfig   `toml:"secrets"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Storage backends
const (
	BackendBadger    = "badger"
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend   string          `toml:"backend"`
	Badger    BadgerConfig    `toml:"badger"`
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
}

// BadgerConfig holds the on-disk location of the badgerhold store.
type BadgerConfig struct {
	Path string `toml:"path"`
}

// SurrealDBConfig holds SurrealDB connection details.
type SurrealDBConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// MarketConfig describes the trading calendar used for freshness decisions.
type MarketConfig struct {
	Timezone  string   `toml:"timezone"`
	OpenTime  string   `toml:"open_time"`  // HH:MM local
	CloseTime string   `toml:"close_time"` // HH:MM local
	Holidays  []string `toml:"holidays"`   // YYYY-MM-DD local
}

// GetLocation returns the market timezone, falling back to UTC.
func (c *MarketConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetOpenMinutes returns the market open as minutes after midnight.
func (c *MarketConfig) GetOpenMinutes() int {
	m, err := parseClock(c.OpenTime)
	if err != nil {
		return 9*60 + 30
	}
	return m
}

// GetCloseMinutes returns the market close as minutes after midnight.
func (c *MarketConfig) GetCloseMinutes() int {
	m, err := parseClock(c.CloseTime)
	if err != nil {
		return 16 * 60
	}
	return m
}

// SyncConfig holds batch synchronisation settings.
type SyncConfig struct {
	MarketHoursInterval string `toml:"market_hours_interval"`
	OffHoursInterval    string `toml:"off_hours_interval"`
	RequestDelay        string `toml:"request_delay"`
	HistoricalDays      int    `toml:"historical_days"`
	DividendDays        int    `toml:"dividend_days"`
	Workers             int    `toml:"workers"`
}

// GetMarketHoursInterval returns the refresh interval while the market is open.
func (c *SyncConfig) GetMarketHoursInterval() time.Duration {
	return durationOr(c.MarketHoursInterval, 15*time.Minute)
}

// GetOffHoursInterval returns the refresh interval outside market hours.
func (c *SyncConfig) GetOffHoursInterval() time.Duration {
	return durationOr(c.OffHoursInterval, 30*time.Minute)
}

// GetRequestDelay returns the pause inserted between external calls.
// An explicit "0s" disables the pause.
func (c *SyncConfig) GetRequestDelay() time.Duration {
	return durationOr(c.RequestDelay, 250*time.Millisecond)
}

// GetWorkers returns the worker count, never less than one.
func (c *SyncConfig) GetWorkers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

// SafetyConfig holds dividend-safety cache settings.
type SafetyConfig struct {
	MaxAge        string `toml:"max_age"`
	LookbackYears int    `toml:"lookback_years"`
}

// GetMaxAge returns how long a cached safety score stays current.
func (c *SafetyConfig) GetMaxAge() time.Duration {
	return durationOr(c.MaxAge, 24*time.Hour)
}

// GetLookbackYears returns the number of annual statements requested for scoring.
func (c *SafetyConfig) GetLookbackYears() int {
	if c.LookbackYears < 1 {
		return 5
	}
	return c.LookbackYears
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	EODHD        ProviderSettings `toml:"eodhd"`
	FMP          ProviderSettings `toml:"fmp"`
	AlphaVantage ProviderSettings `toml:"alphavantage"`
}

// ByName returns the settings for each provider keyed by its identifier.
func (c *ProvidersConfig) ByName() map[string]ProviderSettings {
	return map[string]ProviderSettings{
		"eodhd":        c.EODHD,
		"fmp":          c.FMP,
		"alphavantage": c.AlphaVantage,
	}
}

// ProviderSettings holds credentials and quota for a market-data provider.
type ProviderSettings struct {
	Enabled           bool   `toml:"enabled"`
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Timeout           string `toml:"timeout"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	RequestsPerDay    int    `toml:"requests_per_day"` // 0 = unlimited
	Timezone          string `toml:"timezone"`         // quota day boundary
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderSettings) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 30*time.Second)
}

// RoutesConfig holds the primary/fallback provider choice per data type.
type RoutesConfig struct {
	Quotes              RouteConfig `toml:"quotes"`
	HistoricalPrices    RouteConfig `toml:"historical_prices"`
	Dividends           RouteConfig `toml:"dividends"`
	FinancialStatements RouteConfig `toml:"financial_statements"`
}

// ByDataType returns each route keyed by its data type identifier.
func (c *RoutesConfig) ByDataType() map[string]RouteConfig {
	return map[string]RouteConfig{
		"quotes":               c.Quotes,
		"historical_prices":    c.HistoricalPrices,
		"dividends":            c.Dividends,
		"financial_statements": c.FinancialStatements,
	}
}

// RouteConfig names the providers used for one data type.
type RouteConfig struct {
	Primary  string `toml:"primary"`
	Fallback string `toml:"fallback"`
	Active   bool   `toml:"active"`
}

// SchedulerConfig holds cron expressions for the server's periodic jobs.
type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`
	QuotesCron     string `toml:"quotes_cron"`
	HistoricalCron string `toml:"historical_cron"`
	DividendsCron  string `toml:"dividends_cron"`
	SafetyCron     string `toml:"safety_cron"`
}

// SecretsConfig holds the key used to decrypt provider credentials.
type SecretsConfig struct {
	MasterKey string `toml:"master_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8585,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  BadgerConfig{Path: "data/market"},
			SurrealDB: SurrealDBConfig{
				Address:   "ws://localhost:8000/rpc",
				Username:  "root",
				Password:  "root",
				Namespace: "yieldwatch",
				Database:  "market",
			},
		},
		Market: MarketConfig{
			Timezone:  "America/New_York",
			OpenTime:  "09:30",
			CloseTime: "16:00",
		},
		Sync: SyncConfig{
			MarketHoursInterval: "15m",
			OffHoursInterval:    "30m",
			RequestDelay:        "250ms",
			HistoricalDays:      30,
			DividendDays:        365,
			Workers:             1,
		},
		Safety: SafetyConfig{
			MaxAge:        "24h",
			LookbackYears: 5,
		},
		Providers: ProvidersConfig{
			EODHD: ProviderSettings{
				Enabled:           true,
				BaseURL:           "https://eodhd.com/api",
				Timeout:           "30s",
				RequestsPerMinute: 60,
				RequestsPerDay:    20,
				Timezone:          "UTC",
			},
			FMP: ProviderSettings{
				Enabled:           true,
				BaseURL:           "https://financialmodelingprep.com/api/v3",
				Timeout:           "30s",
				RequestsPerMinute: 30,
				RequestsPerDay:    250,
				Timezone:          "UTC",
			},
			AlphaVantage: ProviderSettings{
				Enabled:           true,
				BaseURL:           "https://www.alphavantage.co",
				Timeout:           "30s",
				RequestsPerMinute: 5,
				RequestsPerDay:    25,
				Timezone:          "UTC",
			},
		},
		Routes: RoutesConfig{
			Quotes:              RouteConfig{Primary: "eodhd", Fallback: "fmp", Active: true},
			HistoricalPrices:    RouteConfig{Primary: "eodhd", Fallback: "alphavantage", Active: true},
			Dividends:           RouteConfig{Primary: "eodhd", Fallback: "fmp", Active: true},
			FinancialStatements: RouteConfig{Primary: "fmp", Fallback: "alphavantage", Active: true},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			QuotesCron:     "*/15 * * * *",
			HistoricalCron: "30 17 * * 1-5",
			DividendsCron:  "0 6 * * *",
			SafetyCron:     "0 7 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Outputs:    []string{"console"},
			FilePath:   "./logs/yieldwatch.log",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env values only fill variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("YIELDWATCH_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("YIELDWATCH_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("YIELDWATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("YIELDWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if backend := os.Getenv("YIELDWATCH_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv("YIELDWATCH_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if addr := os.Getenv("YIELDWATCH_SURREALDB_ADDRESS"); addr != "" {
		config.Storage.SurrealDB.Address = addr
	}

	if key := os.Getenv("YIELDWATCH_MASTER_KEY"); key != "" {
		config.Secrets.MasterKey = key
	}
	if delay := os.Getenv("YIELDWATCH_REQUEST_DELAY"); delay != "" {
		config.Sync.RequestDelay = delay
	}

	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		config.Providers.EODHD.APIKey = v
	}
	if v := os.Getenv("FMP_API_KEY"); v != "" {
		config.Providers.FMP.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		config.Providers.AlphaVantage.APIKey = v
	}
}

// Validate checks values that would otherwise fail silently at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger, BackendSurrealDB, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("invalid market timezone %q: %w", c.Market.Timezone, err)
	}
	if _, err := parseClock(c.Market.OpenTime); err != nil {
		return fmt.Errorf("invalid market open_time: %w", err)
	}
	if _, err := parseClock(c.Market.CloseTime); err != nil {
		return fmt.Errorf("invalid market close_time: %w", err)
	}
	if c.Market.GetOpenMinutes() >= c.Market.GetCloseMinutes() {
		return fmt.Errorf("market open_time %s must be before close_time %s", c.Market.OpenTime, c.Market.CloseTime)
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid market holiday %q: %w", h, err)
		}
	}
	for name, raw := range map[string]string{
		"sync.market_hours_interval": c.Sync.MarketHoursInterval,
		"sync.off_hours_interval":    c.Sync.OffHoursInterval,
		"sync.request_delay":         c.Sync.RequestDelay,
		"safety.max_age":             c.Safety.MaxAge,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}
