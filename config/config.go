package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/risk"
)

// Config represents the complete bot configuration
type Config struct {
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// ExchangeConfig selects the exchange and network. Credentials only ever
// come from the environment and are never written back to a file.
type ExchangeConfig struct {
	Name      string `json:"name" yaml:"name"` // "bitmex" or "sim"
	Test      bool   `json:"test" yaml:"test"`
	RateLimit string `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // e.g. "1s"
	Timeout   string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	APIKey    string `json:"-" yaml:"-"`
	APISecret string `json:"-" yaml:"-"`
}

// StrategyConfig contains the EMA cross and bracket parameters
type StrategyConfig struct {
	Symbol       string  `json:"symbol" yaml:"symbol"`
	Interval     string  `json:"interval" yaml:"interval"`
	FastPeriod   int     `json:"fast_period" yaml:"fast_period"`
	SlowPeriod   int     `json:"slow_period" yaml:"slow_period"`
	Factor       int     `json:"factor" yaml:"factor"`
	Quantity     float64 `json:"quantity" yaml:"quantity"`
	Leverage     float64 `json:"leverage" yaml:"leverage"`
	ProfitTarget float64 `json:"profit_target" yaml:"profit_target"`
	StopLoss     float64 `json:"stop_loss" yaml:"stop_loss"`
	SettleDelay  string  `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`
}

// RiskConfig contains the risk gate limits
type RiskConfig struct {
	MaxPositions int     `json:"max_positions" yaml:"max_positions"`
	MaxDailyLoss float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	RiskPerTrade float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
}

// FeedConfig contains the market data stream parameters
type FeedConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty"` // defaults to the network's realtime endpoint
	Reconnect      string `json:"reconnect" yaml:"reconnect"`         // "fixed" or "exponential"
	ReconnectDelay string `json:"reconnect_delay" yaml:"reconnect_delay"`
	MaxDelay       string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// JournalConfig contains journaling parameters. An empty DBPath disables the journal.
type JournalConfig struct {
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig contains the prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// unset keys keep their defaults
	cfg := Default()

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load reads path when it is set, otherwise starts from Default, then
// overlays the environment (and envFile, when present) and validates.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case "bitmex", "sim":
	default:
		return fmt.Errorf("exchange.name must be 'bitmex' or 'sim'")
	}

	s := c.Strategy
	if s.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if _, err := market.ParseInterval(s.Interval); err != nil {
		return fmt.Errorf("strategy.interval: %w", err)
	}
	if s.FastPeriod < 1 || s.SlowPeriod < 1 {
		return fmt.Errorf("strategy periods must be positive")
	}
	if s.FastPeriod >= s.SlowPeriod {
		return fmt.Errorf("strategy.fast_period must be less than slow_period")
	}
	if s.Factor < 1 {
		return fmt.Errorf("strategy.factor must be at least 1")
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("strategy.quantity must be positive")
	}
	if s.Leverage < 0 {
		return fmt.Errorf("strategy.leverage must not be negative")
	}
	if s.ProfitTarget <= 0 {
		return fmt.Errorf("strategy.profit_target must be positive")
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("strategy.stop_loss must be positive")
	}

	if c.Risk.MaxPositions < 1 {
		return fmt.Errorf("risk.max_positions must be at least 1")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be positive")
	}
	if c.Risk.RiskPerTrade < 0 {
		return fmt.Errorf("risk.risk_per_trade must not be negative")
	}

	switch strings.ToLower(c.Feed.Reconnect) {
	case "", "fixed", "exponential", "backoff":
	default:
		return fmt.Errorf("feed.reconnect must be 'fixed' or 'exponential'")
	}

	for name, v := range map[string]string{
		"exchange.rate_limit":   c.Exchange.RateLimit,
		"exchange.timeout":      c.Exchange.Timeout,
		"strategy.settle_delay": c.Strategy.SettleDelay,
		"feed.reconnect_delay":  c.Feed.ReconnectDelay,
		"feed.max_delay":        c.Feed.MaxDelay,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Credentials reports an error when the live exchange has no API key pair.
func (c *Config) Credentials() error {
	if c.Exchange.Name != "bitmex" {
		return nil
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return errors.New("BITMEX_API_KEY and BITMEX_API_SECRET must be set")
	}
	return nil
}

// Limits returns the risk gate limits.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxDailyLoss: c.Risk.MaxDailyLoss,
		MaxPositions: c.Risk.MaxPositions,
		RiskPerTrade: c.Risk.RiskPerTrade,
	}
}

func (c *Config) RateLimit() time.Duration {
	return mustDuration(c.Exchange.RateLimit)
}

func (c *Config) Timeout() time.Duration {
	return mustDuration(c.Exchange.Timeout)
}

func (c *Config) SettleDelay() time.Duration {
	return mustDuration(c.Strategy.SettleDelay)
}

func (c *Config) ReconnectDelay() time.Duration {
	return mustDuration(c.Feed.ReconnectDelay)
}

func (c *Config) MaxReconnectDelay() time.Duration {
	return mustDuration(c.Feed.MaxDelay)
}

// parseDuration treats "" as zero so the consumer applies its own default.
// A negative value is allowed; the REST client reads it as "no limit".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is only safe after Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:      "bitmex",
			Test:      true,
			RateLimit: "1s",
			Timeout:   "30s",
		},
		Strategy: StrategyConfig{
			Symbol:       "XBTUSD",
			Interval:     "5m",
			FastPeriod:   20,
			SlowPeriod:   120,
			Factor:       5,
			Quantity:     100,
			Leverage:     1,
			ProfitTarget: 900,
			StopLoss:     300,
			SettleDelay:  "5s",
		},
		Risk: RiskConfig{
			MaxPositions: 1,
			MaxDailyLoss: 500,
			RiskPerTrade: 100,
		},
		Feed: FeedConfig{
			Reconnect:      "fixed",
			ReconnectDelay: "5s",
			MaxDelay:       "1m",
		},
		Journal: JournalConfig{
			DBPath: "./emacross.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
