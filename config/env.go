package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey       = "BITMEX_API_KEY"
	EnvAPISecret    = "BITMEX_API_SECRET"
	EnvTest         = "TEST"
	EnvSymbol       = "SYMBOL"
	EnvQuantity     = "EMA_CROSS_V1_QTY"
	EnvLeverage     = "EMA_CROSS_V1_LEVERAGE"
	EnvProfitTarget = "EMA_CROSS_V1_PROFIT_TARGET"
	EnvStopLoss     = "EMA_CROSS_V1_STOP_LOSS"
	EnvMaxPositions = "EMA_CROSS_V1_MAX_POSITIONS"
	EnvMaxDailyLoss = "EMA_CROSS_V1_MAX_DAILY_LOSS"
	EnvRiskPerTrade = "EMA_CROSS_V1_RISK_PER_TRADE"
	EnvFastPeriod   = "EMA_CROSS_V1_FAST_PERIOD"
	EnvSlowPeriod   = "EMA_CROSS_V1_SLOW_PERIOD"
	EnvInterval     = "EMA_CROSS_V1_INTERVAL"
	EnvFactor       = "EMA_CROSS_V1_FACTOR"
)

// ApplyEnv loads envFile into the process environment (variables already set
// win) and overlays every variable that is set onto c. A missing envFile is
// not an error.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	c.Exchange.APIKey = getEnvString(EnvAPIKey, c.Exchange.APIKey)
	c.Exchange.APISecret = getEnvString(EnvAPISecret, c.Exchange.APISecret)
	c.Strategy.Symbol = getEnvString(EnvSymbol, c.Strategy.Symbol)
	c.Strategy.Interval = getEnvString(EnvInterval, c.Strategy.Interval)

	var errs []error
	if v, ok := os.LookupEnv(EnvTest); ok {
		c.Exchange.Test = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{EnvQuantity, &c.Strategy.Quantity},
		{EnvLeverage, &c.Strategy.Leverage},
		{EnvProfitTarget, &c.Strategy.ProfitTarget},
		{EnvStopLoss, &c.Strategy.StopLoss},
		{EnvMaxDailyLoss, &c.Risk.MaxDailyLoss},
		{EnvRiskPerTrade, &c.Risk.RiskPerTrade},
	}
	for _, f := range floats {
		errs = append(errs, getEnvFloat(f.key, f.dst))
	}
	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxPositions, &c.Risk.MaxPositions},
		{EnvFastPeriod, &c.Strategy.FastPeriod},
		{EnvSlowPeriod, &c.Strategy.SlowPeriod},
		{EnvFactor, &c.Strategy.Factor},
	}
	for _, i := range ints {
		errs = append(errs, getEnvInt(i.key, i.dst))
	}
	return errors.Join(errs...)
}

func getEnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, dst *float64) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func getEnvInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
