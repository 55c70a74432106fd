package market

import (
	"fmt"
	"strings"
	"time"
)

// Intervals lists the bar sizes the exchange can stream as closed candles.
var Intervals = map[string]time.Duration{
	"1m": time.Minute,
	"5m": 5 * time.Minute,
	"1h": time.Hour,
	"1d": 24 * time.Hour,
}

// ParseInterval maps an interval string like "5m" to its duration.
func ParseInterval(s string) (time.Duration, error) {
	d, ok := Intervals[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q (want 1m|5m|1h|1d)", s)
	}
	return d, nil
}
