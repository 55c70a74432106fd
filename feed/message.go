package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/emacross/market"
)

const (
	MainnetURL = "wss://www.bitmex.com/realtime"
	TestnetURL = "wss://testnet.bitmex.com/realtime"
)

// URL returns the realtime endpoint for the test or live network.
func URL(test bool) string {
	if test {
		return TestnetURL
	}
	return MainnetURL
}

// Topic is the closed-candle subscription for symbol, e.g. "tradeBin5m:XBTUSD".
func Topic(interval, symbol string) string {
	return "tradeBin" + interval + ":" + symbol
}

type subscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type message struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`

	Success   *bool  `json:"success"`
	Subscribe string `json:"subscribe"`
	Info      string `json:"info"`
	Error     string `json:"error"`
}

type bin struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	Close     *float64  `json:"close"`
	Volume    float64   `json:"volume"`
}

// closedCandles returns the candles for symbol in an "insert" message on a
// tradeBin table. Snapshots ("partial"), other tables and bins without a close
// yield nothing.
func closedCandles(m message, symbol string) ([]market.Candle, error) {
	if m.Action != "insert" || !strings.HasPrefix(m.Table, "tradeBin") {
		return nil, nil
	}
	var bins []bin
	if err := json.Unmarshal(m.Data, &bins); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Table, err)
	}
	out := make([]market.Candle, 0, len(bins))
	for _, b := range bins {
		if b.Symbol != symbol || b.Close == nil {
			continue
		}
		c := market.Candle{Close: *b.Close, Time: b.Timestamp.UTC(), Volume: b.Volume}
		c.Open = value(b.Open, c.Close)
		c.High = value(b.High, c.Close)
		c.Low = value(b.Low, c.Close)
		out = append(out, c)
	}
	return out, nil
}

func value(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}
