package sim

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rustyeddy/emacross/market"
)

// WalkConfig shapes a synthetic candle series.
type WalkConfig struct {
	Start      float64       // first open
	Interval   time.Duration // bar size
	From       time.Time     // open time of the first bar
	Volatility float64       // per-bar noise as a fraction of Start, default 0.002
	Cycle      int           // trend period in bars, default 240
	Tick       float64       // prices are rounded to this, default 0.5
}

// Walk generates n closed candles whose closes follow a noisy, mean-reverting
// walk around a slow sine trend, so that fast/slow EMA crosses occur. The same
// rng state yields the same series.
func Walk(rng *rand.Rand, cfg WalkConfig, n int) []market.Candle {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	if cfg.Cycle <= 0 {
		cfg.Cycle = 240
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 0.5
	}
	sigma := cfg.Start * cfg.Volatility
	round := func(p float64) float64 { return math.Round(p/cfg.Tick) * cfg.Tick }

	out := make([]market.Candle, 0, n)
	prev := cfg.Start
	for i := range n {
		target := cfg.Start * (1 + 0.04*math.Sin(2*math.Pi*float64(i)/float64(cfg.Cycle)))
		cl := prev + 0.1*(target-prev) + rng.NormFloat64()*sigma

		c := market.Candle{
			Open:   round(prev),
			Close:  round(cl),
			Time:   cfg.From.Add(time.Duration(i) * cfg.Interval).UTC(),
			Volume: math.Round(1000 + rng.Float64()*9000),
		}
		c.High = round(max(c.Open, c.Close) + math.Abs(rng.NormFloat64())*sigma/2)
		c.Low = round(min(c.Open, c.Close) - math.Abs(rng.NormFloat64())*sigma/2)
		out = append(out, c)
		prev = cl
	}
	return out
}

// Replay moves the market through c the way the bar most likely traded:
// open, then the extreme nearest the open, then the other extreme, then close.
// Resting orders fill as their prices are crossed.
func (e *Exchange) Replay(symbol string, c market.Candle) {
	path := []float64{c.Open, c.Low, c.High, c.Close}
	if c.Close < c.Open {
		path = []float64{c.Open, c.High, c.Low, c.Close}
	}
	if !c.Time.IsZero() {
		e.SetTime(c.Time)
	}
	for _, px := range path {
		e.SetPrice(symbol, px)
	}
	e.mu.Lock()
	e.candles[symbol] = append(e.candles[symbol], c)
	e.mu.Unlock()
}
