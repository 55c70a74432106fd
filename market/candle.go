package market

import (
	"fmt"
	"time"
)

// Candle is one closed OHLCV bar. It is never mutated after the feed hands it over.
type Candle struct {
	time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func (c Candle) String() string {
	return fmt.Sprintf("%s O=%g H=%g L=%g C=%g V=%g",
		c.Time.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// Closes returns the close prices of candles, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
