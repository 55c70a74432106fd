package strategies

import (
	"context"

	"github.com/rustyeddy/emacross/market"
)

// Strategy is driven by the market data listener, once per closed candle.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, c market.Candle) (Evaluation, error)
}

// Detect classifies the last closed bar. The rules are checked in order:
//
//	price > emaFast && prevPrice <= prevEMAFast && price > emaSlow  -> GoldenCross
//	price < emaFast && prevPrice >= prevEMAFast && price < emaSlow  -> DeathCross
//
// prevEMASlow is accepted for logging symmetry and does not take part.
func Detect(price, prevPrice, emaFast, emaSlow, prevEMAFast, prevEMASlow float64) market.Signal {
	switch {
	case price > emaFast && prevPrice <= prevEMAFast && price > emaSlow:
		return market.GoldenCross
	case price < emaFast && prevPrice >= prevEMAFast && price < emaSlow:
		return market.DeathCross
	default:
		return market.None
	}
}
