package indicators

import (
	"github.com/rustyeddy/emacross/market"
)

// Engine evaluates EMAs over the trailing period*Factor window of a series.
// Every call recomputes from the window; nothing is carried between calls.
type Engine struct {
	Factor int
}

func NewEngine(factor int) Engine {
	if factor <= 0 {
		factor = DefaultFactor
	}
	return Engine{Factor: factor}
}

// Window is the number of closes a period needs.
func (e Engine) Window(period int) int {
	return period * e.factor()
}

// Current is the EMA as of the last closed bar in s.
func (e Engine) Current(s *market.PriceSeries, period int) (float64, error) {
	return ComputeEMA(s.Tail(e.Window(period)), period, e.factor())
}

// Previous is the EMA as of the bar before the last one: the same computation
// run over s with its last close removed.
func (e Engine) Previous(s *market.PriceSeries, period int) (float64, error) {
	return e.Current(s.DropLast(), period)
}

func (e Engine) factor() int {
	if e.Factor <= 0 {
		return DefaultFactor
	}
	return e.Factor
}
