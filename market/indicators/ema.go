package indicators

import (
	"errors"
	"fmt"
)

// DefaultFactor is the warm-up multiplier: an EMA of period n needs n*DefaultFactor
// closes before its value is trusted.
const DefaultFactor = 5

// ErrInsufficientData is returned when a series is too short for a converged EMA.
var ErrInsufficientData = errors.New("insufficient data")

// EMA is a streaming Exponential Moving Average.
//
// The first Warmup() closes seed the average with their simple mean, after which
// every close is smoothed in with alpha = 2/(n+1). Feeding a series through Update
// yields exactly the same value as ComputeEMA over that series.
type EMA struct {
	n     int
	alpha float64

	seen  int
	sum   float64
	value float64
	ready bool

	name string
}

func NewEMA(period int) *EMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &EMA{
		n:     period,
		alpha: 2.0 / float64(period+1),
		name:  fmt.Sprintf("EMA(%d)", period),
	}
}

func (e *EMA) Name() string     { return e.name }
func (e *EMA) Warmup() int      { return e.n }
func (e *EMA) Ready() bool      { return e.ready }
func (e *EMA) Float64() float64 { return e.value }

func (e *EMA) Reset() {
	e.seen = 0
	e.sum = 0
	e.value = 0
	e.ready = false
}

func (e *EMA) Update(x float64) {
	e.seen++
	if e.seen <= e.n {
		e.sum += x
		e.value = e.sum / float64(e.seen)
		if e.seen == e.n {
			e.ready = true
		}
		return
	}
	e.value = e.alpha*x + (1.0-e.alpha)*e.value
}

// ComputeEMA returns the EMA of period over the whole of closes.
// It fails with ErrInsufficientData unless len(closes) >= period*factor.
func ComputeEMA(closes []float64, period, factor int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("ema: period must be > 0, got %d", period)
	}
	if factor <= 0 {
		factor = DefaultFactor
	}
	need := period * factor
	if len(closes) < need {
		return 0, fmt.Errorf("ema(%d): have %d closes, need %d: %w",
			period, len(closes), need, ErrInsufficientData)
	}

	e := NewEMA(period)
	for _, c := range closes {
		e.Update(c)
	}
	return e.Float64(), nil
}
