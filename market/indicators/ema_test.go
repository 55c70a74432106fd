package indicators

import (
	"math"
	"testing"

	"github.com/rustyeddy/emacross/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA_WarmupAndReady(t *testing.T) {
	ema := NewEMA(3)

	require.False(t, ema.Ready())
	require.Equal(t, 3, ema.Warmup())

	ema.Update(1.0)
	require.False(t, ema.Ready())

	ema.Update(2.0)
	require.False(t, ema.Ready())

	ema.Update(3.0)
	require.True(t, ema.Ready())
	require.InDelta(t, 2.0, ema.Float64(), 1e-12)
}

func TestEMA_KnownSequence(t *testing.T) {
	// period = 2, alpha = 2/3
	//
	// sequence: 10, 11, 12, 13
	//
	// 1) seed = (10+11)/2 = 10.5
	// 2) 2/3*12 + 1/3*10.5 = 11.5
	// 3) 2/3*13 + 1/3*11.5 = 12.5
	got, err := ComputeEMA([]float64{10, 11, 12, 13}, 2, 2)
	require.NoError(t, err)
	require.InDelta(t, 12.5, got, 1e-9)
}

func TestEMA_Reset(t *testing.T) {
	ema := NewEMA(3)

	ema.Update(10)
	ema.Update(11)
	require.False(t, ema.Ready())

	ema.Reset()

	require.False(t, ema.Ready())
	require.Equal(t, 0.0, ema.Float64())

	ema.Update(20)
	require.Equal(t, 20.0, ema.Float64())
}

func TestComputeEMA_ConstantSeriesIsFixedPoint(t *testing.T) {
	for _, period := range []int{1, 3, 20, 120} {
		closes := make([]float64, period*DefaultFactor)
		for i := range closes {
			closes[i] = 50123.5
		}
		got, err := ComputeEMA(closes, period, DefaultFactor)
		require.NoError(t, err)
		assert.Equal(t, 50123.5, got, "period %d", period)
	}
}

func TestComputeEMA_InsufficientData(t *testing.T) {
	closes := make([]float64, 99)
	_, err := ComputeEMA(closes, 20, 5)
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = ComputeEMA(append(closes, 1), 20, 5)
	require.NoError(t, err)
}

func TestComputeEMA_BadPeriod(t *testing.T) {
	_, err := ComputeEMA([]float64{1, 2, 3}, 0, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

func TestComputeEMA_MatchesStreaming(t *testing.T) {
	closes := walk(300)

	e := NewEMA(20)
	for _, c := range closes {
		e.Update(c)
	}
	got, err := ComputeEMA(closes, 20, 5)
	require.NoError(t, err)
	assert.Equal(t, e.Float64(), got)
}

func TestEngine_PreviousIsRecomputedWithoutLastBar(t *testing.T) {
	eng := NewEngine(5)
	closes := walk(101)
	series := market.NewPriceSeries(0, closes...)

	prev, err := eng.Previous(series, 20)
	require.NoError(t, err)

	want, err := ComputeEMA(closes[:100], 20, 5)
	require.NoError(t, err)
	assert.Equal(t, want, prev)

	fromDropped, err := eng.Current(series.DropLast(), 20)
	require.NoError(t, err)
	assert.Equal(t, fromDropped, prev)

	cur, err := eng.Current(series, 20)
	require.NoError(t, err)
	assert.NotEqual(t, cur, prev)
}

func TestEngine_PreviousNeedsOneExtraBar(t *testing.T) {
	eng := NewEngine(5)
	series := market.NewPriceSeries(0, walk(100)...)

	_, err := eng.Current(series, 20)
	require.NoError(t, err)

	_, err = eng.Previous(series, 20)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestEngine_UsesTrailingWindowOnly(t *testing.T) {
	eng := NewEngine(2)
	long := append([]float64{1e6, -1e6, 42}, 10, 11, 12, 13)

	got, err := eng.Current(market.NewPriceSeries(0, long...), 2)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, got, 1e-9)
}

// walk is a deterministic, non-constant close series.
func walk(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 50000 + 250*math.Sin(float64(i)/7) + float64(i)
	}
	return out
}
