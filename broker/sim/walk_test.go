package sim

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/market"
)

func TestWalk(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := WalkConfig{Start: 50000, Interval: 5 * time.Minute, From: from}

	a := Walk(rand.New(rand.NewPCG(7, 7)), cfg, 500)
	b := Walk(rand.New(rand.NewPCG(7, 7)), cfg, 500)
	require.Len(t, a, 500)
	assert.Equal(t, a, b)

	for i, c := range a {
		assert.True(t, from.Add(time.Duration(i)*5*time.Minute).Equal(c.Time))
		assert.GreaterOrEqual(t, c.High, max(c.Open, c.Close), "bar %d", i)
		assert.LessOrEqual(t, c.Low, min(c.Open, c.Close), "bar %d", i)
		assert.Greater(t, c.Low, 0.0)
		assert.Zero(t, c.Close-float64(int64(c.Close*2))/2, "close on the 0.5 tick")
	}
	assert.NotEqual(t, a, Walk(rand.New(rand.NewPCG(8, 8)), cfg, 500))
}

func TestReplayFillsOnTheWay(t *testing.T) {
	ctx := context.Background()
	ex := New(nil)
	ex.SetPrice("XBTUSD", 100)

	_, err := ex.CreateOrder(ctx, broker.OrderRequest{Symbol: "XBTUSD", Type: broker.Market, Side: broker.Buy, Quantity: 1})
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, broker.OrderRequest{Symbol: "XBTUSD", Type: broker.Limit, Side: broker.Sell, Quantity: 1, Price: 110, ReduceOnly: true})
	require.NoError(t, err)

	// the high touches the target even though the bar closes lower
	ex.Replay("XBTUSD", market.Candle{Open: 100, High: 111, Low: 99, Close: 101})

	ps, err := ex.FetchPositions(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Empty(t, broker.OpenPositions(ps))

	bal, err := ex.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, bal.RealizedPnL)

	px, err := ex.GetCurrentPrice(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, 101.0, px)

	cs, err := ex.FetchCandles(ctx, "XBTUSD", "5m", 0)
	require.NoError(t, err)
	assert.Len(t, cs, 1)
}
