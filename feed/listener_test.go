package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/metrics"
)

func newWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1)
}

const insert = `{"table":"tradeBin5m","action":"insert","data":[
	{"timestamp":"2024-01-01T00:05:00.000Z","symbol":"XBTUSD","open":100,"high":110,"low":95,"close":105,"trades":10,"volume":1200},
	{"timestamp":"2024-01-01T00:05:00.000Z","symbol":"ETHUSD","open":1,"high":1,"low":1,"close":1,"trades":1,"volume":1}
]}`

const partial = `{"table":"tradeBin5m","action":"partial","data":[
	{"timestamp":"2024-01-01T00:00:00.000Z","symbol":"XBTUSD","open":1,"high":1,"low":1,"close":1,"volume":1}
]}`

func TestTopicAndURL(t *testing.T) {
	assert.Equal(t, "tradeBin5m:XBTUSD", Topic("5m", "XBTUSD"))
	assert.Equal(t, TestnetURL, URL(true))
	assert.Equal(t, MainnetURL, URL(false))
}

func TestClosedCandles(t *testing.T) {
	var m message
	require.NoError(t, json.Unmarshal([]byte(insert), &m))

	cs, err := closedCandles(m, "XBTUSD")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	c := cs[0]
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 110.0, c.High)
	assert.Equal(t, 95.0, c.Low)
	assert.Equal(t, 105.0, c.Close)
	assert.Equal(t, 1200.0, c.Volume)
	assert.True(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC).Equal(c.Time))

	require.NoError(t, json.Unmarshal([]byte(partial), &m))
	cs, err = closedCandles(m, "XBTUSD")
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestClosedCandlesMissingPrices(t *testing.T) {
	m := message{Table: "tradeBin1m", Action: "insert", Data: json.RawMessage(`[
		{"timestamp":"2024-01-01T00:01:00Z","symbol":"XBTUSD","open":null,"high":null,"low":null,"close":null,"volume":0},
		{"timestamp":"2024-01-01T00:02:00Z","symbol":"XBTUSD","open":null,"high":null,"low":null,"close":42,"volume":0}
	]`)}
	cs, err := closedCandles(m, "XBTUSD")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, market.Candle{Open: 42, High: 42, Low: 42, Close: 42, Time: time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)}, cs[0])
}

func TestReconnectPolicies(t *testing.T) {
	assert.Equal(t, 5*time.Second, FixedDelay{}.Next(0))
	assert.Equal(t, 5*time.Second, FixedDelay{Delay: 5 * time.Second}.Next(100))

	b := ExponentialBackoff{Base: time.Second, Max: 60 * time.Second}
	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, 2*time.Second, b.Next(1))
	assert.Equal(t, 32*time.Second, b.Next(5))
	assert.Equal(t, 60*time.Second, b.Next(6))
	assert.Equal(t, 60*time.Second, b.Next(31))
	assert.Equal(t, time.Second, b.Next(-1))

	p, ok := ParsePolicy("exponential", time.Second, time.Minute)
	require.True(t, ok)
	assert.IsType(t, ExponentialBackoff{}, p)
	p, ok = ParsePolicy("", 0, 0)
	require.True(t, ok)
	assert.Equal(t, DefaultReconnectDelay, p.Next(3))
	_, ok = ParsePolicy("linear", 0, 0)
	assert.False(t, ok)
}

func TestListenerSubscribesAndDelivers(t *testing.T) {
	subs := make(chan string, 4)
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(data)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"info":"Welcome to the BitMEX Realtime API."}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"success":true,"subscribe":"tradeBin5m:XBTUSD"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(partial))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(insert))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(strings.Replace(insert, `"close":105`, `"close":106`, 1)))
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []float64
	l, err := NewListener(Config{URL: wsURL(srv), Symbol: "XBTUSD", Interval: "5m"},
		func(ctx context.Context, c market.Candle) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, c.Close)
			if len(got) == 2 {
				cancel()
			}
			return nil
		}, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, []float64{105, 106}, got)
	assert.JSONEq(t, `{"op":"subscribe","args":["tradeBin5m:XBTUSD"]}`, <-subs)
}

func TestListenerReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(insert))
		// drop the connection
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := testutil.ToFloat64(metrics.FeedReconnects)
	var n atomic.Int32
	l, err := NewListener(Config{
		URL:       wsURL(srv),
		Symbol:    "XBTUSD",
		Interval:  "5m",
		Reconnect: FixedDelay{Delay: 10 * time.Millisecond},
	}, func(ctx context.Context, c market.Candle) error {
		if n.Add(1) == 3 {
			cancel()
		}
		return nil
	}, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, l.Run(ctx))
	assert.GreaterOrEqual(t, conns.Load(), int32(3))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.FeedReconnects)-before, 2.0)
}

func TestListenerRetriesFailedDial(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var delays []int
	policy := policyFunc(func(attempt int) time.Duration {
		delays = append(delays, attempt)
		if attempt == 2 {
			cancel()
		}
		return time.Millisecond
	})

	l, err := NewListener(Config{URL: url, Symbol: "XBTUSD", Interval: "5m", Reconnect: policy},
		func(context.Context, market.Candle) error { return nil }, logging.Nop)
	require.NoError(t, err)
	require.NoError(t, l.Run(ctx))
	assert.Equal(t, []int{0, 1, 2}, delays)
}

type policyFunc func(int) time.Duration

func (f policyFunc) Next(n int) time.Duration { return f(n) }

func TestListenerStopsOnHandlerError(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(insert))
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	initErr := &broker.InitError{Exchange: "bitmex", Err: errors.New("invalid api key")}
	l, err := NewListener(Config{URL: wsURL(srv), Symbol: "XBTUSD", Interval: "5m"},
		func(context.Context, market.Candle) error { return initErr }, logging.Nop)
	require.NoError(t, err)

	err = l.Run(ctx)
	assert.ErrorIs(t, err, initErr)
}

func TestListenerCancelWhileReading(t *testing.T) {
	connected := make(chan struct{})
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		close(connected)
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	l, err := NewListener(Config{URL: wsURL(srv), Symbol: "XBTUSD", Interval: "5m"},
		func(context.Context, market.Candle) error { return nil }, logging.Nop)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-connected
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewListenerValidates(t *testing.T) {
	h := func(context.Context, market.Candle) error { return nil }
	_, err := NewListener(Config{Symbol: "XBTUSD", Interval: "5m"}, h, nil)
	assert.Error(t, err)
	_, err = NewListener(Config{URL: "ws://x", Symbol: "XBTUSD", Interval: "5m"}, nil, nil)
	assert.Error(t, err)
}
