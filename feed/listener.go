// Package feed streams closed candles from the exchange's realtime websocket
// and hands each one to a handler, in arrival order.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/metrics"
)

// Handler is called once per closed candle. A returned error stops the
// listener; handlers log and swallow anything that is not fatal.
type Handler func(ctx context.Context, c market.Candle) error

type Config struct {
	URL      string
	Symbol   string
	Interval string

	Reconnect        ReconnectPolicy // default FixedDelay{5s}
	HandshakeTimeout time.Duration   // default 10s
	ReadTimeout      time.Duration   // 0 disables the read deadline
	PingInterval     time.Duration   // 0 disables pings
}

type Listener struct {
	cfg     Config
	handler Handler
	log     logging.Scoped

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewListener(cfg Config, h Handler, l logging.Logger) (*Listener, error) {
	if cfg.URL == "" || cfg.Symbol == "" || cfg.Interval == "" {
		return nil, errors.New("feed: url, symbol and interval are required")
	}
	if h == nil {
		return nil, errors.New("feed: handler is required")
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = FixedDelay{Delay: DefaultReconnectDelay}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Listener{cfg: cfg, handler: h, log: logging.For(l, "feed")}, nil
}

// fatal carries a handler error out of the read loop.
type fatal struct{ err error }

func (f fatal) Error() string { return f.err.Error() }
func (f fatal) Unwrap() error { return f.err }

// Run connects, subscribes and delivers candles until ctx is done, reconnecting
// after every drop. It returns nil on cancellation and the handler's error if
// the handler fails.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.close)
	defer stop()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := l.session(ctx)
		var f fatal
		if errors.As(err, &f) {
			l.close()
			return f.err
		}
		if ctx.Err() != nil {
			l.log.Infof("feed closed")
			return nil
		}
		if connected {
			attempt = 0
		}

		delay := l.cfg.Reconnect.Next(attempt)
		attempt++
		l.log.Warnf("connection to %s lost: %v; reconnecting in %s", l.cfg.URL, err, delay)
		metrics.FeedReconnects.Inc()

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection until it drops. connected reports whether the
// subscription was sent.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: l.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.cfg.URL, http.Header{})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer l.close()

	// ctx may have ended while dialing
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	topic := Topic(l.cfg.Interval, l.cfg.Symbol)
	if err := l.writeJSON(subscribe{Op: "subscribe", Args: []string{topic}}); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	l.log.Infof("connected to %s, subscribed to %s", l.cfg.URL, topic)

	if l.cfg.PingInterval > 0 {
		done := make(chan struct{})
		defer close(done)
		go l.ping(conn, done)
	}

	for {
		if l.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if err := l.dispatch(ctx, data); err != nil {
			return true, fatal{err}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, data []byte) error {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		l.log.Warnf("dropping undecodable message: %v", err)
		return nil
	}
	switch {
	case m.Error != "":
		l.log.Errorf("exchange error: %s", m.Error)
		return nil
	case m.Success != nil:
		l.log.Infof("subscription %s success=%t", m.Subscribe, *m.Success)
		return nil
	case m.Info != "":
		l.log.Debugf("info: %s", m.Info)
		return nil
	}

	candles, err := closedCandles(m, l.cfg.Symbol)
	if err != nil {
		l.log.Warnf("dropping message: %v", err)
		return nil
	}
	// shutdown closes the feed but does not cancel an evaluation in flight
	hctx := context.WithoutCancel(ctx)
	for _, c := range candles {
		l.log.Infof("closed candle %s %s", l.cfg.Symbol, c)
		if err := l.handler(hctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) ping(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(l.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			l.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			l.writeMu.Unlock()
			if err != nil {
				l.log.Warnf("ping: %v", err)
				l.close()
				return
			}
		}
	}
}

func (l *Listener) writeJSON(v any) error {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil {
		return errors.New("not connected")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return c.WriteJSON(v)
}

func (l *Listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}
