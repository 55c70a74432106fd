// Package metrics holds the Prometheus series the trader updates while running.
//
//   - emacross_evaluations_total{result}   strategy passes by outcome
//   - emacross_signals_total{signal}       crossover classifications
//   - emacross_risk_rejections_total{code} entries blocked by the risk gate
//   - emacross_orders_total{type,side}     orders accepted by the exchange
//   - emacross_bracket_failures_total{unhedged} partial or failed bracket placements
//   - emacross_feed_reconnects_total       market data reconnect attempts
//   - emacross_active_bracket              1 while a bracket is outstanding
//
// Series are registered in init() and served by Serve at /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emacross_evaluations_total",
			Help: "Strategy evaluations by result",
		},
		[]string{"result"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emacross_signals_total",
			Help: "Crossover signals detected",
		},
		[]string{"signal"},
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emacross_risk_rejections_total",
			Help: "Entries blocked by the risk gate, by violation code",
		},
		[]string{"code"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emacross_orders_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"type", "side"},
	)

	BracketFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emacross_bracket_failures_total",
			Help: "Bracket placements that failed, split by whether a position was left unhedged",
		},
		[]string{"unhedged"},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emacross_feed_reconnects_total",
			Help: "Market data feed reconnect attempts",
		},
	)

	ActiveBracket = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "emacross_active_bracket",
			Help: "1 while a bracket is outstanding, 0 otherwise",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Evaluations,
		Signals,
		RiskRejections,
		Orders,
		BracketFailures,
		FeedReconnects,
		ActiveBracket,
	)
}

// BracketFailed counts a failed bracket placement.
func BracketFailed(unhedged bool) {
	BracketFailures.WithLabelValues(strconv.FormatBool(unhedged)).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
