package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_ticks_total", Help: "Public trade ticks received from exchange streams"},
		[]string{"exchange", "symbol"},
	)
	CandlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_opened_total", Help: "Candles appended by live aggregation, gap fills included"},
		[]string{"exchange", "symbol", "timeframe"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"exchange", "symbol", "side"},
	)
	FillPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fill_polls_total", Help: "Order status polls issued while waiting for a fill"},
		[]string{"exchange"},
	)
	RestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rest_errors_total", Help: "Failed REST requests by failure kind"},
		[]string{"exchange", "kind"},
	)
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ws_reconnects_total", Help: "Stream reconnect attempts"},
		[]string{"exchange"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, CandlesTotal, OrdersTotal, FillPollsTotal, RestErrorsTotal, ReconnectsTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
