// Package metrics exposes Prometheus metrics for the trading pipeline and a
// /healthz endpoint summarising feed and dependency health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sniper"

// Metrics holds all Prometheus metrics for the bot. It satisfies
// strategy.Recorder.
type Metrics struct {
	CandlesTotal      prometheus.Counter
	CandleLag         prometheus.Gauge
	FeedReconnects    prometheus.Counter
	SignalsTotal      *prometheus.CounterVec // labels: action
	OrdersTotal       *prometheus.CounterVec // labels: side, result
	OpenPositions     prometheus.Gauge
	ClosedPositions   *prometheus.CounterVec // labels: outcome
	RealizedPnL       prometheus.Gauge
	Balance           prometheus.Gauge
	ChannelDropsTotal *prometheus.CounterVec // labels: channel
	FanoutDropsTotal  *prometheus.CounterVec // labels: subscriber

	// Redis publisher circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates the bot metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_total",
			Help:      "Closed candles processed by the pipeline",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candle_lag_seconds",
			Help:      "Lag between candle open time and processing",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Market data WebSocket reconnection attempts",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by the indicator engine",
		}, []string{"action"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted to the exchange",
		}, []string{"side", "result"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently open",
		}),
		ClosedPositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closed_positions_total",
			Help:      "Positions closed, by outcome",
		}, []string{"outcome"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized PnL since start in quote currency",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Last known quote-asset balance",
		}),
		ChannelDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_drops_total",
			Help:      "Events dropped because an output channel was full",
		}, []string{"channel"}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_drops_total",
			Help:      "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_trips_total",
			Help:      "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.CandleLag,
		m.FeedReconnects,
		m.SignalsTotal,
		m.OrdersTotal,
		m.OpenPositions,
		m.ClosedPositions,
		m.RealizedPnL,
		m.Balance,
		m.ChannelDropsTotal,
		m.FanoutDropsTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

func (m *Metrics) CandleProcessed() { m.CandlesTotal.Inc() }

func (m *Metrics) SignalEmitted(action string) { m.SignalsTotal.WithLabelValues(action).Inc() }

func (m *Metrics) OrderPlaced(side string) { m.OrdersTotal.WithLabelValues(side, "placed").Inc() }

func (m *Metrics) OrderFailed(side string) { m.OrdersTotal.WithLabelValues(side, "failed").Inc() }

func (m *Metrics) PositionsOpen(n int) { m.OpenPositions.Set(float64(n)) }

// PositionClosed counts the close as a win when pnl > 0 and adds pnl to the
// realized total.
func (m *Metrics) PositionClosed(pnl float64) {
	outcome := "loss"
	if pnl > 0 {
		outcome = "win"
	}
	m.ClosedPositions.WithLabelValues(outcome).Inc()
	m.RealizedPnL.Add(pnl)
}

func (m *Metrics) ChannelDropped(channel string) { m.ChannelDropsTotal.WithLabelValues(channel).Inc() }

// FanoutDropped satisfies bus.DropCounter.
func (m *Metrics) FanoutDropped(subscriber string) {
	m.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
}

// BreakerStateChanged records a Redis breaker transition; to is 0, 1 or 2.
func (m *Metrics) BreakerStateChanged(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
