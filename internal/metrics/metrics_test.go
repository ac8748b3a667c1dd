package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestMetrics_Recorder(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.CandleProcessed()
	m.CandleProcessed()
	m.SignalEmitted("Buy")
	m.OrderPlaced("Buy")
	m.OrderFailed("Sell")
	m.PositionsOpen(1)
	m.PositionClosed(8)
	m.PositionClosed(-3)
	m.ChannelDropped("signals")
	m.FanoutDropped("strategy")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"candles", testutil.ToFloat64(m.CandlesTotal), 2},
		{"signals buy", testutil.ToFloat64(m.SignalsTotal.WithLabelValues("Buy")), 1},
		{"orders placed", testutil.ToFloat64(m.OrdersTotal.WithLabelValues("Buy", "placed")), 1},
		{"orders failed", testutil.ToFloat64(m.OrdersTotal.WithLabelValues("Sell", "failed")), 1},
		{"open positions", testutil.ToFloat64(m.OpenPositions), 1},
		{"wins", testutil.ToFloat64(m.ClosedPositions.WithLabelValues("win")), 1},
		{"losses", testutil.ToFloat64(m.ClosedPositions.WithLabelValues("loss")), 1},
		{"realized pnl", testutil.ToFloat64(m.RealizedPnL), 5},
		{"channel drops", testutil.ToFloat64(m.ChannelDropsTotal.WithLabelValues("signals")), 1},
		{"fanout drops", testutil.ToFloat64(m.FanoutDropsTotal.WithLabelValues("strategy")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetrics_BreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.BreakerStateChanged(1)
	m.BreakerStateChanged(2)
	m.BreakerStateChanged(0)
	m.BreakerStateChanged(1)

	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 2 {
		t.Errorf("expected 2 trips, got %v", got)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerState); got != 1 {
		t.Errorf("expected state 1, got %v", got)
	}
}

func TestHealth_Statuses(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		feed       bool
		probes     map[string]ProbeFunc
		wantStatus string
		wantCode   int
	}{
		{"all good", true, map[string]ProbeFunc{"ledger": ok, "redis": ok}, "healthy", http.StatusOK},
		{"feed down", false, map[string]ProbeFunc{"ledger": ok}, "degraded", http.StatusServiceUnavailable},
		{"one probe failing", true, map[string]ProbeFunc{"ledger": ok, "redis": failing}, "degraded", http.StatusServiceUnavailable},
		{"all probes failing", true, map[string]ProbeFunc{"ledger": failing}, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.SetFeedConnected(tt.feed)
			h.SetLastCandleTime(time.Now())
			for name, fn := range tt.probes {
				h.AddProbe(name, fn)
			}
			h.CheckNow(context.Background())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body healthReport
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, body.Status)
			}
			if len(body.Dependencies) != len(tt.probes) {
				t.Errorf("expected %d dependencies, got %d", len(tt.probes), len(body.Dependencies))
			}
		})
	}
}

func TestServer_Routes(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.CandleProcessed()
	h := NewHealthStatus()
	h.SetFeedConnected(true)

	srv := httptest.NewServer(NewServer(":0", h, reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(buf.String(), "sniper_candles_total 1") {
		t.Errorf("expected candle counter in exposition, got:\n%s", buf.String())
	}

	hresp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", hresp.StatusCode)
	}
}
