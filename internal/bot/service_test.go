package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"sniperbot/config"
	"sniperbot/internal/execution"
	"sniperbot/internal/gateway"
	"sniperbot/internal/indicator"
	"sniperbot/internal/marketdata/ws"
	"sniperbot/internal/metrics"
	"sniperbot/internal/model"
	"sniperbot/internal/notification"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/store/memory"
	sqlitestore "sniperbot/internal/store/sqlite"
	"sniperbot/internal/strategy"
)

const testSymbol = "ETH/USDT"

type fakeSnapshots struct {
	mu    sync.Mutex
	data  []byte
	err   error
	saved [][]byte
}

func (f *fakeSnapshots) SaveSnapshotJSON(_ context.Context, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, data)
	return nil
}

func (f *fakeSnapshots) ReadSnapshotJSON(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type recordingPublisher struct {
	mu      sync.Mutex
	signals []model.Signal
	orders  []model.OrderRequest
}

func (p *recordingPublisher) PublishSignal(_ context.Context, sig model.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *recordingPublisher) PublishOrder(_ context.Context, o model.OrderRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, o)
	return nil
}

func (p *recordingPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals), len(p.orders)
}

func rising(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := decimal.NewFromInt(int64(100 + i))
		out[i] = model.Candle{Timestamp: int64(i) * 60, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memory.Ledger) {
	t.Helper()
	history, err := sqlitestore.New(filepath.Join(t.TempDir(), "sniper.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	ledger := memory.New()
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	svc := &Service{
		cfg:      &config.Config{Trading: config.DefaultTrading()},
		symbol:   testSymbol,
		history:  history,
		hub:      gateway.NewHub(),
		prom:     prom,
		health:   metrics.NewHealthStatus(),
		notifier: notification.NewService(),
		engine: strategy.New(strategy.Deps{
			Indicators:     indicator.NewEngine(),
			Positions:      portfolio.New(ledger, decimal.RequireFromString("0.02")),
			Exchange:       execution.NewPaperExchange(decimal.NewFromInt(1000), 0),
			Signals:        ledger,
			Recorder:       prom,
			InitialBalance: decimal.NewFromInt(1000),
		}),
	}
	return svc, ledger
}

func encodedSnapshot(t *testing.T, n int) []byte {
	t.Helper()
	eng := indicator.NewEngine()
	eng.Seed(rising(n))
	data, err := eng.Snapshot(testSymbol).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

// ────────────────────────────────────────────────────────────
// Restore + snapshot
// ────────────────────────────────────────────────────────────

func TestRestoreIndicators(t *testing.T) {
	tests := []struct {
		name    string
		stores  func(t *testing.T) []*fakeSnapshots
		history int
		want    int
	}{
		{
			name: "first snapshot wins",
			stores: func(t *testing.T) []*fakeSnapshots {
				return []*fakeSnapshots{{data: encodedSnapshot(t, 7)}, {data: encodedSnapshot(t, 3)}}
			},
			want: 7,
		},
		{
			name: "falls through failing and empty stores",
			stores: func(t *testing.T) []*fakeSnapshots {
				return []*fakeSnapshots{{err: errors.New("down")}, {}, {data: []byte("{")}, {data: encodedSnapshot(t, 4)}}
			},
			want: 4,
		},
		{
			name:    "seeds from history without snapshots",
			stores:  func(*testing.T) []*fakeSnapshots { return nil },
			history: 12,
			want:    12,
		},
		{
			name:   "cold start",
			stores: func(*testing.T) []*fakeSnapshots { return []*fakeSnapshots{{}} },
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()
			for _, s := range tt.stores(t) {
				svc.snapshots = append(svc.snapshots, s)
			}
			for _, c := range rising(tt.history) {
				if err := svc.history.SaveCandle(ctx, testSymbol, c); err != nil {
					t.Fatalf("save candle: %v", err)
				}
			}

			svc.restoreIndicators(ctx)
			if got := svc.engine.Indicators().Len(); got != tt.want {
				t.Errorf("expected %d candles, got %d", tt.want, got)
			}
		})
	}
}

func TestSaveSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	a, b := &fakeSnapshots{}, &fakeSnapshots{}
	svc.snapshots = []model.SnapshotStore{a, b}
	ctx := context.Background()

	svc.saveSnapshot(ctx)
	if len(a.saved) != 0 {
		t.Errorf("expected no snapshot for empty window, got %d", len(a.saved))
	}

	svc.engine.Indicators().Seed(rising(5))
	svc.saveSnapshot(ctx)
	for i, s := range []*fakeSnapshots{a, b} {
		if len(s.saved) != 1 {
			t.Fatalf("store %d: expected 1 snapshot, got %d", i, len(s.saved))
		}
		snap, err := indicator.DecodeSnapshot(s.saved[0])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(snap.Candles) != 5 || snap.Symbol != testSymbol {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	}
}

func TestSnapshotRoundTripThroughSQLite(t *testing.T) {
	svc, _ := newTestService(t)
	svc.snapshots = []model.SnapshotStore{svc.history}
	ctx := context.Background()

	svc.engine.Indicators().Seed(rising(9))
	svc.saveSnapshot(ctx)
	svc.engine.Indicators().Reset()

	svc.restoreIndicators(ctx)
	if got := svc.engine.Indicators().Len(); got != 9 {
		t.Errorf("expected 9 restored candles, got %d", got)
	}
}

// ────────────────────────────────────────────────────────────
// Loops
// ────────────────────────────────────────────────────────────

func TestHandleCandle(t *testing.T) {
	svc, ledger := newTestService(t)
	svc.candles = ledger
	ctx := context.Background()

	for _, c := range rising(3) {
		svc.handleCandle(ctx, c)
	}
	if got := svc.engine.Indicators().Len(); got != 3 {
		t.Errorf("expected 3 processed candles, got %d", got)
	}
	stored, err := ledger.LoadCandles(ctx, testSymbol, 10)
	if err != nil || len(stored) != 3 {
		t.Errorf("expected 3 persisted candles, got %d (%v)", len(stored), err)
	}
	if got := testutil.ToFloat64(svc.prom.CandlesTotal); got != 3 {
		t.Errorf("expected candles_total 3, got %v", got)
	}
}

func TestMonitors_ForwardToPublishers(t *testing.T) {
	svc, _ := newTestService(t)
	pub := &recordingPublisher{}
	svc.publishers = []model.Publisher{pub, svc.hub}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); svc.monitorSignals(ctx) }()
	go func() { defer wg.Done(); svc.monitorOrders(ctx) }()

	// 50 rising candles emit one signal and one entry order
	for _, c := range rising(indicator.TrendLookback) {
		svc.engine.ProcessCandle(ctx, c, testSymbol)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sigs, orders := pub.counts()
		if sigs >= 1 && orders >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected forwarded signal and order, got %d/%d", sigs, orders)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if svc.hub.Seq() < 2 {
		t.Errorf("expected hub to receive both events, got seq %d", svc.hub.Seq())
	}
}

func TestRefreshBalance(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.refreshBalanceOnce(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := testutil.ToFloat64(svc.prom.Balance); got != 1000 {
		t.Errorf("expected balance gauge 1000, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Construction
// ────────────────────────────────────────────────────────────

func TestNotificationBackends(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want int
	}{
		{"disabled", config.Config{WebhookURL: "http://x"}, 0},
		{"enabled without sinks logs", config.Config{Trading: config.Trading{NotificationsEnabled: true}}, 1},
		{"discord and telegram", config.Config{
			Trading:          config.Trading{NotificationsEnabled: true},
			WebhookURL:       "http://discord",
			TelegramBotToken: "tok",
			TelegramChatID:   "1",
		}, 2},
		{"telegram needs chat id", config.Config{
			Trading:          config.Trading{NotificationsEnabled: true},
			TelegramBotToken: "tok",
			AlertWebhookURL:  "http://hook",
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(notificationBackends(&tt.cfg)); got != tt.want {
				t.Errorf("expected %d backends, got %d", tt.want, got)
			}
		})
	}
}

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Trading:     config.DefaultTrading(),
		Paper:       true,
		SQLitePath:  filepath.Join(t.TempDir(), "data", "sniper.db"),
		APIAddr:     "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
	}
}

func TestNew_PaperWithSQLite(t *testing.T) {
	cfg := paperConfig(t)
	svc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.close()

	if _, err := os.Stat(cfg.SQLitePath); err != nil {
		t.Errorf("expected sqlite file to be created: %v", err)
	}
	if svc.Engine() == nil || svc.candles != nil {
		t.Errorf("expected engine and no postgres candle sink")
	}
	if len(svc.publishers) != 1 || len(svc.snapshots) != 1 {
		t.Errorf("expected hub-only publishing and sqlite-only snapshots, got %d/%d", len(svc.publishers), len(svc.snapshots))
	}
	if svc.notifier.Enabled() {
		t.Error("expected notifications disabled by default")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	svc, err := New(context.Background(), paperConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	svc.feed = ws.New(ws.IngestConfig{BaseURL: "ws://127.0.0.1:1", Symbol: testSymbol, Interval: "1m"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(svc.closers) != 0 {
		t.Errorf("expected stores closed, %d closers left", len(svc.closers))
	}
}
