// Package bot wires the trading pipeline into a running service:
// market feed, indicator engine, orchestrator, ledgers, publishers,
// notifications and the metrics and operator HTTP servers.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sniperbot/config"
	"sniperbot/internal/api"
	"sniperbot/internal/execution"
	"sniperbot/internal/gateway"
	"sniperbot/internal/indicator"
	"sniperbot/internal/marketdata/bus"
	"sniperbot/internal/marketdata/ws"
	"sniperbot/internal/metrics"
	"sniperbot/internal/model"
	"sniperbot/internal/notification"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/store/postgres"
	redisstore "sniperbot/internal/store/redis"
	sqlitestore "sniperbot/internal/store/sqlite"
	"sniperbot/internal/strategy"
	"sniperbot/pkg/binance"
)

const (
	balanceInterval  = 60 * time.Second
	snapshotInterval = 30 * time.Second
	healthInterval   = 10 * time.Second
	candleBuffer     = 100
)

// Service is the top-level runtime. It owns every collaborator and
// coordinates goroutine lifecycle.
type Service struct {
	cfg    *config.Config
	symbol string

	engine   *strategy.Engine
	notifier *notification.Service
	feed     *ws.Ingest
	fanout   *bus.FanOut
	hub      *gateway.Hub

	history    *sqlitestore.Writer
	candles    model.CandleStore // optional second candle sink (Postgres)
	snapshots  []model.SnapshotStore
	publishers []model.Publisher

	prom     *metrics.Metrics
	registry *prometheus.Registry
	health   *metrics.HealthStatus

	metricsSrv *metrics.Server
	apiSrv     *api.Server

	closers []func()
}

// New connects every store and builds the pipeline. Optional backends
// (Postgres, Redis, notifications) are enabled by configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		symbol:   cfg.Trading.Symbol,
		registry: prometheus.NewRegistry(),
		health:   metrics.NewHealthStatus(),
		hub:      gateway.NewHub(),
	}
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.prom = metrics.NewMetrics(svc.registry)

	ok := false
	defer func() {
		if !ok {
			svc.close()
		}
	}()

	// ---- SQLite candle history + snapshot fallback ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bot: create data dir: %w", err)
		}
	}
	history, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	svc.history = history
	svc.closers = append(svc.closers, func() { history.Close() })

	// ---- Ledger ----
	var (
		ledger  model.Ledger
		signals model.SignalStore
		journal *execution.Journal
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, pg.Close)
		ledger, signals, svc.candles = pg, pg, pg
		svc.health.AddProbe("ledger", pg.Ping)
	} else {
		journal, err = execution.NewJournal(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { journal.Close() })
		ledger, signals = journal, journal
		svc.health.AddProbe("ledger", journal.Ping)
		slog.Info("DATABASE_URL not set, using SQLite journal", "path", cfg.SQLitePath)
	}

	// ---- Exchange ----
	var exchange model.Exchange
	if cfg.Paper {
		paper := execution.NewPaperExchange(cfg.InitialBalanceDecimal(), cfg.PaperSlippageBps)
		if journal != nil {
			paper.WithRecorder(journal)
		}
		exchange = paper
		slog.Info("paper trading enabled", "slippage_bps", cfg.PaperSlippageBps)
	} else {
		client := binance.NewClient(binance.Config{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			Testnet:   cfg.Trading.Testnet,
		})
		exchange = execution.NewExecutor(client, execution.DefaultQuoteAsset)
		svc.health.AddProbe("exchange", client.Ping)
	}

	// ---- Redis publisher (optional) ----
	svc.publishers = append(svc.publishers, svc.hub)
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Warn("redis unavailable, publishing disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			pub.Breaker().OnStateChange = func(_, to redisstore.State) {
				svc.prom.BreakerStateChanged(int(to))
			}
			svc.publishers = append(svc.publishers, pub)
			svc.snapshots = append(svc.snapshots, pub)
			svc.health.AddProbe("redis", pub.Ping)
			svc.closers = append(svc.closers, func() { pub.Close() })
		}
	}
	svc.snapshots = append(svc.snapshots, history)

	// ---- Notifications ----
	svc.notifier = notification.NewService(notificationBackends(cfg)...)

	// ---- Orchestrator ----
	deps := strategy.Deps{
		Indicators:     indicator.NewEngine(),
		Positions:      portfolio.New(ledger, cfg.RiskPerTradeDecimal()),
		Exchange:       exchange,
		Signals:        signals,
		Recorder:       svc.prom,
		InitialBalance: cfg.InitialBalanceDecimal(),
	}
	if svc.notifier.Enabled() {
		deps.Notifier = svc.notifier
	}
	svc.engine = strategy.New(deps)

	// ---- Feed + fan-out ----
	streamURL := ws.MainnetStreamURL
	if cfg.Trading.Testnet {
		streamURL = ws.TestnetStreamURL
	}
	svc.feed = ws.New(ws.IngestConfig{BaseURL: streamURL, Symbol: svc.symbol, Interval: cfg.Trading.Timeframe})
	svc.feed.OnConnect = func() { svc.health.SetFeedConnected(true) }
	svc.feed.OnDisconnect = func(error) { svc.health.SetFeedConnected(false) }
	svc.feed.OnReconnect = svc.prom.FeedReconnects.Inc
	svc.fanout = bus.New(candleBuffer)
	svc.fanout.Drops = svc.prom

	// ---- HTTP servers ----
	router := api.NewRouter(svc.engine, api.Options{
		Trading:    cfg.Trading,
		Paper:      cfg.Paper,
		TOTPSecret: cfg.OperatorTOTPSecret,
	})
	router.GET("/ws", gin.WrapF(svc.hub.HandleWS))
	svc.apiSrv = api.NewServer(cfg.APIAddr, router)
	svc.metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.health, svc.registry)

	ok = true
	return svc, nil
}

// notificationBackends selects alert sinks from configuration. Enabled
// notifications with no sink configured fall back to the log.
func notificationBackends(cfg *config.Config) []notification.Notifier {
	if !cfg.Trading.NotificationsEnabled {
		return nil
	}
	var out []notification.Notifier
	if cfg.WebhookURL != "" {
		out = append(out, notification.NewDiscordNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if len(out) == 0 {
		out = append(out, notification.NewLogNotifier())
	}
	return out
}

// Engine returns the orchestrator.
func (svc *Service) Engine() *strategy.Engine { return svc.engine }

// Run performs startup, launches every loop and blocks until ctx is
// cancelled, then shuts down gracefully.
func (svc *Service) Run(ctx context.Context) error {
	slog.Info("starting sniper bot", "symbol", svc.symbol, "timeframe", svc.cfg.Trading.Timeframe, "paper", svc.cfg.Paper)

	if err := svc.startup(ctx); err != nil {
		svc.close()
		return err
	}

	svc.metricsSrv.Start()
	svc.apiSrv.Start()
	probeCtx, cancelProbe := context.WithTimeout(ctx, 3*time.Second)
	svc.health.CheckNow(probeCtx)
	cancelProbe()
	svc.health.StartLivenessChecker(ctx, healthInterval)

	raw := make(chan model.Candle, candleBuffer)
	strategyCh := svc.fanout.Subscribe("strategy")
	historyCh := svc.fanout.Subscribe("history")

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		if err := svc.feed.Start(ctx, raw); err != nil {
			slog.Error("kline feed stopped", "error", err)
		}
	})
	run(func() { svc.fanout.Run(ctx, raw) })
	run(func() { svc.history.Run(ctx, svc.symbol, historyCh) })
	run(func() { svc.processLoop(ctx, strategyCh) })
	run(func() { svc.monitorSignals(ctx) })
	run(func() { svc.monitorOrders(ctx) })
	run(func() { svc.every(ctx, balanceInterval, svc.refreshBalance) })
	run(func() { svc.every(ctx, snapshotInterval, svc.saveSnapshot) })

	slog.Info("all systems running", "api", svc.cfg.APIAddr, "metrics", svc.cfg.MetricsAddr)
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping")
	wg.Wait()
	svc.shutdown()
	return nil
}

// startup rehydrates positions and indicators, loads the balance and
// announces the bot.
func (svc *Service) startup(ctx context.Context) error {
	n, err := svc.engine.Positions().Load(ctx)
	if err != nil {
		return fmt.Errorf("bot: load positions: %w", err)
	}
	svc.prom.PositionsOpen(n)
	slog.Info("positions loaded", "open", n)

	svc.restoreIndicators(ctx)

	if err := svc.refreshBalanceOnce(ctx); err != nil {
		slog.Warn("could not fetch balance, using configured default",
			"balance", svc.cfg.InitialBalanceDecimal().String(), "error", err)
	}

	if err := svc.notifier.NotifyStartup(ctx, svc.symbol, svc.cfg.Trading.Timeframe); err != nil {
		slog.Warn("startup notification failed", "error", err)
	}
	return nil
}

func (svc *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.saveSnapshot(ctx)
	if err := svc.notifier.NotifyShutdown(ctx); err != nil {
		slog.Warn("shutdown notification failed", "error", err)
	}
	if err := svc.apiSrv.Stop(ctx); err != nil {
		slog.Warn("api server shutdown", "error", err)
	}
	if err := svc.metricsSrv.Stop(ctx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}
	svc.hub.Close()
	svc.close()
	slog.Info("shutdown complete")
}

// close releases stores in reverse order of acquisition.
func (svc *Service) close() {
	for i := len(svc.closers) - 1; i >= 0; i-- {
		svc.closers[i]()
	}
	svc.closers = nil
}
