package bot

import (
	"context"
	"log/slog"
	"time"

	"sniperbot/internal/indicator"
	"sniperbot/internal/model"
)

// processLoop feeds closed candles to the orchestrator one at a time.
func (svc *Service) processLoop(ctx context.Context, candles <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candles:
			if !ok {
				return
			}
			svc.handleCandle(ctx, c)
		}
	}
}

func (svc *Service) handleCandle(ctx context.Context, c model.Candle) {
	now := time.Now()
	svc.health.SetLastCandleTime(now)
	svc.prom.CandleLag.Set(now.Sub(c.Time()).Seconds())

	svc.engine.ProcessCandle(ctx, c, svc.symbol)

	if svc.candles != nil {
		if err := svc.candles.SaveCandle(ctx, svc.symbol, c); err != nil {
			slog.Warn("candle persist failed", "symbol", svc.symbol, "ts", c.Timestamp, "error", err)
		}
	}
}

// monitorSignals logs every emitted signal and forwards it to the publishers.
func (svc *Service) monitorSignals(ctx context.Context) {
	signals := svc.engine.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			slog.Info("signal",
				"symbol", sig.Symbol,
				"action", sig.Action.String(),
				"trend", sig.Trend.String(),
				"price", sig.Price.String(),
				"confidence", sig.Confidence.StringFixed(2))
			for _, p := range svc.publishers {
				if err := p.PublishSignal(ctx, sig); err != nil {
					slog.Warn("publish signal failed", "id", sig.ID, "error", err)
				}
			}
		}
	}
}

// monitorOrders logs every executed order and forwards it to the publishers.
func (svc *Service) monitorOrders(ctx context.Context) {
	orders := svc.engine.Orders()
	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-orders:
			if !ok {
				return
			}
			slog.Info("order executed",
				"id", order.ID,
				"symbol", order.Symbol,
				"side", order.Side.String(),
				"price", order.Price.String(),
				"size", order.Size.String(),
				"manual", order.Manual)
			for _, p := range svc.publishers {
				if err := p.PublishOrder(ctx, order); err != nil {
					slog.Warn("publish order failed", "id", order.ID, "error", err)
				}
			}
		}
	}
}

// every runs fn on each tick until ctx is cancelled.
func (svc *Service) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (svc *Service) refreshBalance(ctx context.Context) {
	if err := svc.refreshBalanceOnce(ctx); err != nil {
		slog.Warn("balance refresh failed", "error", err)
	}
}

// refreshBalanceOnce updates the sizing balance. On failure the engine keeps
// its previous value, which is still exported.
func (svc *Service) refreshBalanceOnce(ctx context.Context) error {
	bal, err := svc.engine.RefreshBalance(ctx)
	svc.prom.Balance.Set(svc.engine.Balance().InexactFloat64())
	if err != nil {
		return err
	}
	slog.Debug("balance refreshed", "balance", bal.String())
	return nil
}

// saveSnapshot writes the indicator window to every snapshot store.
func (svc *Service) saveSnapshot(ctx context.Context) {
	ind := svc.engine.Indicators()
	if ind.Len() == 0 {
		return
	}
	data, err := ind.Snapshot(svc.symbol).Encode()
	if err != nil {
		slog.Error("encode snapshot failed", "error", err)
		return
	}
	for _, s := range svc.snapshots {
		if err := s.SaveSnapshotJSON(ctx, svc.symbol, data); err != nil {
			slog.Warn("save snapshot failed", "symbol", svc.symbol, "error", err)
		}
	}
}

// restoreIndicators rebuilds the indicator window. Snapshot stores are
// tried in order, then the candle history. A cold start is not an error.
func (svc *Service) restoreIndicators(ctx context.Context) {
	ind := svc.engine.Indicators()

	for _, s := range svc.snapshots {
		data, err := s.ReadSnapshotJSON(ctx, svc.symbol)
		if err != nil {
			slog.Warn("read snapshot failed", "error", err)
			continue
		}
		if data == nil {
			continue
		}
		snap, err := indicator.DecodeSnapshot(data)
		if err == nil {
			err = ind.Restore(snap)
		}
		if err != nil {
			slog.Warn("snapshot unusable", "error", err)
			continue
		}
		if ind.Len() > 0 {
			slog.Info("indicators restored from snapshot", "candles", ind.Len(), "taken_at", snap.TakenAt)
			return
		}
	}

	candles, err := svc.history.LoadCandles(ctx, svc.symbol, indicator.MaxCandles)
	if err != nil {
		slog.Warn("load candle history failed", "error", err)
		return
	}
	if len(candles) == 0 {
		slog.Info("no history, starting cold")
		return
	}
	ind.Seed(candles)
	slog.Info("indicators seeded from history", "candles", ind.Len())
}
