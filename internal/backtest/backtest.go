// Package backtest replays stored candles through the indicator engine and
// the orchestrator against a paper exchange and an in-memory ledger.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"sniperbot/internal/execution"
	"sniperbot/internal/indicator"
	"sniperbot/internal/marketdata/replay"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/store/memory"
	"sniperbot/internal/strategy"
)

// Config controls one run.
type Config struct {
	Symbol       string
	Capital      decimal.Decimal
	RiskPerTrade decimal.Decimal // fraction of balance, e.g. 0.02
	SlippageBps  float64
	Speed        float64 // 0 = as fast as possible
	From         int64   // unix seconds, exclusive
}

// Report summarises a run.
type Report struct {
	Symbol        string          `json:"symbol"`
	Candles       int             `json:"candles"`
	Signals       int             `json:"signals"`
	Orders        int             `json:"orders"`
	Trades        int             `json:"trades"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenPositions int             `json:"open_positions"`
	FinalBalance  decimal.Decimal `json:"final_balance"`
}

// Run replays every candle of cfg.Symbol after cfg.From and returns the
// resulting report. Cancelling ctx stops the replay and reports what was
// processed so far.
func Run(ctx context.Context, src replay.Source, cfg Config) (Report, error) {
	if !cfg.Capital.IsPositive() {
		return Report{}, fmt.Errorf("backtest: capital must be positive")
	}
	if cfg.RiskPerTrade.IsZero() {
		cfg.RiskPerTrade = decimal.RequireFromString("0.02")
	}

	paper := execution.NewPaperExchange(cfg.Capital, cfg.SlippageBps)
	ledger := memory.New()
	engine := strategy.New(strategy.Deps{
		Indicators:     indicator.NewEngine(),
		Positions:      portfolio.New(ledger, cfg.RiskPerTrade),
		Exchange:       paper,
		Signals:        ledger,
		InitialBalance: cfg.Capital,
	})

	candles := make(chan model.Candle, 1024)
	replayErr := make(chan error, 1)
	go func() {
		defer close(candles)
		_, err := replay.New(src).Run(ctx, cfg.Symbol, cfg.From, cfg.Speed, candles)
		replayErr <- err
	}()

	rep := Report{Symbol: cfg.Symbol}
	var last decimal.Decimal
	for c := range candles {
		engine.ProcessCandle(ctx, c, cfg.Symbol)
		rep.Candles++
		last = c.Close
		rep.Signals += drain(engine.Signals())
		rep.Orders += drain(engine.Orders())

		// paper cash moves on every fill; keep sizing in step
		if _, err := engine.RefreshBalance(ctx); err != nil {
			slog.Warn("backtest balance refresh failed", "error", err)
		}
		if rep.Candles%1000 == 0 {
			slog.Info("backtest progress", "candles", rep.Candles, "balance", engine.Balance().String())
		}
	}
	if err := <-replayErr; err != nil && ctx.Err() == nil {
		return rep, fmt.Errorf("backtest: replay: %w", err)
	}

	positions := engine.Positions()
	stats := positions.Stats()
	rep.Trades = stats.Closed
	rep.Wins = stats.Wins
	rep.Losses = stats.Losses
	rep.WinRate = stats.WinRate()
	rep.RealizedPnL = stats.RealizedPnL
	rep.OpenPositions = positions.Count()
	if rep.Candles > 0 {
		rep.UnrealizedPnL = positions.UnrealizedPnL(map[string]decimal.Decimal{cfg.Symbol: last})
	}
	bal, err := paper.FetchBalance(ctx)
	if err != nil {
		return rep, fmt.Errorf("backtest: final balance: %w", err)
	}
	rep.FinalBalance = bal
	return rep, nil
}

func drain[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
