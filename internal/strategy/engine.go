// Package strategy drives the per-candle trading pipeline.
//
// For every closed candle the Engine updates the indicator window, exits any
// position whose stop-loss or take-profit was reached, then analyzes the
// window and opens a new position on a confident signal. External failures
// (exchange, ledger, notifier) are logged and never abort the pipeline.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/indicator"
	"sniperbot/internal/logger"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

const (
	// DefaultChannelSize is the buffer of the Signals and Orders channels.
	DefaultChannelSize = 100

	// OrderTimeout bounds an entry or exit, from order placement to the ledger write.
	OrderTimeout = 30 * time.Second
)

var (
	// EntryConfidence is the minimum signal confidence for notifying and entering.
	EntryConfidence = decimal.RequireFromString("0.70")

	longTakeProfit  = decimal.RequireFromString("1.04")
	longStopLoss    = decimal.RequireFromString("0.98")
	shortTakeProfit = decimal.RequireFromString("0.96")
	shortStopLoss   = decimal.RequireFromString("1.02")
)

// Recorder receives pipeline events for metrics.
type Recorder interface {
	CandleProcessed()
	SignalEmitted(action string)
	OrderPlaced(side string)
	OrderFailed(side string)
	PositionsOpen(n int)
	PositionClosed(pnl float64)
	ChannelDropped(channel string)
}

type nopRecorder struct{}

func (nopRecorder) CandleProcessed() {}
func (nopRecorder) SignalEmitted(string) {}
func (nopRecorder) OrderPlaced(string) {}
func (nopRecorder) OrderFailed(string) {}
func (nopRecorder) PositionsOpen(int) {}
func (nopRecorder) PositionClosed(float64) {}
func (nopRecorder) ChannelDropped(string) {}

// Deps are the Engine collaborators. Indicators, Positions and Exchange are
// required; the rest may be nil.
type Deps struct {
	Indicators *indicator.Engine
	Positions  *portfolio.Store
	Exchange   model.Exchange
	Signals    model.SignalStore
	Notifier   model.Notifier
	Recorder   Recorder

	InitialBalance decimal.Decimal
	ChannelSize    int
}

// Engine is the trading orchestrator for one candle stream.
type Engine struct {
	indicators *indicator.Engine
	positions  *portfolio.Store
	exchange   model.Exchange
	signals    model.SignalStore
	notifier   model.Notifier
	rec        Recorder

	balanceMu sync.RWMutex
	balance   decimal.Decimal

	signalCh chan model.Signal
	orderCh  chan model.OrderRequest
}

// New creates an Engine from its collaborators.
func New(d Deps) *Engine {
	size := d.ChannelSize
	if size <= 0 {
		size = DefaultChannelSize
	}
	rec := d.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{
		indicators: d.Indicators,
		positions:  d.Positions,
		exchange:   d.Exchange,
		signals:    d.Signals,
		notifier:   d.Notifier,
		rec:        rec,
		balance:    d.InitialBalance,
		signalCh:   make(chan model.Signal, size),
		orderCh:    make(chan model.OrderRequest, size),
	}
}

// Signals returns every analyzed signal. Sends never block; a full channel drops.
func (e *Engine) Signals() <-chan model.Signal {
	return e.signalCh
}

// Orders returns every successfully placed order. Sends never block.
func (e *Engine) Orders() <-chan model.OrderRequest {
	return e.orderCh
}

// Indicators returns the indicator engine.
func (e *Engine) Indicators() *indicator.Engine {
	return e.indicators
}

// Positions returns the position store.
func (e *Engine) Positions() *portfolio.Store {
	return e.positions
}

// UpdateBalance replaces the balance used for position sizing.
func (e *Engine) UpdateBalance(balance decimal.Decimal) {
	e.balanceMu.Lock()
	e.balance = balance
	e.balanceMu.Unlock()
}

// Balance returns the balance used for position sizing.
func (e *Engine) Balance() decimal.Decimal {
	e.balanceMu.RLock()
	defer e.balanceMu.RUnlock()
	return e.balance
}

// RefreshBalance fetches the balance from the exchange and stores it.
func (e *Engine) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	bal, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	e.UpdateBalance(bal)
	return bal, nil
}

// ProcessCandle runs the pipeline for one closed candle:
// update indicators, exit triggered positions, then analyze and maybe enter.
func (e *Engine) ProcessCandle(ctx context.Context, c model.Candle, symbol string) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(model.NormalizeSymbol(symbol), c.Time()))

	e.indicators.AddCandle(c)
	e.rec.CandleProcessed()

	e.processExits(ctx, c.Close, symbol)

	sig, ok := e.indicators.Analyze(symbol)
	if !ok {
		slog.Debug("insufficient history for analysis",
			append(logger.LogWithTrace(ctx), "symbol", symbol, "candles", e.indicators.Len())...)
		return
	}
	e.handleSignal(ctx, sig)
}

func (e *Engine) handleSignal(ctx context.Context, sig model.Signal) {
	attrs := logger.LogWithTrace(ctx)

	if e.signals != nil {
		if err := e.signals.SaveSignal(ctx, sig); err != nil {
			slog.Warn("failed to save signal", append(attrs, "id", sig.ID, "error", err)...)
		}
	}

	select {
	case e.signalCh <- sig:
	default:
		e.rec.ChannelDropped("signals")
		slog.Warn("signal channel full, dropping", append(attrs, "id", sig.ID)...)
	}
	e.rec.SignalEmitted(sig.Action.String())

	if sig.Confidence.LessThan(EntryConfidence) {
		return
	}

	e.notify(ctx, "signal", func(n model.Notifier) error { return n.NotifySignal(ctx, sig) })

	side, ok := model.SideForAction(sig.Action)
	if !ok {
		slog.Info("unclear trend, holding", append(attrs, "symbol", sig.Symbol)...)
		return
	}
	if e.positions.HasPositionForSymbol(sig.Symbol) {
		return
	}
	e.enter(ctx, sig, side)
}

func (e *Engine) notify(ctx context.Context, event string, fn func(model.Notifier) error) {
	if e.notifier == nil {
		return
	}
	if err := fn(e.notifier); err != nil {
		slog.Warn("notification failed", append(logger.LogWithTrace(ctx), "event", event, "error", err)...)
	}
}

func (e *Engine) notifyError(ctx context.Context, msg string) {
	e.notify(ctx, "error", func(n model.Notifier) error { return n.NotifyError(ctx, msg) })
}

// detached returns a context for order placement and its ledger write. It
// keeps ctx's values but not its cancellation, so shutdown or a dropped
// operator request cannot abort an order that may already be filling.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), OrderTimeout)
}

// placeOrder submits req and mirrors it on the Orders channel on success.
func (e *Engine) placeOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	exchangeID, err := e.exchange.PlaceOrder(ctx, req)
	if err != nil {
		e.rec.OrderFailed(req.Side.String())
		return "", err
	}
	e.rec.OrderPlaced(req.Side.String())
	slog.Info("order placed", append(logger.LogWithTrace(ctx),
		"id", req.ID, "exchange_id", exchangeID, "symbol", req.Symbol,
		"side", req.Side.String(), "kind", req.Kind.String(),
		"price", req.Price.String(), "size", req.Size.String())...)

	select {
	case e.orderCh <- req:
	default:
		e.rec.ChannelDropped("orders")
		slog.Warn("order channel full, dropping", append(logger.LogWithTrace(ctx), "id", req.ID)...)
	}
	return exchangeID, nil
}
