package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/logger"
	"sniperbot/internal/model"
)

// ExitLevels returns the take-profit and stop-loss for an entry at price:
// Long +4% / -2%, Short -4% / +2%.
func ExitLevels(side model.PositionSide, price decimal.Decimal) (takeProfit, stopLoss decimal.Decimal) {
	if side == model.SideShort {
		return price.Mul(shortTakeProfit), price.Mul(shortStopLoss)
	}
	return price.Mul(longTakeProfit), price.Mul(longStopLoss)
}

// enter sizes and places the entry order for sig, then records the position.
func (e *Engine) enter(ctx context.Context, sig model.Signal, side model.PositionSide) {
	attrs := logger.LogWithTrace(ctx)

	tp, sl := ExitLevels(side, sig.Price)
	size := e.positions.PositionSize(e.Balance(), sig.Price, sl)
	if !size.IsPositive() {
		slog.Warn("invalid position size calculated, skipping order",
			append(attrs, "symbol", sig.Symbol, "balance", e.Balance().String())...)
		return
	}

	req := model.OrderRequest{
		ID:         sig.ID,
		Symbol:     sig.Symbol,
		Side:       sig.Action,
		Price:      sig.Price,
		Size:       size,
		Kind:       model.OrderMarket,
		StopLoss:   &sl,
		TakeProfit: &tp,
	}
	pos := model.Position{
		ID:         sig.ID,
		Symbol:     sig.Symbol,
		Side:       side,
		EntryPrice: sig.Price,
		Size:       size,
		StopLoss:   sl,
		TakeProfit: tp,
		OpenedAt:   time.Now().Unix(),
	}

	if err := e.open(ctx, req, pos, false); err != nil {
		if errors.Is(err, ErrPositionExists) {
			slog.Info("symbol already taken, skipping entry", append(attrs, "symbol", sig.Symbol)...)
			return
		}
		slog.Error("entry failed", append(attrs, "symbol", sig.Symbol, "error", err)...)
	}
}

// open reserves the symbol, places req and records pos once filled. The
// exchange and ledger steps run on a detached context.
func (e *Engine) open(ctx context.Context, req model.OrderRequest, pos model.Position, manual bool) error {
	if err := e.positions.Reserve(pos.Symbol); err != nil {
		return fmt.Errorf("strategy: open %s: %w", pos.Symbol, ErrPositionExists)
	}

	ctx, cancel := detached(ctx)
	defer cancel()

	if _, err := e.placeOrder(ctx, req); err != nil {
		e.positions.Release(pos.Symbol)
		e.notifyError(ctx, fmt.Sprintf("Failed to execute order: %v", err))
		return fmt.Errorf("strategy: entry order: %w", err)
	}

	if err := e.positions.OpenReserved(ctx, pos, manual); err != nil {
		slog.Error("order filled but position not recorded", append(logger.LogWithTrace(ctx),
			"id", req.ID, "symbol", pos.Symbol, "size", pos.Size.String(), "error", err)...)
		e.notifyError(ctx, fmt.Sprintf("Order %s filled but position was not recorded: %v", req.ID, err))
		return fmt.Errorf("strategy: open position: %w", err)
	}

	e.rec.PositionsOpen(e.positions.Count())
	slog.Info("position opened", append(logger.LogWithTrace(ctx),
		"symbol", pos.Symbol, "side", pos.Side.String(), "entry", pos.EntryPrice.String(),
		"sl", pos.StopLoss.String(), "tp", pos.TakeProfit.String())...)
	e.notify(ctx, "position_opened", func(n model.Notifier) error {
		return n.NotifyPositionOpened(ctx, pos)
	})
	return nil
}
