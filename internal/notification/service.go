package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Service formats trading events as alerts. It implements model.Notifier.
// A Service with no backends is disabled and every call is a no-op.
type Service struct {
	backend Notifier
	now     func() time.Time
}

// NewService fans alerts out to backends.
func NewService(backends ...Notifier) *Service {
	s := &Service{now: time.Now}
	switch len(backends) {
	case 0:
	case 1:
		s.backend = backends[0]
	default:
		s.backend = Multi(backends)
	}
	return s
}

// Enabled reports whether any backend is configured.
func (s *Service) Enabled() bool { return s.backend != nil }

func (s *Service) send(ctx context.Context, a Alert) error {
	if s.backend == nil {
		return nil
	}
	a.Time = s.now()
	return s.backend.Send(ctx, a)
}

// NotifySignal reports a confident signal.
func (s *Service) NotifySignal(ctx context.Context, sig model.Signal) error {
	color, emoji := ColorYellow, "🟡"
	switch sig.Action {
	case model.ActionBuy:
		color, emoji = ColorGreen, "🟢"
	case model.ActionSell:
		color, emoji = ColorRed, "🔴"
	}

	return s.send(ctx, Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s Trading Signal: %s", emoji, sig.Symbol),
		Message: fmt.Sprintf("New **%s** signal detected with **%s%%** confidence",
			sig.Action, sig.Confidence.Mul(hundred).StringFixed(1)),
		Color: color,
		Fields: []Field{
			{Name: "Symbol", Value: sig.Symbol, Inline: true},
			{Name: "Action", Value: sig.Action.String(), Inline: true},
			{Name: "Price", Value: "$" + sig.Price.String(), Inline: true},
			{Name: "Trend", Value: sig.Trend.String(), Inline: true},
			{Name: "Confidence", Value: sig.Confidence.Mul(hundred).StringFixed(1) + "%", Inline: true},
		},
	})
}

// NotifyPositionOpened reports a new position.
func (s *Service) NotifyPositionOpened(ctx context.Context, pos model.Position) error {
	color, emoji := ColorGreen, "📈"
	if pos.Side == model.SideShort {
		color, emoji = ColorRed, "📉"
	}

	return s.send(ctx, Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s Position Opened: %s", emoji, pos.Symbol),
		Message: fmt.Sprintf("New **%s** position opened", pos.Side),
		Color:   color,
		Fields: []Field{
			{Name: "Entry Price", Value: "$" + pos.EntryPrice.String(), Inline: true},
			{Name: "Size", Value: pos.Size.String(), Inline: true},
			{Name: "Stop Loss", Value: "$" + pos.StopLoss.String(), Inline: true},
			{Name: "Take Profit", Value: "$" + pos.TakeProfit.String(), Inline: true},
		},
	})
}

// NotifyPositionClosed reports a closed position with its realized PnL.
func (s *Service) NotifyPositionClosed(ctx context.Context, pos model.Position, exitPrice, pnl decimal.Decimal) error {
	pct := PnLPercent(pos, pnl)
	color, emoji := ColorRed, "❌"
	if pnl.IsPositive() {
		color, emoji = ColorGreen, "✅"
	}

	return s.send(ctx, Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s Position Closed: %s", emoji, pos.Symbol),
		Message: fmt.Sprintf("**%s** position closed with **%s%s** PnL", pos.Side, plus(pnl), pnl),
		Color:   color,
		Fields: []Field{
			{Name: "Entry Price", Value: "$" + pos.EntryPrice.String(), Inline: true},
			{Name: "Exit Price", Value: "$" + exitPrice.String(), Inline: true},
			{Name: "PnL", Value: fmt.Sprintf("$%s (%s%s%%)", pnl, plus(pct), pct.StringFixed(2)), Inline: true},
			{Name: "Size", Value: pos.Size.String(), Inline: true},
		},
	})
}

// NotifyError reports a pipeline failure.
func (s *Service) NotifyError(ctx context.Context, msg string) error {
	return s.send(ctx, Alert{
		Level:   AlertCritical,
		Title:   "⚠️ Error",
		Message: msg,
		Color:   ColorRed,
	})
}

// NotifyStartup announces the bot is running.
func (s *Service) NotifyStartup(ctx context.Context, symbol, timeframe string) error {
	return s.send(ctx, Alert{
		Level:   AlertInfo,
		Title:   "🚀 Sniper Bot Started",
		Message: "Trading bot is now running",
		Color:   ColorBlue,
		Fields: []Field{
			{Name: "Symbol", Value: symbol, Inline: true},
			{Name: "Timeframe", Value: timeframe, Inline: true},
		},
	})
}

// NotifyShutdown announces the bot stopped.
func (s *Service) NotifyShutdown(ctx context.Context) error {
	return s.send(ctx, Alert{
		Level:   AlertWarning,
		Title:   "🛑 Sniper Bot Stopped",
		Message: "Trading bot has been shut down",
		Color:   ColorGray,
	})
}

// PnLPercent is pnl relative to the position's entry notional, in percent.
func PnLPercent(pos model.Position, pnl decimal.Decimal) decimal.Decimal {
	notional := pos.EntryPrice.Mul(pos.Size)
	if notional.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(notional).Mul(hundred)
}

func plus(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+"
	}
	return ""
}
