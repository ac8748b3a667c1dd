package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID  string          `json:"order_id"`
	ClientID string          `json:"client_id"`
	Symbol   string          `json:"symbol"`
	Side     model.Action    `json:"side"`
	Kind     model.OrderKind `json:"kind"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Slippage decimal.Decimal `json:"slippage"`
	Manual   bool            `json:"manual"`
	FilledAt time.Time       `json:"filled_at"`
}

// FillRecorder persists simulated fills.
type FillRecorder interface {
	RecordFill(f Fill) error
}

// PaperExchange simulates order execution without real exchange calls.
// It implements model.Exchange.
//
// Cash moves by price*size on every fill (buys debit, sells credit), so a
// round trip on either side nets its PnL into the balance.
type PaperExchange struct {
	mu       sync.RWMutex
	fills    []Fill
	cash     decimal.Decimal
	orderSeq int64

	slippageBps decimal.Decimal // e.g. 5 = 0.05%
	recorder    FillRecorder
}

// NewPaperExchange creates a paper exchange with starting cash.
func NewPaperExchange(startingCash decimal.Decimal, slippageBps float64) *PaperExchange {
	return &PaperExchange{
		fills:       make([]Fill, 0, 1000),
		cash:        startingCash,
		slippageBps: decimal.NewFromFloat(slippageBps),
	}
}

// WithRecorder persists every fill through r.
func (p *PaperExchange) WithRecorder(r FillRecorder) *PaperExchange {
	p.recorder = r
	return p
}

// PlaceOrder fills req immediately at its price adjusted by slippage.
func (p *PaperExchange) PlaceOrder(_ context.Context, req model.OrderRequest) (string, error) {
	if req.Size.IsZero() {
		return "", fmt.Errorf("paper: refusing to place order of size zero for %s", req.Symbol)
	}
	if !req.Price.IsPositive() {
		return "", fmt.Errorf("paper: order %s has no price", req.ID)
	}

	slippage := req.Price.Mul(p.slippageBps).Div(bpsDivisor)
	fillPrice := req.Price
	notional := decimal.Zero

	p.mu.Lock()
	switch req.Side {
	case model.ActionBuy:
		fillPrice = fillPrice.Add(slippage) // buy higher
		notional = fillPrice.Mul(req.Size)
		p.cash = p.cash.Sub(notional)
	case model.ActionSell:
		fillPrice = fillPrice.Sub(slippage) // sell lower
		notional = fillPrice.Mul(req.Size)
		p.cash = p.cash.Add(notional)
	default:
		p.mu.Unlock()
		return "", fmt.Errorf("paper: cannot fill side %s", req.Side)
	}
	p.orderSeq++
	fill := Fill{
		OrderID:  fmt.Sprintf("PAPER-%d", p.orderSeq),
		ClientID: req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Kind:     req.Kind,
		Price:    fillPrice,
		Size:     req.Size,
		Slippage: slippage,
		Manual:   req.Manual,
		FilledAt: time.Now().UTC(),
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	slog.Info("paper fill",
		"order", fill.OrderID, "symbol", fill.Symbol, "side", fill.Side.String(),
		"price", fillPrice.String(), "size", req.Size.String(), "slippage", slippage.String())

	if p.recorder != nil {
		if err := p.recorder.RecordFill(fill); err != nil {
			slog.Warn("failed to record paper fill", "order", fill.OrderID, "error", err)
		}
	}
	return fill.OrderID, nil
}

// FetchBalance returns the simulated cash balance.
func (p *PaperExchange) FetchBalance(context.Context) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash, nil
}

// Fills returns a snapshot of all fills.
func (p *PaperExchange) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
