package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Position represents one open trade owned by the position store.
type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Size       decimal.Decimal `json:"size"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	OpenedAt   int64           `json:"opened_at"` // unix seconds
}

// PnLAt returns the profit or loss of the position if it were closed at price.
func (p *Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(p.Size)
	}
	return price.Sub(p.EntryPrice).Mul(p.Size)
}

// Key returns the normalized symbol the position is indexed under.
func (p *Position) Key() string {
	return NormalizeSymbol(p.Symbol)
}

var symbolSeparators = strings.NewReplacer("/", "", "-", "", "_", "", " ", "")

// NormalizeSymbol strips separators and upper-cases: "eth/usdt" -> "ETHUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolSeparators.Replace(symbol))
}
