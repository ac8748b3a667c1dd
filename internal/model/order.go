package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OrderRequest is a single order decision handed to the exchange gateway.
type OrderRequest struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       Action           `json:"side"` // Buy or Sell
	Price      decimal.Decimal  `json:"price"`
	Size       decimal.Decimal  `json:"size"`
	Kind       OrderKind        `json:"kind"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Manual     bool             `json:"manual"`
}

// JSON returns the JSON-encoded order request.
func (o *OrderRequest) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
