package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Signal is a trading decision produced by the indicator engine for one candle.
// Confidence is always within [0, 1].
type Signal struct {
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Trend      Trend           `json:"trend"`
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"`
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
