package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one closed OHLCV bar for the traded instrument.
// Prices and volume are exact decimals; Timestamp is the bar open time in Unix seconds.
type Candle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Time returns the candle timestamp as a UTC time.
func (c *Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
