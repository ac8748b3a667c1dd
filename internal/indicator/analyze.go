package indicator

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// Reading is the full indicator state behind one signal.
type Reading struct {
	RSI        float64
	MACD       float64
	SignalLine float64
	Trend      model.Trend
	Action     model.Action
	Confidence float64
}

// Analyze produces a signal for symbol from the current window.
// Returns false while fewer than TrendLookback candles are available.
func (e *Engine) Analyze(symbol string) (model.Signal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.candles) < TrendLookback {
		return model.Signal{}, false
	}

	r := read(e.candles)
	latest := e.candles[len(e.candles)-1]

	return model.Signal{
		ID:         uuid.NewString(),
		Timestamp:  latest.Timestamp,
		Symbol:     symbol,
		Action:     r.Action,
		Trend:      r.Trend,
		Price:      latest.Close,
		Confidence: decimal.NewFromFloat(r.Confidence),
	}, true
}

// Read returns the raw indicator values without building a signal.
func (e *Engine) Read() Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return read(e.candles)
}

func read(candles []model.Candle) Reading {
	trend := trendOf(candles)
	r := rsi(candles, RSIPeriod)
	macd, signalLine := macdOf(candles)
	return Reading{
		RSI:        r,
		MACD:       macd,
		SignalLine: signalLine,
		Trend:      trend,
		Action:     actionFor(trend, r, macd, signalLine),
		Confidence: Confidence(r, macd, trend),
	}
}
