package indicator

import (
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

var two = decimal.NewFromInt(2)

// emaScale caps the decimal places carried between EMA steps. Unrounded,
// every multiplication grows the exponent.
const emaScale = 18

// EMA calculates the Exponential Moving Average of closes over the window.
//
// With fewer candles than period it falls back to the plain mean of all
// closes; otherwise it seeds with the SMA of the first period closes and
// applies ema = (close - ema) * 2/(period+1) + ema over the rest.
func (e *Engine) EMA(period int) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ema(e.candles, period)
}

func ema(candles []model.Candle, period int) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}

	if period <= 0 || len(candles) < period {
		sum := decimal.Zero
		for _, c := range candles {
			sum = sum.Add(c.Close)
		}
		return sum.Div(decimal.NewFromInt(int64(len(candles))))
	}

	multiplier := two.Div(decimal.NewFromInt(int64(period + 1)))

	seed := decimal.Zero
	for _, c := range candles[:period] {
		seed = seed.Add(c.Close)
	}
	current := seed.Div(decimal.NewFromInt(int64(period)))

	for _, c := range candles[period:] {
		current = c.Close.Sub(current).Mul(multiplier).Add(current).Round(emaScale)
	}
	return current
}

// MACD returns fastEMA(12) - slowEMA(26) and its signal line.
// The signal line is 0.8 * MACD, not a 9-period EMA of MACD; action
// selection depends on this approximation.
func (e *Engine) MACD() (macd, signalLine float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return macdOf(e.candles)
}

func macdOf(candles []model.Candle) (float64, float64) {
	fast := ema(candles, EMAFastPeriod).InexactFloat64()
	slow := ema(candles, EMASlowPeriod).InexactFloat64()
	macd := fast - slow
	return macd, macd * 0.8
}
