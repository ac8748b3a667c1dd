package indicator

import "sniperbot/internal/model"

// RSI calculates the Relative Strength Index over the most recent
// RSIPeriod close-to-close deltas using simple averages (no Wilder smoothing).
// Returns 50 when there are fewer than RSIPeriod+1 candles.
func (e *Engine) RSI() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return rsi(e.candles, RSIPeriod)
}

func rsi(candles []model.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0
	}

	gains, losses := 0.0, 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close.Sub(candles[i-1].Close).InexactFloat64()
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
