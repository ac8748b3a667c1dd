package indicator

import (
	"math"

	"sniperbot/internal/model"
)

// Trend compares the latest close with EMA(20) and EMA(50).
// Fewer than TrendLookback candles is always Sideways.
func (e *Engine) Trend() model.Trend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return trendOf(e.candles)
}

func trendOf(candles []model.Candle) model.Trend {
	if len(candles) < TrendLookback {
		return model.TrendSideways
	}

	ema20 := ema(candles, trendFastPeriod)
	ema50 := ema(candles, trendSlowPeriod)
	last := candles[len(candles)-1].Close

	switch {
	case last.GreaterThan(ema20) && ema20.GreaterThan(ema50):
		return model.TrendUp
	case last.LessThan(ema20) && ema20.LessThan(ema50):
		return model.TrendDown
	default:
		return model.TrendSideways
	}
}

// Confidence scores a reading in [0.5, 1.0]:
//
//	RSI outside [30,70]  +0.20, else outside [40,60] +0.10
//	|MACD| > 0.01        +0.15, else > 0.005        +0.08
//	trend not Sideways   +0.15
func Confidence(rsi, macd float64, trend model.Trend) float64 {
	confidence := 0.5

	if rsi < 30 || rsi > 70 {
		confidence += 0.2
	} else if rsi < 40 || rsi > 60 {
		confidence += 0.1
	}

	if m := math.Abs(macd); m > 0.01 {
		confidence += 0.15
	} else if m > 0.005 {
		confidence += 0.08
	}

	if trend != model.TrendSideways {
		confidence += 0.15
	}

	return math.Min(confidence, 1.0)
}

// DetermineAction picks Buy, Sell or Hold from RSI and MACD under the current trend.
func (e *Engine) DetermineAction(rsi, macd, signalLine float64) model.Action {
	return actionFor(e.Trend(), rsi, macd, signalLine)
}

func actionFor(trend model.Trend, rsi, macd, signalLine float64) model.Action {
	switch trend {
	case model.TrendUp:
		switch {
		case rsi < 30 && macd > signalLine:
			return model.ActionBuy // oversold in uptrend
		case rsi > 70:
			return model.ActionSell
		case rsi < 45 && macd > signalLine:
			return model.ActionBuy
		}
	case model.TrendDown:
		switch {
		case rsi > 70 && macd < signalLine:
			return model.ActionSell // overbought in downtrend
		case rsi < 30:
			return model.ActionBuy
		}
	default:
		switch {
		case rsi < 30:
			return model.ActionBuy
		case rsi > 70:
			return model.ActionSell
		}
	}
	return model.ActionHold
}
