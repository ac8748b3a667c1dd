// Package indicator provides the technical indicator engine that turns a
// rolling window of candles into trading signals.
//
// The engine keeps at most MaxCandles candles (oldest evicted first) and
// derives RSI, EMA, MACD, trend and a composite confidence score from them.
// Every edge case resolves to a neutral default; nothing here returns an error.
package indicator

import (
	"sync"

	"sniperbot/internal/model"
)

const (
	MaxCandles    = 200
	RSIPeriod     = 14
	EMAFastPeriod = 12
	EMASlowPeriod = 26

	// TrendLookback is the minimum history for trend detection and analysis.
	TrendLookback = 50

	trendFastPeriod = 20
	trendSlowPeriod = 50
)

// Engine holds the candle window for one instrument.
// Reads (indicator queries, Analyze) may run concurrently; AddCandle is exclusive.
type Engine struct {
	mu         sync.RWMutex
	candles    []model.Candle
	maxCandles int
}

// NewEngine creates an engine with the default 200-candle window.
func NewEngine() *Engine {
	return NewEngineSize(MaxCandles)
}

// NewEngineSize creates an engine with a custom window capacity.
func NewEngineSize(maxCandles int) *Engine {
	if maxCandles <= 0 {
		maxCandles = MaxCandles
	}
	return &Engine{
		candles:    make([]model.Candle, 0, maxCandles+1),
		maxCandles: maxCandles,
	}
}

// AddCandle appends c and evicts the oldest candle once the window is full.
func (e *Engine) AddCandle(c model.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.push(c)
}

// Seed bulk-loads candles (oldest first) with the same FIFO eviction as AddCandle.
func (e *Engine) Seed(candles []model.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range candles {
		e.push(c)
	}
}

func (e *Engine) push(c model.Candle) {
	e.candles = append(e.candles, c)
	if len(e.candles) > e.maxCandles {
		// shift in place so the backing array doesn't grow unbounded
		n := copy(e.candles, e.candles[len(e.candles)-e.maxCandles:])
		e.candles = e.candles[:n]
	}
}

// Len returns the number of candles in the window.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.candles)
}

// Candles returns a copy of the window, oldest first.
func (e *Engine) Candles() []model.Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp := make([]model.Candle, len(e.candles))
	copy(cp, e.candles)
	return cp
}

// Latest returns the most recent candle.
func (e *Engine) Latest() (model.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.candles) == 0 {
		return model.Candle{}, false
	}
	return e.candles[len(e.candles)-1], true
}

// Reset clears the window.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = e.candles[:0]
}
