package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

type sliceSource struct {
	candles []model.Candle
	err     error
}

func (s sliceSource) LoadAll(_ context.Context, _ string, after int64) ([]model.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.Candle
	for _, c := range s.candles {
		if c.Timestamp > after {
			out = append(out, c)
		}
	}
	return out, nil
}

func candleAt(i int, price int64) model.Candle {
	p := decimal.NewFromInt(price)
	return model.Candle{Timestamp: int64(i+1) * 60, Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
}

// risingThenDrop builds 50 rising closes (100..149) followed by one close at 143.
func risingThenDrop() []model.Candle {
	out := make([]model.Candle, 0, 51)
	for i := 0; i < 50; i++ {
		out = append(out, candleAt(i, int64(100+i)))
	}
	return append(out, candleAt(50, 143))
}

// ────────────────────────────────────────────────────────────
// Run
// ────────────────────────────────────────────────────────────

func TestRun_ShortHitsTakeProfit(t *testing.T) {
	capital := decimal.NewFromInt(1000)
	rep, err := Run(context.Background(), sliceSource{candles: risingThenDrop()}, Config{
		Symbol:  "ETH/USDT",
		Capital: capital,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rep.Candles != 51 {
		t.Errorf("expected 51 candles, got %d", rep.Candles)
	}
	if rep.Signals < 2 || rep.Orders < 2 {
		t.Errorf("expected at least entry and exit activity, got %d signals / %d orders", rep.Signals, rep.Orders)
	}
	if rep.Trades != 1 || rep.Wins != 1 || rep.Losses != 0 {
		t.Errorf("expected one winning trade, got %+v", rep)
	}
	if rep.WinRate != 100 {
		t.Errorf("expected win rate 100, got %v", rep.WinRate)
	}
	if !rep.RealizedPnL.IsPositive() {
		t.Errorf("expected positive realized pnl, got %s", rep.RealizedPnL)
	}
	if !rep.FinalBalance.GreaterThan(capital) {
		t.Errorf("expected final balance above %s, got %s", capital, rep.FinalBalance)
	}
}

func TestRun_FromSkipsEarlierCandles(t *testing.T) {
	rep, err := Run(context.Background(), sliceSource{candles: risingThenDrop()}, Config{
		Symbol:  "ETH/USDT",
		Capital: decimal.NewFromInt(1000),
		From:    60 * 41,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Candles != 10 || rep.Signals != 0 || rep.Trades != 0 {
		t.Errorf("expected 10 candles and no activity, got %+v", rep)
	}
	if !rep.FinalBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected untouched balance, got %s", rep.FinalBalance)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  sliceSource
		cfg  Config
	}{
		{"no capital", sliceSource{}, Config{Symbol: "ETH/USDT"}},
		{"source failure", sliceSource{err: errors.New("db gone")}, Config{Symbol: "ETH/USDT", Capital: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(context.Background(), tt.src, tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRun_CancelledIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := Run(ctx, sliceSource{candles: risingThenDrop()}, Config{Symbol: "ETH/USDT", Capital: decimal.NewFromInt(1000)})
	if err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}
	if rep.Candles > 51 {
		t.Errorf("unexpected candle count %d", rep.Candles)
	}
}
