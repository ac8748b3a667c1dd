package portfolio

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

func TestUnrealizedPnL(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Open(ctx, position("long", "ETH/USDT", model.SideLong, 100, 2, 50, 200), false)
	_, _ = s.Open(ctx, position("short", "BTCUSDT", model.SideShort, 100, 2, 200, 50), false)
	_, _ = s.Open(ctx, position("noprice", "SOLUSDT", model.SideLong, 100, 2, 50, 200), false)

	got := s.UnrealizedPnL(map[string]decimal.Decimal{
		"ETHUSDT":  d(110), // +20
		"btc-usdt": d(95),  // +10
	})
	if !got.Equal(d(30)) {
		t.Errorf("expected 30 (SOL excluded), got %s", got)
	}

	if got := s.UnrealizedPnL(nil); !got.IsZero() {
		t.Errorf("expected 0 with no prices, got %s", got)
	}
}

func TestStatsAndSummary(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Open(ctx, position("a", "ETHUSDT", model.SideLong, 100, 1, 50, 200), false)
	_, _ = s.Open(ctx, position("b", "BTCUSDT", model.SideLong, 100, 1, 50, 200), false)
	_, _ = s.Open(ctx, position("c", "SOLUSDT", model.SideLong, 100, 1, 50, 200), false)

	_, _, _ = s.Close(ctx, "a", d(110)) // +10
	_, _, _ = s.Close(ctx, "b", d(95))  // -5

	st := s.Stats()
	if st.Closed != 2 || st.Wins != 1 || st.Losses != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if !st.RealizedPnL.Equal(d(5)) {
		t.Errorf("expected realized 5, got %s", st.RealizedPnL)
	}
	if math.Abs(st.WinRate()-50) > 1e-9 {
		t.Errorf("expected win rate 50, got %.2f", st.WinRate())
	}

	sum := s.Summary(map[string]decimal.Decimal{"SOLUSDT": d(120)})
	if sum.OpenPositions != 1 {
		t.Errorf("expected 1 open, got %d", sum.OpenPositions)
	}
	if !sum.UnrealizedPnL.Equal(d(20)) || !sum.TotalPnL.Equal(d(25)) {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestWinRate_NoTrades(t *testing.T) {
	if r := (Stats{}).WinRate(); r != 0 {
		t.Errorf("expected 0, got %.2f", r)
	}
}
