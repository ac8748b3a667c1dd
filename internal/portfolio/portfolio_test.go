package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
	"sniperbot/internal/store/memory"
)

// failingLedger wraps the memory ledger and fails on demand.
type failingLedger struct {
	*memory.Ledger
	failSave  bool
	failClose bool
	block     chan struct{} // when set, SaveOrder/CloseOrder wait on it
}

func (f *failingLedger) SaveOrder(ctx context.Context, pos model.Position, manual bool) error {
	if f.block != nil {
		<-f.block
	}
	if f.failSave {
		return errors.New("db down")
	}
	return f.Ledger.SaveOrder(ctx, pos, manual)
}

func (f *failingLedger) CloseOrder(ctx context.Context, id string, exit, pnl decimal.Decimal) error {
	if f.block != nil {
		<-f.block
	}
	if f.failClose {
		return errors.New("db down")
	}
	return f.Ledger.CloseOrder(ctx, id, exit, pnl)
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func position(id, symbol string, side model.PositionSide, entry, size, sl, tp float64) model.Position {
	return model.Position{
		ID: id, Symbol: symbol, Side: side,
		EntryPrice: d(entry), Size: d(size), StopLoss: d(sl), TakeProfit: d(tp),
		OpenedAt: 1700000000,
	}
}

func newStore() (*Store, *memory.Ledger) {
	l := memory.New()
	return New(l, d(0.02)), l
}

func TestOpen_PersistsThenStores(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()

	opened, err := s.Open(ctx, position("p1", "ETH/USDT", model.SideLong, 100, 1, 98, 104), false)
	if err != nil || !opened {
		t.Fatalf("expected open, got opened=%v err=%v", opened, err)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 position, got %d", s.Count())
	}
	if len(l.Trades()) != 1 {
		t.Errorf("expected ledger row, got %d", len(l.Trades()))
	}
	if !s.HasPositionForSymbol("eth-usdt") {
		t.Error("expected lookup by any notation to match")
	}
}

func TestOpen_NonPositivePriceOrSizeIsNoop(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()

	for _, pos := range []model.Position{
		position("p1", "ETHUSDT", model.SideLong, 0, 1, 98, 104),
		position("p2", "ETHUSDT", model.SideLong, 100, 0, 98, 104),
		position("p3", "ETHUSDT", model.SideLong, -100, 1, 98, 104),
		position("p4", "ETHUSDT", model.SideLong, 100, -2, 98, 104),
	} {
		opened, err := s.Open(ctx, pos, false)
		if err != nil || opened {
			t.Errorf("%s: expected silent no-op, got opened=%v err=%v", pos.ID, opened, err)
		}
	}
	if s.Count() != 0 || len(l.Trades()) != 0 {
		t.Errorf("expected no state change, got %d positions, %d trades", s.Count(), len(l.Trades()))
	}
}

func TestOpen_OnePositionPerSymbol(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()

	symbols := []string{"ETH/USDT", "ETHUSDT", "eth_usdt", "ETH-USDT", "BTC/USDT", "btcusdt"}
	for i, sym := range symbols {
		if _, err := s.Open(ctx, position(fmt.Sprintf("p%d", i), sym, model.SideLong, 100, 1, 98, 104), false); err != nil {
			t.Fatalf("open %s: %v", sym, err)
		}
	}
	if s.Count() != 2 {
		t.Errorf("expected 2 positions (ETHUSDT, BTCUSDT), got %d", s.Count())
	}
	if len(l.Trades()) != 2 {
		t.Errorf("duplicates must not reach the ledger, got %d rows", len(l.Trades()))
	}
}

func TestOpen_ConcurrentSameSymbol(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Open(ctx, position(fmt.Sprintf("p%d", i), "SOL/USDT", model.SideShort, 20, 1, 21, 19), false)
		}(i)
	}
	wg.Wait()
	if s.Count() != 1 {
		t.Errorf("expected exactly 1 position, got %d", s.Count())
	}
}

func TestOpen_LedgerFailureLeavesMemory(t *testing.T) {
	s := New(&failingLedger{Ledger: memory.New(), failSave: true}, d(0.02))

	opened, err := s.Open(context.Background(), position("p1", "ETHUSDT", model.SideLong, 100, 1, 98, 104), false)
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if opened || s.Count() != 0 {
		t.Errorf("expected no position after failed save, got %d", s.Count())
	}
	// Pending reservation must be released so a retry can succeed.
	if s.HasPositionForSymbol("ETHUSDT") {
		t.Error("unexpected position for symbol")
	}
}

func TestClose_PnL(t *testing.T) {
	tests := []struct {
		name string
		side model.PositionSide
		exit float64
		want float64
	}{
		{"long profit", model.SideLong, 110, 20},
		{"long loss", model.SideLong, 95, -10},
		{"short profit", model.SideShort, 90, 20},
		{"short loss", model.SideShort, 105, -10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, l := newStore()
			ctx := context.Background()
			_, _ = s.Open(ctx, position("p1", "ETHUSDT", tc.side, 100, 2, 50, 150), false)

			pos, pnl, err := s.Close(ctx, "p1", d(tc.exit))
			if err != nil {
				t.Fatalf("close: %v", err)
			}
			if !pnl.Equal(d(tc.want)) {
				t.Errorf("expected pnl %v, got %s", tc.want, pnl)
			}
			if pos.ID != "p1" {
				t.Errorf("expected closed position p1, got %s", pos.ID)
			}
			if s.Count() != 0 {
				t.Errorf("expected empty store, got %d", s.Count())
			}
			if tr := l.Trades()[0]; tr.Status != "closed" || !tr.PnL.Equal(d(tc.want)) {
				t.Errorf("ledger not updated: %+v", tr)
			}
		})
	}
}

func TestClose_NotFound(t *testing.T) {
	s, _ := newStore()
	_, _, err := s.Close(context.Background(), "missing", d(100))
	if !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestClose_LedgerFailureKeepsPosition(t *testing.T) {
	fl := &failingLedger{Ledger: memory.New()}
	s := New(fl, d(0.02))
	ctx := context.Background()
	_, _ = s.Open(ctx, position("p1", "ETHUSDT", model.SideLong, 100, 1, 98, 104), false)

	fl.failClose = true
	if _, _, err := s.Close(ctx, "p1", d(104)); err == nil {
		t.Fatal("expected ledger error")
	}
	if _, ok := s.Get("p1"); !ok {
		t.Fatal("position must stay open after failed close")
	}

	fl.failClose = false
	if _, _, err := s.Close(ctx, "p1", d(104)); err != nil {
		t.Fatalf("retry close: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("expected empty store after retry, got %d", s.Count())
	}
}

func TestClose_ConcurrentCloseIsBusy(t *testing.T) {
	fl := &failingLedger{Ledger: memory.New()}
	s := New(fl, d(0.02))
	ctx := context.Background()
	_, _ = s.Open(ctx, position("p1", "ETHUSDT", model.SideLong, 100, 1, 98, 104), false)

	fl.block = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, _, err := s.Close(ctx, "p1", d(104))
		done <- err
	}()

	// Wait for the first close to reserve the id.
	for {
		s.mu.RLock()
		_, busy := s.closing["p1"]
		s.mu.RUnlock()
		if busy {
			break
		}
	}

	if _, _, err := s.Close(ctx, "p1", d(104)); !errors.Is(err, ErrPositionBusy) {
		t.Errorf("expected ErrPositionBusy, got %v", err)
	}
	close(fl.block)
	if err := <-done; err != nil {
		t.Errorf("first close failed: %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Reservations & close marks
// ────────────────────────────────────────────────────────────

func TestReserve_BlocksSecondOpen(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()

	if err := s.Reserve("ETH/USDT"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Reserve("ethusdt"); !errors.Is(err, ErrSymbolTaken) {
		t.Errorf("expected ErrSymbolTaken, got %v", err)
	}
	if opened, _ := s.Open(ctx, position("other", "ETHUSDT", model.SideShort, 100, 1, 102, 96), false); opened {
		t.Error("open must not bypass a reservation")
	}

	if err := s.OpenReserved(ctx, position("p1", "ETH/USDT", model.SideLong, 100, 1, 98, 104), true); err != nil {
		t.Fatalf("open reserved: %v", err)
	}
	if s.Count() != 1 || len(l.Trades()) != 1 {
		t.Fatalf("expected 1 position and 1 trade, got %d / %d", s.Count(), len(l.Trades()))
	}
	if err := s.Reserve("ETHUSDT"); !errors.Is(err, ErrSymbolTaken) {
		t.Errorf("expected ErrSymbolTaken while the position is open, got %v", err)
	}
}

func TestReserve_ReleaseAndFailures(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Store) error
	}{
		{"release", func(s *Store) error {
			s.Release("SOL/USDT")
			return nil
		}},
		{"invalid position", func(s *Store) error {
			return s.OpenReserved(context.Background(), position("p1", "SOLUSDT", model.SideLong, 20, -1, 19, 21), false)
		}},
		{"ledger failure", func(s *Store) error {
			s.ledger = &failingLedger{Ledger: memory.New(), failSave: true}
			return s.OpenReserved(context.Background(), position("p1", "SOLUSDT", model.SideLong, 20, 1, 19, 21), false)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newStore()
			if err := s.Reserve("SOLUSDT"); err != nil {
				t.Fatalf("reserve: %v", err)
			}
			_ = tc.run(s)
			if s.Count() != 0 {
				t.Errorf("expected no position, got %d", s.Count())
			}
			if err := s.Reserve("sol-usdt"); err != nil {
				t.Errorf("expected reservation to be released, got %v", err)
			}
		})
	}
}

func TestBeginClose_MarksUntilFinishedOrAborted(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Open(ctx, position("p1", "ETHUSDT", model.SideLong, 100, 2, 98, 104), false)

	pos, err := s.BeginClose("p1")
	if err != nil {
		t.Fatalf("begin close: %v", err)
	}
	if !pos.Size.Equal(d(2)) {
		t.Errorf("expected size 2, got %s", pos.Size)
	}
	if _, err := s.BeginClose("p1"); !errors.Is(err, ErrPositionBusy) {
		t.Errorf("expected ErrPositionBusy, got %v", err)
	}
	if _, _, err := s.Close(ctx, "p1", d(104)); !errors.Is(err, ErrPositionBusy) {
		t.Errorf("expected Close to respect the mark, got %v", err)
	}

	s.AbortClose("p1")
	if _, ok := s.Get("p1"); !ok {
		t.Fatal("abort must keep the position")
	}
	if _, err := s.BeginClose("p1"); err != nil {
		t.Fatalf("begin close after abort: %v", err)
	}
	_, pnl, err := s.FinishClose(ctx, "p1", d(104))
	if err != nil {
		t.Fatalf("finish close: %v", err)
	}
	if !pnl.Equal(d(8)) {
		t.Errorf("expected pnl 8, got %s", pnl)
	}
	if _, err := s.BeginClose("p1"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestLoad_Rehydrates(t *testing.T) {
	l := memory.New()
	ctx := context.Background()
	_ = l.SaveOrder(ctx, position("a", "ETH/USDT", model.SideLong, 100, 1, 98, 104), false)
	_ = l.SaveOrder(ctx, position("b", "ETHUSDT", model.SideShort, 100, 1, 102, 96), true)
	_ = l.SaveOrder(ctx, position("c", "BTCUSDT", model.SideLong, 50000, 0.1, 49000, 52000), false)

	s := New(l, d(0.02))
	n, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 || s.Count() != 2 {
		t.Errorf("expected 2 loaded (duplicate symbol skipped), got n=%d count=%d", n, s.Count())
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("expected first position on symbol to win")
	}
	if _, ok := s.Get("b"); ok {
		t.Error("expected duplicate position to be skipped")
	}
}

func TestPositions_Snapshot(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	p1 := position("p1", "ETHUSDT", model.SideLong, 100, 1, 98, 104)
	p2 := position("p2", "BTCUSDT", model.SideLong, 100, 1, 98, 104)
	p2.OpenedAt = p1.OpenedAt - 10
	_, _ = s.Open(ctx, p1, false)
	_, _ = s.Open(ctx, p2, false)

	got := s.Positions()
	if len(got) != 2 || got[0].ID != "p2" {
		t.Fatalf("expected oldest first, got %+v", got)
	}
	if list := s.PositionsForSymbol("eth/usdt"); len(list) != 1 || list[0].ID != "p1" {
		t.Errorf("unexpected PositionsForSymbol result: %+v", list)
	}
	if list := s.PositionsForSymbol("SOLUSDT"); list != nil {
		t.Errorf("expected nil for unknown symbol, got %+v", list)
	}
}
