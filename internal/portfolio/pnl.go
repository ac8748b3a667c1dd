package portfolio

import (
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// Stats accumulates realized results of closed positions.
type Stats struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Closed      int             `json:"closed"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
}

func (st *Stats) record(pnl decimal.Decimal) {
	st.RealizedPnL = st.RealizedPnL.Add(pnl)
	st.Closed++
	if pnl.IsPositive() {
		st.Wins++
	} else {
		st.Losses++
	}
}

// WinRate returns wins / closed as a percentage.
func (st Stats) WinRate() float64 {
	if st.Closed == 0 {
		return 0
	}
	return float64(st.Wins) / float64(st.Closed) * 100
}

// Summary is a point-in-time PnL view.
type Summary struct {
	Stats
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// UnrealizedPnL sums open PnL over positions whose symbol has a price in
// prices. Map keys may use any symbol notation. Positions without a price
// are left out of the sum.
func (s *Store) UnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		normalized[model.NormalizeSymbol(sym)] = p
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for key, pos := range s.positions {
		if price, ok := normalized[key]; ok {
			total = total.Add(pos.PnLAt(price))
		}
	}
	return total
}

// Stats returns the realized statistics since startup.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Summary returns realized and unrealized PnL at the given prices.
func (s *Store) Summary(prices map[string]decimal.Decimal) Summary {
	unrealized := s.UnrealizedPnL(prices)

	s.mu.RLock()
	st := s.stats
	open := len(s.positions)
	s.mu.RUnlock()

	return Summary{
		Stats:         st,
		UnrealizedPnL: unrealized,
		TotalPnL:      st.RealizedPnL.Add(unrealized),
		OpenPositions: open,
	}
}
