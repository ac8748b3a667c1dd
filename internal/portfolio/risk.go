package portfolio

import (
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// TriggerKind identifies which exit level a price crossed.
type TriggerKind int

const (
	TriggerStopLoss TriggerKind = iota
	TriggerTakeProfit
)

func (k TriggerKind) String() string {
	if k == TriggerTakeProfit {
		return "take_profit"
	}
	return "stop_loss"
}

// Trigger is a position whose stop-loss or take-profit was reached.
type Trigger struct {
	ID    string
	Price decimal.Decimal
	Side  model.PositionSide
	Kind  TriggerKind
}

// CheckTriggers scans the positions on symbol against price.
//
//	Long:  stop if price <= SL, take if price >= TP
//	Short: stop if price >= SL, take if price <= TP
//
// It never mutates state; the caller places the exit and calls Close.
func (s *Store) CheckTriggers(price decimal.Decimal, symbol string) []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[model.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}
	if kind, hit := triggerFor(pos, price); hit {
		return []Trigger{{ID: pos.ID, Price: price, Side: pos.Side, Kind: kind}}
	}
	return nil
}

func triggerFor(pos *model.Position, price decimal.Decimal) (TriggerKind, bool) {
	switch pos.Side {
	case model.SideShort:
		if price.GreaterThanOrEqual(pos.StopLoss) {
			return TriggerStopLoss, true
		}
		if price.LessThanOrEqual(pos.TakeProfit) {
			return TriggerTakeProfit, true
		}
	default:
		if price.LessThanOrEqual(pos.StopLoss) {
			return TriggerStopLoss, true
		}
		if price.GreaterThanOrEqual(pos.TakeProfit) {
			return TriggerTakeProfit, true
		}
	}
	return 0, false
}

// PositionSize sizes a position so that hitting stopLoss loses
// balance * riskPerTrade. Returns zero when entry equals stop.
func (s *Store) PositionSize(balance, entryPrice, stopLoss decimal.Decimal) decimal.Decimal {
	return PositionSize(balance, s.riskPerTrade, entryPrice, stopLoss)
}

// RiskPerTrade returns the configured risk fraction.
func (s *Store) RiskPerTrade() decimal.Decimal {
	return s.riskPerTrade
}

// PositionSize computes (balance * riskPerTrade) / |entryPrice - stopLoss|.
func PositionSize(balance, riskPerTrade, entryPrice, stopLoss decimal.Decimal) decimal.Decimal {
	distance := entryPrice.Sub(stopLoss).Abs()
	if distance.IsZero() {
		return decimal.Zero
	}
	return balance.Mul(riskPerTrade).Div(distance)
}
