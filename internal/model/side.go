package model

import (
	"fmt"
	"strings"
)

// Action is the decision carried by a Signal and the side of an OrderRequest.
type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "Buy"
	case ActionSell:
		return "Sell"
	default:
		return "Hold"
	}
}

// ParseAction accepts "buy", "sell" or "hold" in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	case "hold":
		return ActionHold, nil
	}
	return ActionHold, fmt.Errorf("model: unknown action %q", s)
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Trend is the market direction reported by the indicator engine.
type Trend int

const (
	TrendSideways Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "Up"
	case TrendDown:
		return "Down"
	default:
		return "Sideways"
	}
}

// ParseTrend accepts "up", "down" or "sideways" in any case.
func ParseTrend(s string) (Trend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return TrendUp, nil
	case "down":
		return TrendDown, nil
	case "sideways":
		return TrendSideways, nil
	}
	return TrendSideways, fmt.Errorf("model: unknown trend %q", s)
}

func (t Trend) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Trend) UnmarshalText(b []byte) error {
	v, err := ParseTrend(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PositionSide is the direction of an open position.
type PositionSide int

const (
	SideLong PositionSide = iota
	SideShort
)

func (s PositionSide) String() string {
	if s == SideShort {
		return "Short"
	}
	return "Long"
}

// ParsePositionSide accepts "long" or "short" in any case.
func ParsePositionSide(s string) (PositionSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	}
	return SideLong, fmt.Errorf("model: unknown position side %q", s)
}

// EntryAction is the order side that opens a position on this side.
func (s PositionSide) EntryAction() Action {
	if s == SideShort {
		return ActionSell
	}
	return ActionBuy
}

// ExitAction is the order side that closes a position on this side.
func (s PositionSide) ExitAction() Action {
	if s == SideShort {
		return ActionBuy
	}
	return ActionSell
}

func (s PositionSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PositionSide) UnmarshalText(b []byte) error {
	v, err := ParsePositionSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderKind selects market or limit execution.
type OrderKind int

const (
	OrderMarket OrderKind = iota
	OrderLimit
)

func (k OrderKind) String() string {
	if k == OrderLimit {
		return "Limit"
	}
	return "Market"
}

func (k OrderKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OrderKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "market":
		*k = OrderMarket
	case "limit":
		*k = OrderLimit
	default:
		return fmt.Errorf("model: unknown order kind %q", string(b))
	}
	return nil
}

// SideForAction maps Buy to Long and Sell to Short. Hold has no side.
func SideForAction(a Action) (PositionSide, bool) {
	switch a {
	case ActionBuy:
		return SideLong, true
	case ActionSell:
		return SideShort, true
	}
	return SideLong, false
}
