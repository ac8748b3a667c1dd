// Package execution turns order decisions into exchange calls.
//
// Executor routes orders to Binance Spot through pkg/binance. PaperExchange
// simulates fills with slippage against a cash balance for paper trading and
// backtests. Journal is the SQLite trade ledger used when no Postgres ledger
// is configured.
package execution

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
	"sniperbot/pkg/binance"
)

// DefaultQuoteAsset is the asset whose free balance sizes positions.
const DefaultQuoteAsset = "USDT"

// Executor places orders on Binance. It implements model.Exchange.
type Executor struct {
	client     *binance.Client
	quoteAsset string
}

// NewExecutor creates an Executor over client.
func NewExecutor(client *binance.Client, quoteAsset string) *Executor {
	if quoteAsset == "" {
		quoteAsset = DefaultQuoteAsset
	}
	return &Executor{client: client, quoteAsset: quoteAsset}
}

// PlaceOrder submits req and returns the exchange order id.
func (e *Executor) PlaceOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	params, err := orderParams(req)
	if err != nil {
		return "", err
	}
	resp, err := e.client.PlaceOrder(ctx, params)
	if err != nil {
		return "", fmt.Errorf("execution: place %s %s: %w", req.Kind, req.Side, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// FetchBalance returns the free quote-asset balance.
func (e *Executor) FetchBalance(ctx context.Context) (decimal.Decimal, error) {
	bal, err := e.client.AccountBalance(ctx, e.quoteAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: fetch balance: %w", err)
	}
	return bal, nil
}

func orderParams(req model.OrderRequest) (binance.OrderParams, error) {
	var side string
	switch req.Side {
	case model.ActionBuy:
		side = binance.SideBuy
	case model.ActionSell:
		side = binance.SideSell
	default:
		return binance.OrderParams{}, fmt.Errorf("execution: cannot place order with side %s", req.Side)
	}

	p := binance.OrderParams{
		Symbol:        model.NormalizeSymbol(req.Symbol),
		Side:          side,
		Type:          binance.TypeMarket,
		Quantity:      req.Size,
		ClientOrderID: req.ID,
	}
	if req.Kind == model.OrderLimit {
		p.Type = binance.TypeLimit
		p.Price = req.Price
	}
	return p, nil
}
