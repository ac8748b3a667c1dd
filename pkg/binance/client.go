// Package binance is a small Binance Spot REST client: signed order
// placement and cancellation, account balance, and public klines.
//
// Usage example:
//
//	c := binance.NewClient(binance.Config{APIKey: key, SecretKey: secret, Testnet: true})
//	bal, err := c.AccountBalance(ctx, "USDT")
//	resp, err := c.PlaceOrder(ctx, binance.OrderParams{
//	    Symbol: "ETHUSDT", Side: binance.SideBuy, Type: binance.TypeMarket,
//	    Quantity: decimal.RequireFromString("0.05"), ClientOrderID: id,
//	})
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MainnetURL = "https://api.binance.com"
	TestnetURL = "https://testnet.binance.vision"

	defaultTimeout    = 10 * time.Second
	defaultRecvWindow = 5000
)

var routes = map[string]string{
	"api.order":   "/api/v3/order",
	"api.account": "/api/v3/account",
	"api.klines":  "/api/v3/klines",
	"api.ping":    "/api/v3/ping",
}

// Side and Type values accepted by /api/v3/order.
const (
	SideBuy    = "BUY"
	SideSell   = "SELL"
	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
)

// ---- Config & client ----

type Config struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	BaseURL    string        // overrides Testnet when set
	Timeout    time.Duration // default: 10s
	RecvWindow int           // default: 5000 ms
	Debug      bool
}

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int
	debug      bool

	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = MainnetURL
		if cfg.Testnet {
			base = TestnetURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rw := cfg.RecvWindow
	if rw <= 0 {
		rw = defaultRecvWindow
	}
	return &Client{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    base,
		recvWindow: rw,
		debug:      cfg.Debug,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// APIError is a non-2xx response from Binance.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d: code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// ErrZeroQuantity is returned when an order has no size.
var ErrZeroQuantity = errors.New("binance: refusing to place order of size zero")

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("binance: unknown route: %s", route)
	}
	return c.baseURL + uri, nil
}

// doRequest sends the request. When signed, recvWindow and timestamp are
// appended and the exact encoded query string is signed.
func (c *Client) doRequest(ctx context.Context, method, route string, params url.Values, signed bool) ([]byte, error) {
	fullURL, err := c.buildURL(route)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}

	query := params.Encode()
	if signed {
		params.Set("recvWindow", strconv.Itoa(c.recvWindow))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + Sign(c.secretKey, query)
	}
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}
	if signed || c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	if c.debug {
		slog.Debug("binance request", "method", method, "route", route)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}

	if c.debug {
		slog.Debug("binance response", "status", resp.StatusCode, "body", string(raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(raw)
		}
		return nil, apiErr
	}
	return raw, nil
}

// ---- Orders ----

type OrderParams struct {
	Symbol        string // exchange notation, e.g. ETHUSDT
	Side          string // BUY or SELL
	Type          string // MARKET or LIMIT
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT only
	ClientOrderID string
}

type OrderResponse struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	TransactTime  int64           `json:"transactTime"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
}

// PlaceOrder submits a MARKET or LIMIT (GTC) order.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	if p.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrZeroQuantity, p.Symbol)
	}

	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", p.Side)
	params.Set("type", p.Type)
	params.Set("quantity", p.Quantity.String())
	if p.Type == TypeLimit {
		params.Set("timeInForce", "GTC")
		params.Set("price", p.Price.String())
	}
	if p.ClientOrderID != "" {
		params.Set("newClientOrderId", p.ClientOrderID)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "api.order", params, true)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("binance: parse order response: %w", err)
	}
	return &out, nil
}

// CancelOrder cancels an order by its client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	_, err := c.doRequest(ctx, http.MethodDelete, "api.order", params, true)
	return err
}

// ---- Account ----

type balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountInfo struct {
	Balances []balance `json:"balances"`
}

// AccountBalance returns the free balance of asset, or zero if the account holds none.
func (c *Client) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "api.account", nil, true)
	if err != nil {
		return decimal.Zero, err
	}

	var acct accountInfo
	if err := json.Unmarshal(raw, &acct); err != nil {
		return decimal.Zero, fmt.Errorf("binance: parse account: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance: parse %s balance %q: %w", asset, b.Free, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "api.ping", nil, false)
	return err
}

// ---- Market data ----

// Kline is one candlestick from /api/v3/klines.
type Kline struct {
	OpenTime  int64 // ms
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64 // ms
}

// Klines fetches up to limit most recent candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "api.klines", params, false)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance: parse klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("expected at least 7 fields, got %d", len(row))
	}
	var k Kline
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return Kline{}, err
	}
	if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
		return Kline{}, err
	}
	for i, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		// shopspring/decimal accepts both quoted and bare JSON numbers
		if err := dst.UnmarshalJSON(row[i+1]); err != nil {
			return Kline{}, err
		}
	}
	return k, nil
}
