package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

// verifySignature checks that the signature covers exactly the query sent before it.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	if idx < 0 {
		t.Fatalf("missing signature in %q", raw)
	}
	payload, sig := raw[:idx], raw[idx+len("&signature="):]
	if want := Sign("secret", payload); sig != want {
		t.Errorf("signature mismatch: got %s want %s", sig, want)
	}
	if r.Header.Get("X-MBX-APIKEY") != "key" {
		t.Errorf("expected api key header, got %q", r.Header.Get("X-MBX-APIKEY"))
	}
}

func TestSign_KnownVector(t *testing.T) {
	// Example from the Binance API documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := Sign(secret, payload); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestPlaceOrder_Market(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		verifySignature(t, r)
		q := r.URL.Query()
		if q.Get("type") != "MARKET" || q.Get("side") != "BUY" || q.Get("quantity") != "0.5" {
			t.Errorf("unexpected params %v", q)
		}
		if q.Get("price") != "" || q.Get("timeInForce") != "" {
			t.Errorf("market order must not carry price/timeInForce: %v", q)
		}
		if q.Get("timestamp") != "1700000000000" || q.Get("recvWindow") != "5000" {
			t.Errorf("unexpected timing params %v", q)
		}
		w.Write([]byte(`{"symbol":"ETHUSDT","orderId":42,"clientOrderId":"abc","status":"FILLED","executedQty":"0.5","price":"0.00000000"}`))
	})

	resp, err := c.PlaceOrder(context.Background(), OrderParams{
		Symbol: "ETHUSDT", Side: SideBuy, Type: TypeMarket,
		Quantity: decimal.RequireFromString("0.5"), ClientOrderID: "abc",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if resp.OrderID != 42 || resp.Status != "FILLED" || !resp.ExecutedQty.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPlaceOrder_Limit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		q := r.URL.Query()
		if q.Get("type") != "LIMIT" || q.Get("timeInForce") != "GTC" || q.Get("price") != "2500.5" {
			t.Errorf("unexpected limit params %v", q)
		}
		w.Write([]byte(`{"orderId":7}`))
	})
	_, err := c.PlaceOrder(context.Background(), OrderParams{
		Symbol: "ETHUSDT", Side: SideSell, Type: TypeLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.RequireFromString("2500.5"),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
}

func TestPlaceOrder_ZeroQuantity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.PlaceOrder(context.Background(), OrderParams{Symbol: "ETHUSDT", Side: SideBuy, Type: TypeMarket})
	if !errors.Is(err, ErrZeroQuantity) {
		t.Errorf("expected ErrZeroQuantity, got %v", err)
	}
}

func TestPlaceOrder_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
	})
	_, err := c.PlaceOrder(context.Background(), OrderParams{
		Symbol: "ETHUSDT", Side: SideBuy, Type: TypeMarket, Quantity: decimal.NewFromInt(1),
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != -2010 || apiErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestAccountBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		verifySignature(t, r)
		w.Write([]byte(`{"balances":[{"asset":"BTC","free":"0.1","locked":"0"},{"asset":"USDT","free":"1234.56","locked":"10"}]}`))
	})

	bal, err := c.AccountBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("expected 1234.56, got %s", bal)
	}

	none, err := c.AccountBalance(context.Background(), "DOGE")
	if err != nil || !none.IsZero() {
		t.Errorf("expected zero for missing asset, got %s err=%v", none, err)
	}
}

func TestKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("signature") != "" {
			t.Error("klines must not be signed")
		}
		if r.URL.Query().Get("interval") != "1m" {
			t.Errorf("unexpected interval %s", r.URL.Query().Get("interval"))
		}
		w.Write([]byte(`[[1700000000000,"100.1","101","99.5","100.7","12.3",1700000059999,"0",1,"0","0","0"],
			[1700000060000,"100.7","102","100","101.9","8",1700000119999,"0",1,"0","0","0"]]`))
	})

	ks, err := c.Klines(context.Background(), "ETHUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(ks) != 2 {
		t.Fatalf("expected 2 klines, got %d", len(ks))
	}
	if ks[0].OpenTime != 1700000000000 || !ks[0].Close.Equal(decimal.RequireFromString("100.7")) {
		t.Errorf("unexpected first kline %+v", ks[0])
	}
	if ks[1].CloseTime != 1700000119999 {
		t.Errorf("unexpected close time %d", ks[1].CloseTime)
	}
}

func TestNewClient_BaseURL(t *testing.T) {
	if c := NewClient(Config{Testnet: true}); c.baseURL != TestnetURL {
		t.Errorf("expected testnet url, got %s", c.baseURL)
	}
	if c := NewClient(Config{}); c.baseURL != MainnetURL {
		t.Errorf("expected mainnet url, got %s", c.baseURL)
	}
}
