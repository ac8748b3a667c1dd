// Package ws streams closed Binance klines as candles.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

const (
	MainnetStreamURL = "wss://stream.binance.com:9443"
	TestnetStreamURL = "wss://testnet.binance.vision"

	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultPingInterval = 15 * time.Second
	defaultReadTimeout  = 60 * time.Second
)

// IngestConfig holds configuration for the kline stream.
type IngestConfig struct {
	BaseURL  string // defaults to MainnetStreamURL
	Symbol   string // any form, e.g. "ETH/USDT"
	Interval string // kline interval, e.g. "1m"

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// Ingest connects to the Binance kline stream and pushes closed candles.
type Ingest struct {
	cfg IngestConfig

	// Optional hooks
	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func()
}

// New creates a new Ingest instance, filling zero durations with defaults.
func New(cfg IngestConfig) *Ingest {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetStreamURL
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Ingest{cfg: cfg}
}

// URL returns the stream endpoint, e.g. <base>/ws/ethusdt@kline_1m.
func (ing *Ingest) URL() string {
	sym := strings.ToLower(model.NormalizeSymbol(ing.cfg.Symbol))
	return fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(ing.cfg.BaseURL, "/"), sym, ing.cfg.Interval)
}

// Start streams closed candles into out, reconnecting with exponential
// backoff. Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.Candle) error {
	url := ing.URL()
	backoff := ing.cfg.MinBackoff

	for {
		connected, err := ing.consume(ctx, url, out)
		if ctx.Err() != nil {
			return nil
		}
		if ing.OnDisconnect != nil {
			ing.OnDisconnect(err)
		}
		if connected {
			backoff = ing.cfg.MinBackoff
		}
		slog.Warn("kline stream disconnected, retrying", "url", url, "backoff", backoff.String(), "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, ing.cfg.MaxBackoff)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}
}

// consume runs one connection. connected reports whether the dial succeeded.
func (ing *Ingest) consume(ctx context.Context, url string, out chan<- model.Candle) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("ws ingest: dial: %w", err)
	}
	defer conn.Close()

	slog.Info("kline stream connected", "url", url)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(ing.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// unblocks ReadMessage
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					slog.Warn("kline stream ping failed", "error", err)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("ws ingest: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))

		candle, closed, err := parseKline(msg)
		if err != nil {
			slog.Warn("kline parse error", "error", err)
			continue
		}
		if !closed {
			continue
		}

		select {
		case out <- candle:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime int64           `json:"t"`
		Open     decimal.Decimal `json:"o"`
		High     decimal.Decimal `json:"h"`
		Low      decimal.Decimal `json:"l"`
		Close    decimal.Decimal `json:"c"`
		Volume   decimal.Decimal `json:"v"`
		Closed   bool            `json:"x"`
	} `json:"k"`
}

var errNotKline = errors.New("not a kline event")

// parseKline decodes a kline event. closed is the exchange's bar-final flag.
func parseKline(msg []byte) (c model.Candle, closed bool, err error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return model.Candle{}, false, fmt.Errorf("decode kline: %w", err)
	}
	if ev.EventType != "kline" {
		return model.Candle{}, false, errNotKline
	}
	k := ev.Kline
	return model.Candle{
		Timestamp: k.OpenTime / 1000,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}, k.Closed, nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
