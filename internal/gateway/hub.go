// Package gateway streams signals and orders to WebSocket observers.
//
// Every message is a JSON envelope:
//
//	{"channel":"signal:ETHUSDT","data":{...},"ts":"<RFC3339Nano>","seq":N}
//
// seq is a hub-wide sequence number; observers reconnecting with
// /ws?since=N receive the buffered envelopes they missed.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sniperbot/internal/model"
)

const (
	defaultReplaySize = 500
	clientSendBuffer  = 256
)

// SignalChannel names the signal broadcast channel for a symbol.
func SignalChannel(symbol string) string { return "signal:" + model.NormalizeSymbol(symbol) }

// OrderChannel names the order broadcast channel for a symbol.
func OrderChannel(symbol string) string { return "order:" + model.NormalizeSymbol(symbol) }

type latestEntry struct {
	Envelope []byte
	Seq      int64
}

// Hub manages WebSocket clients and fans envelopes out to them.
// It implements model.Publisher.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	replay  map[string]*ReplayBuffer
	seq     int64
	now     func() time.Time
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  make(map[string]*ReplayBuffer),
		now:     time.Now,
	}
}

// PublishSignal broadcasts sig on its symbol's signal channel.
func (h *Hub) PublishSignal(_ context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("gateway: encode signal: %w", err)
	}
	h.Broadcast(SignalChannel(sig.Symbol), data)
	return nil
}

// PublishOrder broadcasts order on its symbol's order channel.
func (h *Hub) PublishOrder(_ context.Context, order model.OrderRequest) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("gateway: encode order: %w", err)
	}
	h.Broadcast(OrderChannel(order.Symbol), data)
	return nil
}

// Broadcast wraps data in an envelope, buffers it for replay and sends it to
// every client subscribed to channel. Slow clients miss the message.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := buildEnvelope(channel, data, h.now().UTC(), seq)
	h.latest[channel] = latestEntry{Envelope: env, Seq: seq}
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(defaultReplaySize)
		h.replay[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
			slog.Warn("ws client slow, dropping message", "channel", channel, "seq", seq)
		}
	}
}

// buildEnvelope appends the envelope fields by hand; data is already JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// Handler serves the observer stream at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	return mux
}

// HandleWS upgrades the request and registers the client. With ?since=N the
// client first receives buffered envelopes newer than N, otherwise the latest
// envelope of every channel.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}

	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.sendInitialState(c, since)
	slog.Info("ws client connected", "clients", count, "since", since)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) sendInitialState(c *Client, since int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var backlog []replayEntry
	if since >= 0 {
		for _, rb := range h.replay {
			backlog = append(backlog, rb.Since(since)...)
		}
	} else {
		for _, e := range h.latest {
			backlog = append(backlog, replayEntry{Seq: e.Seq, Data: e.Envelope})
		}
	}
	sort.Slice(backlog, func(i, j int) bool { return backlog[i].Seq < backlog[j].Seq })

	for _, e := range backlog {
		select {
		case c.send <- e.Data:
		default:
			return
		}
	}
}

// removeClient unregisters c and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
