package redis

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

func TestKeyNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{SignalChannel("eth/usdt"), "pub:signal:ETHUSDT"},
		{OrderChannel("ETH-USDT"), "pub:order:ETHUSDT"},
		{SignalStream("ETHUSDT"), "signals:ETHUSDT"},
		{OrderStream("btc_usdt"), "orders:BTCUSDT"},
		{LatestSignalKey("ETH/USDT"), "signal:latest:ETHUSDT"},
		{SnapshotKey("sol/usdt"), "ind:snapshot:SOLUSDT"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, tt.got)
		}
	}
}

// newIntegrationPublisher connects to TEST_REDIS_ADDR or skips.
func newIntegrationPublisher(t *testing.T) *Publisher {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	p, err := New(Config{Addr: addr, DB: 15})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		p.Client().FlushDB(context.Background())
		p.Close()
	})
	return p
}

func TestPublisher_SignalRoundTrip(t *testing.T) {
	p := newIntegrationPublisher(t)
	ctx := context.Background()

	sub := p.Subscribe(ctx, "ETH/USDT")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sig := model.Signal{ID: "s1", Timestamp: 1, Symbol: "ETH/USDT", Action: model.ActionBuy,
		Trend: model.TrendUp, Price: decimal.NewFromInt(100), Confidence: decimal.NewFromFloat(0.8)}
	if err := p.PublishSignal(ctx, sig); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Channel != "pub:signal:ETHUSDT" {
		t.Errorf("unexpected channel %s", msg.Channel)
	}
	var got model.Signal
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil || got.ID != "s1" {
		t.Errorf("unexpected payload %s (err=%v)", msg.Payload, err)
	}

	n, err := p.Client().XLen(ctx, SignalStream("ETHUSDT")).Result()
	if err != nil || n != 1 {
		t.Errorf("expected 1 stream entry, got %d (err=%v)", n, err)
	}
	if latest, _ := p.Client().Get(ctx, LatestSignalKey("ETHUSDT")).Result(); latest == "" {
		t.Error("expected latest signal key to be set")
	}
}

func TestPublisher_Snapshot(t *testing.T) {
	p := newIntegrationPublisher(t)
	ctx := context.Background()

	if data, err := p.ReadSnapshotJSON(ctx, "ETHUSDT"); err != nil || data != nil {
		t.Fatalf("expected no snapshot, got %q err=%v", data, err)
	}
	if err := p.SaveSnapshotJSON(ctx, "ETH/USDT", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := p.ReadSnapshotJSON(ctx, "ethusdt")
	if err != nil || string(data) != `{"version":1}` {
		t.Errorf("unexpected snapshot %q err=%v", data, err)
	}
}
