// Package redis mirrors signals and orders to Redis for external observers
// and keeps the indicator window snapshot used for warm restarts.
//
// Key layout (SYM is the normalized symbol, e.g. ETHUSDT):
//
//	pub:signal:SYM      PubSub channel, one JSON signal per message
//	pub:order:SYM       PubSub channel, one JSON order request per message
//	signals:SYM         capped stream (MAXLEN ~ 10000), field "data"
//	orders:SYM          capped stream (MAXLEN ~ 10000), field "data"
//	signal:latest:SYM   last signal, 30m TTL
//	ind:snapshot:SYM    indicator window snapshot, 24h TTL
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"sniperbot/internal/model"
)

const (
	streamMaxLen      = 10000
	latestSignalTTL   = 30 * time.Minute
	snapshotTTL       = 24 * time.Hour
	connectTimeout    = 5 * time.Second
	defaultOpDeadline = 2 * time.Second
)

// Channel, stream and key names for symbol.
func SignalChannel(symbol string) string { return "pub:signal:" + model.NormalizeSymbol(symbol) }
func OrderChannel(symbol string) string { return "pub:order:" + model.NormalizeSymbol(symbol) }
func SignalStream(symbol string) string { return "signals:" + model.NormalizeSymbol(symbol) }
func OrderStream(symbol string) string { return "orders:" + model.NormalizeSymbol(symbol) }
func LatestSignalKey(symbol string) string { return "signal:latest:" + model.NormalizeSymbol(symbol) }
func SnapshotKey(symbol string) string { return "ind:snapshot:" + model.NormalizeSymbol(symbol) }

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher implements model.Publisher and model.SnapshotStore.
// Writes go through a circuit breaker.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
}

// New connects to Redis and pings it.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	slog.Info("connected to redis", "addr", cfg.Addr)
	return &Publisher{
		client: client,
		cb:     NewCircuitBreaker("redis-publisher", DefaultMaxFailures, DefaultResetTimeout),
	}, nil
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishSignal publishes sig, appends it to the signal stream and stores it
// as the latest signal, in one pipeline.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())
	return p.exec(ctx, "signal", func(pipe goredis.Pipeliner) {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream(sig.Symbol),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, LatestSignalKey(sig.Symbol), data, latestSignalTTL)
		pipe.Publish(ctx, SignalChannel(sig.Symbol), data)
	})
}

// PublishOrder publishes order and appends it to the order stream.
func (p *Publisher) PublishOrder(ctx context.Context, order model.OrderRequest) error {
	data := string(order.JSON())
	return p.exec(ctx, "order", func(pipe goredis.Pipeliner) {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: OrderStream(order.Symbol),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, OrderChannel(order.Symbol), data)
	})
}

func (p *Publisher) exec(ctx context.Context, kind string, build func(goredis.Pipeliner)) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultOpDeadline)
		defer cancel()
	}
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		build(pipe)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", kind, err)
	}
	return nil
}

// SaveSnapshotJSON stores an encoded indicator snapshot.
func (p *Publisher) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	err := p.cb.Execute(func() error {
		return p.client.Set(ctx, SnapshotKey(symbol), string(data), snapshotTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: save snapshot %s: %w", symbol, err)
	}
	return nil
}

// ReadSnapshotJSON loads the stored snapshot. Returns nil, nil if none exists.
func (p *Publisher) ReadSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	data, err := p.client.Get(ctx, SnapshotKey(symbol)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read snapshot %s: %w", symbol, err)
	}
	return data, nil
}

// Subscribe opens a PubSub subscription on the signal and order channels for symbol.
func (p *Publisher) Subscribe(ctx context.Context, symbol string) *goredis.PubSub {
	return p.client.Subscribe(ctx, SignalChannel(symbol), OrderChannel(symbol))
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
