// Package replay emits stored candles at a configurable speed for
// backtesting and warm-up.
package replay

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"sniperbot/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Source loads candle history after a Unix timestamp, oldest first.
// Satisfied by the SQLite reader and the Postgres store.
type Source interface {
	LoadAll(ctx context.Context, symbol string, after int64) ([]model.Candle, error)
}

// Replayer reads historical candles and replays them in time order.
type Replayer struct {
	src   Source
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by src.
func New(src Source) *Replayer {
	return &Replayer{src: src, sleep: sleepCtx}
}

// Run replays every candle for symbol after fromTS into out.
// speed controls the playback rate: 1.0 = real-time, 60 = 60x,
// 0 = as fast as possible. Returns the number of candles emitted.
func (r *Replayer) Run(ctx context.Context, symbol string, fromTS int64, speed float64, out chan<- model.Candle) (int, error) {
	candles, err := r.src.LoadAll(ctx, symbol, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		slog.Info("no candles to replay", "symbol", symbol)
		return 0, nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })

	slog.Info("replay starting", "symbol", symbol, "candles", len(candles), "speed", speed)

	emitted := 0
	prevTS := candles[0].Timestamp
	for _, c := range candles {
		if speed > 0 {
			if gap := time.Duration(c.Timestamp-prevTS) * time.Second; gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return emitted, err
				}
			}
		}
		prevTS = c.Timestamp

		select {
		case out <- c:
			emitted++
		case <-ctx.Done():
			slog.Info("replay cancelled", "emitted", emitted)
			return emitted, ctx.Err()
		}
	}

	slog.Info("replay completed", "symbol", symbol, "emitted", emitted)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
