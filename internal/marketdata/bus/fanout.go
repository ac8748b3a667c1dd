// Package bus fans the candle stream out to independent consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"sniperbot/internal/model"
)

// DropCounter is notified when a subscriber misses a candle.
type DropCounter interface {
	FanoutDropped(subscriber string)
}

type subscriber struct {
	name string
	ch   chan model.Candle
}

// FanOut broadcasts candles from a single input channel to named output
// channels. A full output drops the candle for that subscriber only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []subscriber
	bufSize int

	// Drops is optional.
	Drops DropCounter
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Call before Run.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; outputs are closed on return.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.outputs {
				select {
				case s.ch <- candle:
				default:
					if f.Drops != nil {
						f.Drops.FanoutDropped(s.name)
					}
					slog.Warn("subscriber full, dropping candle", "subscriber", s.name, "ts", candle.Timestamp)
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports a subscriber's buffer saturation.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, s := range f.outputs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
