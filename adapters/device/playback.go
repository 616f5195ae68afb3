package device

import (
	"context"
	"sync"
)

type sink interface {
	Write(block []int16) error
	Close() error
}

// playback feeds samples to a sink block by block until the end, a Stop,
// or context cancellation.
type playback struct {
	started  chan struct{}
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func startPlayback(ctx context.Context, out sink, samples []int16, blockSize int) *playback {
	p := &playback{
		started: make(chan struct{}),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go p.run(ctx, out, samples, blockSize)
	return p
}

func (p *playback) run(ctx context.Context, out sink, samples []int16, blockSize int) {
	defer close(p.done)
	defer out.Close()

	startedClosed := false
	defer func() {
		if !startedClosed {
			close(p.started)
		}
	}()

	for offset := 0; offset < len(samples); offset += blockSize {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		end := min(offset+blockSize, len(samples))
		if err := out.Write(samples[offset:end]); err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
		if !startedClosed {
			close(p.started)
			startedClosed = true
		}
	}
}

func (p *playback) Started() <-chan struct{} { return p.started }

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
