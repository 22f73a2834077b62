// Package playback schedules agent speech for gapless output.
//
// A [Pipeline] decodes PCM16 chunks in arrival order and schedules each one to
// start exactly when the previous one ends, tracking a cursor on the output
// clock. When the cursor falls behind the clock (an underrun) it is snapped to
// the present so that new audio never starts in the past.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/types"
)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSampleRate sets the rate incoming chunks are decoded at. Default 24000.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithOnDrained registers fn to be called when the last scheduled buffer has
// finished playing and nothing else is queued. fn runs on its own goroutine.
func WithOnDrained(fn func()) Option {
	return func(p *Pipeline) {
		p.onDrained = fn
	}
}

// Pipeline is the playback queue plus its output clock cursor.
// All methods are safe for concurrent use.
type Pipeline struct {
	device    audio.OutputDevice
	metrics   *observe.Metrics
	onDrained func()

	// mu is held for the whole of a drain pass, which serialises scheduling.
	mu     sync.Mutex
	queue  [][]byte
	rate   int
	octx   audio.OutputContext
	cursor float64
	last   audio.Voice
	closed chan struct{} // closed when octx is released
}

// New creates a playback pipeline writing to device. The output context is
// opened lazily on the first [Pipeline.Enqueue].
func New(device audio.OutputDevice, opts ...Option) *Pipeline {
	p := &Pipeline{
		device: device,
		rate:   audio.DefaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Enqueue appends chunk to the queue and drains it. Chunks are scheduled in
// the order they were enqueued. Failures are logged; chunks that could not be
// scheduled stay queued and are retried on the next call.
func (p *Pipeline) Enqueue(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, chunk)
	if err := p.drain(context.Background()); err != nil {
		p.metrics.PlaybackErrors.Add(context.Background(), 1)
		slog.Error("playback: failed to schedule audio",
			"err", err,
			"pending", len(p.queue),
		)
	}
}

// drain schedules every queued chunk. The caller must hold p.mu.
func (p *Pipeline) drain(ctx context.Context) error {
	if p.octx == nil {
		octx, err := p.device.Open(ctx)
		if err != nil {
			return fmt.Errorf("playback: open output: %w", err)
		}
		p.octx = octx
		p.closed = make(chan struct{})
	}
	if p.octx.State() == audio.ContextSuspended {
		if err := p.octx.Resume(ctx); err != nil {
			return fmt.Errorf("playback: resume output: %w", err)
		}
	}

	if now := p.octx.CurrentTime(); p.cursor < now {
		if p.last != nil {
			p.metrics.PlaybackUnderruns.Add(ctx, 1)
			slog.Debug("playback: underrun, resetting cursor",
				"cursor", p.cursor,
				"now", now,
			)
		}
		p.cursor = now
	}

	for len(p.queue) > 0 {
		samples := audio.DecodePCM16(p.queue[0])
		if len(samples) == 0 {
			p.queue = p.queue[1:]
			continue
		}
		v, err := p.octx.Schedule(samples, p.rate, p.cursor)
		if err != nil {
			return fmt.Errorf("playback: schedule at %.3fs: %w", p.cursor, err)
		}
		p.queue = p.queue[1:]
		duration := float64(len(samples)) / float64(p.rate)
		p.cursor += duration
		p.last = v
		p.metrics.RecordPlayback(ctx, duration)
		go p.watch(v, p.closed)
	}
	p.queue = nil
	return nil
}

// watch waits for v to finish and fires the drained callback when v is still
// the most recently scheduled voice and the queue is empty.
func (p *Pipeline) watch(v audio.Voice, closed <-chan struct{}) {
	select {
	case <-v.Done():
	case <-closed:
		return
	}

	p.mu.Lock()
	drained := p.last == v && len(p.queue) == 0
	p.mu.Unlock()
	if !drained {
		return
	}
	slog.Debug("playback: agent finished speaking")
	if p.onDrained != nil {
		p.onDrained()
	}
}

// SetSampleRate changes the rate subsequent chunks are decoded at. Buffers
// already scheduled keep their rate. Non-positive rates are ignored.
func (p *Pipeline) SetSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
}

// Stop halts the most recent buffer, clears the queue, resets the cursor and
// releases the output context. Safe to call at any time.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	last := p.last
	octx := p.octx
	closed := p.closed
	p.last = nil
	p.octx = nil
	p.closed = nil
	p.queue = nil
	p.cursor = 0
	p.mu.Unlock()

	if last != nil {
		if err := last.Stop(); err != nil && !errors.Is(err, audio.ErrVoiceStopped) {
			types.Swallow(types.BestEffortFailure, "playback: stop voice", err)
		}
	}
	if closed != nil {
		close(closed)
	}
	if octx != nil {
		types.Swallow(types.BestEffortFailure, "playback: close output", octx.Close())
	}
}

// Cursor returns the output clock time at which the next buffer will start.
func (p *Pipeline) Cursor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Pending returns the number of chunks waiting to be scheduled.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// SampleRate returns the rate chunks are currently decoded at.
func (p *Pipeline) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}
