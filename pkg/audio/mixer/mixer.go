package mixer

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.OutputContext = (*Timeline)(nil)
	_ audio.Voice         = (*voice)(nil)
)

// Driver is the hardware stream behind a [Timeline].
type Driver interface {
	// Start begins invoking the render callback.
	Start() error

	// Close stops the stream and releases it.
	Close() error
}

// Timeline is a software output clock. The clock position is the number of
// frames rendered so far divided by the stream rate. Voices scheduled in the
// past start at the next rendered frame.
//
// All methods are safe for concurrent use. Render is intended to be called
// from a real-time audio thread and never blocks on anything but the
// timeline's own mutex.
type Timeline struct {
	rate int

	mu      sync.Mutex
	driver  Driver
	state   audio.ContextState
	frame   int64
	seq     uint64
	pending voiceHeap
	active  []*voice

	// End of the most recently scheduled voice, in seconds and in frames.
	tailTime  float64
	tailFrame int64
	hasTail   bool
}

// New creates a suspended timeline rendering at rate Hz. Attach a [Driver]
// before calling Resume; without one, Resume only flips the state and the
// caller is expected to call Render itself.
func New(rate int) *Timeline {
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	return &Timeline{rate: rate, state: audio.ContextSuspended}
}

// Attach sets the driver started by Resume and closed by Close.
func (t *Timeline) Attach(d Driver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.driver = d
}

// SampleRate returns the rate the timeline renders at.
func (t *Timeline) SampleRate() int { return t.rate }

// State implements [audio.OutputContext].
func (t *Timeline) State() audio.ContextState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Resume implements [audio.OutputContext].
func (t *Timeline) Resume(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case audio.ContextClosed:
		return audio.ErrContextClosed
	case audio.ContextRunning:
		return nil
	}
	if t.driver != nil {
		if err := t.driver.Start(); err != nil {
			return fmt.Errorf("mixer: start stream: %w", err)
		}
	}
	t.state = audio.ContextRunning
	return nil
}

// CurrentTime implements [audio.OutputContext].
func (t *Timeline) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.rate)
}

// Schedule implements [audio.OutputContext]. Samples at a rate other than
// the timeline's are linearly resampled first.
//
// Frame positions are derived from the voice's start and end times, so a
// voice scheduled at the end time of the previous one starts on the frame
// after it, whatever the ratio between the two rates.
func (t *Timeline) Schedule(samples []float32, sampleRate int, at float64) (audio.Voice, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("mixer: schedule: invalid sample rate %d", sampleRate)
	}
	rendered := audio.ResampleFloat(samples, sampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == audio.ContextClosed {
		return nil, audio.ErrContextClosed
	}
	duration := float64(len(samples)) / float64(sampleRate)
	start := t.frameAt(at)
	if sampleRate != t.rate && len(rendered) > 0 {
		rendered = fit(rendered, t.frameAt(at+duration)-start)
	}
	t.tailTime, t.tailFrame, t.hasTail = at+duration, start+int64(len(rendered)), true
	start = max(start, t.frame)

	t.seq++
	v := &voice{
		timeline:   t,
		samples:    rendered,
		startFrame: start,
		seq:        t.seq,
		start:      at,
		duration:   duration,
		done:       make(chan struct{}),
	}
	if len(rendered) == 0 {
		v.finishLocked()
		return v, nil
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// frameAt converts a clock time to a frame index. Times within half a frame
// of the previous voice's end map to its end frame.
func (t *Timeline) frameAt(at float64) int64 {
	if t.hasTail && math.Abs(at-t.tailTime) < 0.5/float64(t.rate) {
		return t.tailFrame
	}
	return int64(math.Round(at * float64(t.rate)))
}

// fit pads samples with their last value, or truncates them, to n frames.
func fit(samples []float32, n int64) []float32 {
	if n <= 0 {
		return nil
	}
	if int64(len(samples)) >= n {
		return samples[:n]
	}
	out := make([]float32, n)
	copy(out, samples)
	last := samples[len(samples)-1]
	for i := len(samples); i < len(out); i++ {
		out[i] = last
	}
	return out
}

// Close implements [audio.OutputContext]. Every scheduled voice is stopped.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.state == audio.ContextClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = audio.ContextClosed
	for _, v := range t.active {
		v.finishLocked()
	}
	for _, v := range t.pending {
		v.finishLocked()
	}
	t.active = nil
	t.pending = nil
	d := t.driver
	t.mu.Unlock()

	if d != nil {
		if err := d.Close(); err != nil {
			return fmt.Errorf("mixer: close stream: %w", err)
		}
	}
	return nil
}

// Render fills out with the sum of all voices playing during the next
// len(out) frames and advances the clock. The mix is clipped to [-1, 1].
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == audio.ContextClosed {
		return
	}

	end := t.frame + int64(len(out))
	for t.pending.Len() > 0 && t.pending[0].startFrame < end {
		t.active = append(t.active, heap.Pop(&t.pending).(*voice))
	}

	kept := t.active[:0]
	for _, v := range t.active {
		if v.finished {
			continue
		}
		v.mixInto(out, t.frame)
		if v.startFrame+int64(len(v.samples)) <= end {
			v.finishLocked()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	t.frame = end
}

// Active returns the number of voices scheduled and not yet finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, vs := range [][]*voice{t.pending, t.active} {
		for _, v := range vs {
			if !v.finished {
				n++
			}
		}
	}
	return n
}

// ── Voice ─────────────────────────────────────────────────────────────────────

type voice struct {
	timeline   *Timeline
	samples    []float32
	startFrame int64
	seq        uint64

	start    float64
	duration float64

	// Guarded by timeline.mu.
	finished bool
	done     chan struct{}
}

// mixInto adds the part of the voice that overlaps [frame, frame+len(out)).
func (v *voice) mixInto(out []float32, frame int64) {
	from := max(v.startFrame, frame)
	to := min(v.startFrame+int64(len(v.samples)), frame+int64(len(out)))
	for f := from; f < to; f++ {
		out[f-frame] += v.samples[f-v.startFrame]
	}
}

func (v *voice) finishLocked() {
	if v.finished {
		return
	}
	v.finished = true
	close(v.done)
}

func (v *voice) Start() float64    { return v.start }
func (v *voice) Duration() float64 { return v.duration }

func (v *voice) Done() <-chan struct{} { return v.done }

// Stop silences the voice. A pending voice never starts.
func (v *voice) Stop() error {
	v.timeline.mu.Lock()
	defer v.timeline.mu.Unlock()
	if v.finished {
		return audio.ErrVoiceStopped
	}
	v.finishLocked()
	return nil
}
