// Package mock provides in-memory mock implementations of the [audio.CaptureDevice]
// and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.CaptureDevice{Rate: 48000}
//	stream, _ := dev.Open(ctx, audio.CaptureConstraints{}, 2048, onFrame)
//	_ = stream.Start()
//	dev.Emit(make([]float32, 2048)) // drives onFrame synchronously
//
//	out := &mock.OutputDevice{}
//	octx, _ := out.Open(ctx)
//	out.Context().Advance(0.5) // move the manual clock forward
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*CaptureDevice)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.OutputDevice  = (*OutputDevice)(nil)
	_ audio.OutputContext = (*OutputContext)(nil)
	_ audio.Voice         = (*Voice)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [CaptureDevice.Open] invocation.
type OpenCall struct {
	Constraints     audio.CaptureConstraints
	FramesPerBuffer int
}

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// ForceRate is returned by CanForceSampleRate.
	ForceRate bool

	// Rate is the sample rate reported by opened streams. When zero the
	// requested constraint rate is used, falling back to 48000.
	Rate int

	// OpenError is returned by Open (e.g. to simulate permission denial).
	OpenError error

	// StartError is returned by CaptureStream.Start.
	StartError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	stream *CaptureStream
}

// CanForceSampleRate implements [audio.CaptureDevice]. Returns ForceRate.
func (d *CaptureDevice) CanForceSampleRate(int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ForceRate
}

// Open implements [audio.CaptureDevice]. Records the call and returns a
// [CaptureStream] bound to onFrame, or OpenError.
func (d *CaptureDevice) Open(_ context.Context, c audio.CaptureConstraints, framesPerBuffer int, onFrame func(audio.Frame)) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Constraints: c, FramesPerBuffer: framesPerBuffer})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	rate := d.Rate
	if rate == 0 {
		rate = c.SampleRate
	}
	if rate == 0 {
		rate = 48000
	}
	d.stream = &CaptureStream{rate: rate, onFrame: onFrame, startErr: d.StartError}
	return d.stream, nil
}

// Stream returns the most recently opened stream, or nil.
func (d *CaptureDevice) Stream() *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// Emit delivers samples to the most recently opened stream's callback, as the
// platform audio thread would. It is a no-op if the stream is not started or
// has been closed.
func (d *CaptureDevice) Emit(samples []float32) {
	if s := d.Stream(); s != nil {
		s.Emit(samples)
	}
}

// CaptureStream is a mock implementation of [audio.CaptureStream].
type CaptureStream struct {
	mu       sync.Mutex
	rate     int
	onFrame  func(audio.Frame)
	startErr error
	started  bool
	closed   bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SampleRate implements [audio.CaptureStream].
func (s *CaptureStream) SampleRate() int { return s.rate }

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.onFrame = nil
	return nil
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit invokes the frame callback synchronously.
func (s *CaptureStream) Emit(samples []float32) {
	s.mu.Lock()
	cb := s.onFrame
	live := s.started && !s.closed
	s.mu.Unlock()
	if cb == nil || !live {
		return
	}
	cb(audio.Frame{Samples: samples, SampleRate: s.rate})
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. Each Open
// returns a fresh [OutputContext] with a manual clock starting at zero.
type OutputDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error

	// StartRunning makes opened contexts start in the running state instead
	// of suspended.
	StartRunning bool

	// ResumeError is copied into every opened context's ResumeError.
	ResumeError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	current *OutputContext
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(context.Context) (audio.OutputContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	state := audio.ContextSuspended
	if d.StartRunning {
		state = audio.ContextRunning
	}
	d.current = &OutputContext{state: state, ResumeError: d.ResumeError}
	return d.current, nil
}

// Context returns the most recently opened context, or nil.
func (d *OutputDevice) Context() *OutputContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Scheduled records a single [OutputContext.Schedule] invocation.
type Scheduled struct {
	Samples    []float32
	SampleRate int
	At         float64
	Voice      *Voice
}

// OutputContext is a mock implementation of [audio.OutputContext] with a
// clock that only moves when the test calls [OutputContext.Advance] or
// [OutputContext.SetTime].
type OutputContext struct {
	mu    sync.Mutex
	state audio.ContextState
	now   float64

	// ResumeError is returned by Resume.
	ResumeError error

	// ScheduleError is returned by Schedule.
	ScheduleError error

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// ScheduleCalls records all successful Schedule invocations in order.
	ScheduleCalls []Scheduled
}

// State implements [audio.OutputContext].
func (c *OutputContext) State() audio.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [audio.OutputContext].
func (c *OutputContext) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountResume++
	if c.ResumeError != nil {
		return c.ResumeError
	}
	if c.state == audio.ContextClosed {
		return audio.ErrContextClosed
	}
	c.state = audio.ContextRunning
	return nil
}

// CurrentTime implements [audio.OutputContext].
func (c *OutputContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule implements [audio.OutputContext].
func (c *OutputContext) Schedule(samples []float32, sampleRate int, at float64) (audio.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ScheduleError != nil {
		return nil, c.ScheduleError
	}
	if c.state == audio.ContextClosed {
		return nil, audio.ErrContextClosed
	}
	v := &Voice{
		start:    at,
		duration: float64(len(samples)) / float64(sampleRate),
		done:     make(chan struct{}),
	}
	c.ScheduleCalls = append(c.ScheduleCalls, Scheduled{
		Samples:    samples,
		SampleRate: sampleRate,
		At:         at,
		Voice:      v,
	})
	return v, nil
}

// Close implements [audio.OutputContext].
func (c *OutputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.state = audio.ContextClosed
	return nil
}

// Advance moves the clock forward by d seconds and finishes every voice whose
// end time has been reached.
func (c *OutputContext) Advance(d float64) {
	c.mu.Lock()
	t := c.now + d
	c.mu.Unlock()
	c.SetTime(t)
}

// SetTime moves the clock to t seconds and finishes every voice whose end
// time has been reached.
func (c *OutputContext) SetTime(t float64) {
	c.mu.Lock()
	c.now = t
	var finished []*Voice
	for _, s := range c.ScheduleCalls {
		if s.At+s.Voice.duration <= t {
			finished = append(finished, s.Voice)
		}
	}
	c.mu.Unlock()
	for _, v := range finished {
		v.finish()
	}
}

// Schedules returns a copy of ScheduleCalls.
func (c *OutputContext) Schedules() []Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Scheduled, len(c.ScheduleCalls))
	copy(out, c.ScheduleCalls)
	return out
}

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	mu       sync.Mutex
	start    float64
	duration float64
	stopped  bool
	done     chan struct{}

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start implements [audio.Voice].
func (v *Voice) Start() float64 { return v.start }

// Duration implements [audio.Voice].
func (v *Voice) Duration() float64 { return v.duration }

// Stop implements [audio.Voice].
func (v *Voice) Stop() error {
	v.mu.Lock()
	v.CallCountStop++
	v.mu.Unlock()
	if !v.finish() {
		return audio.ErrVoiceStopped
	}
	return nil
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stopped reports whether the voice has finished or been stopped.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// finish marks the voice as done. It reports false if it already was.
func (v *Voice) finish() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return false
	}
	v.stopped = true
	close(v.done)
	return true
}
