// Package audio defines the PCM16 codec, sample-rate helpers, and the device
// interfaces that the capture and playback pipelines are built on.
//
// The two device abstractions mirror what a platform audio stack offers:
//
//   - [CaptureDevice] opens a mono microphone stream at a best-effort sample
//     rate and delivers fixed-size float frames from the platform's real-time
//     audio callback.
//   - [OutputDevice] opens an [OutputContext], a clock against which mono
//     float buffers can be scheduled to start at an absolute time.
//
// Implementations live in adapter packages (audio/portaudio for real hardware,
// audio/mock for tests).
//
// This package lives under pkg/ because external code is expected to provide
// its own device adapters.
package audio

import (
	"context"
	"errors"
)

// ErrVoiceStopped is returned by [Voice.Stop] when the voice has already
// stopped, either explicitly or because it finished playing.
var ErrVoiceStopped = errors.New("audio: voice already stopped")

// ErrContextClosed is returned by [OutputContext] methods after Close.
var ErrContextClosed = errors.New("audio: output context closed")

// CaptureConstraints describes what the capture pipeline asks of the
// microphone. Devices apply what they can; unsupported processing flags are
// ignored, and SampleRate is a request, not a guarantee.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// SampleRate is the requested capture rate in Hz. Zero lets the device choose.
	SampleRate int

	// Channels is the requested channel count. Zero means mono.
	Channels int
}

// CaptureDevice is a source of microphone audio.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// CanForceSampleRate reports whether the platform reliably honours a
	// request to capture at rate. When it cannot, the capture pipeline asks
	// for the device default and downsamples in software.
	CanForceSampleRate(rate int) bool

	// Open acquires the microphone and prepares a stream. onFrame is invoked
	// from the platform's real-time audio thread once the stream is started,
	// with framesPerBuffer samples per call. onFrame must not block.
	//
	// Permission denial and missing hardware are reported as errors here.
	Open(ctx context.Context, c CaptureConstraints, framesPerBuffer int, onFrame func(Frame)) (CaptureStream, error)
}

// CaptureStream is an opened microphone stream.
type CaptureStream interface {
	// SampleRate returns the rate the device actually delivers, in Hz.
	SampleRate() int

	// Start begins delivering frames to the callback passed to Open.
	Start() error

	// Close stops frame delivery, detaches the callback, and releases the
	// device and the hardware stream. Safe to call more than once.
	Close() error
}

// ContextState is the lifecycle state of an [OutputContext].
type ContextState int

const (
	// ContextSuspended means the clock is not advancing; scheduled buffers do
	// not play until [OutputContext.Resume] succeeds.
	ContextSuspended ContextState = iota

	// ContextRunning means the clock is advancing and scheduled buffers play.
	ContextRunning

	// ContextClosed means the context has been released.
	ContextClosed
)

// String returns the human-readable name of the state.
func (s ContextState) String() string {
	switch s {
	case ContextSuspended:
		return "suspended"
	case ContextRunning:
		return "running"
	case ContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OutputDevice is a sink for synthesised audio.
type OutputDevice interface {
	// Open acquires an output context. The returned context may start in the
	// [ContextSuspended] state.
	Open(ctx context.Context) (OutputContext, error)
}

// OutputContext owns an output clock and plays buffers scheduled against it.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// State returns the current lifecycle state.
	State() ContextState

	// Resume starts the clock if it is suspended. It returns once the context
	// is running.
	Resume(ctx context.Context) error

	// CurrentTime returns the output clock position in seconds.
	CurrentTime() float64

	// Schedule queues a mono buffer of samples at sampleRate to start playing
	// at the absolute clock time at (seconds). A start time in the past plays
	// immediately.
	Schedule(samples []float32, sampleRate int, at float64) (Voice, error)

	// Close releases the context and silences everything scheduled on it.
	Close() error
}

// Voice is a buffer that has been scheduled on an [OutputContext].
type Voice interface {
	// Start returns the scheduled start time in seconds.
	Start() float64

	// Duration returns the buffer length in seconds.
	Duration() float64

	// Stop halts playback. It returns [ErrVoiceStopped] if the voice already
	// stopped or finished.
	Stop() error

	// Done is closed when the voice has finished playing or was stopped.
	Done() <-chan struct{}
}
