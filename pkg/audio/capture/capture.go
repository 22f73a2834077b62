// Package capture streams microphone audio to an agent as PCM16 frames.
//
// A [Pipeline] owns at most one open [audio.CaptureStream]. Each frame the
// device delivers is normalised to the target sample rate, encoded with
// [audio.EncodePCM16], and queued for a sender goroutine that hands it to a
// [Sender]. The device callback never waits on the sender: when the queue is
// full the frame is dropped and reported. Failures never escape
// [Pipeline.Start] or [Pipeline.Stop]; they are reported through [Callbacks].
package capture

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

// Sender receives encoded PCM16 frames. The session's SendAudio satisfies it.
type Sender interface {
	SendAudio(chunk []byte) error
}

// Callbacks are the observers of a capture attempt. Every field is optional.
// OnError receives human-readable messages.
type Callbacks struct {
	OnError                func(msg string)
	OnRecordingChange      func(recording bool)
	OnSampleRateDetermined func(rate int)
}

func (c Callbacks) reportError(msg string) {
	if c.OnError != nil {
		c.OnError(msg)
	}
}

func (c Callbacks) recordingChanged(recording bool) {
	if c.OnRecordingChange != nil {
		c.OnRecordingChange(recording)
	}
}

func (c Callbacks) sampleRateDetermined(rate int) {
	if c.OnSampleRateDetermined != nil {
		c.OnSampleRateDetermined(rate)
	}
}

// State is the lifecycle state of a [Pipeline].
type State int

const (
	// StateIdle means no stream is open.
	StateIdle State = iota
	// StateStarting means a start attempt is acquiring the device.
	StateStarting
	// StateRecording means frames are flowing to the sender.
	StateRecording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTargetSampleRate sets the sample rate frames are sent at. Default 24000.
func WithTargetSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.target = rate
		}
	}
}

// WithFramesPerBuffer sets the number of samples the device delivers per
// callback. Default 2048.
func WithFramesPerBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.framesPerBuffer = n
		}
	}
}

// WithSendQueue sets how many encoded frames may wait for the sender.
// Default 8.
func WithSendQueue(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline captures microphone audio and forwards it to a [Sender].
// All methods are safe for concurrent use.
type Pipeline struct {
	device          audio.CaptureDevice
	target          int
	framesPerBuffer int
	queueSize       int
	metrics         *observe.Metrics

	mu     sync.Mutex
	state  State
	stream audio.CaptureStream
	out    *outbox
	rate   int
}

// DefaultSendQueue is the number of frames that may wait for the sender.
const DefaultSendQueue = 8

// New creates an idle capture pipeline reading from device.
func New(device audio.CaptureDevice, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:          device,
		target:          audio.DefaultSampleRate,
		framesPerBuffer: audio.DefaultFramesPerBuffer,
		queueSize:       DefaultSendQueue,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Start acquires the microphone and begins streaming frames to sender.
//
// Start is a no-op while a previous attempt is starting or recording. A nil
// sender or a device failure is reported through cb.OnError and leaves the
// pipeline idle.
func (p *Pipeline) Start(ctx context.Context, sender Sender, cb Callbacks) {
	if sender == nil {
		cb.reportError("No agent client available to stream audio")
		return
	}

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	p.state = StateStarting
	p.mu.Unlock()

	cb.recordingChanged(false)

	constraints := audio.CaptureConstraints{EchoCancellation: true}
	if p.device.CanForceSampleRate(p.target) {
		constraints = audio.CaptureConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			SampleRate:       p.target,
			Channels:         1,
		}
	}

	out := p.startOutbox(ctx, sender, cb)
	conv := &audio.RateConverter{Target: p.target}
	onFrame := func(f audio.Frame) {
		p.handleFrame(ctx, conv, out, cb, f)
	}

	stream, err := p.device.Open(ctx, constraints, p.framesPerBuffer, onFrame)
	if err != nil {
		out.close()
		p.fail(cb, nil, types.New(types.DeviceError, "capture: open", err))
		return
	}

	rate := stream.SampleRate()
	p.mu.Lock()
	if p.state != StateStarting {
		// Stopped while the device was being opened.
		p.mu.Unlock()
		out.close()
		types.Swallow(types.BestEffortFailure, "capture: close", stream.Close())
		return
	}
	p.stream = stream
	p.out = out
	p.rate = rate
	p.mu.Unlock()

	cb.sampleRateDetermined(rate)

	if err := stream.Start(); err != nil {
		p.fail(cb, stream, types.New(types.DeviceError, "capture: start", err))
		return
	}

	p.mu.Lock()
	if p.state != StateStarting || p.stream != stream {
		p.mu.Unlock()
		return
	}
	p.state = StateRecording
	p.mu.Unlock()

	slog.Info("capture: recording started",
		"sample_rate", rate,
		"target_rate", p.target,
		"frames_per_buffer", p.framesPerBuffer,
	)
	cb.recordingChanged(true)
}

// Stop closes the stream and releases the device. It reports
// OnRecordingChange(false) only when the pipeline was recording. Calling Stop
// on an idle pipeline is a no-op.
func (p *Pipeline) Stop(cb Callbacks) {
	p.mu.Lock()
	wasRecording := p.state == StateRecording
	stream := p.stream
	out := p.out
	p.stream = nil
	p.out = nil
	p.rate = 0
	p.state = StateIdle
	p.mu.Unlock()

	if stream != nil {
		types.Swallow(types.BestEffortFailure, "capture: close", stream.Close())
	}
	if out != nil {
		out.close()
	}
	if wasRecording {
		slog.Info("capture: recording stopped")
		cb.recordingChanged(false)
	}
}

// IsRecording reports whether frames are currently flowing.
func (p *Pipeline) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRecording
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SampleRate returns the rate the device delivers, or 0 when idle.
func (p *Pipeline) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// handleFrame runs on the device's audio thread and must not block.
func (p *Pipeline) handleFrame(ctx context.Context, conv *audio.RateConverter, out *outbox, cb Callbacks, f audio.Frame) {
	chunk := conv.Convert(f)
	if len(chunk) == 0 {
		return
	}
	select {
	case out.frames <- chunk:
	default:
		p.metrics.RecordCaptureSendError(ctx, "queue_full")
		p.report(cb, types.New(types.TransientSendError, "capture: send", errSendQueueFull))
	}
}

// ── Sender goroutine ──────────────────────────────────────────────────────────

var errSendQueueFull = errors.New("send queue full, frame dropped")

// outbox is the bounded queue between the device callback and the sender.
type outbox struct {
	frames chan []byte
	quit   chan struct{}
	once   sync.Once
}

// startOutbox starts the goroutine that drains frames into sender. It exits
// once close is called; frames still queued at that point are dropped.
func (p *Pipeline) startOutbox(ctx context.Context, sender Sender, cb Callbacks) *outbox {
	out := &outbox{
		frames: make(chan []byte, p.queueSize),
		quit:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-out.quit:
				return
			case chunk := <-out.frames:
				select {
				case <-out.quit:
					return
				default:
				}
				p.send(ctx, sender, cb, chunk)
			}
		}
	}()
	return out
}

// close stops the sender goroutine without waiting for an in-flight send.
func (o *outbox) close() {
	o.once.Do(func() { close(o.quit) })
}

func (p *Pipeline) send(ctx context.Context, sender Sender, cb Callbacks, chunk []byte) {
	if err := sender.SendAudio(chunk); err != nil {
		p.metrics.RecordCaptureSendError(ctx, "send")
		p.report(cb, types.New(types.TransientSendError, "capture: send", err))
		return
	}
	p.metrics.CaptureFrames.Add(ctx, 1)
}

// ── Failures ──────────────────────────────────────────────────────────────────

// report hands err to cb.OnError with the prefix of its kind.
func (p *Pipeline) report(cb Callbacks, err error) {
	types.Handle(err, func(err error) {
		kind, _ := types.KindOf(err)
		prefix := "Error sending audio"
		if kind == types.DeviceError {
			prefix = "Microphone access error"
		}
		cb.reportError(fmt.Sprintf("%s: %v", prefix, unwrapOp(err)))
	})
}

// fail reports err. When its kind is fatal the stream (if any) is released
// and the pipeline returns to idle.
func (p *Pipeline) fail(cb Callbacks, stream audio.CaptureStream, err error) {
	if kind, _ := types.KindOf(err); kind.Fatal() {
		if stream != nil {
			types.Swallow(types.BestEffortFailure, "capture: close", stream.Close())
		}
		p.mu.Lock()
		var out *outbox
		if p.stream == stream {
			p.stream = nil
			p.rate = 0
			out, p.out = p.out, nil
		}
		if p.state == StateStarting {
			p.state = StateIdle
		}
		p.mu.Unlock()
		if out != nil {
			out.close()
		}
		slog.Error("capture: microphone unavailable", "err", err)
	}
	p.report(cb, err)
}

// unwrapOp strips the operation prefix of a [types.Error] so that the
// callback message carries the device's own wording.
func unwrapOp(err error) error {
	if e, ok := err.(*types.Error); ok {
		return e.Err
	}
	return err
}
