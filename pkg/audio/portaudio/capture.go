package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicelink/pkg/audio"
)

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// CaptureDevice is a PortAudio microphone. PortAudio has no echo
// cancellation, noise suppression or gain control, so those constraints are
// ignored.
type CaptureDevice struct {
	// Name selects the device by case-insensitive substring. Empty means the
	// host default input.
	Name string
}

// CanForceSampleRate reports whether rate is the device's native rate.
// PortAudio may refuse or silently convert other rates depending on the host
// API, so the pipeline resamples in software instead.
func (d *CaptureDevice) CanForceSampleRate(rate int) bool {
	dev, err := findDevice(d.Name, true)
	if err != nil {
		return false
	}
	return int(dev.DefaultSampleRate) == rate
}

// Open implements [audio.CaptureDevice]. The stream is mono float32.
func (d *CaptureDevice) Open(_ context.Context, c audio.CaptureConstraints, framesPerBuffer int, onFrame func(audio.Frame)) (audio.CaptureStream, error) {
	dev, err := findDevice(d.Name, true)
	if err != nil {
		return nil, err
	}
	rate := int(dev.DefaultSampleRate)
	if c.SampleRate > 0 {
		rate = c.SampleRate
	}

	s := &captureStream{rate: rate, onFrame: onFrame}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	s.stream = stream
	return s, nil
}

type captureStream struct {
	rate   int
	stream *portaudio.Stream

	mu      sync.Mutex
	onFrame func(audio.Frame)
	closed  bool
}

// callback runs on the PortAudio thread. in is reused between calls.
func (s *captureStream) callback(in []float32) {
	s.mu.Lock()
	fn := s.onFrame
	s.mu.Unlock()
	if fn == nil {
		return
	}
	samples := make([]float32, len(in))
	copy(samples, in)
	fn(audio.Frame{Samples: samples, SampleRate: s.rate})
}

func (s *captureStream) SampleRate() int { return s.rate }

func (s *captureStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	return nil
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onFrame = nil
	s.mu.Unlock()

	// Stop fails on a stream that was never started; Close still releases it.
	_ = s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}
