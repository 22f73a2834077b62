package portaudio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/mixer"
)

var _ audio.OutputDevice = (*OutputDevice)(nil)

// OutputDevice is a PortAudio speaker. Each Open creates a mono float32
// stream whose callback renders a [mixer.Timeline]; the timeline is the
// returned context and starts suspended.
type OutputDevice struct {
	// Name selects the device by case-insensitive substring. Empty means the
	// host default output.
	Name string

	// SampleRate is the stream rate. Zero uses the device's native rate.
	SampleRate int

	// FramesPerBuffer is the callback buffer size. Zero lets PortAudio choose.
	FramesPerBuffer int
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(context.Context) (audio.OutputContext, error) {
	dev, err := findDevice(d.Name, false)
	if err != nil {
		return nil, err
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}

	tl := mixer.New(rate)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: d.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, tl.Render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %q: %w", dev.Name, err)
	}
	tl.Attach(outputDriver{stream})
	return tl, nil
}

type outputDriver struct {
	stream *portaudio.Stream
}

func (d outputDriver) Start() error { return d.stream.Start() }

func (d outputDriver) Close() error {
	// Abort drops buffered audio; Stop would drain it first.
	_ = d.stream.Abort()
	return d.stream.Close()
}
