package audio

// Default rates used across voicelink. The agent exchanges linear16 audio at
// 24 kHz in both directions unless the settings say otherwise.
const (
	// DefaultSampleRate is the wire rate for microphone audio and the initial
	// playback rate for agent audio.
	DefaultSampleRate = 24000

	// DefaultFramesPerBuffer is the number of samples delivered per capture callback.
	DefaultFramesPerBuffer = 2048
)

// Frame is one capture callback's worth of mono float32 samples in [-1, 1].
//
// Frames are transient: Samples is only valid for the duration of the callback
// that receives it and may be reused by the device afterwards. Consumers that
// need the data later must copy it (encoding to PCM16 already does).
type Frame struct {
	// Samples holds one channel of audio at SampleRate.
	Samples []float32

	// SampleRate in Hz at which the device produced Samples.
	SampleRate int
}

// Duration returns the playback length of the frame in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate)
}
