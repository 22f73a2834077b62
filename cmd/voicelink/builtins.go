package main

import (
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/pkg/audio/portaudio"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/MrWong99/voicelink/pkg/provider/agent/deepgram"
)

// registerBuiltins wires the agent transports and audio backends that ship
// with voicelink into reg.
func registerBuiltins(reg *config.Registry) {
	// ── Agent ─────────────────────────────────────────────────────────────────

	reg.RegisterAgent("deepgram", func(cfg config.AgentConfig) (agent.Provider, error) {
		opts := []deepgram.Option{deepgram.WithAuthScheme(deepgram.AuthScheme(cfg.AuthScheme))}
		if cfg.URL != "" {
			opts = append(opts, deepgram.WithURL(cfg.URL))
		}
		return deepgram.New(opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(cfg config.AudioConfig) (config.Devices, error) {
		terminate, err := portaudio.Initialize()
		if err != nil {
			return config.Devices{}, err
		}
		return config.Devices{
			Capture: &portaudio.CaptureDevice{Name: cfg.InputDevice},
			Output: &portaudio.OutputDevice{
				Name:       cfg.OutputDevice,
				SampleRate: cfg.OutputSampleRate,
			},
			Close: terminate,
		}, nil
	})
}
