package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StatusAddr == "" {
		cfg.Server.StatusAddr = DefaultStatusAddr
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = DefaultProvider
	}
	if cfg.Agent.TokenEnv == "" {
		cfg.Agent.TokenEnv = DefaultTokenEnv
	}
	if cfg.Agent.AuthScheme == "" {
		cfg.Agent.AuthScheme = AuthBearer
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureRate
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.Transcript.SessionLabel == "" {
		cfg.Transcript.SessionLabel = DefaultSessionLabel
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	a := cfg.Agent
	if a.AuthScheme != "" && !a.AuthScheme.IsValid() {
		errs = append(errs, fmt.Errorf("agent.auth_scheme %q is invalid; valid values: bearer, token", a.AuthScheme))
	}
	if a.URL != "" {
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("agent.url %q must be a ws:// or wss:// URL", a.URL))
		}
	}
	if a.KeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("agent.keep_alive_interval %s must not be negative", a.KeepAliveInterval))
	}

	switch {
	case a.Settings != nil:
		if a.Config != nil {
			slog.Warn("config: agent.settings and agent.config are both set; agent.config is ignored")
		}
		if err := a.Settings.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agent.settings: %w", err))
		}
	case a.Config != nil:
		errs = append(errs, validateAgentConfig(*a.Config)...)
	default:
		errs = append(errs, errors.New("agent.config or agent.settings is required"))
	}

	if cfg.Audio.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d must be positive", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must not be negative", cfg.Audio.OutputSampleRate))
	}

	return errors.Join(errs...)
}

func validateAgentConfig(c agent.AgentConfig) []error {
	var errs []error
	for _, f := range []struct {
		field string
		value string
		known []string
	}{
		{"listen_model", c.ListenModel, agent.ListenModels},
		{"think_model", c.ThinkModel, agent.ThinkModels},
		{"speech_model", c.SpeechModel, agent.SpeechModels},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("agent.config.%s is required", f.field))
			continue
		}
		if !slices.Contains(f.known, f.value) {
			slog.Warn("config: unknown model, may be a typo or a newer model",
				"field", "agent.config."+f.field,
				"model", f.value,
			)
		}
	}
	return errs
}
