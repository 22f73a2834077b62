package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	agentmock "github.com/MrWong99/voicelink/pkg/provider/agent/mock"
)

func validConfig() *config.Config {
	cfg := &config.Config{
		Agent: config.AgentConfig{
			Config: &agent.AgentConfig{
				ListenModel: agent.ListenNova3General,
				ThinkModel:  agent.ThinkGPT4o,
				SpeechModel: agent.SpeechAura2Thalia,
				BasePrompt:  "Be kind.",
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"bad auth scheme", func(c *config.Config) { c.Agent.AuthScheme = "basic" }, "agent.auth_scheme"},
		{"http url", func(c *config.Config) { c.Agent.URL = "https://agent.example.com" }, "agent.url"},
		{"negative keep-alive", func(c *config.Config) { c.Agent.KeepAliveInterval = -time.Second }, "keep_alive_interval"},
		{"no agent", func(c *config.Config) { c.Agent.Config = nil }, "agent.config or agent.settings is required"},
		{"missing model", func(c *config.Config) { c.Agent.Config.SpeechModel = "" }, "agent.config.speech_model is required"},
		{"invalid settings", func(c *config.Config) { c.Agent.Settings = &agent.Settings{} }, "agent.settings: audio.input.encoding is required"},
		{"negative capture rate", func(c *config.Config) { c.Audio.CaptureSampleRate = -1 }, "audio.capture_sample_rate"},
		{"negative frames", func(c *config.Config) { c.Audio.FramesPerBuffer = -1 }, "audio.frames_per_buffer"},
		{"negative output rate", func(c *config.Config) { c.Audio.OutputSampleRate = -1 }, "audio.output_sample_rate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Agent.AuthScheme = "basic"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "agent.auth_scheme"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, missing %q", err, want)
		}
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("VOICELINK_TEST_TOKEN", "from-env")

	a := config.AgentConfig{TokenEnv: "VOICELINK_TEST_TOKEN"}
	if got := a.ResolveToken(); got != "from-env" {
		t.Errorf("ResolveToken = %q, want from-env", got)
	}
	a.Token = "inline"
	if got := a.ResolveToken(); got != "inline" {
		t.Errorf("ResolveToken = %q, want inline", got)
	}
}

func TestEffectiveSettings(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	s, ok := cfg.Agent.EffectiveSettings()
	if !ok || s.Agent.Think.Prompt != "Be kind." {
		t.Errorf("derived settings = %+v, %v", s, ok)
	}

	raw := agent.BuildSettings(*cfg.Agent.Config)
	raw.Agent.Greeting = "Hi"
	cfg.Agent.Settings = &raw
	s, _ = cfg.Agent.EffectiveSettings()
	if s.Agent.Greeting != "Hi" {
		t.Error("raw settings do not take precedence")
	}

	if _, ok := (config.AgentConfig{}).EffectiveSettings(); ok {
		t.Error("empty agent config reported settings")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	want := &agentmock.Provider{}
	r.RegisterAgent("mock", func(config.AgentConfig) (agent.Provider, error) { return want, nil })
	r.RegisterAudio("null", func(config.AudioConfig) (config.Devices, error) {
		return config.Devices{}, errors.New("no devices")
	})

	got, err := r.CreateAgent(config.AgentConfig{Provider: "mock"})
	if err != nil || got != agent.Provider(want) {
		t.Errorf("CreateAgent = %v, %v", got, err)
	}
	if _, err := r.CreateAgent(config.AgentConfig{Provider: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateAudio(config.AudioConfig{Backend: "null"}); err == nil {
		t.Error("factory error not returned")
	}
	if _, err := r.CreateAudio(config.AudioConfig{Backend: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
