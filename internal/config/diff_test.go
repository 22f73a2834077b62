package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if d := config.Diff(cfg, cfg); d.Changed() {
		t.Errorf("identical configs differ: %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartFields) != 0 {
		t.Errorf("restart fields = %v", d.RestartFields)
	}
}

func TestDiff_PromptChanged(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Agent.Config.BasePrompt = "Be brief."

	d := config.Diff(old, new)
	if !d.PromptChanged || d.NewPrompt != "Be brief." {
		t.Errorf("diff = %+v", d)
	}
	if d.SpeakChanged || len(d.RestartFields) != 0 {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_SpeakChanged(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Agent.Config.SpeechModel = agent.SpeechAura2Apollo

	d := config.Diff(old, new)
	if !d.SpeakChanged || d.NewSpeak.Provider.Model != agent.SpeechAura2Apollo {
		t.Errorf("diff = %+v", d)
	}
	if d.PromptChanged || len(d.RestartFields) != 0 {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_RestartFields(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Agent.Config.ThinkModel = agent.ThinkClaude35Haiku
	new.Audio.InputDevice = "USB"
	new.Transcript.PostgresDSN = "postgres://localhost/db"
	new.Agent.URL = "wss://example.com"

	d := config.Diff(old, new)
	for _, want := range []string{"agent.settings", "agent", "audio", "transcript"} {
		if !slices.Contains(d.RestartFields, want) {
			t.Errorf("restart fields = %v, missing %q", d.RestartFields, want)
		}
	}
}

func TestDiff_SwitchToRawSettings(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	raw := agent.BuildSettings(*old.Agent.Config)
	new.Agent.Settings = &raw

	if d := config.Diff(old, new); d.Changed() {
		t.Errorf("equivalent raw settings reported a change: %+v", d)
	}
}
