package config

import (
	"reflect"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

// ConfigDiff describes what changed between two configs. Prompt, speech and
// log level changes are applied to a live session; everything else needs a
// restart and is only reported.
type ConfigDiff struct {
	PromptChanged bool
	NewPrompt     string

	SpeakChanged bool
	NewSpeak     agent.SpeakConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartFields names the changed sections that cannot be hot-reloaded.
	RestartFields []string
}

// Changed reports whether any field differs.
func (d ConfigDiff) Changed() bool {
	return d.PromptChanged || d.SpeakChanged || d.LogLevelChanged || len(d.RestartFields) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldSettings, _ := old.Agent.EffectiveSettings()
	newSettings, _ := new.Agent.EffectiveSettings()

	if oldSettings.Agent.Think.Prompt != newSettings.Agent.Think.Prompt {
		d.PromptChanged = true
		d.NewPrompt = newSettings.Agent.Think.Prompt
	}
	if !reflect.DeepEqual(oldSettings.Agent.Speak, newSettings.Agent.Speak) {
		d.SpeakChanged = true
		d.NewSpeak = newSettings.Agent.Speak
	}

	// Compare the remaining settings with prompt and speech neutralised.
	oldSettings.Agent.Think.Prompt, newSettings.Agent.Think.Prompt = "", ""
	oldSettings.Agent.Speak, newSettings.Agent.Speak = agent.SpeakConfig{}, agent.SpeakConfig{}
	if !reflect.DeepEqual(oldSettings, newSettings) {
		d.RestartFields = append(d.RestartFields, "agent.settings")
	}

	oa, na := old.Agent, new.Agent
	if oa.Provider != na.Provider || oa.Token != na.Token || oa.TokenEnv != na.TokenEnv ||
		oa.AuthScheme != na.AuthScheme || oa.URL != na.URL || oa.KeepAliveInterval != na.KeepAliveInterval {
		d.RestartFields = append(d.RestartFields, "agent")
	}
	if old.Audio != new.Audio {
		d.RestartFields = append(d.RestartFields, "audio")
	}
	if old.Transcript != new.Transcript {
		d.RestartFields = append(d.RestartFields, "transcript")
	}
	if old.Server.StatusAddr != new.Server.StatusAddr {
		d.RestartFields = append(d.RestartFields, "server.status_addr")
	}

	return d
}
