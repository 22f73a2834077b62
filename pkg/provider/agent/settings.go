package agent

import (
	"errors"
	"fmt"
	"strings"
)

// SettingsType is the message type of the Settings command.
const SettingsType = "Settings"

// Think provider identifiers understood by the agent API.
const (
	ThinkProviderAnthropic = "anthropic"
	ThinkProviderGoogle    = "google"
	ThinkProviderOpenAI    = "open_ai"
)

// Defaults used by [BuildSettings].
const (
	DefaultEncoding   = "linear16"
	DefaultContainer  = "none"
	DefaultSampleRate = 24000
	DeepgramProvider  = "deepgram"
)

// Settings is the payload of the Settings command. Field tags carry the wire
// name for JSON and the same name for YAML config files.
type Settings struct {
	Type         string        `json:"type" yaml:"type"`
	Experimental bool          `json:"experimental,omitempty" yaml:"experimental"`
	MipOptOut    bool          `json:"mip_opt_out,omitempty" yaml:"mip_opt_out"`
	Audio        AudioSettings `json:"audio" yaml:"audio"`
	Agent        AgentSettings `json:"agent" yaml:"agent"`
}

// AudioSettings describes the audio formats in each direction.
type AudioSettings struct {
	Input  AudioInput  `json:"input" yaml:"input"`
	Output AudioOutput `json:"output" yaml:"output"`
}

// AudioInput is the format of audio sent to the agent.
type AudioInput struct {
	Encoding   string `json:"encoding" yaml:"encoding"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

// AudioOutput is the format of audio the agent sends back.
type AudioOutput struct {
	Encoding   string `json:"encoding" yaml:"encoding"`
	SampleRate int    `json:"sample_rate,omitempty" yaml:"sample_rate"`
	Bitrate    int    `json:"bitrate,omitempty" yaml:"bitrate"`
	Container  string `json:"container,omitempty" yaml:"container"`
}

// AgentSettings configures the listen, think and speak stages.
type AgentSettings struct {
	Language string       `json:"language,omitempty" yaml:"language"`
	Listen   ListenConfig `json:"listen" yaml:"listen"`
	Think    ThinkConfig  `json:"think" yaml:"think"`
	Speak    SpeakConfig  `json:"speak" yaml:"speak"`
	Greeting string       `json:"greeting,omitempty" yaml:"greeting"`
}

// ProviderDescriptor names a provider and model for one stage.
type ProviderDescriptor struct {
	Type        string   `json:"type" yaml:"type"`
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
}

// Endpoint is a custom HTTP endpoint for a provider or function.
type Endpoint struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
}

// ListenConfig configures speech recognition.
type ListenConfig struct {
	Provider ProviderDescriptor `json:"provider" yaml:"provider"`
}

// ThinkConfig configures the LLM.
type ThinkConfig struct {
	Provider  ProviderDescriptor `json:"provider" yaml:"provider"`
	Endpoint  *Endpoint          `json:"endpoint,omitempty" yaml:"endpoint"`
	Functions []Function         `json:"functions,omitempty" yaml:"functions"`
	Prompt    string             `json:"prompt,omitempty" yaml:"prompt"`
}

// SpeakConfig configures speech synthesis. It is also the payload of the
// UpdateSpeak command.
type SpeakConfig struct {
	Provider ProviderDescriptor `json:"provider" yaml:"provider"`
	Endpoint *Endpoint          `json:"endpoint,omitempty" yaml:"endpoint"`
}

// Function declares a function the agent may call. Functions without an
// Endpoint are client-side and arrive as FunctionCallRequest events.
type Function struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	Endpoint    *Endpoint      `json:"endpoint,omitempty" yaml:"endpoint"`
}

// AgentConfig is the simplified configuration from which full [Settings] can
// be derived with [BuildSettings].
type AgentConfig struct {
	ListenModel string `yaml:"listen_model"`
	ThinkModel  string `yaml:"think_model"`
	SpeechModel string `yaml:"speech_model"`
	BasePrompt  string `yaml:"base_prompt"`
}

// ThinkProviderFor resolves the inference provider of a think model by
// case-insensitive substring match: "claude" maps to Anthropic, "gemini" or
// "google" to Google, and anything else to OpenAI.
func ThinkProviderFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ThinkProviderAnthropic
	case strings.Contains(m, "gemini"), strings.Contains(m, "google"):
		return ThinkProviderGoogle
	default:
		return ThinkProviderOpenAI
	}
}

// BuildSettings derives full settings from cfg: linear16 audio at 24 kHz in
// both directions without a container, Deepgram for listening and speaking,
// and the think provider resolved from the model name.
func BuildSettings(cfg AgentConfig) Settings {
	return Settings{
		Type: SettingsType,
		Audio: AudioSettings{
			Input: AudioInput{
				Encoding:   DefaultEncoding,
				SampleRate: DefaultSampleRate,
			},
			Output: AudioOutput{
				Encoding:   DefaultEncoding,
				SampleRate: DefaultSampleRate,
				Container:  DefaultContainer,
			},
		},
		Agent: AgentSettings{
			Listen: ListenConfig{
				Provider: ProviderDescriptor{Type: DeepgramProvider, Model: cfg.ListenModel},
			},
			Think: ThinkConfig{
				Provider: ProviderDescriptor{Type: ThinkProviderFor(cfg.ThinkModel), Model: cfg.ThinkModel},
				Prompt:   cfg.BasePrompt,
			},
			Speak: SpeakConfig{
				Provider: ProviderDescriptor{Type: DeepgramProvider, Model: cfg.SpeechModel},
			},
		},
	}
}

// OutputSampleRate returns audio.output.sample_rate and whether it is set.
func (s Settings) OutputSampleRate() (int, bool) {
	if s.Audio.Output.SampleRate > 0 {
		return s.Audio.Output.SampleRate, true
	}
	return 0, false
}

// Validate reports every missing or invalid field. It returns nil for
// settings produced by [BuildSettings] with non-empty model names.
func (s Settings) Validate() error {
	var errs []error
	if s.Audio.Input.Encoding == "" {
		errs = append(errs, errors.New("audio.input.encoding is required"))
	}
	if s.Audio.Input.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate must be positive, got %d", s.Audio.Input.SampleRate))
	}
	if s.Audio.Output.Encoding == "" {
		errs = append(errs, errors.New("audio.output.encoding is required"))
	}
	if s.Audio.Output.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate must not be negative, got %d", s.Audio.Output.SampleRate))
	}
	if s.Agent.Listen.Provider.Type == "" {
		errs = append(errs, errors.New("agent.listen.provider.type is required"))
	}
	if s.Agent.Think.Provider.Type == "" {
		errs = append(errs, errors.New("agent.think.provider.type is required"))
	}
	if s.Agent.Speak.Provider.Type == "" {
		errs = append(errs, errors.New("agent.speak.provider.type is required"))
	}
	for i, f := range s.Agent.Think.Functions {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("agent.think.functions[%d].name is required", i))
		}
	}
	return errors.Join(errs...)
}
