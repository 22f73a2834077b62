// Package config provides the configuration schema, loader, hot-reload diff
// and file watcher for voicelink.
package config

import (
	"os"
	"time"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AuthScheme selects how the access token is presented to the agent service.
type AuthScheme string

const (
	// AuthBearer sends "Authorization: Bearer <token>" for short-lived tokens.
	AuthBearer AuthScheme = "bearer"

	// AuthToken sends "Authorization: Token <key>" for long-lived API keys.
	AuthToken AuthScheme = "token"
)

// IsValid reports whether s is a recognised scheme.
func (s AuthScheme) IsValid() bool {
	return s == AuthBearer || s == AuthToken
}

// Defaults applied by [LoadFromReader] when a field is left empty.
const (
	DefaultProvider        = "deepgram"
	DefaultAudioBackend    = "portaudio"
	DefaultTokenEnv        = "DEEPGRAM_API_KEY"
	DefaultStatusAddr      = ":9464"
	DefaultSessionLabel    = "voicelink"
	DefaultFramesPerBuffer = 2048
	DefaultCaptureRate     = 24000
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	Audio      AudioConfig      `yaml:"audio"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds logging and status server settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StatusAddr is the address of the /healthz, /readyz and /metrics server.
	// Set to "off" to disable it.
	StatusAddr string `yaml:"status_addr"`
}

// AgentConfig configures the agent connection.
type AgentConfig struct {
	// Provider selects the registered transport. Default: "deepgram".
	Provider string `yaml:"provider"`

	// Token is the access credential. Prefer TokenEnv over putting secrets in
	// the file.
	Token string `yaml:"token"`

	// TokenEnv names the environment variable holding the credential when
	// Token is empty. Default: DEEPGRAM_API_KEY.
	TokenEnv string `yaml:"token_env"`

	// AuthScheme selects the Authorization header scheme. Default: bearer.
	AuthScheme AuthScheme `yaml:"auth_scheme"`

	// URL overrides the agent endpoint.
	URL string `yaml:"url"`

	// KeepAliveInterval enables periodic keep-alives when positive.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// Config is the simplified model selection from which settings are
	// derived. Ignored when Settings is set.
	Config *agent.AgentConfig `yaml:"config"`

	// Settings are sent verbatim when set.
	Settings *agent.Settings `yaml:"settings"`
}

// ResolveToken returns Token, or the value of the TokenEnv variable.
func (a AgentConfig) ResolveToken() string {
	if a.Token != "" {
		return a.Token
	}
	return os.Getenv(a.TokenEnv)
}

// EffectiveSettings returns Settings when set, otherwise settings derived
// from Config. ok is false when neither is set.
func (a AgentConfig) EffectiveSettings() (settings agent.Settings, ok bool) {
	switch {
	case a.Settings != nil:
		return *a.Settings, true
	case a.Config != nil:
		return agent.BuildSettings(*a.Config), true
	}
	return agent.Settings{}, false
}

// AudioConfig selects and tunes the audio devices.
type AudioConfig struct {
	// Backend selects the registered device implementation. Default: "portaudio".
	Backend string `yaml:"backend"`

	// CaptureSampleRate is the rate sent to the agent. Default: 24000.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// FramesPerBuffer is the capture frame size. Default: 2048.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// InputDevice and OutputDevice select devices by name substring. Empty
	// selects the host default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// OutputSampleRate is the hardware output stream rate. Zero uses the
	// device's native rate.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// TranscriptConfig configures transcript archiving.
type TranscriptConfig struct {
	// PostgresDSN enables the PostgreSQL archive when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SessionLabel tags archived sessions. Default: "voicelink".
	SessionLabel string `yaml:"session_label"`
}
