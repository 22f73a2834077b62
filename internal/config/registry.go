package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Devices is the pair of audio devices produced by an audio factory.
type Devices struct {
	Capture audio.CaptureDevice
	Output  audio.OutputDevice

	// Close releases backend resources once both devices are done. May be nil.
	Close func() error
}

// Registry maps names to constructors for agent transports and audio
// backends. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	agent map[string]func(AgentConfig) (agent.Provider, error)
	audio map[string]func(AudioConfig) (Devices, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		agent: make(map[string]func(AgentConfig) (agent.Provider, error)),
		audio: make(map[string]func(AudioConfig) (Devices, error)),
	}
}

// RegisterAgent registers an agent transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAgent(name string, factory func(AgentConfig) (agent.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (Devices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateAgent instantiates the transport named by cfg.Provider.
func (r *Registry) CreateAgent(cfg AgentConfig) (agent.Provider, error) {
	r.mu.RLock()
	factory, ok := r.agent[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: agent/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateAudio instantiates the devices of the backend named by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (Devices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return Devices{}, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}
