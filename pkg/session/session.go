// Package session implements the voice-agent connection state machine.
//
// A [Session] owns one agent transport at a time and walks it through the
// handshake:
//
//	Disconnected → Connecting → AwaitingSettingsAck → Connected → Disconnected
//
// Connect dials the transport; the agent's Welcome triggers a Settings
// command; SettingsApplied marks the session connected and sends one
// KeepAlive. Inbound events are mirrored into an immutable [State] snapshot
// that is replaced, never mutated, on every change. Snapshots are delivered
// to the state listener in version order, even when the listener calls back
// into the session.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/MrWong99/voicelink/pkg/types"
)

// ErrConnectCancelled is returned by Connect when Disconnect or another
// Connect superseded it while the transport was being dialed.
var ErrConnectCancelled = errors.New("session: connect cancelled")

// Option configures a [Session].
type Option func(*Session)

// WithKeepAliveInterval makes the session send a KeepAlive every d while
// connected, in addition to the one sent when the handshake completes.
// Zero (the default) disables periodic keep-alives.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.keepAliveInterval = d
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is the voice-agent connection state machine.
type Session struct {
	provider          agent.Provider
	keepAliveInterval time.Duration
	metrics           *observe.Metrics

	mu       sync.Mutex
	token    string
	config   *agent.AgentConfig
	settings *agent.Settings

	client agent.Client
	gen    uint64 // incremented whenever the transport is replaced or dropped
	phase  Phase
	state  State

	handshakeStart time.Time
	handshakeSpan  trace.Span
	stopKeepAlive  context.CancelFunc

	onState     func(State)
	onAudio     func([]byte)
	onWelcome   func(agent.Event)
	onTransport func(agent.Client)

	// Snapshot delivery. pending is appended under mu in version order and
	// drained by whichever goroutine finds delivering false.
	deliverMu  sync.Mutex
	pending    []State
	delivering bool
}

// New creates a disconnected session that dials agents through provider.
func New(provider agent.Provider, opts ...Option) *Session {
	s := &Session{provider: provider}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ── Configuration ─────────────────────────────────────────────────────────────

// SetToken sets the access credential used by the next Connect.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetConfig sets the simplified configuration from which settings are
// derived when no raw settings are present.
func (s *Session) SetConfig(cfg agent.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
}

// SetSettings sets the settings sent during the handshake. They take
// precedence over the simplified configuration.
func (s *Session) SetSettings(settings agent.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
}

// Settings returns the settings the next handshake would send, and false
// when neither settings nor a configuration has been provided.
func (s *Session) Settings() (agent.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveSettingsLocked()
}

func (s *Session) effectiveSettingsLocked() (agent.Settings, bool) {
	switch {
	case s.settings != nil:
		return *s.settings, true
	case s.config != nil:
		return agent.BuildSettings(*s.config), true
	default:
		return agent.Settings{}, false
	}
}

// ── Listeners ─────────────────────────────────────────────────────────────────

// OnState sets the state listener, replacing any previous one.
func (s *Session) OnState(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// OnAudio sets the listener for agent speech chunks.
func (s *Session) OnAudio(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = fn
}

// OnWelcome sets the listener for the agent's Welcome event.
func (s *Session) OnWelcome(fn func(agent.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWelcome = fn
}

// OnTransport sets a hook invoked once per Connect after the transport has
// been dialed and before it starts delivering events. Handlers registered on
// the client from inside the hook observe every event.
func (s *Session) OnTransport(fn func(agent.Client)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransport = fn
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase returns the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Client returns the live transport, or nil.
func (s *Session) Client() agent.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect dials the agent and starts the handshake. It returns once the
// transport is open; the handshake completes asynchronously and is observable
// through the state listener.
//
// Connect fails with a usage error wrapping [types.ErrNoToken] or
// [types.ErrNoSettings] without touching the network when a precondition is
// missing. A previous transport, if any, is torn down first. When Disconnect
// or another Connect runs while the transport is being dialed, the dialed
// transport is closed and Connect returns [ErrConnectCancelled].
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	_, haveSettings := s.effectiveSettingsLocked()
	s.mu.Unlock()

	if token == "" {
		return types.Usage("session: connect", types.ErrNoToken)
	}
	if !haveSettings {
		return types.Usage("session: connect", types.ErrNoSettings)
	}

	gen, dropped := s.release(PhaseConnecting)
	if dropped {
		s.resetFlags()
	}

	spanCtx, span := observe.StartSpan(context.Background(), "session.handshake")
	start := time.Now()

	client, err := s.provider.Dial(ctx, token)
	if err != nil {
		observe.FailSpan(span, "dial failed", err)
		s.mu.Lock()
		if s.gen == gen {
			s.phase = PhaseDisconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("session: dial: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		observe.FailSpan(span, "superseded during dial", nil)
		types.Swallow(types.BestEffortFailure, "session: disconnect", client.Disconnect())
		slog.Info("session: dialed transport discarded, connect was cancelled")
		return ErrConnectCancelled
	}
	s.client = client
	s.handshakeStart = start
	s.handshakeSpan = span
	hook := s.onTransport
	s.mu.Unlock()

	s.subscribe(gen, client)
	if hook != nil {
		hook(client)
	}

	observe.Logger(spanCtx).Info("session: transport open, awaiting welcome")
	client.Start()
	return nil
}

// subscribe registers the session's own handlers on client. Every handler
// ignores events once gen is no longer current.
func (s *Session) subscribe(gen uint64, client agent.Client) {
	client.Once(agent.EventWelcome, func(ev agent.Event) { s.handleWelcome(gen, client, ev) })
	client.Once(agent.EventSettingsApplied, func(agent.Event) { s.handleSettingsApplied(gen, client) })
	client.On(agent.EventError, func(ev agent.Event) { s.handleError(gen, ev) })
	client.On(agent.EventWarning, func(ev agent.Event) { s.handleWarning(gen, ev) })
	client.On(agent.EventAudio, func(ev agent.Event) { s.handleAudio(gen, ev) })
	client.On(agent.EventAgentStartedSpeaking, func(agent.Event) { s.handleSpeaking(gen, true) })
	client.On(agent.EventAgentAudioDone, func(agent.Event) { s.handleSpeaking(gen, false) })
	client.On(agent.EventConversationText, func(ev agent.Event) { s.handleConversationText(gen, ev) })
	client.On(agent.EventClose, func(agent.Event) { s.handleClose(gen) })
}

// current reports whether gen still identifies the live transport.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.client != nil
}

// Disconnect tears down the transport, including one still being dialed.
// Teardown failures are swallowed. The transcript and error survive;
// connected and speaking flags reset. Safe to call at any time.
func (s *Session) Disconnect() {
	s.release(PhaseDisconnected)
	s.resetFlags()
}

func (s *Session) resetFlags() {
	s.update(func(st *State) {
		st.Connected = false
		st.IsAgentSpeaking = false
	})
}

// release drops the current transport, if any, and moves to next. It
// returns the new generation, which invalidates every handler of the dropped
// transport and every Connect still dialing, and whether a transport was
// dropped.
func (s *Session) release(next Phase) (gen uint64, dropped bool) {
	s.mu.Lock()
	client := s.client
	wasConnected := s.phase == PhaseConnected
	s.client = nil
	s.gen++
	gen = s.gen
	s.phase = next
	span := s.handshakeSpan
	s.handshakeSpan = nil
	stop := s.stopKeepAlive
	s.stopKeepAlive = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if span != nil {
		observe.FailSpan(span, "disconnected during handshake", nil)
	}
	if wasConnected {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if client != nil {
		types.Swallow(types.BestEffortFailure, "session: disconnect", client.Disconnect())
		slog.Info("session: disconnected")
	}
	return gen, client != nil
}

// ClearTranscript empties the transcript regardless of connection state.
func (s *Session) ClearTranscript() {
	s.update(func(st *State) {
		st.Transcript = []ConversationMessage{}
	})
}

// ── Inbound events ────────────────────────────────────────────────────────────

func (s *Session) handleWelcome(gen uint64, client agent.Client, ev agent.Event) {
	s.metrics.RecordAgentEvent(context.Background(), string(ev.Kind))
	if !s.current(gen) {
		return
	}

	s.mu.Lock()
	welcome := s.onWelcome
	settings, _ := s.effectiveSettingsLocked()
	s.mu.Unlock()

	slog.Debug("session: welcome received", "request_id", ev.RequestID)
	if welcome != nil {
		welcome(ev)
	}

	// A failed Configure leaves the phase at Connecting, so commands stay
	// refused until Disconnect or a new Connect.
	if err := client.Configure(settings); err != nil {
		s.metrics.RecordCommand(context.Background(), "Configure", "error")
		slog.Error("session: failed to send settings", "err", err)
		types.Handle(types.New(types.TransportError, "session: configure", err), s.recordError)
		return
	}
	s.metrics.RecordCommand(context.Background(), "Configure", "ok")

	s.mu.Lock()
	if s.gen == gen {
		s.phase = PhaseAwaitingSettingsAck
	}
	s.mu.Unlock()
}

func (s *Session) handleSettingsApplied(gen uint64, client agent.Client) {
	ctx := context.Background()
	s.metrics.RecordAgentEvent(ctx, string(agent.EventSettingsApplied))

	s.mu.Lock()
	if s.gen != gen || s.client == nil {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseConnected
	elapsed := time.Since(s.handshakeStart)
	span := s.handshakeSpan
	s.handshakeSpan = nil
	var kaCtx context.Context
	if s.keepAliveInterval > 0 {
		kaCtx, s.stopKeepAlive = context.WithCancel(ctx)
	}
	s.mu.Unlock()

	s.metrics.HandshakeDuration.Record(ctx, elapsed.Seconds())
	s.metrics.ActiveSessions.Add(ctx, 1)
	if span != nil {
		span.SetAttributes(attribute.Float64("handshake.seconds", elapsed.Seconds()))
		span.End()
	}
	slog.Info("session: connected", "handshake", elapsed)

	s.update(func(st *State) {
		st.Connected = true
	})
	types.Swallow(types.BestEffortFailure, "session: keep-alive", client.KeepAlive())

	if kaCtx != nil {
		go s.keepAliveLoop(kaCtx, client)
	}
}

// keepAliveLoop sends periodic keep-alives until ctx is cancelled.
func (s *Session) keepAliveLoop(ctx context.Context, client agent.Client) {
	ticker := time.NewTicker(s.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			types.Swallow(types.BestEffortFailure, "session: keep-alive", client.KeepAlive())
		}
	}
}

func (s *Session) handleError(gen uint64, ev agent.Event) {
	s.metrics.RecordAgentEvent(context.Background(), string(ev.Kind))
	if !s.current(gen) {
		return
	}
	msg := ev.Message
	if msg == "" {
		msg = "unknown error"
	}
	slog.Warn("session: agent error", "message", msg, "code", ev.Code)
	types.Handle(types.New(types.TransportError, "", errors.New(msg)), s.recordError)
}

// recordError stores a reported transport failure in the state's error field.
func (s *Session) recordError(err error) {
	s.update(func(st *State) {
		st.Error = "Agent error: " + err.Error()
	})
}

func (s *Session) handleWarning(gen uint64, ev agent.Event) {
	s.metrics.RecordAgentEvent(context.Background(), string(ev.Kind))
	if !s.current(gen) {
		return
	}
	slog.Warn("session: agent warning", "message", ev.Message, "code", ev.Code)
}

func (s *Session) handleAudio(gen uint64, ev agent.Event) {
	s.metrics.RecordAgentEvent(context.Background(), string(ev.Kind))
	s.mu.Lock()
	live := s.gen == gen && s.client != nil
	fn := s.onAudio
	s.mu.Unlock()
	if live && fn != nil {
		fn(ev.Audio)
	}
}

func (s *Session) handleSpeaking(gen uint64, speaking bool) {
	kind := agent.EventAgentAudioDone
	if speaking {
		kind = agent.EventAgentStartedSpeaking
	}
	s.metrics.RecordAgentEvent(context.Background(), string(kind))
	if !s.current(gen) {
		return
	}
	s.update(func(st *State) {
		st.IsAgentSpeaking = speaking
	})
}

func (s *Session) handleConversationText(gen uint64, ev agent.Event) {
	s.metrics.RecordAgentEvent(context.Background(), string(ev.Kind))
	if !s.current(gen) {
		return
	}
	s.appendMessage(ConversationMessage{Role: Role(ev.Role), Content: ev.Content})
}

func (s *Session) handleClose(gen uint64) {
	s.metrics.RecordAgentEvent(context.Background(), string(agent.EventClose))

	s.mu.Lock()
	if s.gen != gen || s.client == nil {
		s.mu.Unlock()
		return
	}
	wasConnected := s.phase == PhaseConnected
	s.client = nil
	s.gen++
	s.phase = PhaseDisconnected
	span := s.handshakeSpan
	s.handshakeSpan = nil
	stop := s.stopKeepAlive
	s.stopKeepAlive = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if span != nil {
		observe.FailSpan(span, "closed during handshake", nil)
	}
	if wasConnected {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session: transport closed by agent")
	s.update(func(st *State) {
		st.Connected = false
		st.IsAgentSpeaking = false
	})
}

// ── State delivery ────────────────────────────────────────────────────────────

// update applies patch to a copy of the current state, publishes the copy as
// the next version and delivers it to the state listener.
func (s *Session) update(patch func(*State)) {
	s.mu.Lock()
	next := s.state
	patch(&next)
	next.Version = s.state.Version + 1
	s.state = next

	s.deliverMu.Lock()
	s.pending = append(s.pending, next)
	s.deliverMu.Unlock()
	s.mu.Unlock()

	s.flush()
}

func (s *Session) appendMessage(m ConversationMessage) {
	s.mu.Lock()
	next := s.state.withMessage(m)
	next.Version = s.state.Version + 1
	s.state = next

	s.deliverMu.Lock()
	s.pending = append(s.pending, next)
	s.deliverMu.Unlock()
	s.mu.Unlock()

	s.flush()
}

// flush delivers pending snapshots in order. A call made while another
// flush is running, including a re-entrant call from the listener, returns
// immediately and leaves its snapshot to the running flush.
func (s *Session) flush() {
	s.deliverMu.Lock()
	if s.delivering {
		s.deliverMu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.deliverMu.Unlock()

		s.mu.Lock()
		fn := s.onState
		s.mu.Unlock()
		if fn != nil {
			fn(next)
		}

		s.deliverMu.Lock()
	}
	s.pending = nil
	s.delivering = false
	s.deliverMu.Unlock()
}
