// Package controller composes the capture pipeline, the playback pipeline and
// the agent session into a single voice-agent client.
//
// Typical usage:
//
//	c := controller.New(deepgram.New(), mic, speakers)
//	c.OnState(render)
//	c.Init(controller.InitOptions{Token: token, Config: &cfg})
//	if err := c.Connect(ctx); err != nil { ... }
//	c.StartRecording(ctx, capture.Callbacks{})
package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/capture"
	"github.com/MrWong99/voicelink/pkg/audio/playback"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/MrWong99/voicelink/pkg/session"
	"github.com/MrWong99/voicelink/pkg/types"
)

// EventKind names an external notification.
type EventKind string

const (
	// EventState carries every session snapshot.
	EventState EventKind = "state"

	// EventAudio carries every agent speech chunk, after it was queued for
	// playback.
	EventAudio EventKind = "audio"

	// EventError carries human-readable error messages from the session and
	// the capture pipeline.
	EventError EventKind = "error"
)

// InitOptions are the inputs required before Connect.
type InitOptions struct {
	// Token is the agent access credential.
	Token string

	// Settings, when set, are sent verbatim during the handshake and decide
	// the playback rate through audio.output.sample_rate.
	Settings *agent.Settings

	// Config is used to derive settings when Settings is nil.
	Config *agent.AgentConfig
}

// Option configures a [Controller].
type Option func(*options)

type options struct {
	metrics  *observe.Metrics
	session  []session.Option
	capture  []capture.Option
	playback []playback.Option
}

// WithMetrics sets the metrics instance shared by every component.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSessionOptions passes options to the underlying session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// WithCaptureOptions passes options to the capture pipeline.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(o *options) { o.capture = append(o.capture, opts...) }
}

// WithPlaybackOptions passes options to the playback pipeline.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(o *options) { o.playback = append(o.playback, opts...) }
}

// registration is an agent event handler that is (re)attached to every new
// transport.
type registration struct {
	id      agent.SubscriptionID
	kind    agent.EventKind
	handler agent.Handler
}

// Controller is the voice-agent client facade. All methods are safe for
// concurrent use.
type Controller struct {
	session  *session.Session
	capture  *capture.Pipeline
	playback *playback.Pipeline

	mu          sync.Mutex
	initialized bool

	onState      func(session.State)
	onAudio      func([]byte)
	onError      func(string)
	onTranscript func([]session.ConversationMessage)

	transcriptLen int
	lastError     string
	connected     bool
	waiters       []chan struct{}

	// Agent handler registrations. regs keeps registration order; live maps
	// a registration to its subscription on the current transport.
	nextID agent.SubscriptionID
	regs   []registration
	client agent.Client
	live   map[agent.SubscriptionID]agent.SubscriptionID
}

// New creates a controller that dials agents through provider, records from
// mic and plays through out.
func New(provider agent.Provider, mic audio.CaptureDevice, out audio.OutputDevice, opts ...Option) *Controller {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics != nil {
		o.session = append(o.session, session.WithMetrics(o.metrics))
		o.capture = append(o.capture, capture.WithMetrics(o.metrics))
		o.playback = append(o.playback, playback.WithMetrics(o.metrics))
	}

	c := &Controller{
		session:  session.New(provider, o.session...),
		capture:  capture.New(mic, o.capture...),
		playback: playback.New(out, o.playback...),
		live:     make(map[agent.SubscriptionID]agent.SubscriptionID),
	}
	c.session.OnState(c.handleState)
	c.session.OnAudio(c.handleAudio)
	c.session.OnTransport(c.attach)
	return c
}

// ── External listeners ────────────────────────────────────────────────────────

// OnState sets the state listener, replacing any previous one.
func (c *Controller) OnState(fn func(session.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnAudio sets the agent audio listener, replacing any previous one.
func (c *Controller) OnAudio(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudio = fn
}

// OnError sets the error listener, replacing any previous one.
func (c *Controller) OnError(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Off removes the listener for kind.
func (c *Controller) Off(kind EventKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case EventState:
		c.onState = nil
	case EventAudio:
		c.onAudio = nil
	case EventError:
		c.onError = nil
	}
}

// OnTranscript sets a listener that receives the full transcript whenever its
// length changes. If the transcript is already non-empty, fn is called
// immediately. Edits that keep the length unchanged are not reported.
func (c *Controller) OnTranscript(fn func([]session.ConversationMessage)) {
	transcript := c.session.State().Transcript

	c.mu.Lock()
	c.onTranscript = fn
	c.transcriptLen = len(transcript)
	c.mu.Unlock()

	if fn != nil && len(transcript) > 0 {
		fn(transcript)
	}
}

func (c *Controller) handleState(st session.State) {
	c.mu.Lock()
	onState := c.onState
	onError := c.onError

	var transcriptFn func([]session.ConversationMessage)
	if len(st.Transcript) != c.transcriptLen {
		c.transcriptLen = len(st.Transcript)
		transcriptFn = c.onTranscript
	}

	var newError string
	if st.Error != c.lastError {
		c.lastError = st.Error
		newError = st.Error
	}

	c.connected = st.Connected
	var waiters []chan struct{}
	if st.Connected {
		waiters = c.waiters
		c.waiters = nil
	}
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if onState != nil {
		onState(st)
	}
	if transcriptFn != nil {
		transcriptFn(st.Transcript)
	}
	if newError != "" && onError != nil {
		onError(newError)
	}
}

func (c *Controller) handleAudio(chunk []byte) {
	c.playback.Enqueue(chunk)

	c.mu.Lock()
	fn := c.onAudio
	c.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (c *Controller) reportError(msg string) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// ── Agent handler registration ────────────────────────────────────────────────

// OnAgent registers a handler for a raw transport event. Handlers registered
// before Connect are attached to the transport, in registration order, before
// it delivers its first event; later registrations attach immediately.
// Registrations survive reconnects.
func (c *Controller) OnAgent(kind agent.EventKind, h agent.Handler) agent.SubscriptionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	reg := registration{id: c.nextID, kind: kind, handler: h}
	c.regs = append(c.regs, reg)
	if c.client != nil {
		c.live[reg.id] = c.client.On(kind, h)
	}
	return reg.id
}

// OffAgent removes a handler registered with OnAgent, both from the pending
// registrations and from the live transport.
func (c *Controller) OffAgent(kind agent.EventKind, id agent.SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, reg := range c.regs {
		if reg.id == id && reg.kind == kind {
			c.regs = append(c.regs[:i:i], c.regs[i+1:]...)
			c.detachLocked(reg)
			return
		}
	}
}

// OffAgentAll removes every handler registered with OnAgent for kind.
func (c *Controller) OffAgentAll(kind agent.EventKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.regs[:0:0]
	for _, reg := range c.regs {
		if reg.kind == kind {
			c.detachLocked(reg)
			continue
		}
		kept = append(kept, reg)
	}
	c.regs = kept
}

func (c *Controller) detachLocked(reg registration) {
	liveID, ok := c.live[reg.id]
	if !ok {
		return
	}
	delete(c.live, reg.id)
	if c.client != nil {
		c.client.Off(reg.kind, liveID)
	}
}

// attach flushes every registration onto a newly dialed transport. The
// session invokes it exactly once per transport, before events flow.
func (c *Controller) attach(client agent.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
	c.live = make(map[agent.SubscriptionID]agent.SubscriptionID, len(c.regs))
	for _, reg := range c.regs {
		c.live[reg.id] = client.On(reg.kind, reg.handler)
	}
	slog.Debug("controller: attached agent handlers", "count", len(c.regs))
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Init sets the credential and agent settings and tunes the playback rate to
// audio.output.sample_rate when settings carry one.
func (c *Controller) Init(opts InitOptions) {
	c.session.SetToken(opts.Token)
	if opts.Config != nil {
		c.session.SetConfig(*opts.Config)
	}
	if opts.Settings != nil {
		c.session.SetSettings(*opts.Settings)
	}
	c.retunePlayback()

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

// retunePlayback sets the playback rate from the session's effective settings.
func (c *Controller) retunePlayback() {
	settings, ok := c.session.Settings()
	if !ok {
		return
	}
	if rate, ok := settings.OutputSampleRate(); ok {
		c.playback.SetSampleRate(rate)
	}
}

// Connect dials the agent. It fails with a usage error wrapping
// [types.ErrNotInitialized] when Init has not been called.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return types.Usage("controller: connect", types.ErrNotInitialized)
	}
	c.retunePlayback()
	return c.session.Connect(ctx)
}

// WaitConnected blocks until the handshake has completed or ctx is done.
func (c *Controller) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops recording and playback, then tears down the session.
// Safe to call at any time.
func (c *Controller) Disconnect() {
	c.capture.Stop(capture.Callbacks{})
	c.playback.Stop()
	c.session.Disconnect()

	c.mu.Lock()
	c.client = nil
	c.live = make(map[agent.SubscriptionID]agent.SubscriptionID)
	c.mu.Unlock()
}

// ── Recording ─────────────────────────────────────────────────────────────────

// StartRecording streams the microphone to the agent. Without a connected
// session the pipeline reports "No agent client available to stream audio".
// Errors reach both cb.OnError and the EventError listener.
func (c *Controller) StartRecording(ctx context.Context, cb capture.Callbacks) {
	var sender capture.Sender
	if c.session.State().Connected {
		sender = c.session
	}
	c.capture.Start(ctx, sender, c.wrapCallbacks(cb))
}

// StopRecording stops the microphone stream.
func (c *Controller) StopRecording(cb capture.Callbacks) {
	c.capture.Stop(c.wrapCallbacks(cb))
}

// IsRecording reports whether the microphone is streaming.
func (c *Controller) IsRecording() bool {
	return c.capture.IsRecording()
}

func (c *Controller) wrapCallbacks(cb capture.Callbacks) capture.Callbacks {
	onError := cb.OnError
	cb.OnError = func(msg string) {
		if onError != nil {
			onError(msg)
		}
		c.reportError(msg)
	}
	return cb
}

// ── Commands ──────────────────────────────────────────────────────────────────

// InjectUserMessage delegates to the session.
func (c *Controller) InjectUserMessage(text string) error {
	return c.session.InjectUserMessage(text)
}

// UpdatePrompt delegates to the session.
func (c *Controller) UpdatePrompt(prompt string) error {
	return c.session.UpdatePrompt(prompt)
}

// UpdateSettings resends settings and retunes playback to their output rate.
func (c *Controller) UpdateSettings(settings agent.Settings) error {
	if err := c.session.UpdateSettings(settings); err != nil {
		return err
	}
	if rate, ok := settings.OutputSampleRate(); ok {
		c.playback.SetSampleRate(rate)
	}
	return nil
}

// UpdateSpeak delegates to the session.
func (c *Controller) UpdateSpeak(speak agent.SpeakConfig) error {
	return c.session.UpdateSpeak(speak)
}

// InjectAgentMessage delegates to the session.
func (c *Controller) InjectAgentMessage(message string) error {
	return c.session.InjectAgentMessage(message)
}

// FunctionCallResponse delegates to the session.
func (c *Controller) FunctionCallResponse(resp agent.FunctionCallResponse) error {
	return c.session.FunctionCallResponse(resp)
}

// KeepAlive delegates to the session. Failures are swallowed.
func (c *Controller) KeepAlive() {
	c.session.KeepAlive()
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// State returns the current session snapshot.
func (c *Controller) State() session.State {
	return c.session.State()
}

// Phase returns the session's connection phase.
func (c *Controller) Phase() session.Phase {
	return c.session.Phase()
}

// Transcript returns the current transcript.
func (c *Controller) Transcript() []session.ConversationMessage {
	return c.session.State().Transcript
}

// ClearTranscript empties the transcript.
func (c *Controller) ClearTranscript() {
	c.session.ClearTranscript()
}

// Client returns the live transport, or nil.
func (c *Controller) Client() agent.Client {
	return c.session.Client()
}

// PlaybackSampleRate returns the rate agent audio is decoded at.
func (c *Controller) PlaybackSampleRate() int {
	return c.playback.SampleRate()
}
