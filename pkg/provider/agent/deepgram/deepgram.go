// Package deepgram implements the agent.Provider interface for the Deepgram
// Voice Agent API.
//
// It opens a single WebSocket connection to the agent converse endpoint.
// Microphone audio is written as binary frames of raw linear16 PCM; the agent's
// synthesised speech arrives the same way. Everything else is a JSON text
// message discriminated by its "type" field.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and client satisfy the agent interfaces.
var _ agent.Provider = (*Provider)(nil)
var _ agent.Client = (*client)(nil)

// ErrClosed is returned by every command issued after Disconnect or after the
// connection has ended.
var ErrClosed = errors.New("deepgram: connection closed")

const (
	defaultURL          = "wss://agent.deepgram.com/v1/agent/converse"
	defaultWriteTimeout = 10 * time.Second

	// readLimit bounds a single inbound message. Agent audio frames are far
	// larger than the library's 32 KiB default.
	readLimit = 4 << 20
)

// AuthScheme selects the Authorization header prefix.
type AuthScheme string

const (
	// AuthBearer is used with short-lived access tokens minted by a backend.
	AuthBearer AuthScheme = "bearer"

	// AuthToken is used with a raw Deepgram API key.
	AuthToken AuthScheme = "token"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithURL overrides the WebSocket URL. Primarily used in tests to point at a
// local mock server.
func WithURL(url string) Option {
	return func(p *Provider) { p.url = url }
}

// WithAuthScheme selects how the token is presented. Unknown schemes fall
// back to [AuthBearer].
func WithAuthScheme(scheme AuthScheme) Option {
	return func(p *Provider) { p.scheme = scheme }
}

// WithWriteTimeout bounds each outbound write. Default 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements agent.Provider for the Deepgram Voice Agent API.
type Provider struct {
	url          string
	scheme       AuthScheme
	writeTimeout time.Duration
}

// New creates a Deepgram agent provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		url:          defaultURL,
		scheme:       AuthBearer,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Dial opens a connection to the agent. The returned client does not read
// from the connection until Start is called.
func (p *Provider) Dial(ctx context.Context, token string) (agent.Client, error) {
	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{p.authorization(token)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:         conn,
		writeTimeout: p.writeTimeout,
		ctx:          cctx,
		cancel:       cancel,
	}, nil
}

func (p *Provider) authorization(token string) string {
	if strings.EqualFold(string(p.scheme), string(AuthToken)) {
		return "Token " + token
	}
	return "Bearer " + token
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type typeOnlyMessage struct {
	Type string `json:"type"`
}

type injectUserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type updatePromptMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type updateSpeakMessage struct {
	Type  string            `json:"type"`
	Speak agent.SpeakConfig `json:"speak"`
}

type injectAgentMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type functionCallResponseMessage struct {
	Type string `json:"type"`
	agent.FunctionCallResponse
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverMessage is the union of all inbound text message shapes.
type serverMessage struct {
	Type string `json:"type"`

	// Welcome
	RequestID string `json:"request_id,omitempty"`

	// ConversationText, AgentThinking
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Error, Warning
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`

	// InjectionRefused, legacy Error shape
	Message string `json:"message,omitempty"`

	// FunctionCallRequest
	Functions []agent.FunctionCall `json:"functions,omitempty"`
}

var knownKinds = map[string]agent.EventKind{
	string(agent.EventWelcome):              agent.EventWelcome,
	string(agent.EventSettingsApplied):      agent.EventSettingsApplied,
	string(agent.EventError):                agent.EventError,
	string(agent.EventWarning):              agent.EventWarning,
	string(agent.EventUserStartedSpeaking):  agent.EventUserStartedSpeaking,
	string(agent.EventAgentThinking):        agent.EventAgentThinking,
	string(agent.EventAgentStartedSpeaking): agent.EventAgentStartedSpeaking,
	string(agent.EventAgentAudioDone):       agent.EventAgentAudioDone,
	string(agent.EventConversationText):     agent.EventConversationText,
	string(agent.EventFunctionCallRequest):  agent.EventFunctionCallRequest,
	string(agent.EventPromptUpdated):        agent.EventPromptUpdated,
	string(agent.EventSpeakUpdated):         agent.EventSpeakUpdated,
	string(agent.EventInjectionRefused):     agent.EventInjectionRefused,
}

// decodeEvent converts a text frame into an event. It reports false for
// payloads that are not JSON objects with a type.
func decodeEvent(data []byte) (agent.Event, bool) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return agent.Event{}, false
	}
	kind, ok := knownKinds[msg.Type]
	if !ok {
		kind = agent.EventUnhandled
	}
	message := msg.Description
	if message == "" {
		message = msg.Message
	}
	return agent.Event{
		Kind:      kind,
		RequestID: msg.RequestID,
		Role:      msg.Role,
		Content:   msg.Content,
		Message:   message,
		Code:      msg.Code,
		Functions: msg.Functions,
		Raw:       json.RawMessage(data),
	}, true
}

// ── client ─────────────────────────────────────────────────────────────────────

type client struct {
	conn         *websocket.Conn
	bus          agent.Bus
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// On registers a durable handler.
func (c *client) On(kind agent.EventKind, h agent.Handler) agent.SubscriptionID {
	return c.bus.On(kind, h)
}

// Once registers a one-shot handler.
func (c *client) Once(kind agent.EventKind, h agent.Handler) agent.SubscriptionID {
	return c.bus.Once(kind, h)
}

// Off removes a handler.
func (c *client) Off(kind agent.EventKind, id agent.SubscriptionID) {
	c.bus.Off(kind, id)
}

// Start launches the read loop.
func (c *client) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// readLoop reads frames and publishes them on the bus. It is the only
// publisher, which gives handlers arrival-order delivery. It publishes
// EventClose exactly once before returning.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.bus.Publish(agent.Event{Kind: agent.EventClose})
	}()

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Debug("deepgram: read loop ended", "err", err, "status", websocket.CloseStatus(err))
			}
			return
		}

		if typ == websocket.MessageBinary {
			c.bus.Publish(agent.Event{Kind: agent.EventAudio, Audio: data})
			continue
		}

		ev, ok := decodeEvent(data)
		if !ok {
			slog.Debug("deepgram: ignoring malformed message", "len", len(data))
			continue
		}
		if ev.Kind == agent.EventUnhandled {
			slog.Debug("deepgram: unhandled message type", "payload", string(data))
		}
		c.bus.Publish(ev)
	}
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) write(typ websocket.MessageType, data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, typ, data); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("deepgram: write: %w", err)
	}
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("deepgram: marshal: %w", err)
	}
	return c.write(websocket.MessageText, data)
}

// Send writes a binary audio frame.
func (c *client) Send(chunk []byte) error {
	return c.write(websocket.MessageBinary, chunk)
}

// Configure sends the Settings message. The type field is always "Settings".
func (c *client) Configure(s agent.Settings) error {
	s.Type = agent.SettingsType
	return c.writeJSON(s)
}

// KeepAlive sends a KeepAlive message.
func (c *client) KeepAlive() error {
	return c.writeJSON(typeOnlyMessage{Type: "KeepAlive"})
}

// InjectUserMessage sends an InjectUserMessage message.
func (c *client) InjectUserMessage(content string) error {
	return c.writeJSON(injectUserMessage{Type: "InjectUserMessage", Content: content})
}

// UpdatePrompt sends an UpdatePrompt message.
func (c *client) UpdatePrompt(prompt string) error {
	return c.writeJSON(updatePromptMessage{Type: "UpdatePrompt", Prompt: prompt})
}

// UpdateSpeak sends an UpdateSpeak message.
func (c *client) UpdateSpeak(speak agent.SpeakConfig) error {
	return c.writeJSON(updateSpeakMessage{Type: "UpdateSpeak", Speak: speak})
}

// InjectAgentMessage sends an InjectAgentMessage message.
func (c *client) InjectAgentMessage(message string) error {
	return c.writeJSON(injectAgentMessage{Type: "InjectAgentMessage", Message: message})
}

// FunctionCallResponse sends a FunctionCallResponse message.
func (c *client) FunctionCallResponse(resp agent.FunctionCallResponse) error {
	return c.writeJSON(functionCallResponseMessage{Type: "FunctionCallResponse", FunctionCallResponse: resp})
}

// Disconnect closes the connection. Idempotent.
func (c *client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.cancel()
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return fmt.Errorf("deepgram: close: %w", err)
	}
	return nil
}
