// Package mock provides test doubles for the agent package interfaces.
//
// Use Provider to verify Dial calls and hand out scripted clients. Use Client
// to inject inbound events with Emit and to inspect which commands were sent.
//
// Example:
//
//	p := &mock.Provider{}
//	c, _ := p.Dial(ctx, "token")
//	c.On(agent.EventWelcome, handler)
//	c.Start()
//	p.Last().Emit(agent.Event{Kind: agent.EventWelcome})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
)

// Compile-time interface assertions.
var (
	_ agent.Provider = (*Provider)(nil)
	_ agent.Client   = (*Client)(nil)
)

// DialCall records a single invocation of Provider.Dial.
type DialCall struct {
	Ctx   context.Context
	Token string
}

// Provider is a mock implementation of agent.Provider.
type Provider struct {
	mu sync.Mutex

	// Clients are returned by successive Dial calls. When exhausted, Dial
	// returns a fresh Client.
	Clients []*Client

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	// Gate, if non-nil, holds every Dial until it is closed or ctx is done.
	// Entered, if non-nil, receives a value when a Dial starts waiting.
	Gate    chan struct{}
	Entered chan struct{}

	dialed []*Client
}

// Dial records the call and returns the next scripted client.
func (p *Provider) Dial(ctx context.Context, token string) (agent.Client, error) {
	p.mu.Lock()
	p.DialCalls = append(p.DialCalls, DialCall{Ctx: ctx, Token: token})
	gate, entered := p.Gate, p.Entered
	p.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	var c *Client
	if len(p.Clients) > 0 {
		c = p.Clients[0]
		p.Clients = p.Clients[1:]
	} else {
		c = &Client{}
	}
	p.dialed = append(p.dialed, c)
	return c, nil
}

// Last returns the most recently dialed client, or nil.
func (p *Provider) Last() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dialed) == 0 {
		return nil
	}
	return p.dialed[len(p.dialed)-1]
}

// Dialed returns every client handed out so far.
func (p *Provider) Dialed() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Client(nil), p.dialed...)
}

// Client is a mock implementation of agent.Client. Events passed to Emit
// before Start are held back and delivered, in order, by Start.
type Client struct {
	bus agent.Bus

	mu      sync.Mutex
	started bool
	closed  bool
	held    []agent.Event

	// Errors returned by the corresponding commands.
	SendErr       error
	ConfigureErr  error
	KeepAliveErr  error
	CommandErr    error
	DisconnectErr error

	// Calls records the name of every command in the order it was issued.
	Calls []string

	// Per-command payload records.
	SendCalls                 [][]byte
	ConfigureCalls            []agent.Settings
	InjectUserMessageCalls    []string
	UpdatePromptCalls         []string
	UpdateSpeakCalls          []agent.SpeakConfig
	InjectAgentMessageCalls   []string
	FunctionCallResponseCalls []agent.FunctionCallResponse

	// CallCount fields.
	CallCountKeepAlive  int
	CallCountStart      int
	CallCountDisconnect int
}

// On implements agent.Client.
func (c *Client) On(kind agent.EventKind, h agent.Handler) agent.SubscriptionID {
	return c.bus.On(kind, h)
}

// Once implements agent.Client.
func (c *Client) Once(kind agent.EventKind, h agent.Handler) agent.SubscriptionID {
	return c.bus.Once(kind, h)
}

// Off implements agent.Client.
func (c *Client) Off(kind agent.EventKind, id agent.SubscriptionID) {
	c.bus.Off(kind, id)
}

// Handlers returns the number of handlers registered for kind.
func (c *Client) Handlers(kind agent.EventKind) int {
	return c.bus.Len(kind)
}

// Start implements agent.Client. It delivers any held events.
func (c *Client) Start() {
	c.mu.Lock()
	c.CallCountStart++
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	held := c.held
	c.held = nil
	c.mu.Unlock()

	for _, ev := range held {
		c.bus.Publish(ev)
	}
}

// Started reports whether Start has been called.
func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Emit delivers ev synchronously to the registered handlers, acting as the
// transport's read loop. Before Start, ev is held back.
func (c *Client) Emit(ev agent.Event) {
	c.mu.Lock()
	if !c.started {
		c.held = append(c.held, ev)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.bus.Publish(ev)
}

func (c *Client) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, name)
}

// CallLog returns a copy of Calls.
func (c *Client) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// Send implements agent.Client.
func (c *Client) Send(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.SendCalls = append(c.SendCalls, chunk)
	return nil
}

// Sent returns a copy of every audio chunk passed to Send.
func (c *Client) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.SendCalls...)
}

// Configure implements agent.Client.
func (c *Client) Configure(s agent.Settings) error {
	c.record("Configure")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfigureCalls = append(c.ConfigureCalls, s)
	return c.ConfigureErr
}

// KeepAlive implements agent.Client.
func (c *Client) KeepAlive() error {
	c.record("KeepAlive")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountKeepAlive++
	return c.KeepAliveErr
}

// InjectUserMessage implements agent.Client.
func (c *Client) InjectUserMessage(content string) error {
	c.record("InjectUserMessage")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InjectUserMessageCalls = append(c.InjectUserMessageCalls, content)
	return c.CommandErr
}

// UpdatePrompt implements agent.Client.
func (c *Client) UpdatePrompt(prompt string) error {
	c.record("UpdatePrompt")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdatePromptCalls = append(c.UpdatePromptCalls, prompt)
	return c.CommandErr
}

// UpdateSpeak implements agent.Client.
func (c *Client) UpdateSpeak(speak agent.SpeakConfig) error {
	c.record("UpdateSpeak")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdateSpeakCalls = append(c.UpdateSpeakCalls, speak)
	return c.CommandErr
}

// InjectAgentMessage implements agent.Client.
func (c *Client) InjectAgentMessage(message string) error {
	c.record("InjectAgentMessage")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InjectAgentMessageCalls = append(c.InjectAgentMessageCalls, message)
	return c.CommandErr
}

// FunctionCallResponse implements agent.Client.
func (c *Client) FunctionCallResponse(resp agent.FunctionCallResponse) error {
	c.record("FunctionCallResponse")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FunctionCallResponseCalls = append(c.FunctionCallResponseCalls, resp)
	return c.CommandErr
}

// Disconnect implements agent.Client.
func (c *Client) Disconnect() error {
	c.record("Disconnect")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.closed = true
	return c.DisconnectErr
}

// Closed reports whether Disconnect has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
