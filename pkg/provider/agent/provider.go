// Package agent defines the Provider interface for conversational voice-agent
// backends.
//
// A voice agent is a remote service that listens to streamed microphone audio,
// thinks with an LLM, and speaks back with synthesised audio, all over a single
// long-lived bidirectional connection. The Deepgram Voice Agent API is the
// reference backend (see the deepgram subpackage).
//
// The central abstraction is [Client]: an open connection that exposes typed
// inbound events through an event bus and a fixed set of outbound commands.
// Handlers are registered with [Client.On] or [Client.Once] and begin
// receiving events once [Client.Start] is called, so registrations made
// between Dial and Start never miss an event.
//
// All implementations must be safe for concurrent use.
package agent

import (
	"context"
	"encoding/json"
)

// EventKind identifies an inbound event.
type EventKind string

// Inbound event kinds. The names match the Deepgram Voice Agent message types
// where one exists.
const (
	// EventWelcome is the server greeting; it precedes the settings handshake.
	EventWelcome EventKind = "Welcome"

	// EventSettingsApplied acknowledges a Settings command.
	EventSettingsApplied EventKind = "SettingsApplied"

	// EventError reports a server-side error. It does not close the connection.
	EventError EventKind = "Error"

	// EventWarning reports a non-fatal server-side problem.
	EventWarning EventKind = "Warning"

	// EventAudio carries a binary chunk of synthesised speech in Event.Audio.
	EventAudio EventKind = "Audio"

	// EventUserStartedSpeaking signals that the agent detected user speech.
	EventUserStartedSpeaking EventKind = "UserStartedSpeaking"

	// EventAgentThinking carries the agent's intermediate reasoning text.
	EventAgentThinking EventKind = "AgentThinking"

	// EventAgentStartedSpeaking marks the start of an agent utterance.
	EventAgentStartedSpeaking EventKind = "AgentStartedSpeaking"

	// EventAgentAudioDone marks the end of the audio for an agent utterance.
	EventAgentAudioDone EventKind = "AgentAudioDone"

	// EventConversationText carries one conversational turn in Event.Role and
	// Event.Content.
	EventConversationText EventKind = "ConversationText"

	// EventFunctionCallRequest asks the client to run one or more functions.
	EventFunctionCallRequest EventKind = "FunctionCallRequest"

	// EventPromptUpdated acknowledges an UpdatePrompt command.
	EventPromptUpdated EventKind = "PromptUpdated"

	// EventSpeakUpdated acknowledges an UpdateSpeak command.
	EventSpeakUpdated EventKind = "SpeakUpdated"

	// EventInjectionRefused reports that an injected message was rejected.
	EventInjectionRefused EventKind = "InjectionRefused"

	// EventUnhandled carries a text message whose type is not known. The
	// original payload is in Event.Raw.
	EventUnhandled EventKind = "Unhandled"

	// EventClose is published exactly once when the connection ends, for any
	// reason. No events follow it.
	EventClose EventKind = "Close"
)

// FunctionCall is a single function invocation requested by the agent.
type FunctionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

// FunctionCallResponse is the client's answer to a [FunctionCall].
type FunctionCallResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Event is an inbound message from the agent. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind EventKind

	// RequestID is set on Welcome.
	RequestID string

	// Role and Content are set on ConversationText. Content also carries the
	// text of AgentThinking.
	Role    string
	Content string

	// Message and Code are set on Error, Warning and InjectionRefused.
	Message string
	Code    string

	// Audio is set on Audio events.
	Audio []byte

	// Functions is set on FunctionCallRequest.
	Functions []FunctionCall

	// Raw is the undecoded JSON payload of text messages.
	Raw json.RawMessage
}

// Handler consumes events. Handlers run on the client's single dispatch
// goroutine in arrival order and must not block for long.
type Handler func(Event)

// SubscriptionID identifies a registered handler so it can be removed.
type SubscriptionID uint64

// Client is an open connection to a voice agent.
type Client interface {
	// On registers a durable handler for kind.
	On(kind EventKind, h Handler) SubscriptionID

	// Once registers a handler that is removed before its first invocation.
	Once(kind EventKind, h Handler) SubscriptionID

	// Off removes a handler. Unknown IDs are ignored.
	Off(kind EventKind, id SubscriptionID)

	// Start begins reading from the connection and delivering events. Calling
	// Start more than once has no effect.
	Start()

	// Send writes a binary audio chunk.
	Send(chunk []byte) error

	// Configure sends the Settings command.
	Configure(s Settings) error

	// KeepAlive sends a keep-alive command.
	KeepAlive() error

	// InjectUserMessage makes the agent respond as if the user had said content.
	InjectUserMessage(content string) error

	// UpdatePrompt replaces the agent's think prompt.
	UpdatePrompt(prompt string) error

	// UpdateSpeak replaces the agent's speech configuration.
	UpdateSpeak(speak SpeakConfig) error

	// InjectAgentMessage makes the agent say message.
	InjectAgentMessage(message string) error

	// FunctionCallResponse answers a function call request.
	FunctionCallResponse(resp FunctionCallResponse) error

	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect() error
}

// Provider opens voice-agent connections.
type Provider interface {
	// Dial opens a connection authenticated with token. The returned client
	// does not deliver events until Start is called.
	Dial(ctx context.Context, token string) (Client, error)
}
