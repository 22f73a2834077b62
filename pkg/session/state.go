package session

import "slices"

// Role is the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationMessage is one transcript entry.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is an immutable snapshot of the session. A published snapshot is
// never modified; every change produces a new snapshot with a higher Version.
type State struct {
	Connected       bool
	IsAgentSpeaking bool

	// Transcript holds conversational turns and control actions in the order
	// they happened. Callers must not modify it.
	Transcript []ConversationMessage

	// Error is the most recent agent or handshake error, or "" when none.
	Error string

	// Version increases by one with every published snapshot.
	Version uint64
}

// withMessage returns a copy of s with m appended to the transcript. The new
// transcript never shares a backing array with the old one.
func (s State) withMessage(m ConversationMessage) State {
	s.Transcript = append(slices.Clip(s.Transcript), m)
	return s
}

// Phase is the connection lifecycle phase.
type Phase int

const (
	// PhaseDisconnected means no transport exists.
	PhaseDisconnected Phase = iota

	// PhaseConnecting means the transport is open and the welcome signal has
	// not arrived yet.
	PhaseConnecting

	// PhaseAwaitingSettingsAck means settings were sent and the agent has not
	// acknowledged them yet.
	PhaseAwaitingSettingsAck

	// PhaseConnected means the handshake completed.
	PhaseConnected
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingSettingsAck:
		return "awaiting-settings-ack"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}
