package session

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/MrWong99/voicelink/pkg/types"
)

// commandClient returns the transport for an outbound command, or a usage
// error wrapping [types.ErrNotConnected]. Commands are refused until the
// settings step of the handshake has been sent; they are accepted from
// AwaitingSettingsAck on. A session whose settings failed to send stays in
// Connecting and keeps refusing them.
func (s *Session) commandClient(op string) (agent.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.client == nil:
		return nil, types.Usage("session: "+op, types.ErrNotConnected)
	case s.phase == PhaseConnecting:
		return nil, types.Usage("session: "+op, fmt.Errorf("%w: handshake incomplete", types.ErrNotConnected))
	}
	return s.client, nil
}

// command issues one outbound command and, on success, appends entry to the
// transcript when it is non-nil.
func (s *Session) command(name string, send func(agent.Client) error, entry *ConversationMessage) error {
	ctx := context.Background()
	client, err := s.commandClient(name)
	if err != nil {
		s.metrics.RecordCommand(ctx, name, "not_connected")
		return err
	}
	if err := send(client); err != nil {
		s.metrics.RecordCommand(ctx, name, "error")
		return fmt.Errorf("session: %s: %w", name, err)
	}
	s.metrics.RecordCommand(ctx, name, "ok")
	if entry != nil {
		s.appendMessage(*entry)
	}
	return nil
}

// InjectUserMessage makes the agent respond as if the user had said text,
// and records the text as a user turn.
func (s *Session) InjectUserMessage(text string) error {
	return s.command("InjectUserMessage",
		func(c agent.Client) error { return c.InjectUserMessage(text) },
		&ConversationMessage{Role: RoleUser, Content: text},
	)
}

// UpdatePrompt replaces the agent's prompt.
func (s *Session) UpdatePrompt(prompt string) error {
	return s.command("UpdatePrompt",
		func(c agent.Client) error { return c.UpdatePrompt(prompt) },
		&ConversationMessage{Role: RoleSystem, Content: "System prompt updated: " + prompt},
	)
}

// UpdateSettings resends settings to the live agent and keeps them for
// subsequent connects.
func (s *Session) UpdateSettings(settings agent.Settings) error {
	err := s.command("UpdateSettings",
		func(c agent.Client) error { return c.Configure(settings) },
		&ConversationMessage{Role: RoleSystem, Content: "Agent settings updated."},
	)
	if err != nil {
		return err
	}
	s.SetSettings(settings)
	return nil
}

// UpdateSpeak replaces the agent's speech configuration.
func (s *Session) UpdateSpeak(speak agent.SpeakConfig) error {
	return s.command("UpdateSpeak",
		func(c agent.Client) error { return c.UpdateSpeak(speak) },
		&ConversationMessage{Role: RoleSystem, Content: "Speak configuration updated."},
	)
}

// InjectAgentMessage makes the agent say message, and records it as an
// assistant turn.
func (s *Session) InjectAgentMessage(message string) error {
	return s.command("InjectAgentMessage",
		func(c agent.Client) error { return c.InjectAgentMessage(message) },
		&ConversationMessage{Role: RoleAssistant, Content: message},
	)
}

// FunctionCallResponse answers a function call request. It adds no
// transcript entry.
func (s *Session) FunctionCallResponse(resp agent.FunctionCallResponse) error {
	return s.command("FunctionCallResponse",
		func(c agent.Client) error { return c.FunctionCallResponse(resp) },
		nil,
	)
}

// KeepAlive sends a keep-alive. It may race teardown, so every failure,
// including the absence of a transport, is swallowed.
func (s *Session) KeepAlive() {
	client, err := s.commandClient("KeepAlive")
	if err != nil {
		types.Swallow(types.BestEffortFailure, "session: keep-alive", err)
		return
	}
	types.Swallow(types.BestEffortFailure, "session: keep-alive", client.KeepAlive())
}

// SendAudio forwards a PCM16 microphone frame. It satisfies the capture
// pipeline's Sender.
func (s *Session) SendAudio(chunk []byte) error {
	client, err := s.commandClient("SendAudio")
	if err != nil {
		return err
	}
	return client.Send(chunk)
}
