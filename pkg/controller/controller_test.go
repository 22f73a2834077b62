package controller_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	audiomock "github.com/MrWong99/voicelink/pkg/audio/mock"
	"github.com/MrWong99/voicelink/pkg/audio/capture"
	"github.com/MrWong99/voicelink/pkg/controller"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	agentmock "github.com/MrWong99/voicelink/pkg/provider/agent/mock"
	"github.com/MrWong99/voicelink/pkg/session"
	"github.com/MrWong99/voicelink/pkg/types"
)

var testConfig = agent.AgentConfig{
	ListenModel: agent.ListenNova3General,
	ThinkModel:  agent.ThinkGPT4o,
	SpeechModel: agent.SpeechAura2Thalia,
	BasePrompt:  "Be brief.",
}

type fixture struct {
	c        *controller.Controller
	provider *agentmock.Provider
	mic      *audiomock.CaptureDevice
	out      *audiomock.OutputDevice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: &agentmock.Provider{},
		mic:      &audiomock.CaptureDevice{Rate: 24000},
		out:      &audiomock.OutputDevice{},
	}
	f.c = controller.New(f.provider, f.mic, f.out)
	return f
}

// connect initialises with testConfig and completes the handshake.
func (f *fixture) connect(t *testing.T) *agentmock.Client {
	t.Helper()
	f.c.Init(controller.InitOptions{Token: "tok", Config: &testConfig})
	if err := f.c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client := f.provider.Last()
	client.Emit(agent.Event{Kind: agent.EventWelcome})
	client.Emit(agent.Event{Kind: agent.EventSettingsApplied})
	if !f.c.State().Connected {
		t.Fatal("not connected after handshake")
	}
	return client
}

// messages collects strings from a listener.
type messages struct {
	mu   sync.Mutex
	msgs []string
}

func (m *messages) add(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, s)
}

func (m *messages) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

func TestConnect_RequiresInit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.c.Connect(context.Background())
	if !errors.Is(err, types.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	if !types.IsUsage(err) {
		t.Errorf("err kind is not usage: %v", err)
	}
	if len(f.provider.DialCalls) != 0 {
		t.Errorf("Dial called %d times, want 0", len(f.provider.DialCalls))
	}
}

func TestConnect_RetunesPlaybackFromSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	settings := agent.BuildSettings(testConfig)
	settings.Audio.Output.SampleRate = 48000
	f.c.Init(controller.InitOptions{Token: "tok", Settings: &settings})
	if err := f.c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := f.c.PlaybackSampleRate(); got != 48000 {
		t.Fatalf("playback rate = %d, want 48000", got)
	}

	client := f.provider.Last()
	client.Emit(agent.Event{Kind: agent.EventWelcome})
	client.Emit(agent.Event{Kind: agent.EventSettingsApplied})
	client.Emit(agent.Event{Kind: agent.EventAudio, Audio: make([]byte, 960)})

	scheds := f.out.Context().Schedules()
	if len(scheds) != 1 {
		t.Fatalf("schedules = %d, want 1", len(scheds))
	}
	if scheds[0].SampleRate != 48000 {
		t.Errorf("decoded at %d Hz, want 48000", scheds[0].SampleRate)
	}
	if got := client.ConfigureCalls[0].Audio.Output.SampleRate; got != 48000 {
		t.Errorf("sent output rate = %d, want 48000", got)
	}
}

func TestAudio_QueuedThenObserved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var scheduledBefore []int
	f.c.OnAudio(func(chunk []byte) {
		scheduledBefore = append(scheduledBefore, len(f.out.Context().Schedules()))
	})
	client := f.connect(t)

	client.Emit(agent.Event{Kind: agent.EventAudio, Audio: audio.EncodePCM16(make([]float32, 100))})
	client.Emit(agent.Event{Kind: agent.EventAudio, Audio: audio.EncodePCM16(make([]float32, 100))})

	if !slices.Equal(scheduledBefore, []int{1, 2}) {
		t.Errorf("schedules seen by observer = %v, want [1 2]", scheduledBefore)
	}
}

func TestOnAgent_AttachedBeforeFirstEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var order []string
	f.c.OnAgent(agent.EventWelcome, func(agent.Event) { order = append(order, "first") })
	f.c.OnAgent(agent.EventWelcome, func(agent.Event) { order = append(order, "second") })

	f.c.Init(controller.InitOptions{Token: "tok", Config: &testConfig})
	if err := f.c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client := f.provider.Last()
	if n := client.Handlers(agent.EventWelcome); n < 2 {
		t.Fatalf("welcome handlers = %d, want at least 2", n)
	}
	client.Emit(agent.Event{Kind: agent.EventWelcome})

	if !slices.Equal(order, []string{"first", "second"}) {
		t.Errorf("order = %v", order)
	}
}

func TestOnAgent_AttachedOncePerTransport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var count int
	f.c.OnAgent(agent.EventConversationText, func(agent.Event) { count++ })

	first := f.connect(t)
	first.Emit(agent.Event{Kind: agent.EventConversationText, Role: "user", Content: "hi"})
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	f.c.Disconnect()
	second := f.connect(t)
	if first == second {
		t.Fatal("reconnect reused the transport")
	}
	second.Emit(agent.Event{Kind: agent.EventConversationText, Role: "user", Content: "again"})
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestOnAgent_LateRegistration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)

	var got []string
	f.c.OnAgent(agent.EventFunctionCallRequest, func(ev agent.Event) {
		got = append(got, ev.Functions[0].Name)
	})
	client.Emit(agent.Event{
		Kind:      agent.EventFunctionCallRequest,
		Functions: []agent.FunctionCall{{ID: "1", Name: "lookup", ClientSide: true}},
	})
	if !slices.Equal(got, []string{"lookup"}) {
		t.Errorf("got = %v", got)
	}
}

func TestOffAgent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var kept, removed int
	f.c.OnAgent(agent.EventWarning, func(agent.Event) { kept++ })
	id := f.c.OnAgent(agent.EventWarning, func(agent.Event) { removed++ })

	client := f.connect(t)
	f.c.OffAgent(agent.EventWarning, id)
	client.Emit(agent.Event{Kind: agent.EventWarning, Message: "slow"})

	f.c.Disconnect()
	client = f.connect(t)
	client.Emit(agent.Event{Kind: agent.EventWarning, Message: "slow"})

	if kept != 2 || removed != 0 {
		t.Errorf("kept = %d, removed = %d, want 2 and 0", kept, removed)
	}
}

func TestOffAgentAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var warnings, errs int
	f.c.OnAgent(agent.EventWarning, func(agent.Event) { warnings++ })
	f.c.OnAgent(agent.EventWarning, func(agent.Event) { warnings++ })
	f.c.OnAgent(agent.EventError, func(agent.Event) { errs++ })

	client := f.connect(t)
	f.c.OffAgentAll(agent.EventWarning)
	client.Emit(agent.Event{Kind: agent.EventWarning})
	client.Emit(agent.Event{Kind: agent.EventError, Message: "boom"})

	if warnings != 0 || errs != 1 {
		t.Errorf("warnings = %d, errors = %d, want 0 and 1", warnings, errs)
	}
}

func TestOnError_SessionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var errs messages
	f.c.OnError(errs.add)
	client := f.connect(t)

	client.Emit(agent.Event{Kind: agent.EventError, Message: "rate limited"})
	client.Emit(agent.Event{Kind: agent.EventConversationText, Role: "user", Content: "hi"})

	if got := errs.all(); !slices.Equal(got, []string{"Agent error: rate limited"}) {
		t.Errorf("errors = %v", got)
	}
}

func TestStartRecording_WithoutConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var cbErrs, listenerErrs messages
	f.c.OnError(listenerErrs.add)
	f.c.StartRecording(context.Background(), capture.Callbacks{OnError: cbErrs.add})

	want := []string{"No agent client available to stream audio"}
	if got := cbErrs.all(); !slices.Equal(got, want) {
		t.Errorf("callback errors = %v", got)
	}
	if got := listenerErrs.all(); !slices.Equal(got, want) {
		t.Errorf("listener errors = %v", got)
	}
	if f.c.IsRecording() {
		t.Error("recording without a connection")
	}
}

func TestStartRecording_StreamsToAgent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)

	var changes []bool
	f.c.StartRecording(context.Background(), capture.Callbacks{
		OnRecordingChange: func(r bool) { changes = append(changes, r) },
	})
	if !f.c.IsRecording() {
		t.Fatal("not recording")
	}
	f.mic.Emit(make([]float32, 512))
	deadline := time.Now().Add(time.Second)
	for len(client.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sent := client.Sent(); len(sent) != 1 || len(sent[0]) != 1024 {
		t.Fatalf("sent %d chunks", len(sent))
	}

	f.c.StopRecording(capture.Callbacks{
		OnRecordingChange: func(r bool) { changes = append(changes, r) },
	})
	if !slices.Equal(changes, []bool{false, true, false}) {
		t.Errorf("changes = %v", changes)
	}
}

func TestOnTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)
	client.Emit(agent.Event{Kind: agent.EventConversationText, Role: "user", Content: "hello"})

	var lens []int
	f.c.OnTranscript(func(tr []session.ConversationMessage) { lens = append(lens, len(tr)) })
	if !slices.Equal(lens, []int{1}) {
		t.Fatalf("immediate call = %v, want [1]", lens)
	}

	client.Emit(agent.Event{Kind: agent.EventAgentStartedSpeaking})
	client.Emit(agent.Event{Kind: agent.EventConversationText, Role: "assistant", Content: "hi"})
	if err := f.c.InjectUserMessage("more"); err != nil {
		t.Fatalf("InjectUserMessage: %v", err)
	}
	f.c.ClearTranscript()

	if !slices.Equal(lens, []int{1, 2, 3, 0}) {
		t.Errorf("lengths = %v, want [1 2 3 0]", lens)
	}
}

func TestOnTranscript_EmptyIsNotCalled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	called := false
	f.c.OnTranscript(func([]session.ConversationMessage) { called = true })
	if called {
		t.Error("listener called for an empty transcript")
	}
}

func TestUpdateSettings_RetunesPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)

	settings := agent.BuildSettings(testConfig)
	settings.Audio.Output.SampleRate = 16000
	if err := f.c.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if got := f.c.PlaybackSampleRate(); got != 16000 {
		t.Errorf("playback rate = %d, want 16000", got)
	}
	if n := len(client.ConfigureCalls); n != 2 {
		t.Errorf("Configure calls = %d, want 2", n)
	}
}

func TestUpdateSettings_FailureKeepsRate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	settings := agent.BuildSettings(testConfig)
	settings.Audio.Output.SampleRate = 16000
	if err := f.c.UpdateSettings(settings); !errors.Is(err, types.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if got := f.c.PlaybackSampleRate(); got != audio.DefaultSampleRate {
		t.Errorf("playback rate = %d, want %d", got, audio.DefaultSampleRate)
	}
}

func TestDisconnect_StopsEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)
	f.c.StartRecording(context.Background(), capture.Callbacks{})
	client.Emit(agent.Event{Kind: agent.EventAudio, Audio: audio.EncodePCM16(make([]float32, 100))})

	f.c.Disconnect()

	if f.c.IsRecording() {
		t.Error("still recording")
	}
	if !f.mic.Stream().Closed() {
		t.Error("capture stream not closed")
	}
	if n := f.out.Context().CallCountClose; n != 1 {
		t.Errorf("output context closed %d times, want 1", n)
	}
	if !client.Closed() {
		t.Error("transport not disconnected")
	}
	if f.c.State().Connected || f.c.Client() != nil {
		t.Error("session still connected")
	}

	f.c.Disconnect()
}

func TestCommands_Delegate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	client := f.connect(t)

	if err := f.c.UpdatePrompt("Be loud."); err != nil {
		t.Fatalf("UpdatePrompt: %v", err)
	}
	if err := f.c.UpdateSpeak(agent.SpeakConfig{Provider: agent.ProviderDescriptor{Type: "deepgram", Model: agent.SpeechAura2Thalia}}); err != nil {
		t.Fatalf("UpdateSpeak: %v", err)
	}
	if err := f.c.InjectAgentMessage("Hello there."); err != nil {
		t.Fatalf("InjectAgentMessage: %v", err)
	}
	if err := f.c.FunctionCallResponse(agent.FunctionCallResponse{ID: "1", Name: "lookup", Content: "42"}); err != nil {
		t.Fatalf("FunctionCallResponse: %v", err)
	}
	f.c.KeepAlive()

	log := client.CallLog()
	want := []string{"UpdatePrompt", "UpdateSpeak", "InjectAgentMessage", "FunctionCallResponse", "KeepAlive"}
	if !slices.Equal(log[len(log)-len(want):], want) {
		t.Errorf("calls = %v", log)
	}

	tr := f.c.Transcript()
	if len(tr) != 3 || !strings.HasPrefix(tr[0].Content, "System prompt updated") {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestWaitConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.c.Init(controller.InitOptions{Token: "tok", Config: &testConfig})
	if err := f.c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.c.WaitConnected(context.Background()) }()

	client := f.provider.Last()
	client.Emit(agent.Event{Kind: agent.EventWelcome})
	client.Emit(agent.Event{Kind: agent.EventSettingsApplied})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitConnected: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitConnected did not return")
	}
}

func TestWaitConnected_ContextDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.c.WaitConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
