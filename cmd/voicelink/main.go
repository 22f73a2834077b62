// Command voicelink connects the local microphone and speakers to a hosted
// voice agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio/capture"
	"github.com/MrWong99/voicelink/pkg/controller"
	"github.com/MrWong99/voicelink/pkg/provider/agent"
	"github.com/MrWong99/voicelink/pkg/session"
	"github.com/MrWong99/voicelink/pkg/transcript"
	"github.com/MrWong99/voicelink/pkg/transcript/postgres"
	"github.com/MrWong99/voicelink/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

// errAgentClosed ends the run when the agent drops the connection.
var errAgentClosed = errors.New("agent closed the connection")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicelink.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the available audio devices and exit")
	flag.Parse()

	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelink: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicelink starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Agent.Provider,
		"audio_backend", cfg.Audio.Backend,
	)

	token := cfg.Agent.ResolveToken()
	if token == "" {
		slog.Error("no agent credential; set agent.token or the variable named by agent.token_env",
			"token_env", cfg.Agent.TokenEnv)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(providers.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Agent transport and audio devices ─────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	provider, err := reg.CreateAgent(cfg.Agent)
	if err != nil {
		slog.Error("failed to create agent transport", "err", err)
		return 1
	}
	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio backend", "err", err)
		return 1
	}
	if devices.Close != nil {
		defer func() {
			if err := devices.Close(); err != nil {
				slog.Warn("audio backend close error", "err", err)
			}
		}()
	}

	// ── Controller ────────────────────────────────────────────────────────────
	ctrl := controller.New(provider, devices.Capture, devices.Output,
		controller.WithMetrics(metrics),
		controller.WithSessionOptions(session.WithKeepAliveInterval(cfg.Agent.KeepAliveInterval)),
		controller.WithCaptureOptions(
			capture.WithTargetSampleRate(cfg.Audio.CaptureSampleRate),
			capture.WithFramesPerBuffer(cfg.Audio.FramesPerBuffer),
		),
	)
	ctrl.Init(initOptions(cfg.Agent, token))

	var shuttingDown, wasConnected atomic.Bool
	ctrl.OnState(func(st session.State) {
		if wasConnected.Swap(st.Connected) && !st.Connected && !shuttingDown.Load() {
			cancel(errAgentClosed)
		}
	})
	ctrl.OnError(func(msg string) {
		slog.Warn("agent error", "err", msg)
	})
	ctrl.OnAgent(agent.EventWelcome, func(ev agent.Event) {
		slog.Info("agent welcome", "request_id", ev.RequestID)
	})
	ctrl.OnAgent(agent.EventInjectionRefused, func(ev agent.Event) {
		slog.Warn("agent refused injected message", "message", ev.Message)
	})
	ctrl.OnAgent(agent.EventFunctionCallRequest, func(ev agent.Event) {
		for _, fn := range ev.Functions {
			if !fn.ClientSide {
				continue
			}
			slog.Warn("agent requested an unavailable client-side function", "name", fn.Name, "id", fn.ID)
			go func() {
				err := ctrl.FunctionCallResponse(agent.FunctionCallResponse{
					ID:      fn.ID,
					Name:    fn.Name,
					Content: `{"error":"function not available on this client"}`,
				})
				if err != nil {
					slog.Warn("function call response failed", "name", fn.Name, "err", err)
				}
			}()
		}
	})

	// ── Transcript archive (optional) ─────────────────────────────────────────
	var (
		archiver *transcript.Archiver
		checkers = []health.Checker{health.Connected("agent", func() bool { return ctrl.State().Connected })}
	)
	if cfg.Transcript.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Transcript.PostgresDSN)
		if err != nil {
			slog.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer store.Close()

		archiver, err = transcript.NewArchiver(ctx, store, cfg.Transcript.SessionLabel)
		if err != nil {
			slog.Error("failed to start transcript archive", "err", err)
			return 1
		}
		checkers = append(checkers, health.Ping("transcripts", store))
		slog.Info("archiving transcript", "session_id", archiver.SessionID())
	}
	ctrl.OnTranscript(func(msgs []session.ConversationMessage) {
		if n := len(msgs); n > 0 {
			last := msgs[n-1]
			slog.Info("conversation", "role", last.Role, "content", last.Content)
		}
		if archiver != nil {
			archiver.Observe(msgs)
		}
	})

	// ── Background workers ────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.StatusAddr != "off" {
		h := health.New(checkers, health.WithStatus(func() any { return statusOf(ctrl) }))
		srv := newStatusServer(cfg.Server.StatusAddr, h, metrics)
		g.Go(func() error { return srv.run(gctx) })
	}
	if archiver != nil {
		g.Go(func() error { return archiver.Run(gctx) })
	}

	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		applyDiff(ctrl, level, d)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error { return reloadOnHangup(gctx, watcher) })
	}

	// ── Connect and stream ────────────────────────────────────────────────────
	if err := ctrl.Connect(gctx); err != nil {
		if types.IsUsage(err) {
			slog.Error("agent is not configured", "err", err)
		} else {
			slog.Error("failed to connect to agent", "err", err)
		}
		cancel(err)
		_ = g.Wait()
		return 1
	}
	if err := ctrl.WaitConnected(gctx); err != nil {
		slog.Error("agent handshake did not complete", "err", err)
	} else {
		slog.Info("agent connected; speak into the microphone, press Ctrl+C to quit")
		ctrl.StartRecording(gctx, capture.Callbacks{
			OnError: func(msg string) { slog.Warn("capture error", "err", msg) },
			OnRecordingChange: func(recording bool) {
				slog.Debug("recording changed", "recording", recording)
			},
			OnSampleRateDetermined: func(rate int) {
				slog.Info("capture started", "sample_rate", rate)
			},
		})
	}

	<-gctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	cause := context.Cause(gctx)
	slog.Info("stopping", "reason", cause)

	shuttingDown.Store(true)
	ctrl.StopRecording(capture.Callbacks{})
	ctrl.Disconnect()
	if archiver != nil {
		archiver.Close()
	}

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker error", "err", err)
		code = 1
	}
	if errors.Is(cause, errAgentClosed) {
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, changed, err := w.Reload(); err != nil {
				slog.Warn("config reload failed; keeping previous config", "err", err)
			} else if !changed {
				slog.Info("config reload: no changes")
			}
		}
	}
}

// initOptions picks raw settings over the simplified model selection.
func initOptions(a config.AgentConfig, token string) controller.InitOptions {
	opts := controller.InitOptions{Token: token}
	if a.Settings != nil {
		opts.Settings = a.Settings
	} else {
		opts.Config = a.Config
	}
	return opts
}

// applyDiff pushes hot-reloadable changes to the live session and reports
// the rest.
func applyDiff(ctrl *controller.Controller, level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.PromptChanged {
		if err := ctrl.UpdatePrompt(d.NewPrompt); err != nil {
			slog.Warn("config reload: prompt update failed", "err", err)
		} else {
			slog.Info("config reload: prompt updated")
		}
	}
	if d.SpeakChanged {
		if err := ctrl.UpdateSpeak(d.NewSpeak); err != nil {
			slog.Warn("config reload: speak update failed", "err", err)
		} else {
			slog.Info("config reload: speak updated", "model", d.NewSpeak.Provider.Model)
		}
	}
	if len(d.RestartFields) > 0 {
		slog.Warn("config reload: changes require a restart", "fields", d.RestartFields)
	}
}

// status is the /statusz payload.
type status struct {
	Version            string `json:"version"`
	Phase              string `json:"phase"`
	Connected          bool   `json:"connected"`
	AgentSpeaking      bool   `json:"agent_speaking"`
	Recording          bool   `json:"recording"`
	TranscriptMessages int    `json:"transcript_messages"`
	PlaybackSampleRate int    `json:"playback_sample_rate"`
	StateVersion       uint64 `json:"state_version"`
	Error              string `json:"error,omitempty"`
}

func statusOf(ctrl *controller.Controller) status {
	st := ctrl.State()
	return status{
		Version:            version,
		Phase:              ctrl.Phase().String(),
		Connected:          st.Connected,
		AgentSpeaking:      st.IsAgentSpeaking,
		Recording:          ctrl.IsRecording(),
		TranscriptMessages: len(st.Transcript),
		PlaybackSampleRate: ctrl.PlaybackSampleRate(),
		StateVersion:       st.Version,
		Error:              st.Error,
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
