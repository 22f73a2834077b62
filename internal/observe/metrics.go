// Package observe provides application-wide observability primitives for
// voicelink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/MrWong99/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// CaptureFrames counts microphone frames encoded and handed to the sender.
	CaptureFrames metric.Int64Counter

	// CaptureSendErrors counts frames that never reached the agent, by reason.
	CaptureSendErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackChunks counts agent audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackSeconds accumulates the duration of scheduled agent audio.
	PlaybackSeconds metric.Float64Counter

	// PlaybackUnderruns counts drains that found the cursor behind the clock.
	PlaybackUnderruns metric.Int64Counter

	// PlaybackErrors counts drain passes aborted by an error.
	PlaybackErrors metric.Int64Counter

	// --- Session ---

	// HandshakeDuration tracks the time from transport open to settings applied.
	HandshakeDuration metric.Float64Histogram

	// AgentEvents counts inbound transport events. Use with attribute:
	//   attribute.String("kind", ...)
	AgentEvents metric.Int64Counter

	// Commands counts outbound commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// ActiveSessions tracks the number of connected agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Status server ---

	// HTTPRequestDuration tracks status server latency. Attributes: route
	// (the matched mux pattern) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// connection handshake.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.CaptureFrames, err = m.Int64Counter("voicelink.capture.frames",
		metric.WithDescription("Microphone frames encoded and sent to the agent."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSendErrors, err = m.Int64Counter("voicelink.capture.send_errors",
		metric.WithDescription("Microphone frames that failed to send or were dropped."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackChunks, err = m.Int64Counter("voicelink.playback.chunks",
		metric.WithDescription("Agent audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeconds, err = m.Float64Counter("voicelink.playback.audio",
		metric.WithDescription("Duration of agent audio scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("voicelink.playback.underruns",
		metric.WithDescription("Playback drains that had fallen behind the output clock."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("voicelink.playback.errors",
		metric.WithDescription("Playback drain passes aborted by an error."),
	); err != nil {
		return nil, err
	}

	// Session.
	if met.HandshakeDuration, err = m.Float64Histogram("voicelink.session.handshake.duration",
		metric.WithDescription("Time from transport open to settings applied."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentEvents, err = m.Int64Counter("voicelink.agent.events",
		metric.WithDescription("Inbound agent events by kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voicelink.agent.commands",
		metric.WithDescription("Outbound agent commands by command and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.active_sessions",
		metric.WithDescription("Number of connected agent sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelink.http.request.duration",
		metric.WithDescription("Status server request latency by route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAgentEvent records an inbound agent event of the given kind.
func (m *Metrics) RecordAgentEvent(ctx context.Context, kind string) {
	m.AgentEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordCaptureSendError records a microphone frame that did not reach the
// agent. reason is "send" or "queue_full".
func (m *Metrics) RecordCaptureSendError(ctx context.Context, reason string) {
	m.CaptureSendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCommand records an outbound command with its outcome. status is
// typically "ok" or "error".
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

// RecordPlayback records one scheduled chunk of the given duration in seconds.
func (m *Metrics) RecordPlayback(ctx context.Context, seconds float64) {
	m.PlaybackChunks.Add(ctx, 1)
	m.PlaybackSeconds.Add(ctx, seconds)
}
