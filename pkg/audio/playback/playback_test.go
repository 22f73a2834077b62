package playback_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/mock"
	"github.com/MrWong99/voicelink/pkg/audio/playback"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// chunk returns a PCM16 chunk of n samples at a fixed non-zero level.
func chunk(n int) []byte {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.25
	}
	return audio.EncodePCM16(s)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEnqueue_BackToBack(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(chunk(2048))
	p.Enqueue(chunk(2048))

	scheds := dev.Context().Schedules()
	if len(scheds) != 2 {
		t.Fatalf("schedules = %d, want 2", len(scheds))
	}
	if scheds[0].At != 0 {
		t.Errorf("first start = %v, want 0", scheds[0].At)
	}
	if want := scheds[0].At + 2048.0/24000; !approx(scheds[1].At, want) {
		t.Errorf("second start = %v, want %v", scheds[1].At, want)
	}
	if scheds[1].SampleRate != 24000 {
		t.Errorf("rate = %d, want 24000", scheds[1].SampleRate)
	}
}

func TestEnqueue_NoOverlap(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	sizes := []int{100, 2048, 1, 777, 4096}
	for _, n := range sizes {
		p.Enqueue(chunk(n))
	}

	scheds := dev.Context().Schedules()
	if len(scheds) != len(sizes) {
		t.Fatalf("schedules = %d, want %d", len(scheds), len(sizes))
	}
	var sum float64
	for i, s := range scheds {
		if !approx(s.At, sum) {
			t.Errorf("chunk %d start = %v, want %v", i, s.At, sum)
		}
		sum += float64(sizes[i]) / 24000
	}
	if !approx(p.Cursor(), sum) {
		t.Errorf("cursor = %v, want %v", p.Cursor(), sum)
	}
}

func TestEnqueue_ResumesSuspendedContextOnce(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(chunk(10))
	p.Enqueue(chunk(10))

	if dev.CallCountOpen != 1 {
		t.Errorf("Open called %d times, want 1", dev.CallCountOpen)
	}
	octx := dev.Context()
	if octx.CallCountResume != 1 {
		t.Errorf("Resume called %d times, want 1", octx.CallCountResume)
	}
	if octx.State() != audio.ContextRunning {
		t.Errorf("state = %v, want running", octx.State())
	}
}

func TestEnqueue_SkipsEmptyChunks(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(nil)
	p.Enqueue([]byte{0x01})
	p.Enqueue(chunk(4))

	if got := len(dev.Context().Schedules()); got != 1 {
		t.Errorf("schedules = %d, want 1", got)
	}
	if p.Pending() != 0 {
		t.Errorf("pending = %d, want 0", p.Pending())
	}
}

func TestEnqueue_UnderrunSnapsToNow(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	dev := &mock.OutputDevice{}
	p := playback.New(dev, playback.WithMetrics(m))
	p.Enqueue(chunk(2400)) // 0.1s
	dev.Context().SetTime(1.0)
	p.Enqueue(chunk(2400))

	scheds := dev.Context().Schedules()
	if len(scheds) != 2 {
		t.Fatalf("schedules = %d, want 2", len(scheds))
	}
	if scheds[1].At != 1.0 {
		t.Errorf("start after underrun = %v, want 1.0", scheds[1].At)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var underruns int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voicelink.playback.underruns" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				underruns += dp.Value
			}
		}
	}
	if underruns != 1 {
		t.Errorf("underruns = %d, want 1", underruns)
	}
}

func TestSetSampleRate_AffectsLaterChunksOnly(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(chunk(480))
	p.SetSampleRate(48000)
	p.SetSampleRate(0)
	p.Enqueue(chunk(480))

	scheds := dev.Context().Schedules()
	if scheds[0].SampleRate != 24000 || scheds[1].SampleRate != 48000 {
		t.Errorf("rates = %d, %d; want 24000, 48000", scheds[0].SampleRate, scheds[1].SampleRate)
	}
	if want := 480.0/24000 + 480.0/48000; !approx(p.Cursor(), want) {
		t.Errorf("cursor = %v, want %v", p.Cursor(), want)
	}
}

func TestEnqueue_ErrorKeepsChunkForRetry(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{OpenError: errors.New("no output device")}
	p := playback.New(dev)
	p.Enqueue(chunk(10))
	if p.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", p.Pending())
	}

	dev.OpenError = nil
	p.Enqueue(chunk(20))
	scheds := dev.Context().Schedules()
	if len(scheds) != 2 {
		t.Fatalf("schedules = %d, want 2", len(scheds))
	}
	if len(scheds[0].Samples) != 10 || len(scheds[1].Samples) != 20 {
		t.Errorf("order = %d, %d; want 10, 20", len(scheds[0].Samples), len(scheds[1].Samples))
	}
}

func TestEnqueue_ResumeFailureHaltsPass(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{ResumeError: errors.New("blocked by autoplay policy")}
	p := playback.New(dev)
	p.Enqueue(chunk(10))

	octx := dev.Context()
	if got := len(octx.Schedules()); got != 0 {
		t.Fatalf("scheduled %d buffers on a suspended context", got)
	}
	if p.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", p.Pending())
	}

	octx.ResumeError = nil
	p.Enqueue(chunk(10))
	if got := len(octx.Schedules()); got != 2 {
		t.Errorf("schedules = %d, want 2", got)
	}
	if dev.CallCountOpen != 1 || octx.CallCountResume != 2 {
		t.Errorf("open calls = %d, resume calls = %d; want 1, 2", dev.CallCountOpen, octx.CallCountResume)
	}
}

func TestStop_ResetsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(chunk(2048))
	octx := dev.Context()
	last := octx.Schedules()[0].Voice

	p.Stop()
	p.Stop()

	if !last.Stopped() || last.CallCountStop != 1 {
		t.Errorf("last voice stopped = %v, stop calls = %d", last.Stopped(), last.CallCountStop)
	}
	if octx.CallCountClose != 1 || octx.State() != audio.ContextClosed {
		t.Errorf("context close calls = %d, state = %v", octx.CallCountClose, octx.State())
	}
	if p.Cursor() != 0 {
		t.Errorf("cursor = %v, want 0", p.Cursor())
	}

	// The next chunk opens a fresh context and starts at its clock.
	p.Enqueue(chunk(10))
	if dev.CallCountOpen != 2 {
		t.Errorf("Open called %d times, want 2", dev.CallCountOpen)
	}
	if got := dev.Context().Schedules()[0].At; got != 0 {
		t.Errorf("start on fresh context = %v, want 0", got)
	}
}

func TestStop_IgnoresFinishedVoice(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{}
	p := playback.New(dev)
	p.Enqueue(chunk(240))
	dev.Context().SetTime(1)
	p.Stop()

	if p.Pending() != 0 || p.Cursor() != 0 {
		t.Errorf("pending = %d, cursor = %v", p.Pending(), p.Cursor())
	}
}

func TestOnDrained_FiresAfterLastVoice(t *testing.T) {
	t.Parallel()

	drained := make(chan struct{}, 4)
	dev := &mock.OutputDevice{}
	p := playback.New(dev, playback.WithOnDrained(func() { drained <- struct{}{} }))
	p.Enqueue(chunk(2400))
	p.Enqueue(chunk(2400))

	// Only the first voice finishes: not drained yet.
	dev.Context().SetTime(0.15)
	select {
	case <-drained:
		t.Fatal("drained fired before the last voice finished")
	case <-time.After(50 * time.Millisecond):
	}

	dev.Context().SetTime(0.25)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drained callback not invoked")
	}
}
