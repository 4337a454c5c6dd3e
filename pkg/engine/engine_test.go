package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/audio/capture/capturetest"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/scope"
	"github.com/xkeyC/fl-caption/pkg/session"
	"github.com/xkeyC/fl-caption/pkg/transcript"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func fastConfig() Config {
	return Config{
		Family: asr.FamilyStub,
		Session: session.Options{
			InferenceInterval: 50 * time.Millisecond,
			Warmup:            200 * time.Millisecond,
			MinAudio:          100 * time.Millisecond,
			MaxAudioDuration:  time.Second,
			PollInterval:      10 * time.Millisecond,
		},
	}
}

func next(t *testing.T, s *emitter.Stream) transcript.Segment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seg, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return seg
}

func expectStatus(t *testing.T, s *emitter.Stream, want transcript.Status) transcript.Segment {
	t.Helper()
	seg := next(t, s)
	if seg.Status != want {
		t.Fatalf("status = %v (%q), want %v", seg.Status, seg.Text, want)
	}
	return seg
}

func TestLaunchLifecycle(t *testing.T) {
	sc := scope.NewRoot()
	defer sc.Cancel()
	stream := emitter.NewStream(64)
	host := capturetest.NewTone(0.3)

	inst, err := Launch(sc, fastConfig(), Env{Host: host}, stream)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if inst.Info().DeviceName != "Test Tone" {
		t.Errorf("device = %q", inst.Info().DeviceName)
	}

	expectStatus(t, stream, transcript.Loading)
	expectStatus(t, stream, transcript.Ready)
	seg := expectStatus(t, stream, transcript.Working)
	if seg.Text != asr.DefaultStubScript {
		t.Errorf("text = %q, want %q", seg.Text, asr.DefaultStubScript)
	}
	if seg.AudioDuration == nil || *seg.AudioDuration < 200*time.Millisecond {
		t.Errorf("audio duration = %v, want at least the warmup", seg.AudioDuration)
	}

	sc.Cancel()
	for {
		if seg := next(t, stream); seg.Status == transcript.Exit {
			break
		}
	}
	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("instance did not finish")
	}
	if n := host.OpenStreams(); n != 0 {
		t.Errorf("open streams = %d after exit", n)
	}
}

func TestLaunchBackendFailure(t *testing.T) {
	sc := scope.NewRoot()
	defer sc.Cancel()
	stream := emitter.NewStream(8)
	cfg := fastConfig()
	cfg.Models = asr.Models{"script": filepath.Join(t.TempDir(), "missing.txt")}

	_, err := Launch(sc, cfg, Env{Host: capturetest.NewTone(0.3)}, stream)
	if !errors.Is(err, asr.ErrModelLoad) {
		t.Fatalf("err = %v, want ErrModelLoad", err)
	}
	expectStatus(t, stream, transcript.Loading)
	expectStatus(t, stream, transcript.Error)
	expectStatus(t, stream, transcript.Exit)
}

func TestLaunchDeviceFailure(t *testing.T) {
	sc := scope.NewRoot()
	defer sc.Cancel()
	stream := emitter.NewStream(8)
	host := capturetest.NewTone(0.3)
	host.OpenErr = errors.New("device busy")

	_, err := Launch(sc, fastConfig(), Env{Host: host}, stream)
	if !errors.Is(err, capture.ErrDevice) {
		t.Fatalf("err = %v, want ErrDevice", err)
	}
	expectStatus(t, stream, transcript.Loading)
	seg := expectStatus(t, stream, transcript.Error)
	if seg.Text == "" {
		t.Error("error marker has no text")
	}
	expectStatus(t, stream, transcript.Exit)
}

func TestLaunchInvalidConfig(t *testing.T) {
	sc := scope.NewRoot()
	defer sc.Cancel()
	var got []transcript.Segment
	em := emitter.Func(func(segs []transcript.Segment) { got = append(got, segs...) })

	cfg := fastConfig()
	cfg.Family = "no-such-family"
	if _, err := Launch(sc, cfg, Env{Host: capturetest.NewTone(0)}, em); !errors.Is(err, asr.ErrUnknownFamily) {
		t.Fatalf("err = %v, want ErrUnknownFamily", err)
	}
	if _, err := Launch(sc, fastConfig(), Env{}, em); err == nil {
		t.Fatal("expected error for nil host")
	}
	if len(got) != 0 {
		t.Errorf("emitted %d segments for a rejected config", len(got))
	}
}

func TestLaunchEnergyGateSkipsSilence(t *testing.T) {
	sc := scope.NewRoot()
	defer sc.Cancel()
	m := NewMetrics(prometheus.NewRegistry())
	stream := emitter.NewStream(64)
	cfg := fastConfig()
	cfg.VAD.Kind = VADEnergy

	inst, err := Launch(sc, cfg, Env{Host: capturetest.NewTone(0), Metrics: m}, stream)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	silent := m.Session.Cycles.WithLabelValues(session.OutcomeSilent)
	deadline := time.Now().Add(5 * time.Second)
	for testutil.ToFloat64(silent) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no silent cycles recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if v := testutil.ToFloat64(m.Active); v != 1 {
		t.Errorf("active = %v, want 1", v)
	}
	sc.Cancel()
	inst.Wait()

	expectStatus(t, stream, transcript.Loading)
	expectStatus(t, stream, transcript.Ready)
	expectStatus(t, stream, transcript.Exit)
	if v := testutil.ToFloat64(m.Active); v != 0 {
		t.Errorf("active = %v after exit, want 0", v)
	}
}

func TestManager(t *testing.T) {
	m := NewManager(Env{Host: capturetest.NewTone(0.3)})
	stream := emitter.NewStream(64)

	h, err := m.Start(fastConfig(), stream)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ss := m.Sessions()
	if len(ss) != 1 || ss[0].Handle != h || ss[0].Family != string(asr.FamilyStub) {
		t.Fatalf("Sessions = %+v", ss)
	}
	if seg := expectStatus(t, stream, transcript.Loading); seg.Session != string(h) {
		t.Errorf("Loading session = %q, want %q", seg.Session, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx, h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for {
		seg := next(t, stream)
		if seg.Session != string(h) {
			t.Errorf("%s segment session = %q, want %q", seg.Status, seg.Session, h)
		}
		if seg.Status == transcript.Exit {
			break
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(m.Sessions()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still listed after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := m.Stop(ctx, h); !errors.Is(err, scope.ErrUnknownHandle) {
		t.Errorf("second Stop = %v, want ErrUnknownHandle", err)
	}
}

func TestManagerStartFailure(t *testing.T) {
	host := capturetest.NewTone(0.3)
	host.OpenErr = errors.New("gone")
	m := NewManager(Env{Host: host})
	if _, err := m.Start(fastConfig(), nil); err == nil {
		t.Fatal("expected error")
	}
	if len(m.Sessions()) != 0 || m.reg.Len() != 0 {
		t.Error("failed start left state behind")
	}
}

func TestManagerShutdown(t *testing.T) {
	m := NewManager(Env{Host: capturetest.NewTone(0.3)})
	for range 2 {
		if _, err := m.Start(fastConfig(), nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	data := `family: sense-voice-onnx
models:
  model: sv/model.onnx
  tokens: /abs/tokens.txt
asr:
  language: ja
  use_itn: true
vad:
  model: silero_vad.onnx
  threshold: 0.3
capture:
  direction: output
  device: Speakers
session:
  inference_interval: 1500ms
  max_audio_duration: 8s
`
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Family != asr.FamilySenseVoice {
		t.Errorf("family = %q", cfg.Family)
	}
	if got := cfg.Models["model"]; got != filepath.Join(dir, "sv/model.onnx") {
		t.Errorf("model path = %q", got)
	}
	if got := cfg.Models["tokens"]; got != "/abs/tokens.txt" {
		t.Errorf("absolute path rewritten to %q", got)
	}
	if cfg.VAD.Model != filepath.Join(dir, "silero_vad.onnx") {
		t.Errorf("vad model = %q", cfg.VAD.Model)
	}
	if cfg.Capture.Direction != capture.OutputMonitor || cfg.Capture.Device != "Speakers" {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Session.InferenceInterval != 1500*time.Millisecond || cfg.Session.MaxAudioDuration != 8*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}

	cfg = cfg.WithDefaults()
	if cfg.VAD.Kind != VADSilero {
		t.Errorf("vad kind = %q, want silero", cfg.VAD.Kind)
	}
	if cfg.Session.Language != "ja" {
		t.Errorf("session language = %q, want the asr hint", cfg.Session.Language)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseConfig([]byte("family: [unclosed")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown family", func(c *Config) { c.Family = "bogus" }, false},
		{"unknown task", func(c *Config) { c.ASR.Task = "summarize" }, false},
		{"silero without model", func(c *Config) { c.VAD.Kind = VADSilero }, false},
		{"unknown vad", func(c *Config) { c.VAD.Kind = "webrtc" }, false},
		{"threshold", func(c *Config) { c.VAD.Threshold = 1.5 }, false},
		{"stereo", func(c *Config) { c.Capture.TargetChannels = 2 }, false},
		{"sample rate", func(c *Config) { c.Capture.TargetSampleRate = 48000 }, false},
		{"min over max", func(c *Config) { c.Session.MinAudio = time.Minute }, false},
		{"energy", func(c *Config) { c.VAD.Kind = VADEnergy }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	cfg := fastConfig().WithDefaults()
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v\n%s", err, data)
	}
	if back.Session != cfg.Session || back.Family != cfg.Family {
		t.Errorf("round trip changed config:\n%s", data)
	}
}
