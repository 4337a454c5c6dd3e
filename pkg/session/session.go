// Package session runs the capture-to-transcript loop.
//
// A Session accumulates captured PCM, waits until enough audio has arrived,
// gates it through an optional voice activity detector, and hands a bounded
// window of recent audio to an asr.Backend at a fixed interval. Every result
// is pushed to an emitter.Emitter. The loop polls its input with a short
// timeout so cancellation is observed between cycles.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/pcm"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/scope"
	"github.com/xkeyC/fl-caption/pkg/transcript"
	"github.com/xkeyC/fl-caption/pkg/vad"
)

// Options tune the loop. Zero fields take the defaults below.
type Options struct {
	// Language is passed to every Transcribe call. Empty means auto.
	Language string `yaml:"language"`

	InferenceInterval time.Duration `yaml:"inference_interval"`
	MaxAudioDuration  time.Duration `yaml:"max_audio_duration"`
	MinAudio          time.Duration `yaml:"min_audio"`
	Warmup            time.Duration `yaml:"warmup"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	InferenceTimeout  time.Duration `yaml:"inference_timeout"`
}

const (
	DefaultInferenceInterval = 2 * time.Second
	DefaultMaxAudioDuration  = 12 * time.Second
	DefaultMinAudio          = time.Second
	DefaultWarmup            = 3 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultInferenceTimeout  = 30 * time.Second
)

// WithDefaults returns o with zero fields replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.InferenceInterval <= 0 {
		o.InferenceInterval = DefaultInferenceInterval
	}
	if o.MaxAudioDuration <= 0 {
		o.MaxAudioDuration = DefaultMaxAudioDuration
	}
	if o.MinAudio <= 0 {
		o.MinAudio = DefaultMinAudio
	}
	if o.Warmup <= 0 {
		o.Warmup = DefaultWarmup
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.InferenceTimeout <= 0 {
		o.InferenceTimeout = DefaultInferenceTimeout
	}
	return o
}

// Validate reports inconsistent options.
func (o Options) Validate() error {
	o = o.WithDefaults()
	if o.MinAudio > o.MaxAudioDuration {
		return fmt.Errorf("session: min_audio %v exceeds max_audio_duration %v", o.MinAudio, o.MaxAudioDuration)
	}
	return nil
}

// State is the loop's mutable state. It is owned by Run.
type State struct {
	// Buffered holds samples received since the last inference.
	Buffered []float32
	// History holds the audio passed to the last inference.
	History       []float32
	LastInference time.Time
	WarmedUp      bool
	// Received counts every sample taken from the capture stream.
	Received int
}

// Config assembles a session.
type Config struct {
	Backend asr.Backend
	// Gate is optional.
	Gate    *vad.Gate
	Emitter emitter.Emitter
	Options Options
	// Metrics is optional.
	Metrics *Metrics
	Logger  *slog.Logger
}

// Session is one transcription loop. Run may be called once.
type Session struct {
	backend asr.Backend
	gate    *vad.Gate
	emitter emitter.Emitter
	opts    Options
	metrics *Metrics
	logger  *slog.Logger

	warmupSamples int
	minSamples    int
	maxSamples    int

	now   func() time.Time
	state State
}

// New validates cfg and returns a session.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, errors.New("session: nil backend")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.Options.WithDefaults()
	if cfg.Emitter == nil {
		cfg.Emitter = emitter.Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	f := pcm.Mono16K
	return &Session{
		backend:       cfg.Backend,
		gate:          cfg.Gate,
		emitter:       cfg.Emitter,
		opts:          opts,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "session"),
		warmupSamples: f.SamplesInDuration(opts.Warmup),
		minSamples:    f.SamplesInDuration(opts.MinAudio),
		maxSamples:    f.SamplesInDuration(opts.MaxAudioDuration),
		now:           time.Now,
	}, nil
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// Run consumes frames until sc is cancelled, then emits an Exit segment.
// A closed frames channel does not end the loop.
func (s *Session) Run(sc *scope.Scope, frames <-chan []float32) {
	s.logger.Info("session loop started",
		"interval", s.opts.InferenceInterval,
		"max_audio", s.opts.MaxAudioDuration,
		"vad", s.gate != nil,
	)
	defer func() {
		s.emit(transcript.Marker(transcript.Exit, nil))
		s.logger.Info("session loop ended")
	}()

	s.state.LastInference = s.now()
	poll := time.NewTimer(s.opts.PollInterval)
	defer poll.Stop()

	for !sc.Cancelled() {
		poll.Reset(s.opts.PollInterval)
		select {
		case batch, ok := <-frames:
			if !ok {
				s.logger.Warn("capture stream closed")
				frames = nil
				continue
			}
			if len(batch) == 0 {
				continue
			}
			s.state.Buffered = append(s.state.Buffered, batch...)
			s.state.Received += len(batch)
			s.metrics.BufferedSamples.Set(float64(len(s.state.Buffered)))
		case <-poll.C:
			continue
		case <-sc.Done():
			return
		}

		if !s.state.WarmedUp {
			if len(s.state.Buffered) < s.warmupSamples {
				continue
			}
			s.state.WarmedUp = true
			s.logger.Debug("warmup complete", "buffered", len(s.state.Buffered))
		}

		now := s.now()
		if now.Sub(s.state.LastInference) < s.opts.InferenceInterval {
			continue
		}
		if !s.cycle(sc.Context()) {
			continue
		}
		s.state.LastInference = now
	}
}

// cycle runs one gate and inference pass. It returns false when the cycle
// was deferred without touching the timer. The gate only sees audio once a
// full minimum window is buffered.
func (s *Session) cycle(ctx context.Context) bool {
	available := len(s.state.History) + len(s.state.Buffered)
	if s.maxSamples > 0 {
		available = min(available, s.maxSamples)
	}
	if available < s.minSamples {
		s.metrics.Cycles.WithLabelValues(OutcomeShort).Inc()
		return false
	}

	if s.gate != nil {
		res, err := s.gate.Process(ctx, s.state.Buffered)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return true
			}
			s.metrics.VADErrors.Inc()
			s.logger.Warn("vad failed, transcribing unfiltered", "error", err)
		case !s.gate.Speech(res):
			s.metrics.VADDuration.Observe(res.Elapsed.Seconds())
			s.metrics.Cycles.WithLabelValues(OutcomeSilent).Inc()
			s.logger.Debug("no speech, buffer discarded", "prediction", res.Prediction, "samples", len(s.state.Buffered))
			s.state.Buffered = s.state.Buffered[:0]
			s.state.LastInference = s.now()
			s.metrics.BufferedSamples.Set(0)
			return false
		default:
			s.metrics.VADDuration.Observe(res.Elapsed.Seconds())
			s.state.Buffered = res.Cleaned
		}
	}

	window := Trim(s.state.History, s.state.Buffered, s.maxSamples)
	s.state.History = window
	s.state.Buffered = nil
	s.metrics.BufferedSamples.Set(0)
	s.metrics.HistorySamples.Set(float64(len(window)))

	ictx, cancel := context.WithTimeout(ctx, s.opts.InferenceTimeout)
	defer cancel()
	start := time.Now()
	seg, err := s.backend.Transcribe(ictx, window, s.opts.Language)
	reasoning := time.Since(start)
	audio := pcm.Mono16K.Duration(len(window))
	s.metrics.InferenceDuration.Observe(reasoning.Seconds())
	s.metrics.AudioDuration.Observe(audio.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.metrics.Cycles.WithLabelValues(OutcomeFailed).Inc()
		s.logger.Error("inference failed", "error", err, "audio", audio, "took", reasoning)
		s.emit(transcript.Marker(transcript.Error, err))
		return true
	}

	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		s.metrics.Cycles.WithLabelValues(OutcomeEmpty).Inc()
		s.logger.Debug("empty transcript", "audio", audio, "took", reasoning)
		return true
	}
	s.metrics.Cycles.WithLabelValues(OutcomeTranscribed).Inc()
	seg.Status = transcript.Working
	seg.Start = pcm.Mono16K.Duration(s.state.Received - len(window)).Seconds()
	seg.Duration = audio.Seconds()
	if seg.Language == "" {
		seg.Language = s.opts.Language
		if asr.AutoLanguage(seg.Language) {
			seg.Language = "auto"
		}
	}
	seg = seg.WithTiming(reasoning, audio)
	s.logger.Debug("transcribed", "audio", audio, "took", reasoning, "language", seg.Language)
	s.emit(seg)
	return true
}

func (s *Session) emit(seg transcript.Segment) {
	s.emitter.Emit([]transcript.Segment{seg})
}

// Trim returns history followed by buffered, keeping only the newest limit
// samples. A non-positive limit keeps everything. The result never aliases
// its inputs.
func Trim(history, buffered []float32, limit int) []float32 {
	if limit > 0 {
		if len(buffered) >= limit {
			return append([]float32(nil), buffered[len(buffered)-limit:]...)
		}
		if excess := len(history) + len(buffered) - limit; excess > 0 {
			history = history[excess:]
		}
	}
	out := make([]float32, 0, len(history)+len(buffered))
	out = append(out, history...)
	return append(out, buffered...)
}
