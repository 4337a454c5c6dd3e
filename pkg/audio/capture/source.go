package capture

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkeyC/fl-caption/pkg/audio/pcm"
	"github.com/xkeyC/fl-caption/pkg/audio/resampler"
	"github.com/xkeyC/fl-caption/pkg/scope"
)

// PollInterval is how often the stream thread checks for cancellation.
const PollInterval = 100 * time.Millisecond

// Source is an opened capture device.
type Source struct {
	host   Host
	dev    Device
	cfg    Config
	logger *slog.Logger

	started atomic.Bool
	dropped atomic.Int64
}

// Open resolves the device described by cfg on host.
func Open(host Host, cfg Config) (*Source, error) {
	cfg = cfg.WithDefaults()
	if cfg.TargetChannels != 1 {
		return nil, fmt.Errorf("%w: only mono capture is supported, got %d channels", ErrDevice, cfg.TargetChannels)
	}
	dev, err := FindDevice(host, cfg.Direction, cfg.Device)
	if err != nil {
		return nil, err
	}
	if dev.SampleRate <= 0 || dev.Channels <= 0 {
		return nil, fmt.Errorf("%w: device %q reports %d Hz, %d channels", ErrDevice, dev.Name, dev.SampleRate, dev.Channels)
	}
	return &Source{
		host:   host,
		dev:    dev,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "capture", "host", host.Name(), "device", dev.Name),
	}, nil
}

// Info returns the native stream format.
func (s *Source) Info() Info {
	return Info{DeviceName: s.dev.Name, SampleRate: s.dev.SampleRate, Channels: s.dev.Channels}
}

// Dropped returns the number of batches dropped so far.
func (s *Source) Dropped() int64 {
	return s.dropped.Load()
}

// Start builds the native stream on a dedicated OS thread and returns the
// batch channel. The channel is closed after sc is cancelled and the stream
// has been torn down. Start may be called once.
func (s *Source) Start(sc *scope.Scope) (<-chan FrameBatch, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: source already started", ErrDevice)
	}
	rs, err := resampler.New(s.cfg.Quality, s.dev.SampleRate, s.cfg.TargetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	out := make(chan FrameBatch, s.cfg.Buffer)
	started := make(chan error, 1)
	go s.run(sc, rs, out, started)
	if err := <-started; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) run(sc *scope.Scope, rs resampler.Resampler, out chan FrameBatch, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		mu     sync.RWMutex
		closed bool
	)
	defer func() {
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	push := func(interleaved []float32) {
		if len(interleaved) == 0 {
			return
		}
		batch, err := rs.Process(pcm.MergeChannels(interleaved, s.dev.Channels))
		if err != nil {
			s.logger.Warn("resample failed", "error", err)
			return
		}
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case out <- batch:
		default:
			s.drop()
		}
	}

	stream, err := s.host.Open(s.dev, s.cfg.Direction, push)
	if err != nil {
		started <- fmt.Errorf("%w: open stream on %q: %w", ErrDevice, s.dev.Name, err)
		return
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		started <- fmt.Errorf("%w: start stream on %q: %w", ErrDevice, s.dev.Name, err)
		return
	}
	started <- nil
	s.logger.Info("capture started",
		"direction", s.cfg.Direction,
		"native_rate", s.dev.SampleRate,
		"native_channels", s.dev.Channels,
		"target_rate", s.cfg.TargetSampleRate,
	)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if sc.Cancelled() {
			break
		}
	}
	if err := stream.Close(); err != nil {
		s.logger.Warn("close stream", "error", err)
	}
	s.logger.Info("capture stopped", "dropped", s.Dropped())
}

func (s *Source) drop() {
	if s.dropped.Add(1)%100 == 1 {
		s.logger.Warn("capture channel full, dropping batches", "dropped", s.dropped.Load())
	}
	if s.cfg.Dropped != nil {
		s.cfg.Dropped.Inc()
	}
}
