// Package engine assembles a caption session from a Config: it opens the
// recognition backend, the optional speech gate and the capture source, then
// runs the session loop until its scope is cancelled.
//
// Every launch reports through its emitter. Loading is emitted before the
// backend is opened and Ready once capture is running. A launch that fails
// emits an Error marker followed by Exit and returns the error.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/onnx"
	"github.com/xkeyC/fl-caption/pkg/scope"
	"github.com/xkeyC/fl-caption/pkg/session"
	"github.com/xkeyC/fl-caption/pkg/transcript"
	"github.com/xkeyC/fl-caption/pkg/vad"
	"github.com/xkeyC/fl-caption/pkg/vad/silero"

	_ "github.com/xkeyC/fl-caption/pkg/asr/onnxwhisper"
	_ "github.com/xkeyC/fl-caption/pkg/asr/sensevoice"
	_ "github.com/xkeyC/fl-caption/pkg/asr/whispercpp"
)

// Env holds what launches share: the audio host, metrics and logger.
type Env struct {
	Host capture.Host
	// Metrics is optional.
	Metrics *Metrics
	Logger  *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.Metrics == nil {
		e.Metrics = NewMetrics(nil)
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	return e
}

// Instance is a launched session.
type Instance struct {
	info capture.Info
	cfg  Config
	done chan struct{}
}

// Info describes the capture device.
func (i *Instance) Info() capture.Info {
	return i.info
}

// Config returns the effective configuration.
func (i *Instance) Config() Config {
	return i.cfg
}

// Done is closed after the loop has emitted Exit and released its models.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Wait blocks until Done is closed.
func (i *Instance) Wait() {
	<-i.done
}

// Launch starts a session under sc. It returns once the session is running
// or has failed to start. Cancel sc to stop it.
func Launch(sc *scope.Scope, cfg Config, env Env, em emitter.Emitter) (*Instance, error) {
	if env.Host == nil {
		return nil, errors.New("engine: nil capture host")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if em == nil {
		em = emitter.Discard
	}
	env = env.withDefaults()
	cfg = cfg.WithDefaults()
	logger := env.Logger.With("family", cfg.Family)

	em.Emit([]transcript.Segment{transcript.Marker(transcript.Loading, nil)})

	var closers []io.Closer
	fail := func(err error) (*Instance, error) {
		closeAll(closers, logger)
		logger.Error("launch failed", "error", err)
		em.Emit([]transcript.Segment{
			transcript.Marker(transcript.Error, err),
			transcript.Marker(transcript.Exit, nil),
		})
		return nil, err
	}

	asrOpts := cfg.ASR
	asrOpts.Logger = logger
	backend, err := asr.Open(cfg.Family, cfg.Models, asrOpts)
	if err != nil {
		return fail(fmt.Errorf("engine: open backend: %w", err))
	}
	closers = append(closers, backend)

	gate, err := openGate(cfg.VAD, cfg.ASR.Providers, logger)
	if err != nil {
		return fail(fmt.Errorf("engine: open vad: %w", err))
	}
	if gate != nil {
		closers = append(closers, gate)
	}

	sess, err := session.New(session.Config{
		Backend: backend,
		Gate:    gate,
		Emitter: em,
		Options: cfg.Session,
		Metrics: env.Metrics.Session,
		Logger:  logger,
	})
	if err != nil {
		return fail(fmt.Errorf("engine: %w", err))
	}

	capCfg := cfg.Capture
	capCfg.Logger = logger
	capCfg.Dropped = env.Metrics.DroppedBatches
	src, err := capture.Open(env.Host, capCfg)
	if err != nil {
		return fail(fmt.Errorf("engine: %w", err))
	}
	frames, err := src.Start(sc)
	if err != nil {
		return fail(fmt.Errorf("engine: %w", err))
	}

	inst := &Instance{info: src.Info(), cfg: cfg, done: make(chan struct{})}
	logger.Info("session ready",
		"host", env.Host.Name(),
		"device", inst.info.DeviceName,
		"direction", cfg.Capture.Direction,
		"language", cfg.Session.Language,
	)
	em.Emit([]transcript.Segment{transcript.Marker(transcript.Ready, nil)})

	env.Metrics.Active.Inc()
	go func() {
		defer close(inst.done)
		defer env.Metrics.Active.Dec()
		sess.Run(sc, frames)
		closeAll(closers, logger)
	}()
	return inst, nil
}

func openGate(cfg VADConfig, providers []string, logger *slog.Logger) (*vad.Gate, error) {
	var det vad.Detector
	switch cfg.Kind {
	case VADNone, "":
		return nil, nil
	case VADEnergy:
		e, err := vad.NewEnergy(cfg.FullScale)
		if err != nil {
			return nil, err
		}
		det = e
	case VADSilero:
		env, err := onnx.DefaultEnv()
		if err != nil {
			return nil, err
		}
		ps, err := onnx.ResolveProviders(providers, logger)
		if err != nil {
			return nil, err
		}
		d, err := silero.Open(env, cfg.Model, &onnx.SessionOptions{Providers: ps, IntraOpThreads: 1, Logger: logger})
		if err != nil {
			return nil, err
		}
		det = d
	default:
		return nil, fmt.Errorf("unknown kind %q", cfg.Kind)
	}
	gate, err := vad.NewGate(det, cfg.Threshold, logger)
	if err != nil {
		det.Close()
		return nil, err
	}
	return gate, nil
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}
