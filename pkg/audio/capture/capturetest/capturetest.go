// Package capturetest provides a synthetic capture.Host for tests.
package capturetest

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"
)

// Host generates a sine tone, or silence when Amplitude is zero, at the
// native format of its single device.
type Host struct {
	Device    capture.Device
	Amplitude float32
	// Period is the wall-clock time between callbacks, each carrying
	// Period worth of audio.
	Period time.Duration
	// OpenErr fails every Open.
	OpenErr error

	mu      sync.Mutex
	streams int
}

var _ capture.Host = (*Host)(nil)

// NewTone returns a 16 kHz mono host producing a 440 Hz tone.
func NewTone(amplitude float32) *Host {
	return &Host{
		Device:    capture.Device{ID: "tone", Name: "Test Tone", SampleRate: 16000, Channels: 1, Default: true},
		Amplitude: amplitude,
		Period:    10 * time.Millisecond,
	}
}

// Name implements capture.Host.
func (h *Host) Name() string { return "test" }

// Devices implements capture.Host.
func (h *Host) Devices(capture.Direction) ([]capture.Device, error) {
	return []capture.Device{h.Device}, nil
}

// DefaultDevice implements capture.Host.
func (h *Host) DefaultDevice(capture.Direction) (capture.Device, error) {
	return h.Device, nil
}

// Open implements capture.Host.
func (h *Host) Open(dev capture.Device, _ capture.Direction, cb capture.Callback) (capture.Stream, error) {
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	if dev.ID != h.Device.ID {
		return nil, errors.New("capturetest: unknown device")
	}
	h.mu.Lock()
	h.streams++
	h.mu.Unlock()
	return &stream{host: h, cb: cb, stop: make(chan struct{}), done: make(chan struct{})}, nil
}

// OpenStreams returns the number of streams currently open.
func (h *Host) OpenStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams
}

type stream struct {
	host    *Host
	cb      capture.Callback
	once    sync.Once
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *stream) Start() error {
	s.started.Store(true)
	go s.loop()
	return nil
}

func (s *stream) loop() {
	defer close(s.done)
	dev := s.host.Device
	frames := int(time.Duration(dev.SampleRate) * s.host.Period / time.Second)
	t := time.NewTicker(s.host.Period)
	defer t.Stop()
	var n int
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		buf := make([]float32, frames*dev.Channels)
		for i := range frames {
			v := s.host.Amplitude * float32(math.Sin(2*math.Pi*440*float64(n)/float64(dev.SampleRate)))
			for c := range dev.Channels {
				buf[i*dev.Channels+c] = v
			}
			n++
		}
		s.cb(buf)
	}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
		s.host.mu.Lock()
		s.host.streams--
		s.host.mu.Unlock()
	})
	return nil
}
