// Package capture streams live audio from a platform host as mono float32
// batches at a target rate.
//
// A Host wraps one platform audio API. Open resolves a device on it and
// Source.Start runs the native stream on a dedicated OS thread until the
// owning scope is cancelled. The native callback never blocks: a batch that
// does not fit in the output channel is dropped.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xkeyC/fl-caption/pkg/audio/resampler"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrDevice is returned when a device cannot be found or its stream cannot
// be built. It is fatal for the session.
var ErrDevice = errors.New("capture: device error")

// Direction selects what a source records.
type Direction int

const (
	// Input records a microphone or line input.
	Input Direction = iota
	// OutputMonitor records what an output device plays.
	OutputMonitor
)

// String returns the configuration name of d.
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case OutputMonitor:
		return "output"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection parses a name produced by String. "" selects Input.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "input":
		return Input, nil
	case "output", "monitor", "loopback":
		return OutputMonitor, nil
	}
	return 0, fmt.Errorf("capture: unknown direction %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Config describes a capture source. It is not modified after Open.
type Config struct {
	// Device names the device to open. Empty selects the host default for
	// Direction.
	Device           string            `yaml:"device"`
	Direction        Direction         `yaml:"direction"`
	TargetSampleRate int               `yaml:"sample_rate"`
	TargetChannels   int               `yaml:"channels"`
	Quality          resampler.Quality `yaml:"quality"`
	// Buffer is the capacity of the batch channel.
	Buffer int `yaml:"buffer"`

	Logger *slog.Logger `yaml:"-"`
	// Dropped, when set, counts batches dropped because the channel was
	// full.
	Dropped prometheus.Counter `yaml:"-"`
}

const (
	DefaultSampleRate = 16000
	DefaultBuffer     = 64
)

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.TargetSampleRate <= 0 {
		c.TargetSampleRate = DefaultSampleRate
	}
	if c.TargetChannels <= 0 {
		c.TargetChannels = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Info describes the native stream of an opened source.
type Info struct {
	DeviceName string `json:"device_name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// FrameBatch is one callback's worth of mono samples at the target rate.
type FrameBatch = []float32

// Device is a capture endpoint reported by a Host.
type Device struct {
	// ID is host specific and passed back to Host.Open.
	ID         string `json:"id"`
	Name       string `json:"name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Default    bool   `json:"default"`
}

// Callback receives interleaved native samples. It runs on the host's audio
// thread and must not block.
type Callback func(interleaved []float32)

// Stream is a native stream built by a Host.
type Stream interface {
	Start() error
	Close() error
}

// Host is one platform audio API.
type Host interface {
	Name() string
	// Devices lists devices usable for dir.
	Devices(dir Direction) ([]Device, error)
	// DefaultDevice returns the default device for dir.
	DefaultDevice(dir Direction) (Device, error)
	// Open builds a stream on dev delivering its native format to cb.
	Open(dev Device, dir Direction, cb Callback) (Stream, error)
}

// FindDevice returns the device for dir named name, or the default device
// when name is empty. Errors wrap ErrDevice.
func FindDevice(host Host, dir Direction, name string) (Device, error) {
	if name == "" {
		dev, err := host.DefaultDevice(dir)
		if err != nil {
			return Device{}, fmt.Errorf("%w: no default %s device on %s: %w", ErrDevice, dir, host.Name(), err)
		}
		return dev, nil
	}
	devs, err := host.Devices(dir)
	if err != nil {
		return Device{}, fmt.Errorf("%w: list %s devices on %s: %w", ErrDevice, dir, host.Name(), err)
	}
	for _, d := range devs {
		if d.Name == name || d.ID == name {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s device %q not found on %s", ErrDevice, dir, name, host.Name())
}
