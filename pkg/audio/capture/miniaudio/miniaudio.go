// Package miniaudio implements capture.Host on miniaudio through malgo.
//
// One Host wraps one miniaudio context with an ordered list of platform
// backends. ForPlatform picks the list and the output-monitor strategy for
// a GOOS value.
package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"

	"github.com/gen2brain/malgo"
)

// Monitor is how a host records what an output device plays.
type Monitor int

const (
	// Loopback opens the playback device in loopback mode (WASAPI).
	Loopback Monitor = iota
	// MonitorSource uses the "Monitor of" capture sources a sound server
	// publishes for every sink (PulseAudio, PipeWire).
	MonitorSource
	// VirtualDevice requires a named virtual loopback input such as
	// BlackHole (CoreAudio).
	VirtualDevice
)

// Backend describes the miniaudio backends and monitor strategy of one
// platform.
type Backend struct {
	Name     string
	Backends []malgo.Backend
	Monitor  Monitor
}

var (
	WindowsBackend = Backend{Name: "wasapi", Backends: []malgo.Backend{malgo.BackendWasapi}, Monitor: Loopback}
	LinuxBackend   = Backend{Name: "pulse", Backends: []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa}, Monitor: MonitorSource}
	MacosBackend   = Backend{Name: "coreaudio", Backends: []malgo.Backend{malgo.BackendCoreaudio}, Monitor: VirtualDevice}
)

// ErrUnsupportedPlatform is returned by ForPlatform for unknown GOOS values.
var ErrUnsupportedPlatform = errors.New("miniaudio: unsupported platform")

// BackendFor returns the backend description for goos.
func BackendFor(goos string) (Backend, error) {
	switch goos {
	case "windows":
		return WindowsBackend, nil
	case "linux", "freebsd":
		return LinuxBackend, nil
	case "darwin":
		return MacosBackend, nil
	}
	return Backend{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
}

// ForPlatform returns a host for goos, typically runtime.GOOS.
func ForPlatform(goos string) (*Host, error) {
	b, err := BackendFor(goos)
	if err != nil {
		return nil, err
	}
	return NewHost(b), nil
}

// virtualLoopbackNames are substrings of well-known virtual loopback inputs.
var virtualLoopbackNames = []string{"blackhole", "soundflower", "loopback", "vb-cable"}

const monitorPrefix = "Monitor of "

// Host is a capture.Host backed by a miniaudio context. The context is
// created on first use.
type Host struct {
	backend Backend

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	ids map[string]malgo.DeviceID
}

var _ capture.Host = (*Host)(nil)

// NewHost returns a host using b.
func NewHost(b Backend) *Host {
	return &Host{backend: b, ids: map[string]malgo.DeviceID{}}
}

// Name implements capture.Host.
func (h *Host) Name() string {
	return h.backend.Name
}

func (h *Host) context() (*malgo.AllocatedContext, error) {
	if h.ctx != nil {
		return h.ctx, nil
	}
	ctx, err := malgo.InitContext(h.backend.Backends, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init %s context: %w", h.backend.Name, err)
	}
	h.ctx = ctx
	return ctx, nil
}

// kind returns the miniaudio device type enumerated for dir.
func (h *Host) kind(dir capture.Direction) malgo.DeviceType {
	if dir == capture.OutputMonitor && h.backend.Monitor == Loopback {
		return malgo.Playback
	}
	return malgo.Capture
}

// Devices implements capture.Host.
func (h *Host) Devices(dir capture.Direction) ([]capture.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}
	kind := h.kind(dir)
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate devices: %w", err)
	}
	devs := make([]capture.Device, 0, len(infos))
	for _, info := range infos {
		full, err := ctx.DeviceInfo(kind, info.ID, malgo.Shared)
		if err != nil {
			full = info
		}
		rate, channels := nativeFormat(full)
		id := info.ID
		key := id.String()
		h.ids[key] = id
		devs = append(devs, capture.Device{
			ID:         key,
			Name:       info.Name(),
			SampleRate: rate,
			Channels:   channels,
			Default:    info.IsDefault != 0,
		})
	}
	return filterMonitor(h.backend.Monitor, dir, devs), nil
}

// DefaultDevice implements capture.Host.
func (h *Host) DefaultDevice(dir capture.Direction) (capture.Device, error) {
	devs, err := h.Devices(dir)
	if err != nil {
		return capture.Device{}, err
	}
	return pickDefault(h.backend.Monitor, dir, devs)
}

// Open implements capture.Host. The stream delivers float32 samples in the
// device's native rate and channel count.
func (h *Host) Open(dev capture.Device, dir capture.Direction, cb capture.Callback) (capture.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}

	kind := malgo.Capture
	if dir == capture.OutputMonitor && h.backend.Monitor == Loopback {
		kind = malgo.Loopback
	}
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(dev.Channels)
	cfg.SampleRate = uint32(dev.SampleRate)
	cfg.Alsa.NoMMap = 1
	if id, ok := h.ids[dev.ID]; ok {
		cfg.Capture.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			cb(decodeF32(input))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init device %q: %w", dev.Name, err)
	}
	return &stream{dev: device}, nil
}

// Close releases the miniaudio context.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return nil
	}
	err := h.ctx.Uninit()
	h.ctx.Free()
	h.ctx = nil
	return err
}

type stream struct {
	once sync.Once
	dev  *malgo.Device
}

func (s *stream) Start() error {
	return s.dev.Start()
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.dev.Uninit()
	})
	return nil
}

// Assumed when a backend reports no native format.
const (
	defaultRate     = 48000
	defaultChannels = 2
)

func nativeFormat(info malgo.DeviceInfo) (rate, channels int) {
	rate, channels = defaultRate, defaultChannels
	if info.FormatCount == 0 || len(info.Formats) == 0 {
		return rate, channels
	}
	f := info.Formats[0]
	if f.SampleRate > 0 {
		rate = int(f.SampleRate)
	}
	if f.Channels > 0 {
		channels = int(f.Channels)
	}
	return rate, channels
}

// decodeF32 copies little-endian float32 samples out of a callback buffer.
func decodeF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// filterMonitor narrows devs to the sources usable for dir.
func filterMonitor(m Monitor, dir capture.Direction, devs []capture.Device) []capture.Device {
	if m != MonitorSource {
		return devs
	}
	out := devs[:0:0]
	for _, d := range devs {
		if strings.HasPrefix(d.Name, monitorPrefix) == (dir == capture.OutputMonitor) {
			out = append(out, d)
		}
	}
	return out
}

// pickDefault chooses the default device for dir among devs.
func pickDefault(m Monitor, dir capture.Direction, devs []capture.Device) (capture.Device, error) {
	if dir == capture.OutputMonitor && m == VirtualDevice {
		for _, d := range devs {
			name := strings.ToLower(d.Name)
			for _, v := range virtualLoopbackNames {
				if strings.Contains(name, v) {
					return d, nil
				}
			}
		}
		return capture.Device{}, errors.New("miniaudio: output capture needs a virtual loopback device such as BlackHole")
	}
	for _, d := range devs {
		if d.Default {
			return d, nil
		}
	}
	// Sound servers flag the default sink, not its monitor.
	if dir == capture.OutputMonitor && len(devs) > 0 {
		return devs[0], nil
	}
	return capture.Device{}, fmt.Errorf("miniaudio: no default %s device", dir)
}
