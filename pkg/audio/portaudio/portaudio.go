// Package portaudio implements capture.Host on the PortAudio library.
//
// For go build: requires portaudio installed via pkg-config (brew install portaudio)
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>

static PaError pa_open_input(void **stream, const PaStreamParameters *params,
                             double sampleRate, unsigned long framesPerBuffer) {
    return Pa_OpenStream((PaStream**)stream, params, NULL, sampleRate,
                         framesPerBuffer, paClipOff, NULL, NULL);
}

static PaError pa_start_stream(void *stream) {
    return Pa_StartStream((PaStream*)stream);
}

static PaError pa_stop_stream(void *stream) {
    return Pa_StopStream((PaStream*)stream);
}

static PaError pa_close_stream(void *stream) {
    return Pa_CloseStream((PaStream*)stream);
}

static PaError pa_read_stream(void *stream, void *buffer, unsigned long frames) {
    return Pa_ReadStream((PaStream*)stream, buffer, frames);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"
)

var (
	initOnce sync.Once
	initErr  error
)

// paError converts a PortAudio error code to a Go error.
func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New(C.GoString(C.Pa_GetErrorText(code)))
}

// Initialize initializes the PortAudio library.
// It is safe to call multiple times.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// Terminate terminates the PortAudio library.
func Terminate() error {
	return paError(C.Pa_Terminate())
}

// DeviceInfo contains information about an audio device.
type DeviceInfo struct {
	Index                  int
	Name                   string
	MaxInputChannels       int
	DefaultLowInputLatency float64
	DefaultSampleRate      float64
	IsDefaultInput         bool
}

// InputDevices returns the devices with at least one input channel.
func InputDevices() ([]DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	count := int(C.Pa_GetDeviceCount())
	if count < 0 {
		return nil, paError(C.PaError(count))
	}
	defaultInput := int(C.Pa_GetDefaultInputDevice())

	var devices []DeviceInfo
	for i := 0; i < count; i++ {
		info := C.Pa_GetDeviceInfo(C.PaDeviceIndex(i))
		if info == nil || info.maxInputChannels <= 0 {
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:                  i,
			Name:                   C.GoString(info.name),
			MaxInputChannels:       int(info.maxInputChannels),
			DefaultLowInputLatency: float64(info.defaultLowInputLatency),
			DefaultSampleRate:      float64(info.defaultSampleRate),
			IsDefaultInput:         i == defaultInput,
		})
	}
	return devices, nil
}

// BufferDuration is the length of one blocking read.
const BufferDuration = 20 * time.Millisecond

// Host is a capture.Host over PortAudio input devices. PortAudio has no
// portable loopback, so OutputMonitor is served only by devices whose names
// mark them as monitors.
type Host struct{}

var _ capture.Host = Host{}

// Name implements capture.Host.
func (Host) Name() string { return "portaudio" }

// Devices implements capture.Host.
func (Host) Devices(dir capture.Direction) ([]capture.Device, error) {
	infos, err := InputDevices()
	if err != nil {
		return nil, err
	}
	var devs []capture.Device
	for _, info := range infos {
		if isMonitor(info.Name) != (dir == capture.OutputMonitor) {
			continue
		}
		devs = append(devs, toDevice(info))
	}
	return devs, nil
}

// DefaultDevice implements capture.Host.
func (h Host) DefaultDevice(dir capture.Direction) (capture.Device, error) {
	devs, err := h.Devices(dir)
	if err != nil {
		return capture.Device{}, err
	}
	for _, d := range devs {
		if d.Default {
			return d, nil
		}
	}
	if dir == capture.OutputMonitor && len(devs) > 0 {
		return devs[0], nil
	}
	return capture.Device{}, fmt.Errorf("portaudio: no default %s device", dir)
}

func isMonitor(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "monitor of") || strings.Contains(n, "loopback") || strings.Contains(n, "blackhole")
}

func toDevice(info DeviceInfo) capture.Device {
	return capture.Device{
		ID:         strconv.Itoa(info.Index),
		Name:       info.Name,
		SampleRate: int(info.DefaultSampleRate),
		Channels:   info.MaxInputChannels,
		Default:    info.IsDefaultInput,
	}
}

// Open implements capture.Host. Reads run on their own goroutine and hand
// each buffer to cb.
func (Host) Open(dev capture.Device, _ capture.Direction, cb capture.Callback) (capture.Stream, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	index, err := strconv.Atoi(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("portaudio: bad device id %q", dev.ID)
	}
	info := C.Pa_GetDeviceInfo(C.PaDeviceIndex(index))
	if info == nil {
		return nil, fmt.Errorf("portaudio: device %d not found", index)
	}

	frames := dev.SampleRate * int(BufferDuration) / int(time.Second)
	params := C.PaStreamParameters{
		device:                    C.PaDeviceIndex(index),
		channelCount:              C.int(dev.Channels),
		sampleFormat:              C.paFloat32,
		suggestedLatency:          info.defaultLowInputLatency,
		hostApiSpecificStreamInfo: nil,
	}
	var paStream unsafe.Pointer
	if err := paError(C.pa_open_input(&paStream, &params, C.double(dev.SampleRate), C.ulong(frames))); err != nil {
		return nil, err
	}
	size := frames * dev.Channels
	return &stream{
		stream: paStream,
		buffer: C.malloc(C.size_t(size * 4)),
		frames: frames,
		size:   size,
		cb:     cb,
		done:   make(chan struct{}),
	}, nil
}

type stream struct {
	stream unsafe.Pointer
	buffer unsafe.Pointer
	frames int
	size   int
	cb     capture.Callback

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if err := paError(C.pa_start_stream(s.stream)); err != nil {
		return err
	}
	s.started = true
	go s.readLoop()
	return nil
}

// readLoop ends on Close or on the first read error other than an input
// overflow, which only reports lost frames.
func (s *stream) readLoop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		code := C.pa_read_stream(s.stream, s.buffer, C.ulong(s.frames))
		if code != C.paNoError && code != C.paInputOverflowed {
			s.mu.Unlock()
			return
		}
		samples := make([]float32, s.size)
		copy(samples, unsafe.Slice((*float32)(s.buffer), s.size))
		s.mu.Unlock()
		s.cb(samples)
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}

	C.pa_stop_stream(s.stream)
	err := paError(C.pa_close_stream(s.stream))
	C.free(s.buffer)
	return err
}
