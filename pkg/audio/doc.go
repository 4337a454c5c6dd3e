// Package audio groups the audio plumbing between a capture device and a
// speech model:
//
//   - capture: device enumeration and the Host/Stream abstraction that
//     delivers mono 16 kHz frame batches
//   - capture/miniaudio, portaudio: native hosts
//   - resampler: sample rate conversion applied inside a capture stream
//   - pcm: sample format conversion and channel downmixing
//   - fbank: log mel features consumed by the model front ends
package audio
