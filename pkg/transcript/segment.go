// Package transcript defines the segments streamed to callers of a
// transcription session.
package transcript

import (
	"bytes"
	"compress/flate"
	"fmt"
	"time"
)

// Status is the lifecycle marker carried by a Segment.
//
// A session emits Loading, then Ready, then any number of Working segments
// (possibly interleaved with Error), and finally Exit.
type Status int

const (
	Working Status = iota
	Loading
	Ready
	Error
	Exit
)

var statusNames = [...]string{
	Working: "working",
	Loading: "loading",
	Ready:   "ready",
	Error:   "error",
	Exit:    "exit",
}

// String returns the lower-case status name.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("transcript: unknown status %q", b)
}

// Segment is one unit of transcript output or a lifecycle marker.
type Segment struct {
	Start             float64        `json:"start" msgpack:"start"`
	Duration          float64        `json:"duration" msgpack:"duration"`
	Text              string         `json:"text" msgpack:"text"`
	Tokens            []int64        `json:"tokens,omitempty" msgpack:"tokens,omitempty"`
	AvgLogprob        float64        `json:"avg_logprob" msgpack:"avg_logprob"`
	NoSpeechProb      float64        `json:"no_speech_prob" msgpack:"no_speech_prob"`
	Temperature       float64        `json:"temperature" msgpack:"temperature"`
	CompressionRatio  float64        `json:"compression_ratio" msgpack:"compression_ratio"`
	Language          string         `json:"language,omitempty" msgpack:"language,omitempty"`
	Emotion           string         `json:"emotion,omitempty" msgpack:"emotion,omitempty"`
	Event             string         `json:"event,omitempty" msgpack:"event,omitempty"`
	ReasoningDuration *time.Duration `json:"reasoning_duration,omitempty" msgpack:"reasoning_duration,omitempty"`
	AudioDuration     *time.Duration `json:"audio_duration,omitempty" msgpack:"audio_duration,omitempty"`
	Status            Status         `json:"status" msgpack:"status"`
	// Session is the handle of the managed session that produced the
	// segment, empty outside a Manager.
	Session string `json:"session,omitempty" msgpack:"session,omitempty"`
}

// Marker returns an empty segment carrying only status. Error markers carry
// the error text.
func Marker(status Status, err error) Segment {
	s := Segment{Status: status}
	if err != nil {
		s.Text = err.Error()
	}
	return s
}

// IsLifecycle reports whether the segment is a lifecycle marker rather than
// transcript output.
func (s Segment) IsLifecycle() bool {
	return s.Status != Working
}

// WithTiming returns s tagged with the inference time and the length of the
// audio it covers.
func (s Segment) WithTiming(reasoning, audio time.Duration) Segment {
	s.ReasoningDuration = &reasoning
	s.AudioDuration = &audio
	return s
}

// CompressionRatio returns len(text) divided by its DEFLATE-compressed
// size. Highly repetitive text, a common decoding failure, scores high.
func CompressionRatio(text string) float64 {
	if text == "" {
		return 0
	}
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestCompression)
	w.Write([]byte(text))
	w.Close()
	if buf.Len() == 0 {
		return 0
	}
	return float64(len(text)) / float64(buf.Len())
}
