// Package silero implements a vad.Detector on the Silero VAD ONNX model.
//
// Each 512-sample chunk is prefixed with the last 64 samples of the previous
// chunk and run together with the recurrent state [2, 1, 128] and the sample
// rate. State and context start from zero for every Predict call.
package silero

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkeyC/fl-caption/pkg/onnx"
	"github.com/xkeyC/fl-caption/pkg/vad"
)

const (
	SampleRate  = 16000
	FrameSize   = 512
	ContextSize = 64
	stateSize   = 2 * 1 * 128
)

var stateShape = []int64{2, 1, 128}

// Detector runs Silero VAD. Predict calls are serialised.
type Detector struct {
	mu      sync.Mutex
	session *onnx.Session
	outputs []string
}

var _ vad.Detector = (*Detector)(nil)

// Open loads the model at path.
func Open(env *onnx.Env, path string, opts *onnx.SessionOptions) (*Detector, error) {
	session, err := env.NewSessionFromFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}
	d, err := New(session)
	if err != nil {
		session.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an existing session, which must expose the probability output
// followed by the state output.
func New(session *onnx.Session) (*Detector, error) {
	outputs, err := session.OutputNames()
	if err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("silero: expected at least 2 outputs, got %d", len(outputs))
	}
	return &Detector{session: session, outputs: outputs[:2]}, nil
}

// ChunkSize implements vad.Detector.
func (d *Detector) ChunkSize() int {
	return FrameSize
}

// Predict implements vad.Detector.
func (d *Detector) Predict(ctx context.Context, pcm []float32) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sr, err := onnx.NewInt64Tensor([]int64{1}, []int64{SampleRate})
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	state := make([]float32, stateSize)
	input := make([]float32, ContextSize+FrameSize)
	probs := make([]float32, 0, (len(pcm)+FrameSize-1)/FrameSize)

	for lo := 0; lo < len(pcm); lo += FrameSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// input = context ++ chunk; the context is the tail of the previous
		// zero-padded chunk.
		copy(input[:ContextSize], input[FrameSize:])
		chunk := input[ContextSize:]
		n := copy(chunk, pcm[lo:min(lo+FrameSize, len(pcm))])
		clear(chunk[n:])

		prob, next, err := d.step(input, state, sr)
		if err != nil {
			return nil, err
		}
		probs = append(probs, prob)
		state = next
	}
	return probs, nil
}

func (d *Detector) step(input, state []float32, sr *onnx.Tensor) (float32, []float32, error) {
	in, err := onnx.NewTensor([]int64{1, ContextSize + FrameSize}, input)
	if err != nil {
		return 0, nil, err
	}
	defer in.Close()
	st, err := onnx.NewTensor(stateShape, state)
	if err != nil {
		return 0, nil, err
	}
	defer st.Close()

	outs, err := d.session.Run(
		[]string{"input", "sr", "state"},
		[]*onnx.Tensor{in, sr, st},
		d.outputs,
	)
	if err != nil {
		return 0, nil, err
	}
	defer onnx.CloseAll(outs)

	prob, err := outs[0].FloatData()
	if err != nil {
		return 0, nil, err
	}
	if len(prob) != 1 {
		return 0, nil, fmt.Errorf("silero: expected 1 probability, got %d", len(prob))
	}
	next, err := outs[1].FloatData()
	if err != nil {
		return 0, nil, err
	}
	if len(next) != stateSize {
		return 0, nil, fmt.Errorf("silero: state has %d values, want %d", len(next), stateSize)
	}
	return prob[0], next, nil
}

// Close releases the session.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Close()
}
