package vad

import (
	"context"
	"errors"
	"math"
	"testing"
)

// scripted returns fixed probabilities per chunk.
type scripted struct {
	size  int
	probs []float32
	err   error
}

func (s *scripted) ChunkSize() int { return s.size }
func (s *scripted) Close() error   { return nil }
func (s *scripted) Predict(_ context.Context, pcm []float32) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := (len(pcm) + s.size - 1) / s.size
	out := make([]float32, n)
	for i := range out {
		out[i] = s.probs[i%len(s.probs)]
	}
	return out, nil
}

func ones(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestGateCleans(t *testing.T) {
	g, err := NewGate(&scripted{size: 4, probs: []float32{0.9, 0.05, 0.6}}, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.Process(context.Background(), ones(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ChunkProbs) != 3 {
		t.Fatalf("chunks = %d, want 3", len(res.ChunkProbs))
	}
	want := []float32{1, 1, 1, 1, 0, 0, 0, 0, 1, 1}
	for i := range want {
		if res.Cleaned[i] != want[i] {
			t.Errorf("Cleaned[%d] = %f, want %f", i, res.Cleaned[i], want[i])
		}
	}
	if res.Filtered != 4 {
		t.Errorf("Filtered = %d, want 4", res.Filtered)
	}
	if math.Abs(float64(res.Prediction)-(0.9+0.05+0.6)/3) > 1e-6 {
		t.Errorf("Prediction = %f", res.Prediction)
	}
	if !g.Speech(res) {
		t.Error("mean 0.52 should count as speech at threshold 0.5")
	}
}

func TestGateSilence(t *testing.T) {
	g, _ := NewGate(&scripted{size: 512, probs: []float32{0.01}}, 0, nil)
	if g.Threshold() != DefaultThreshold {
		t.Errorf("Threshold = %f, want default", g.Threshold())
	}
	res, err := g.Process(context.Background(), ones(16000))
	if err != nil {
		t.Fatal(err)
	}
	if g.Speech(res) {
		t.Error("low probabilities should not count as speech")
	}
	if res.Filtered != 16000 {
		t.Errorf("Filtered = %d, want 16000", res.Filtered)
	}
}

func TestGateThresholdIsExclusive(t *testing.T) {
	g, _ := NewGate(&scripted{size: 2, probs: []float32{0.1}}, 0.1, nil)
	res, _ := g.Process(context.Background(), ones(4))
	if g.Speech(res) {
		t.Error("prediction equal to the threshold is silence")
	}
}

func TestGateError(t *testing.T) {
	boom := errors.New("boom")
	g, _ := NewGate(&scripted{size: 2, err: boom}, 0.5, nil)
	_, err := g.Process(context.Background(), ones(4))
	if !errors.Is(err, ErrVAD) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrVAD wrapping boom", err)
	}
}

func TestGateEmpty(t *testing.T) {
	g, _ := NewGate(&scripted{size: 2, probs: []float32{1}}, 0.5, nil)
	res, err := g.Process(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Prediction != 0 || len(res.Cleaned) != 0 {
		t.Errorf("empty input: %+v", res)
	}
}

func TestNewGateValidation(t *testing.T) {
	if _, err := NewGate(nil, 0.5, nil); err == nil {
		t.Error("nil detector should fail")
	}
	if _, err := NewGate(&scripted{size: 1}, 1.5, nil); err == nil {
		t.Error("threshold above 1 should fail")
	}
}

func TestEnergy(t *testing.T) {
	e, err := NewEnergy(0.1)
	if err != nil {
		t.Fatal(err)
	}
	loud := make([]float32, 1024)
	for i := range loud {
		loud[i] = float32(0.5 * math.Sin(float64(i)))
	}
	probs, err := e.Predict(context.Background(), append(make([]float32, 512), loud...))
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 3 {
		t.Fatalf("chunks = %d, want 3", len(probs))
	}
	if probs[0] != 0 {
		t.Errorf("silent chunk = %f, want 0", probs[0])
	}
	if probs[1] != 1 || probs[2] != 1 {
		t.Errorf("loud chunks = %v, want 1", probs[1:])
	}
	if _, err := NewEnergy(0); err == nil {
		t.Error("zero full scale should fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Predict(ctx, loud); err == nil {
		t.Error("cancelled context should fail")
	}
}
