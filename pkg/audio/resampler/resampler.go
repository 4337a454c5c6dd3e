package resampler

import (
	"errors"
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Quality selects the resampling algorithm.
type Quality int

const (
	// Linear interpolates between the two nearest input samples.
	Linear Quality = iota
	// High uses a windowed-sinc polyphase filter.
	High
)

// String returns the configuration name of q.
func (q Quality) String() string {
	switch q {
	case Linear:
		return "linear"
	case High:
		return "high"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// ParseQuality parses a quality name as produced by String. The empty string
// selects Linear.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "", "linear":
		return Linear, nil
	case "high":
		return High, nil
	}
	return 0, fmt.Errorf("resampler: unknown quality %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ErrInvalidRate is returned when a sample rate is not positive.
var ErrInvalidRate = errors.New("resampler: invalid sample rate")

// Resampler converts mono float32 audio from one rate to another. Process may
// be called repeatedly on consecutive blocks of a stream.
type Resampler interface {
	Process(in []float32) ([]float32, error)
}

// New returns a Resampler converting from inRate to outRate.
func New(q Quality, inRate, outRate int) (Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, inRate, outRate)
	}
	switch q {
	case Linear:
		return linear{ratio: float64(outRate) / float64(inRate)}, nil
	case High:
		if inRate == outRate {
			return linear{ratio: 1}, nil
		}
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(inRate),
			OutputRate: float64(outRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		return &polyphase{r: r}, nil
	}
	return nil, fmt.Errorf("resampler: unknown quality %d", int(q))
}

type linear struct {
	ratio float64
}

func (l linear) Process(in []float32) ([]float32, error) {
	return Resample(in, l.ratio), nil
}

// polyphase adapts go-audio-resampling's float64 API.
type polyphase struct {
	mu  sync.Mutex
	r   resampling.Resampler
	buf []float64
}

func (p *polyphase) Process(in []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cap(p.buf) < len(in) {
		p.buf = make([]float64, len(in))
	}
	buf := p.buf[:len(in)]
	for i, s := range in {
		buf[i] = float64(s)
	}
	out, err := p.r.Process(buf)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}

// Resample linearly resamples in by ratio (output rate / input rate).
//
// The output has ceil(len(in)*ratio) samples. Output sample i reads source
// position i/ratio and interpolates between the floor index and the next
// index, clamped to the last input sample. A ratio of exactly 1 returns a
// copy of in.
func Resample(in []float32, ratio float64) []float32 {
	if ratio == 1 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 || ratio <= 0 {
		return []float32{}
	}
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		lo := int(src)
		if lo > last {
			lo = last
		}
		hi := min(lo+1, last)
		frac := float32(src - float64(lo))
		out[i] = in[lo]*(1-frac) + in[hi]*frac
	}
	return out
}
