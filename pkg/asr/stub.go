package asr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xkeyC/fl-caption/pkg/audio/pcm"
	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/tensor"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
)

func init() {
	Register(FamilyStub, openStub)
}

// DefaultStubScript is what the stub model says when no script is given.
const DefaultStubScript = "hello world"

var stubSpecials = []string{
	"<|endoftext|>",
	"<|startoftranscript|>",
	"<|en|>",
	"<|zh|>",
	"<|translate|>",
	"<|transcribe|>",
	"<|nospeech|>",
	"<|notimestamps|>",
	"▁",
}

// StubModel is a deterministic in-process Model. It recites a fixed script
// one word per step, detects English, and grows a two-layer cache by one
// time step per input token.
type StubModel struct {
	words  []int64
	next   map[int64]int64
	tokens map[string]int64
	closed bool
}

var _ Model = (*StubModel)(nil)

// NewStubModel returns a stub reciting script and the vocabulary it uses.
// Repeated words in script are collapsed.
func NewStubModel(script string) (*StubModel, *tokenizer.Tokenizer, error) {
	var sb strings.Builder
	m := &StubModel{next: map[int64]int64{}, tokens: map[string]int64{}}
	id := int64(0)
	add := func(tok string) int64 {
		if v, ok := m.tokens[tok]; ok {
			return v
		}
		m.tokens[tok] = id
		fmt.Fprintf(&sb, "%s %d\n", tok, id)
		id++
		return id - 1
	}
	for _, s := range stubSpecials {
		add(s)
	}
	for _, w := range strings.Fields(script) {
		wid := add("▁" + w)
		if len(m.words) > 0 && m.words[len(m.words)-1] == wid {
			continue
		}
		if _, seen := m.next[wid]; seen {
			continue
		}
		if len(m.words) > 0 {
			m.next[m.words[len(m.words)-1]] = wid
		}
		m.next[wid] = m.tokens["<|endoftext|>"]
		m.words = append(m.words, wid)
	}
	tok, err := tokenizer.FromTokensTxt(strings.NewReader(sb.String()))
	if err != nil {
		return nil, nil, err
	}
	return m, tok, nil
}

// Info implements Model.
func (m *StubModel) Info() ModelInfo {
	return ModelInfo{ContextLength: 448, Multilingual: true}
}

// Encode implements Model. The encoding is one frame per 160 samples holding
// the frame RMS.
func (m *StubModel) Encode(ctx context.Context, samples []float32) (*Encoding, error) {
	if m.closed {
		return nil, fmt.Errorf("stub: model closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := (len(samples) + 159) / 160
	hidden := tensor.Zeros(1, int64(frames), 1)
	for i := range frames {
		hidden.Data[i] = float32(pcm.RMS(samples[i*160 : min((i+1)*160, len(samples))]))
	}
	return &Encoding{Hidden: hidden}, nil
}

// DecodeStep implements Model.
func (m *StubModel) DecodeStep(ctx context.Context, enc *Encoding, tokens []int64, cache *kvcache.Cache) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("stub: no input tokens")
	}
	if err := m.extend(cache, int64(len(tokens))); err != nil {
		return nil, err
	}

	logits := make([]float32, len(m.tokens))
	last := tokens[len(tokens)-1]
	var want int64
	switch {
	case last == m.tokens["<|startoftranscript|>"]:
		want = m.tokens["<|en|>"]
	case last == m.tokens["<|notimestamps|>"]:
		want = m.tokens["<|endoftext|>"]
		if len(m.words) > 0 {
			want = m.words[0]
		}
	default:
		next, ok := m.next[last]
		if !ok {
			next = m.tokens["<|endoftext|>"]
		}
		want = next
	}
	logits[want] = 10
	if silent(enc) {
		logits[m.tokens["<|nospeech|>"]] = 20
	}
	return logits, nil
}

func silent(enc *Encoding) bool {
	for _, v := range enc.Hidden.Data {
		if v > 1e-4 {
			return false
		}
	}
	return true
}

func (m *StubModel) extend(cache *kvcache.Cache, steps int64) error {
	const layers = 2
	if len(cache.Layers) == 0 {
		cache.Layers = make([]kvcache.Layer, layers)
		for i := range cache.Layers {
			cache.Layers[i] = kvcache.Layer{Key: tensor.Zeros(1, 1, 0, 2), Value: tensor.Zeros(1, 1, 0, 2)}
		}
	}
	step := tensor.Zeros(1, 1, steps, 2)
	for i, l := range cache.Layers {
		k, err := tensor.Concat(kvcache.TimeAxis, l.Key, step)
		if err != nil {
			return err
		}
		v, err := tensor.Concat(kvcache.TimeAxis, l.Value, step)
		if err != nil {
			return err
		}
		cache.Layers[i] = kvcache.Layer{Key: k, Value: v}
	}
	return nil
}

// Close implements Model.
func (m *StubModel) Close() error {
	m.closed = true
	return nil
}

// openStub opens the stub family. An optional "script" model names a text
// file whose words the stub recites.
func openStub(models Models, opts Options) (Backend, error) {
	script := DefaultStubScript
	if path, ok := models["script"]; ok && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		script = string(b)
	}
	m, tok, err := NewStubModel(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return NewDecoder(m, tok, opts)
}
