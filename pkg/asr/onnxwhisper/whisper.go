// Package onnxwhisper runs Whisper models exported to ONNX as separate
// encoder, decoder and decoder-with-past graphs.
//
// The decoder graph runs the prompt against the encoder output and emits
// both the self-attention cache and the cross-attention keys and values.
// The decoder-with-past graph then extends the self-attention cache one
// token at a time, reusing the cross-attention state.
//
// Tensor names follow the Hugging Face Optimum export:
//
//	encoder            input_features -> last_hidden_state
//	decoder            input_ids, encoder_hidden_states -> logits, present.N.{decoder,encoder}.{key,value}
//	decoder_with_past  input_ids, past_key_values.N.{decoder,encoder}.{key,value} -> logits, present.N.decoder.{key,value}
package onnxwhisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/fbank"
	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/onnx"
	"github.com/xkeyC/fl-caption/pkg/tensor"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
)

func init() {
	asr.Register(asr.FamilyONNXWhisper, Open)
}

// Model file names understood by Open.
const (
	ModelEncoder         = string(onnx.ModelEncoder)
	ModelDecoder         = string(onnx.ModelDecoder)
	ModelDecoderWithPast = string(onnx.ModelDecoderWithPast)
	ModelTokenizer       = "tokenizer"
	// ModelConfig is an optional Hugging Face config.json.
	ModelConfig = "config"
)

// Config holds the model hyperparameters the runtime needs.
type Config struct {
	NumMelBins         int
	MaxTargetPositions int
	VocabSize          int
}

// DefaultConfig matches the multilingual Whisper checkpoints.
func DefaultConfig() Config {
	return Config{NumMelBins: 80, MaxTargetPositions: 448, VocabSize: 51865}
}

// multilingualVocab is the smallest vocabulary of a multilingual checkpoint.
const multilingualVocab = 51865

// ParseConfig reads the fields of a Hugging Face config.json. Missing
// fields keep their defaults.
func ParseConfig(data []byte) (Config, error) {
	if !gjson.ValidBytes(data) {
		return Config{}, fmt.Errorf("%w: config is not valid JSON", asr.ErrModelLoad)
	}
	cfg := DefaultConfig()
	r := gjson.ParseBytes(data)
	if v := r.Get("num_mel_bins"); v.Exists() {
		cfg.NumMelBins = int(v.Int())
	}
	if v := r.Get("max_target_positions"); v.Exists() {
		cfg.MaxTargetPositions = int(v.Int())
	}
	if v := r.Get("vocab_size"); v.Exists() {
		cfg.VocabSize = int(v.Int())
	}
	if cfg.NumMelBins != 80 && cfg.NumMelBins != 128 {
		return Config{}, fmt.Errorf("%w: unexpected num_mel_bins %d", asr.ErrModelLoad, cfg.NumMelBins)
	}
	if cfg.MaxTargetPositions <= 0 {
		return Config{}, fmt.Errorf("%w: max_target_positions %d", asr.ErrModelLoad, cfg.MaxTargetPositions)
	}
	return cfg, nil
}

var pastKeyPattern = regexp.MustCompile(`^past_key_values\.(\d+)\.decoder\.key$`)

// countLayers returns the number of decoder layers from the inputs of the
// decoder-with-past graph.
func countLayers(inputs []string) (int, error) {
	n := 0
	for _, name := range inputs {
		m := pastKeyPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		i, _ := strconv.Atoi(m[1])
		n = max(n, i+1)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: decoder_with_past has no past_key_values inputs", asr.ErrModelLoad)
	}
	return n, nil
}

func presentNames(layers int, cross bool) []string {
	names := []string{"logits"}
	for i := 0; i < layers; i++ {
		names = append(names,
			fmt.Sprintf("present.%d.decoder.key", i),
			fmt.Sprintf("present.%d.decoder.value", i))
		if cross {
			names = append(names,
				fmt.Sprintf("present.%d.encoder.key", i),
				fmt.Sprintf("present.%d.encoder.value", i))
		}
	}
	return names
}

func pastNames(layers int) []string {
	names := []string{"input_ids"}
	for i := 0; i < layers; i++ {
		names = append(names,
			fmt.Sprintf("past_key_values.%d.decoder.key", i),
			fmt.Sprintf("past_key_values.%d.decoder.value", i),
			fmt.Sprintf("past_key_values.%d.encoder.key", i),
			fmt.Sprintf("past_key_values.%d.encoder.value", i))
	}
	return names
}

// Model is an asr.Model over three ONNX sessions.
type Model struct {
	encoder  *onnx.Session
	decoder  *onnx.Session
	withPast *onnx.Session
	mel      *fbank.LogMel
	cfg      Config
	layers   int
	logger   *slog.Logger
}

var _ asr.Model = (*Model)(nil)

// NewModel wraps loaded sessions. The model takes ownership of them.
func NewModel(encoder, decoder, withPast *onnx.Session, cfg Config, logger *slog.Logger) (*Model, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inputs, err := withPast.InputNames()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	layers, err := countLayers(inputs)
	if err != nil {
		return nil, err
	}
	logger.Info("whisper model loaded",
		"layers", layers, "mel_bins", cfg.NumMelBins,
		"max_target_positions", cfg.MaxTargetPositions,
		"providers", encoder.Providers())
	return &Model{
		encoder:  encoder,
		decoder:  decoder,
		withPast: withPast,
		mel:      fbank.NewLogMel(cfg.NumMelBins),
		cfg:      cfg,
		layers:   layers,
		logger:   logger,
	}, nil
}

// Info implements asr.Model.
func (m *Model) Info() asr.ModelInfo {
	return asr.ModelInfo{
		ContextLength: m.cfg.MaxTargetPositions,
		Multilingual:  m.cfg.VocabSize >= multilingualVocab,
	}
}

// Encode implements asr.Model.
func (m *Model) Encode(ctx context.Context, pcm []float32) (*asr.Encoding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features := m.mel.Compute(pcm)
	in, err := onnx.NewTensor([]int64{1, int64(m.mel.NumMels()), fbank.WhisperFrames}, features)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	outs, err := m.encoder.Run([]string{"input_features"}, []*onnx.Tensor{in}, []string{"last_hidden_state"})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	defer onnx.CloseAll(outs)
	hidden, err := outs[0].F32()
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if hidden.Rank() != 3 {
		return nil, fmt.Errorf("encoder: last_hidden_state has shape %v", hidden.Shape)
	}
	return &asr.Encoding{Hidden: hidden}, nil
}

// DecodeStep implements asr.Model. The first call for an encoding runs the
// decoder graph and fills enc.Cross; later calls run decoder-with-past.
func (m *Model) DecodeStep(ctx context.Context, enc *asr.Encoding, tokens []int64, cache *kvcache.Cache) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := onnx.NewInt64Tensor([]int64{1, int64(len(tokens))}, tokens)
	if err != nil {
		return nil, err
	}
	defer ids.Close()

	if len(enc.Cross.Layers) == 0 {
		if len(cache.Layers) > 0 {
			return nil, errors.New("whisper: cache present without cross-attention state")
		}
		return m.first(enc, ids, cache)
	}
	return m.next(enc, ids, cache)
}

func (m *Model) first(enc *asr.Encoding, ids *onnx.Tensor, cache *kvcache.Cache) ([]float32, error) {
	hidden, err := onnx.FromF32(enc.Hidden)
	if err != nil {
		return nil, err
	}
	defer hidden.Close()

	outs, err := m.decoder.Run(
		[]string{"input_ids", "encoder_hidden_states"},
		[]*onnx.Tensor{ids, hidden},
		presentNames(m.layers, true),
	)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	defer onnx.CloseAll(outs)

	logits, err := lastLogits(outs[0])
	if err != nil {
		return nil, err
	}
	self := make([]kvcache.Layer, m.layers)
	cross := make([]kvcache.Layer, m.layers)
	for i := 0; i < m.layers; i++ {
		base := 1 + 4*i
		if self[i], err = layer(outs[base], outs[base+1]); err != nil {
			return nil, err
		}
		if cross[i], err = layer(outs[base+2], outs[base+3]); err != nil {
			return nil, err
		}
	}
	cache.Layers = self
	enc.Cross.Layers = cross
	return logits, nil
}

func (m *Model) next(enc *asr.Encoding, ids *onnx.Tensor, cache *kvcache.Cache) ([]float32, error) {
	if len(enc.Cross.Layers) != m.layers {
		return nil, fmt.Errorf("whisper: %d cross-attention layers, want %d", len(enc.Cross.Layers), m.layers)
	}
	inputs := []*onnx.Tensor{ids}
	var owned []*onnx.Tensor
	defer func() { onnx.CloseAll(owned) }()

	for i := 0; i < m.layers; i++ {
		cross := enc.Cross.Layers[i]
		self := emptyLike(cross)
		if i < len(cache.Layers) && cache.Layers[i].Key.Rank() == 4 {
			self = cache.Layers[i]
		}
		for _, t := range []tensor.F32{self.Key, self.Value, cross.Key, cross.Value} {
			ot, err := onnx.FromF32(t)
			if err != nil {
				return nil, err
			}
			owned = append(owned, ot)
			inputs = append(inputs, ot)
		}
	}

	outs, err := m.withPast.Run(pastNames(m.layers), inputs, presentNames(m.layers, false))
	if err != nil {
		return nil, fmt.Errorf("decoder_with_past: %w", err)
	}
	defer onnx.CloseAll(outs)

	logits, err := lastLogits(outs[0])
	if err != nil {
		return nil, err
	}
	self := make([]kvcache.Layer, m.layers)
	for i := 0; i < m.layers; i++ {
		if self[i], err = layer(outs[1+2*i], outs[2+2*i]); err != nil {
			return nil, err
		}
	}
	cache.Layers = self
	return logits, nil
}

// emptyLike returns a zero-length self-attention layer shaped after the
// cross-attention layer: [batch, heads, 0, headDim].
func emptyLike(cross kvcache.Layer) kvcache.Layer {
	k := cross.Key
	return kvcache.Layer{
		Key:   tensor.Zeros(k.Dim(0), k.Dim(1), 0, k.Dim(3)),
		Value: tensor.Zeros(k.Dim(0), k.Dim(1), 0, k.Dim(3)),
	}
}

func layer(key, value *onnx.Tensor) (kvcache.Layer, error) {
	k, err := key.F32()
	if err != nil {
		return kvcache.Layer{}, err
	}
	v, err := value.F32()
	if err != nil {
		return kvcache.Layer{}, err
	}
	if k.Rank() != 4 || v.Rank() != 4 {
		return kvcache.Layer{}, fmt.Errorf("whisper: cache tensors have shapes %v and %v", k.Shape, v.Shape)
	}
	return kvcache.Layer{Key: k, Value: v}, nil
}

func lastLogits(t *onnx.Tensor) ([]float32, error) {
	logits, err := t.F32()
	if err != nil {
		return nil, err
	}
	if logits.Rank() != 3 {
		return nil, fmt.Errorf("whisper: logits have shape %v", logits.Shape)
	}
	return logits.LastRow()
}

// Close releases the sessions.
func (m *Model) Close() error {
	return errors.Join(m.encoder.Close(), m.decoder.Close(), m.withPast.Close())
}

// Open loads the encoder, decoder, decoder_with_past and tokenizer named
// in models and returns a decoder over them.
func Open(models asr.Models, opts asr.Options) (asr.Backend, error) {
	opts = opts.WithDefaults()
	logger := opts.Logger.With("family", asr.FamilyONNXWhisper)

	cfg := DefaultConfig()
	if path, ok := models[ModelConfig]; ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
		}
		if cfg, err = ParseConfig(data); err != nil {
			return nil, err
		}
	}
	tokPath, err := models.Path(ModelTokenizer)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(tokPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	if _, ok := models[ModelConfig]; !ok && tok.VocabSize() < multilingualVocab {
		cfg.VocabSize = tok.VocabSize()
	}

	env, err := onnx.DefaultEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	providers, err := onnx.ResolveProviders(opts.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	so := &onnx.SessionOptions{Providers: providers, IntraOpThreads: opts.Threads, Logger: logger}

	loc := onnx.Locator{}
	for k, v := range models {
		loc[onnx.ModelID(k)] = v
	}
	if err := loc.Check(onnx.ModelEncoder, onnx.ModelDecoder, onnx.ModelDecoderWithPast); err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}

	var sessions []*onnx.Session
	closeAll := func() {
		for _, s := range sessions {
			s.Close()
		}
	}
	for _, id := range []onnx.ModelID{onnx.ModelEncoder, onnx.ModelDecoder, onnx.ModelDecoderWithPast} {
		s, err := onnx.LoadModel(env, loc, id, so)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: %s: %w", asr.ErrModelLoad, id, err)
		}
		sessions = append(sessions, s)
	}

	m, err := NewModel(sessions[0], sessions[1], sessions[2], cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	d, err := asr.NewDecoder(m, tok, opts)
	if err != nil {
		m.Close()
		return nil, err
	}
	return d, nil
}
