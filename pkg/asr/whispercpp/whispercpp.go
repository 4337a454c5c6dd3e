// Package whispercpp runs GGML Whisper models through whisper.cpp.
//
// whisper.cpp supplies the encoder and single decode steps; the shared
// asr.Decoder drives prompting, language detection, suppression and the
// KV cache bound exactly as for the ONNX families.
//
// whisper.cpp keeps the self-attention cache inside its state, where it
// cannot be trimmed from Go. The asr-side cache therefore records the token
// history instead: one layer whose time axis holds token ids. When the
// cache manager trims or resets that history, the next step replays the
// retained tokens into a fresh whisper.cpp cache before extending it.
//
// The native engine is compiled only with the whispercpp build tag and
// links against libwhisper. Without the tag the family is still registered
// but Open returns ErrNativeUnavailable.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/tensor"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
)

// ModelName is the Models key of the GGML model file.
const ModelName = "model"

// ErrNativeUnavailable is returned when the binary was built without the
// whispercpp tag.
var ErrNativeUnavailable = errors.New("whispercpp: native engine unavailable")

func init() {
	asr.Register(asr.FamilyWhisperGGML, Open)
}

// engine is the part of whisper.cpp the model drives.
type engine interface {
	info() asr.ModelInfo
	vocab() *tokenizer.Tokenizer
	// encode computes the encoder output of pcm and keeps it in the state.
	encode(pcm []float32) error
	// decode runs tokens at positions nPast onward against the cached
	// state and returns the logits of the last token.
	decode(tokens []int64, nPast int) ([]float32, error)
	close() error
}

// Open loads the GGML model named by models["model"].
func Open(models asr.Models, opts asr.Options) (asr.Backend, error) {
	path, err := models.Path(ModelName)
	if err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	if !asr.AutoLanguage(opts.Language) && !asr.KnownLanguage(opts.Language) {
		return nil, fmt.Errorf("%w: %q", asr.ErrUnsupportedLanguage, opts.Language)
	}
	eng, err := newNative(path, opts)
	if err != nil {
		if errors.Is(err, ErrNativeUnavailable) {
			return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
		}
		return nil, err
	}
	d, err := newDecoder(eng, opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("whisper.cpp model loaded",
		"path", path,
		"task", opts.Task,
		"multilingual", d.Multilingual(),
		"kv_cache", opts.KVCache.Strategy,
	)
	return d, nil
}

func newDecoder(eng engine, opts asr.Options) (*asr.Decoder, error) {
	d, err := asr.NewDecoder(&model{eng: eng}, eng.vocab(), opts)
	if err != nil {
		eng.close()
		return nil, err
	}
	return d, nil
}

// model adapts an engine to asr.Model.
type model struct {
	eng engine
	// history lists the tokens whose keys and values eng currently caches.
	history []int64
}

var _ asr.Model = (*model)(nil)

func (m *model) Info() asr.ModelInfo { return m.eng.info() }

func (m *model) Encode(ctx context.Context, pcm []float32) (*asr.Encoding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("whispercpp: empty window")
	}
	m.history = m.history[:0]
	if err := m.eng.encode(pcm); err != nil {
		return nil, err
	}
	return &asr.Encoding{}, nil
}

func (m *model) DecodeStep(ctx context.Context, _ *asr.Encoding, tokens []int64, cache *kvcache.Cache) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("whispercpp: no input tokens")
	}
	past, err := historyOf(cache)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(past, m.history) {
		m.history = m.history[:0]
		if len(past) > 0 {
			if _, err := m.eng.decode(past, 0); err != nil {
				return nil, err
			}
			m.history = append(m.history, past...)
		}
	}
	logits, err := m.eng.decode(tokens, len(m.history))
	if err != nil {
		m.history = m.history[:0]
		return nil, err
	}
	m.history = append(m.history, tokens...)
	*cache = historyCache(m.history)
	return logits, nil
}

func (m *model) Close() error {
	m.history = nil
	return m.eng.close()
}

// historyCache encodes tokens as a single cache layer of shape
// [1, 1, len(tokens), 1].
func historyCache(tokens []int64) kvcache.Cache {
	data := make([]float32, len(tokens))
	for i, id := range tokens {
		data[i] = float32(id)
	}
	t := tensor.F32{Shape: []int64{1, 1, int64(len(tokens)), 1}, Data: data}
	return kvcache.Cache{Layers: []kvcache.Layer{{Key: t, Value: t}}}
}

// historyOf decodes the token history written by historyCache.
func historyOf(cache *kvcache.Cache) ([]int64, error) {
	if cache == nil || len(cache.Layers) == 0 {
		return nil, nil
	}
	k := cache.Layers[0].Key
	if k.Rank() != 4 || int64(len(k.Data)) != k.Dim(kvcache.TimeAxis) {
		return nil, fmt.Errorf("whispercpp: foreign cache of shape %v", k.Shape)
	}
	out := make([]int64, len(k.Data))
	for i, v := range k.Data {
		out[i] = int64(v)
	}
	return out, nil
}

// special names the whisper.cpp control tokens the decoder looks up.
type special struct {
	sot, eot, transcribe, translate, noTimestamps, noSpeech int64
	// langs maps language token ids to language codes.
	langs map[int64]string
}

// buildVocab builds a tokenizer from whisper.cpp's raw token pieces. Every
// id from sp.eot upwards is a control token; the ones the decoder needs
// are renamed to their Whisper names.
func buildVocab(n int, piece func(id int64) string, sp special) *tokenizer.Tokenizer {
	pieces := make([]string, n)
	for id := range pieces {
		pieces[id] = piece(int64(id))
	}
	rename := func(id int64, name string) {
		if id >= 0 && id < int64(n) {
			pieces[id] = name
		}
	}
	rename(sp.sot, "<|startoftranscript|>")
	rename(sp.eot, "<|endoftext|>")
	rename(sp.transcribe, "<|transcribe|>")
	rename(sp.translate, "<|translate|>")
	rename(sp.noTimestamps, "<|notimestamps|>")
	rename(sp.noSpeech, "<|nospeech|>")
	for id, code := range sp.langs {
		rename(id, "<|"+code+"|>")
	}
	return tokenizer.FromPieces(pieces, func(id int64) bool { return id >= sp.eot })
}
