package asr

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/tensor"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
	"github.com/xkeyC/fl-caption/pkg/transcript"
)

// Encoding is the acoustic representation of one PCM window.
type Encoding struct {
	// Hidden is the encoder output, [batch, frames, dim].
	Hidden tensor.F32
	// Cross holds the cross-attention keys and values. Models fill it on
	// the first decode step of a window and reuse it afterwards.
	Cross kvcache.Cache
}

// ModelInfo describes a Model.
type ModelInfo struct {
	// ContextLength is the maximum number of decoder positions.
	ContextLength int
	Multilingual  bool
}

// Model is an encoder/decoder speech model driven by Decoder.
type Model interface {
	Info() ModelInfo
	// Encode computes the encoding of 16 kHz mono pcm.
	Encode(ctx context.Context, pcm []float32) (*Encoding, error)
	// DecodeStep feeds tokens to the decoder after the steps already held
	// in cache, replaces cache with the extended self-attention state and
	// returns the logits for the token following the last input.
	DecodeStep(ctx context.Context, enc *Encoding, tokens []int64, cache *kvcache.Cache) ([]float32, error)
	Close() error
}

type specialTokens struct {
	sot          int64
	eot          int64
	transcribe   int64
	translate    int64
	noTimestamps int64
	// -1 when the vocabulary has none
	noSpeech int64
	blank    int64
}

func lookupSpecial(tok *tokenizer.Tokenizer) (specialTokens, error) {
	var sp specialTokens
	required := []struct {
		dst  *int64
		name string
	}{
		{&sp.sot, "<|startoftranscript|>"},
		{&sp.eot, "<|endoftext|>"},
		{&sp.transcribe, "<|transcribe|>"},
		{&sp.translate, "<|translate|>"},
		{&sp.noTimestamps, "<|notimestamps|>"},
	}
	for _, r := range required {
		id, ok := tok.TokenID(r.name)
		if !ok {
			return sp, fmt.Errorf("%w: vocabulary has no %s token", ErrModelLoad, r.name)
		}
		*r.dst = id
	}
	sp.noSpeech = firstToken(tok, "<|nospeech|>", "<|nocaptions|>")
	sp.blank = firstToken(tok, "Ġ", "▁", " ")
	return sp, nil
}

func firstToken(tok *tokenizer.Tokenizer, names ...string) int64 {
	for _, n := range names {
		if id, ok := tok.TokenID(n); ok {
			return id
		}
	}
	return -1
}

type language struct {
	code string
	id   int64
}

// Decoder runs greedy autoregressive decoding over a Model. It implements
// Backend.
type Decoder struct {
	mu      sync.Mutex
	model   Model
	info    ModelInfo
	tok     *tokenizer.Tokenizer
	special specialTokens
	langs   []language
	kv      *kvcache.Manager
	cache   kvcache.Cache
	rng     *rand.Rand
	opts    Options
	logger  *slog.Logger
}

var _ Backend = (*Decoder)(nil)

// NewDecoder returns a decoder over m. It fails with ErrModelLoad when the
// vocabulary lacks the control tokens and with ErrUnsupportedLanguage when
// opts.Language cannot be produced by m.
func NewDecoder(m Model, tok *tokenizer.Tokenizer, opts Options) (*Decoder, error) {
	opts = opts.WithDefaults()
	info := m.Info()
	if info.ContextLength <= 0 {
		return nil, fmt.Errorf("%w: context length %d", ErrModelLoad, info.ContextLength)
	}
	sp, err := lookupSpecial(tok)
	if err != nil {
		return nil, err
	}
	var langs []language
	for _, code := range languageCodes {
		if id, ok := tok.TokenID("<|" + code + "|>"); ok {
			langs = append(langs, language{code: code, id: id})
		}
	}
	if info.Multilingual && len(langs) == 0 {
		return nil, fmt.Errorf("%w: multilingual model without language tokens", ErrModelLoad)
	}
	kv, err := kvcache.NewManager(opts.KVCache, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	d := &Decoder{
		model:   m,
		info:    info,
		tok:     tok,
		special: sp,
		langs:   langs,
		kv:      kv,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		opts:    opts,
		logger:  opts.Logger.With("component", "decoder"),
	}
	if _, _, err := d.languageToken(opts.Language); err != nil {
		return nil, err
	}
	return d, nil
}

// Multilingual reports whether the model accepts language tokens.
func (d *Decoder) Multilingual() bool {
	return d.info.Multilingual
}

// Languages returns the language codes the model can produce.
func (d *Decoder) Languages() []string {
	out := make([]string, len(d.langs))
	for i, l := range d.langs {
		out[i] = l.code
	}
	return out
}

// languageToken resolves lang to a token id. detect is true when the
// language should be detected from the audio; id is -1 when no language
// token is used.
func (d *Decoder) languageToken(lang string) (id int64, detect bool, err error) {
	if AutoLanguage(lang) {
		return -1, d.info.Multilingual, nil
	}
	if !d.info.Multilingual {
		return -1, false, fmt.Errorf("%w: %q requested on an English-only model", ErrUnsupportedLanguage, lang)
	}
	for _, l := range d.langs {
		if l.code == lang {
			return l.id, false, nil
		}
	}
	return -1, false, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
}

func (d *Decoder) languageCode(id int64) string {
	for _, l := range d.langs {
		if l.id == id {
			return l.code
		}
	}
	return ""
}

// Transcribe implements Backend.
func (d *Decoder) Transcribe(ctx context.Context, pcm []float32, lang string) (transcript.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if AutoLanguage(lang) {
		lang = d.opts.Language
	}
	langID, detect, err := d.languageToken(lang)
	if err != nil {
		return transcript.Segment{}, err
	}

	enc, err := d.model.Encode(ctx, pcm)
	if err != nil {
		return transcript.Segment{}, InferenceError(err)
	}
	if detect {
		if langID, err = d.detectLanguage(ctx, enc); err != nil {
			return transcript.Segment{}, err
		}
	}

	prompt := d.prompt(langID)
	d.cache.Clear()
	res, err := d.decode(ctx, enc, prompt)
	if err != nil {
		return transcript.Segment{}, err
	}

	text := strings.TrimSpace(d.tok.Decode(res.tokens, true))
	seg := transcript.Segment{
		Duration:         float64(len(pcm)) / SampleRate,
		Text:             text,
		Tokens:           res.tokens,
		NoSpeechProb:     res.noSpeech,
		Temperature:      d.opts.Temperature,
		CompressionRatio: transcript.CompressionRatio(text),
		Language:         d.languageCode(langID),
		Status:           transcript.Working,
	}
	if len(res.tokens) > 0 {
		seg.AvgLogprob = res.sumLogprob / float64(len(res.tokens))
	}
	d.logger.Debug("decoded window",
		"samples", len(pcm), "tokens", len(res.tokens), "language", seg.Language,
		"no_speech_prob", seg.NoSpeechProb, "cache_bytes", d.cache.Bytes())
	return seg, nil
}

func (d *Decoder) prompt(langID int64) []int64 {
	p := []int64{d.special.sot}
	if langID >= 0 {
		p = append(p, langID)
	}
	if d.opts.Task == Translate {
		p = append(p, d.special.translate)
	} else {
		p = append(p, d.special.transcribe)
	}
	return append(p, d.special.noTimestamps)
}

// detectLanguage runs one step seeded with the start token on a scratch
// cache and returns the most likely language token.
func (d *Decoder) detectLanguage(ctx context.Context, enc *Encoding) (int64, error) {
	var scratch kvcache.Cache
	logits, err := d.step(ctx, enc, []int64{d.special.sot}, &scratch)
	if err != nil {
		return -1, err
	}
	best := int64(-1)
	bestV := float32(math.Inf(-1))
	for _, l := range d.langs {
		if l.id >= int64(len(logits)) {
			continue
		}
		if v := logits[l.id]; best < 0 || v > bestV {
			best, bestV = l.id, v
		}
	}
	if best < 0 {
		return -1, fmt.Errorf("%w: no language token within %d logits", ErrInference, len(logits))
	}
	return best, nil
}

type decodeResult struct {
	tokens     []int64
	sumLogprob float64
	noSpeech   float64
}

// decode runs the prompt once and then feeds back one token per step,
// bounding the cache after every decoder call.
func (d *Decoder) decode(ctx context.Context, enc *Encoding, prompt []int64) (decodeResult, error) {
	var res decodeResult
	logits, err := d.step(ctx, enc, prompt, &d.cache)
	if err != nil {
		return res, err
	}
	seqLen, err := d.kv.Bound(&d.cache, len(prompt))
	if err != nil {
		return res, InferenceError(err)
	}
	if id := d.special.noSpeech; id >= 0 && id < int64(len(logits)) {
		res.noSpeech = math.Exp(tensor.LogSoftmax(logits, int(id)))
	}

	limit := min(d.info.ContextLength-len(prompt), d.opts.MaxTokens)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d.suppress(logits, i == 0)
		next := d.pick(logits)
		if next < 0 {
			return res, fmt.Errorf("%w: no selectable token at step %d", ErrInference, i)
		}
		if int64(next) == d.special.eot {
			break
		}
		res.sumLogprob += tensor.LogSoftmax(logits, next)
		res.tokens = append(res.tokens, int64(next))
		if i+1 == limit {
			break
		}

		logits, err = d.step(ctx, enc, []int64{int64(next)}, &d.cache)
		if err != nil {
			return res, err
		}
		if seqLen, err = d.kv.Bound(&d.cache, seqLen+1); err != nil {
			return res, InferenceError(err)
		}
	}
	return res, nil
}

func (d *Decoder) step(ctx context.Context, enc *Encoding, tokens []int64, cache *kvcache.Cache) ([]float32, error) {
	logits, err := d.model.DecodeStep(ctx, enc, tokens, cache)
	if err != nil {
		return nil, InferenceError(err)
	}
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: empty logits", ErrInference)
	}
	return logits, nil
}

func (d *Decoder) suppress(logits []float32, first bool) {
	ids := []int64{d.special.noTimestamps, d.special.sot, d.special.noSpeech, d.special.translate}
	if first {
		ids = append(ids, d.special.eot, d.special.blank)
	}
	ninf := float32(math.Inf(-1))
	for _, id := range ids {
		if id >= 0 && id < int64(len(logits)) {
			logits[id] = ninf
		}
	}
}

// pick selects the next token: the argmax, or a sample from the
// temperature-scaled distribution.
func (d *Decoder) pick(logits []float32) int {
	t := d.opts.Temperature
	if t <= 0 {
		return tensor.Argmax(logits)
	}
	best := tensor.Argmax(logits)
	if best < 0 {
		return -1
	}
	maxV := float64(logits[best])
	weights := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		if math.IsInf(float64(v), -1) || v != v {
			continue
		}
		weights[i] = math.Exp((float64(v) - maxV) / t)
		sum += weights[i]
	}
	r := d.rng.Float64() * sum
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return best
}

// Reconfigure replaces the cache bounding strategy and clears the cache.
func (d *Decoder) Reconfigure(cfg kvcache.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kv.Reconfigure(cfg, &d.cache)
}

// KVCache returns the active cache configuration.
func (d *Decoder) KVCache() kvcache.Config {
	return d.kv.Config()
}

// CacheBytes returns the memory held by the decoder cache of the most
// recent window.
func (d *Decoder) CacheBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Bytes()
}

// ClearCache releases the cached decoder state.
func (d *Decoder) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Clear()
}

// Close closes the model.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Clear()
	return d.model.Close()
}
