package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
)

// Token ids of fakeEngine. Ids from tokEOT upwards are control tokens.
const (
	tokHello = iota
	tokWorld
	tokAgain
	tokBlank
	tokBang
	tokEOT
	tokSOT
	tokTranslate
	tokTranscribe
	tokNoTimestamps
	tokNoSpeech
	tokEN
	tokJA
	fakeVocab
)

// fakeEngine mimics whisper.cpp's stateful cache: decode must continue
// exactly where the cached tokens end, or restart at position zero.
type fakeEngine struct {
	multilingual bool
	// next maps the last input token to the token the logits favour.
	next map[int64]int64

	cached  []int64
	encodes int
	replays int
	maxLen  int
	closed  bool
}

func newFakeEngine(multilingual bool) *fakeEngine {
	return &fakeEngine{
		multilingual: multilingual,
		next: map[int64]int64{
			tokSOT:          tokJA,
			tokNoTimestamps: tokHello,
			tokHello:        tokWorld,
			tokWorld:        tokAgain,
			tokAgain:        tokBang,
			tokBang:         tokEOT,
		},
	}
}

func (f *fakeEngine) info() asr.ModelInfo {
	return asr.ModelInfo{ContextLength: 448, Multilingual: f.multilingual}
}

func (f *fakeEngine) vocab() *tokenizer.Tokenizer {
	pieces := []string{" hello", " world", " again", " ", "!"}
	sp := special{
		sot: tokSOT, eot: tokEOT, transcribe: tokTranscribe, translate: tokTranslate,
		noTimestamps: tokNoTimestamps, noSpeech: tokNoSpeech,
		langs: map[int64]string{},
	}
	if f.multilingual {
		sp.langs[tokEN] = "en"
		sp.langs[tokJA] = "ja"
	}
	return buildVocab(fakeVocab, func(id int64) string {
		if id < int64(len(pieces)) {
			return pieces[id]
		}
		return fmt.Sprintf("[_extra_token_%d]", id)
	}, sp)
}

func (f *fakeEngine) encode(pcm []float32) error {
	f.encodes++
	f.cached = nil
	return nil
}

func (f *fakeEngine) decode(tokens []int64, nPast int) ([]float32, error) {
	switch {
	case nPast == 0:
		if len(f.cached) > 0 && len(tokens) > 1 {
			f.replays++
		}
		f.cached = nil
	case nPast != len(f.cached):
		return nil, fmt.Errorf("n_past %d with %d cached tokens", nPast, len(f.cached))
	}
	f.cached = append(f.cached, tokens...)
	f.maxLen = max(f.maxLen, len(f.cached))

	logits := make([]float32, fakeVocab)
	if next, ok := f.next[tokens[len(tokens)-1]]; ok {
		logits[next] = 10
	}
	return logits, nil
}

func (f *fakeEngine) close() error {
	f.closed = true
	return nil
}

func TestBuildVocab(t *testing.T) {
	tok := newFakeEngine(true).vocab()
	for name, want := range map[string]int64{
		"<|startoftranscript|>": tokSOT,
		"<|endoftext|>":         tokEOT,
		"<|notimestamps|>":      tokNoTimestamps,
		"<|nospeech|>":          tokNoSpeech,
		"<|ja|>":                tokJA,
		" ":                     tokBlank,
	} {
		if id, ok := tok.TokenID(name); !ok || id != want {
			t.Errorf("TokenID(%q) = %d, %v, want %d", name, id, ok, want)
		}
	}
	if tok.IsSpecial(tokBang) || !tok.IsSpecial(tokEOT) || !tok.IsSpecial(tokJA) {
		t.Error("control tokens must start at the end-of-text token")
	}
}

func TestDecoderOverEngine(t *testing.T) {
	eng := newFakeEngine(true)
	d, err := newDecoder(eng, asr.Options{})
	if err != nil {
		t.Fatalf("newDecoder: %v", err)
	}
	defer d.Close()

	seg, err := d.Transcribe(context.Background(), make([]float32, 16000), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if seg.Text != "hello world again!" {
		t.Errorf("Text = %q", seg.Text)
	}
	if seg.Language != "ja" {
		t.Errorf("Language = %q, want detected ja", seg.Language)
	}
	if eng.encodes != 1 {
		t.Errorf("encodes = %d, want 1", eng.encodes)
	}
	want := []int64{tokSOT, tokJA, tokTranscribe, tokNoTimestamps, tokHello, tokWorld, tokAgain, tokBang}
	if !slices.Equal(eng.cached, want) {
		t.Errorf("cached = %v, want %v", eng.cached, want)
	}
}

func TestDecoderBoundsEngineCache(t *testing.T) {
	tests := []struct {
		name string
		cfg  kvcache.Config
	}{
		{"sliding window", kvcache.Config{Strategy: kvcache.SlidingWindow, MaxLength: 6, Step: 2}},
		{"reset", kvcache.Config{Strategy: kvcache.Reset, MaxLength: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine(true)
			// Loop forever so that only MaxTokens ends the window.
			eng.next[tokBang] = tokHello
			d, err := newDecoder(eng, asr.Options{Language: "en", MaxTokens: 40, KVCache: tt.cfg})
			if err != nil {
				t.Fatalf("newDecoder: %v", err)
			}
			seg, err := d.Transcribe(context.Background(), make([]float32, 16000), "")
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if len(seg.Tokens) != 40 {
				t.Errorf("tokens = %d, want 40", len(seg.Tokens))
			}
			if eng.maxLen > tt.cfg.MaxLength+1 {
				t.Errorf("engine cached %d tokens, bound is %d", eng.maxLen, tt.cfg.MaxLength)
			}
			if b := d.CacheBytes(); b > (tt.cfg.MaxLength+1)*8 {
				t.Errorf("CacheBytes = %d", b)
			}
		})
	}
}

func TestSlidingWindowReplaysRetainedTokens(t *testing.T) {
	eng := newFakeEngine(true)
	eng.next[tokBang] = tokHello
	cfg := kvcache.Config{Strategy: kvcache.SlidingWindow, MaxLength: 6, Step: 2}
	d, err := newDecoder(eng, asr.Options{Language: "en", MaxTokens: 10, KVCache: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Transcribe(context.Background(), make([]float32, 16000), ""); err != nil {
		t.Fatal(err)
	}
	if eng.replays == 0 {
		t.Error("trimmed history was never replayed into the engine")
	}
}

func TestEnglishOnlyRejectsLanguage(t *testing.T) {
	eng := newFakeEngine(false)
	if _, err := newDecoder(eng, asr.Options{Language: "de"}); !errors.Is(err, asr.ErrUnsupportedLanguage) {
		t.Fatalf("newDecoder err = %v, want ErrUnsupportedLanguage", err)
	}
	if !eng.closed {
		t.Error("engine not closed after a failed open")
	}

	d, err := newDecoder(newFakeEngine(false), asr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Transcribe(context.Background(), make([]float32, 16000), "ja"); !errors.Is(err, asr.ErrUnsupportedLanguage) {
		t.Errorf("Transcribe(ja) err = %v, want ErrUnsupportedLanguage", err)
	}
	seg, err := d.Transcribe(context.Background(), make([]float32, 16000), "auto")
	if err != nil || seg.Text != "hello world again!" || seg.Language != "" {
		t.Errorf("Transcribe(auto) = %+v, %v", seg, err)
	}
}

func TestEmptyWindowFails(t *testing.T) {
	d, err := newDecoder(newFakeEngine(true), asr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Transcribe(context.Background(), nil, "en"); !errors.Is(err, asr.ErrInference) {
		t.Errorf("err = %v, want ErrInference", err)
	}
}

func TestHistoryCacheRoundTrip(t *testing.T) {
	c := historyCache([]int64{50258, 50259, 7})
	got, err := historyOf(&c)
	if err != nil || !slices.Equal(got, []int64{50258, 50259, 7}) {
		t.Fatalf("historyOf = %v, %v", got, err)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if got, err := historyOf(&kvcache.Cache{}); err != nil || got != nil {
		t.Errorf("empty cache = %v, %v", got, err)
	}
}

func TestOpenRegistered(t *testing.T) {
	if !slices.Contains(asr.Families(), asr.FamilyWhisperGGML) {
		t.Fatalf("Families() = %v, missing %s", asr.Families(), asr.FamilyWhisperGGML)
	}
}

func TestOpenMissingModel(t *testing.T) {
	_, err := asr.Open(asr.FamilyWhisperGGML, asr.Models{}, asr.Options{})
	if !errors.Is(err, asr.ErrModelLoad) {
		t.Fatalf("err = %v, want ErrModelLoad", err)
	}
}

func TestOpenUnsupportedLanguage(t *testing.T) {
	_, err := asr.Open(asr.FamilyWhisperGGML, asr.Models{ModelName: "ggml-base.bin"}, asr.Options{Language: "xx"})
	if !errors.Is(err, asr.ErrUnsupportedLanguage) {
		t.Fatalf("err = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestOpenWithoutNative(t *testing.T) {
	if Available() {
		t.Skip("native engine compiled in")
	}
	_, err := asr.Open(asr.FamilyWhisperGGML, asr.Models{ModelName: "ggml-base.bin"}, asr.Options{})
	if !errors.Is(err, ErrNativeUnavailable) || !errors.Is(err, asr.ErrModelLoad) {
		t.Fatalf("err = %v, want ErrNativeUnavailable and ErrModelLoad", err)
	}
}
