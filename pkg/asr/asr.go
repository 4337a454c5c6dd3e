// Package asr defines speech recognition backends for the caption session.
//
// A Backend turns a window of 16 kHz mono PCM into one transcript.Segment.
// Autoregressive model families implement Model and are driven by the shared
// greedy Decoder; CTC and native families implement Backend directly.
//
// Families register themselves with Register and are opened by name:
//
//	b, err := asr.Open(asr.FamilyONNXWhisper, asr.Models{"encoder": ..., "decoder": ...}, opts)
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/transcript"
)

var (
	// ErrModelLoad is returned when model files or metadata are missing or
	// malformed. It is fatal for the session.
	ErrModelLoad = errors.New("asr: model load failed")

	// ErrUnsupportedLanguage is returned when a language is requested that
	// the model cannot produce.
	ErrUnsupportedLanguage = errors.New("asr: unsupported language")

	// ErrInference is returned when a forward pass fails or yields malformed
	// tensors. It is recoverable: the next window may succeed.
	ErrInference = errors.New("asr: inference failed")

	// ErrUnknownFamily is returned by Open for unregistered families.
	ErrUnknownFamily = errors.New("asr: unknown model family")
)

// SampleRate is the input rate of every backend.
const SampleRate = 16000

// Backend transcribes PCM windows. Transcribe calls are serialised by the
// caller; implementations need not be safe for concurrent use.
type Backend interface {
	// Transcribe returns the transcript of pcm. An empty lang or "auto"
	// lets the backend choose.
	Transcribe(ctx context.Context, pcm []float32, lang string) (transcript.Segment, error)
	Close() error
}

// Family names a model family.
type Family string

const (
	FamilyONNXWhisper Family = "onnx-whisper"
	FamilySenseVoice  Family = "sense-voice-onnx"
	FamilyWhisperGGML Family = "whisper-ggml"
	FamilyStub        Family = "stub"
)

// Models maps logical model names ("encoder", "decoder", "tokenizer", ...)
// to file paths.
type Models map[string]string

// Path returns the path registered under name.
func (m Models) Path(name string) (string, error) {
	p, ok := m[name]
	if !ok || p == "" {
		return "", fmt.Errorf("%w: no %q model configured", ErrModelLoad, name)
	}
	return p, nil
}

// Task selects transcription or translation to English.
type Task string

const (
	Transcribe Task = "transcribe"
	Translate  Task = "translate"
)

// Options configure a backend.
type Options struct {
	// Language is the default language hint. Empty or "auto" detects.
	Language string `yaml:"language"`
	Task     Task   `yaml:"task"`

	// MaxTokens bounds the tokens decoded per window.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature above zero samples from the scaled distribution instead
	// of taking the argmax.
	Temperature float64 `yaml:"temperature"`
	Seed        uint64  `yaml:"seed"`

	KVCache kvcache.Config `yaml:"kv_cache"`

	// Providers lists execution providers to try, in order. Empty selects
	// the platform chain.
	Providers []string `yaml:"providers"`
	Threads   int      `yaml:"threads"`

	// UseITN enables inverse text normalisation where supported.
	UseITN bool `yaml:"use_itn"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultMaxTokens is the per-window token budget.
const DefaultMaxTokens = 256

// DefaultSeed seeds sampling when Temperature is above zero.
const DefaultSeed = 299792458

// WithDefaults returns o with zero fields replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.Task == "" {
		o.Task = Transcribe
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.KVCache == (kvcache.Config{}) {
		o.KVCache = kvcache.DefaultConfig()
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// AutoLanguage reports whether lang asks for detection.
func AutoLanguage(lang string) bool {
	return lang == "" || lang == "auto"
}

// Opener constructs a backend of one family.
type Opener func(models Models, opts Options) (Backend, error)

var (
	familiesMu sync.RWMutex
	families   = map[Family]Opener{}
)

// Register makes a family available to Open. It replaces any previous
// registration of the same family.
func Register(f Family, open Opener) {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	families[f] = open
}

// Families returns the registered families, sorted.
func Families() []Family {
	familiesMu.RLock()
	defer familiesMu.RUnlock()
	out := make([]Family, 0, len(families))
	for f := range families {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Open constructs a backend of family f.
func Open(f Family, models Models, opts Options) (Backend, error) {
	familiesMu.RLock()
	open, ok := families[f]
	familiesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}
	opts = opts.WithDefaults()
	if opts.Task != Transcribe && opts.Task != Translate {
		return nil, fmt.Errorf("%w: unknown task %q", ErrModelLoad, opts.Task)
	}
	if err := opts.KVCache.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return open(models, opts)
}

// InferenceError wraps err with ErrInference unless it already carries it
// or is a context error.
func InferenceError(err error) error {
	if err == nil || errors.Is(err, ErrInference) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInference, err)
}
