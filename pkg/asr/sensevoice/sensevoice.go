// Package sensevoice runs the SenseVoice CTC model, which tags its output
// with language, emotion, audio event and text normalisation markers.
//
// Features are 80-bin Kaldi filterbanks over int16-scaled audio, stacked by
// low frame rate (LFR) windows and normalised with CMVN statistics read from
// the model metadata.
package sensevoice

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/fbank"
	"github.com/xkeyC/fl-caption/pkg/onnx"
	"github.com/xkeyC/fl-caption/pkg/tensor"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
	"github.com/xkeyC/fl-caption/pkg/transcript"
)

func init() {
	asr.Register(asr.FamilySenseVoice, Open)
}

// Model file names understood by Open.
const (
	ModelSenseVoice = string(onnx.ModelSenseVoice)
	// ModelTokens is a tokens.txt vocabulary.
	ModelTokens = "tokenizer"
)

const blankID = 0

// defaultLanguages is used when the model metadata carries no lang_* keys.
var defaultLanguages = map[string]int32{
	"auto": 0, "zh": 3, "en": 4, "yue": 7, "ja": 11, "ko": 12, "nospeech": 13,
}

// Metadata holds the front-end and prompt parameters of a model.
type Metadata struct {
	LFRWindowSize  int
	LFRWindowShift int
	WithITN        int32
	WithoutITN     int32
	NegMean        []float32
	InvStddev      []float32
	Languages      map[string]int32
}

// FeatureDim returns the width of one LFR frame.
func (m Metadata) FeatureDim() int {
	return fbank.SenseVoiceConfig().NumMels * m.LFRWindowSize
}

// metadataSource is satisfied by *onnx.Session.
type metadataSource interface {
	Metadata(key string) (string, bool, error)
}

// ReadMetadata reads model metadata. Absent keys keep their defaults;
// present but malformed values fail with asr.ErrModelLoad.
func ReadMetadata(src metadataSource) (Metadata, error) {
	md := Metadata{LFRWindowSize: 7, LFRWindowShift: 6, WithITN: 14, WithoutITN: 15}
	ints := []struct {
		key string
		dst func(int)
	}{
		{"lfr_window_size", func(v int) { md.LFRWindowSize = v }},
		{"lfr_window_shift", func(v int) { md.LFRWindowShift = v }},
		{"with_itn", func(v int) { md.WithITN = int32(v) }},
		{"without_itn", func(v int) { md.WithoutITN = int32(v) }},
	}
	for _, f := range ints {
		v, ok, err := src.Metadata(f.key)
		if err != nil {
			return md, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return md, fmt.Errorf("%w: metadata %s=%q", asr.ErrModelLoad, f.key, v)
		}
		f.dst(n)
	}
	if md.LFRWindowSize <= 0 || md.LFRWindowShift <= 0 {
		return md, fmt.Errorf("%w: lfr window %d/%d", asr.ErrModelLoad, md.LFRWindowSize, md.LFRWindowShift)
	}

	dim := md.FeatureDim()
	var err error
	if md.NegMean, err = floatList(src, "neg_mean", dim, 0); err != nil {
		return md, err
	}
	if md.InvStddev, err = floatList(src, "inv_stddev", dim, 1); err != nil {
		return md, err
	}

	md.Languages = map[string]int32{}
	for _, code := range []string{"auto", "zh", "en", "yue", "ja", "ko", "nospeech"} {
		v, ok, err := src.Metadata("lang_" + code)
		if err != nil {
			return md, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return md, fmt.Errorf("%w: metadata lang_%s=%q", asr.ErrModelLoad, code, v)
		}
		md.Languages[code] = int32(n)
	}
	if len(md.Languages) == 0 {
		md.Languages = defaultLanguages
	}
	return md, nil
}

func floatList(src metadataSource, key string, dim int, fill float32) ([]float32, error) {
	v, ok, err := src.Metadata(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	out := make([]float32, dim)
	if !ok {
		for i := range out {
			out[i] = fill
		}
		return out, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != dim {
		return nil, fmt.Errorf("%w: metadata %s has %d values, want %d", asr.ErrModelLoad, key, len(parts), dim)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %s[%d]=%q", asr.ErrModelLoad, key, i, p)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Model is an asr.Backend over a SenseVoice session.
type Model struct {
	session *onnx.Session
	output  string
	md      Metadata
	fbank   *fbank.Extractor
	tok     *tokenizer.Tokenizer
	opts    asr.Options
	logger  *slog.Logger
}

var _ asr.Backend = (*Model)(nil)

// New wraps a loaded session. The model takes ownership of session.
func New(session *onnx.Session, tok *tokenizer.Tokenizer, opts asr.Options) (*Model, error) {
	opts = opts.WithDefaults()
	md, err := ReadMetadata(session)
	if err != nil {
		return nil, err
	}
	outputs, err := session.OutputNames()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model has no outputs", asr.ErrModelLoad)
	}
	output := outputs[0]
	for _, name := range outputs {
		if name == "logits" {
			output = name
		}
	}
	m := &Model{
		session: session,
		output:  output,
		md:      md,
		fbank:   fbank.New(fbank.SenseVoiceConfig()),
		tok:     tok,
		opts:    opts,
		logger:  opts.Logger.With("family", asr.FamilySenseVoice),
	}
	if _, err := m.languageID(opts.Language); err != nil {
		return nil, err
	}
	m.logger.Info("sense voice model loaded",
		"lfr_m", md.LFRWindowSize, "lfr_n", md.LFRWindowShift,
		"with_itn", md.WithITN, "without_itn", md.WithoutITN,
		"languages", len(md.Languages), "providers", session.Providers())
	return m, nil
}

func (m *Model) languageID(lang string) (int32, error) {
	if asr.AutoLanguage(lang) {
		lang = "auto"
	}
	id, ok := m.md.Languages[lang]
	if !ok {
		return 0, fmt.Errorf("%w: %q", asr.ErrUnsupportedLanguage, lang)
	}
	return id, nil
}

// Features computes the normalised LFR features of pcm, [T][FeatureDim].
func (m *Model) Features(pcm []float32) [][]float32 {
	frames := m.fbank.Extract(pcm)
	lfr := fbank.LFR(frames, m.md.LFRWindowSize, m.md.LFRWindowShift)
	fbank.ApplyCMVN(lfr, m.md.NegMean, m.md.InvStddev)
	return lfr
}

// Transcribe implements asr.Backend.
func (m *Model) Transcribe(ctx context.Context, pcm []float32, lang string) (transcript.Segment, error) {
	if asr.AutoLanguage(lang) {
		lang = m.opts.Language
	}
	langID, err := m.languageID(lang)
	if err != nil {
		return transcript.Segment{}, err
	}
	if err := ctx.Err(); err != nil {
		return transcript.Segment{}, err
	}

	seg := transcript.Segment{
		Duration: float64(len(pcm)) / asr.SampleRate,
		Status:   transcript.Working,
	}
	feats := m.Features(pcm)
	if len(feats) == 0 {
		return seg, nil
	}
	logits, err := m.run(feats, langID)
	if err != nil {
		return transcript.Segment{}, asr.InferenceError(err)
	}

	ids, sumLogprob, err := greedyCTC(logits)
	if err != nil {
		return transcript.Segment{}, asr.InferenceError(err)
	}
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if tok, ok := m.tok.Token(id); ok {
			tokens = append(tokens, tok)
		}
	}
	out := Parse(tokens)

	seg.Text = out.Text
	seg.Tokens = ids
	seg.Language = out.Language
	seg.Emotion = out.Emotion
	seg.Event = out.Event
	seg.CompressionRatio = transcript.CompressionRatio(out.Text)
	if len(ids) > 0 {
		seg.AvgLogprob = sumLogprob / float64(len(ids))
	}
	if out.Language == "nospeech" {
		seg.NoSpeechProb = 1
	}
	m.logger.Debug("sense voice parsed output",
		"language", out.Language, "emotion", out.Emotion, "event", out.Event,
		"text_norm", out.TextNorm, "emoji", out.Emoji, "frames", len(feats))
	return seg, nil
}

func (m *Model) run(feats [][]float32, langID int32) (tensor.F32, error) {
	T := int64(len(feats))
	x, err := onnx.NewTensor([]int64{1, T, int64(m.md.FeatureDim())}, fbank.Flatten(feats))
	if err != nil {
		return tensor.F32{}, err
	}
	defer x.Close()
	xLen, err := onnx.NewInt32Tensor([]int64{1}, []int32{int32(T)})
	if err != nil {
		return tensor.F32{}, err
	}
	defer xLen.Close()
	language, err := onnx.NewInt32Tensor([]int64{1}, []int32{langID})
	if err != nil {
		return tensor.F32{}, err
	}
	defer language.Close()
	norm := m.md.WithoutITN
	if m.opts.UseITN {
		norm = m.md.WithITN
	}
	textNorm, err := onnx.NewInt32Tensor([]int64{1}, []int32{norm})
	if err != nil {
		return tensor.F32{}, err
	}
	defer textNorm.Close()

	outs, err := m.session.Run(
		[]string{"x", "x_length", "language", "text_norm"},
		[]*onnx.Tensor{x, xLen, language, textNorm},
		[]string{m.output},
	)
	if err != nil {
		return tensor.F32{}, err
	}
	defer onnx.CloseAll(outs)
	return outs[0].F32()
}

// greedyCTC takes the best token per frame, collapses repeats and drops
// blanks. It accepts [1, T, V] or [T, V] logits.
func greedyCTC(logits tensor.F32) ([]int64, float64, error) {
	switch {
	case logits.Rank() == 3 && logits.Dim(0) == 1:
	case logits.Rank() == 2:
	default:
		return nil, 0, fmt.Errorf("sensevoice: logits have shape %v", logits.Shape)
	}
	vocab := logits.Dim(logits.Rank() - 1)
	if vocab == 0 {
		return nil, 0, fmt.Errorf("sensevoice: empty vocabulary axis")
	}
	frames := int64(logits.Len()) / vocab

	var ids []int64
	var sum float64
	prev := int64(-1)
	for f := int64(0); f < frames; f++ {
		row := logits.Data[f*vocab : (f+1)*vocab]
		best := tensor.Argmax(row)
		if best < 0 {
			return nil, 0, fmt.Errorf("sensevoice: frame %d has no finite logits", f)
		}
		id := int64(best)
		if id != prev && id != blankID {
			ids = append(ids, id)
			lp := tensor.LogSoftmax(row, best)
			if !math.IsInf(lp, 0) && !math.IsNaN(lp) {
				sum += lp
			}
		}
		prev = id
	}
	return ids, sum, nil
}

// Close releases the session.
func (m *Model) Close() error {
	return m.session.Close()
}

// Open loads the sense_voice model and tokens.txt named in models.
func Open(models asr.Models, opts asr.Options) (asr.Backend, error) {
	opts = opts.WithDefaults()
	logger := opts.Logger.With("family", asr.FamilySenseVoice)

	tokPath, err := models.Path(ModelTokens)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(tokPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	env, err := onnx.DefaultEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	providers, err := onnx.ResolveProviders(opts.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	loc := onnx.Locator{}
	for k, v := range models {
		loc[onnx.ModelID(k)] = v
	}
	session, err := onnx.LoadModel(env, loc, onnx.ModelSenseVoice,
		&onnx.SessionOptions{Providers: providers, IntraOpThreads: opts.Threads, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asr.ErrModelLoad, err)
	}
	m, err := New(session, tok, opts)
	if err != nil {
		session.Close()
		return nil, err
	}
	return m, nil
}
