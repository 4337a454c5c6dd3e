package onnxwhisper

import (
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/kvcache"
	"github.com/xkeyC/fl-caption/pkg/tensor"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"num_mel_bins": 128, "max_target_positions": 448, "vocab_size": 51866, "d_model": 1280}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.NumMelBins != 128 || cfg.MaxTargetPositions != 448 || cfg.VocabSize != 51866 {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg, err = ParseConfig([]byte(`{}`))
	if err != nil || cfg != DefaultConfig() {
		t.Errorf("empty config = %+v, %v", cfg, err)
	}
	for _, bad := range []string{`{"num_mel_bins": 64}`, `{"max_target_positions": 0}`, `not json`} {
		if _, err := ParseConfig([]byte(bad)); !errors.Is(err, asr.ErrModelLoad) {
			t.Errorf("ParseConfig(%s): err = %v, want ErrModelLoad", bad, err)
		}
	}
}

func TestCountLayers(t *testing.T) {
	inputs := []string{"input_ids"}
	inputs = append(inputs, pastNames(4)[1:]...)
	n, err := countLayers(inputs)
	if err != nil || n != 4 {
		t.Errorf("countLayers = %d, %v, want 4", n, err)
	}
	if _, err := countLayers([]string{"input_ids", "encoder_hidden_states"}); !errors.Is(err, asr.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}

func TestTensorNames(t *testing.T) {
	got := presentNames(1, true)
	want := []string{"logits", "present.0.decoder.key", "present.0.decoder.value", "present.0.encoder.key", "present.0.encoder.value"}
	if !slices.Equal(got, want) {
		t.Errorf("presentNames(1, true) = %v", got)
	}
	if got := presentNames(2, false); len(got) != 5 || got[3] != "present.1.decoder.key" {
		t.Errorf("presentNames(2, false) = %v", got)
	}
	past := pastNames(2)
	if len(past) != 9 || past[0] != "input_ids" || past[8] != "past_key_values.1.encoder.value" {
		t.Errorf("pastNames(2) = %v", past)
	}
}

func TestEmptyLike(t *testing.T) {
	cross := kvcache.Layer{Key: tensor.Zeros(1, 20, 1500, 64), Value: tensor.Zeros(1, 20, 1500, 64)}
	l := emptyLike(cross)
	if !slices.Equal(l.Key.Shape, []int64{1, 20, 0, 64}) || !l.Value.Empty() {
		t.Errorf("emptyLike = %v / %v", l.Key.Shape, l.Value.Shape)
	}
}

func TestOpenMissingModels(t *testing.T) {
	if _, err := Open(asr.Models{}, asr.Options{}); !errors.Is(err, asr.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}

// TestTranscribe runs a real export when FLCAPTION_WHISPER_ONNX names a
// directory holding encoder_model.onnx, decoder_model.onnx,
// decoder_with_past_model.onnx, tokenizer.json and config.json.
func TestTranscribe(t *testing.T) {
	dir := os.Getenv("FLCAPTION_WHISPER_ONNX")
	if dir == "" {
		t.Skip("FLCAPTION_WHISPER_ONNX not set")
	}
	b, err := asr.Open(asr.FamilyONNXWhisper, asr.Models{
		ModelEncoder:         dir + "/encoder_model.onnx",
		ModelDecoder:         dir + "/decoder_model.onnx",
		ModelDecoderWithPast: dir + "/decoder_with_past_model.onnx",
		ModelTokenizer:       dir + "/tokenizer.json",
		ModelConfig:          dir + "/config.json",
	}, asr.Options{Language: "en"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	seg, err := b.Transcribe(t.Context(), make([]float32, 2*asr.SampleRate), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	t.Logf("silence -> %q (no_speech_prob %.3f)", seg.Text, seg.NoSpeechProb)
}
