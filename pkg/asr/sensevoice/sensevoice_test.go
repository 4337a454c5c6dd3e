package sensevoice

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/tensor"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   Output
	}{
		{
			name:   "tagged",
			tokens: []string{"<|en|>", "<|HAPPY|>", "<|BGM|>", "<|woitn|>", "▁hello", "▁world"},
			want:   Output{Language: "en", Emotion: "happy", Event: "bgm", TextNorm: "woitn", Text: "hello world", Emoji: "😊🎼"},
		},
		{
			name:   "neutral speech",
			tokens: []string{"<|zh|>", "<|NEUTRAL|>", "<|Speech|>", "<|withitn|>", "你好", "。"},
			want:   Output{Language: "zh", Emotion: "neutral", Event: "speech", TextNorm: "withitn", Text: "你好。"},
		},
		{
			name:   "unknown audio",
			tokens: []string{"<|nospeech|>", "<|Event_UNK|>"},
			want:   Output{Text: "❓"},
		},
		{
			name:   "unknown tags dropped",
			tokens: []string{"<|xx|>", "▁ok"},
			want:   Output{Text: "ok"},
		},
		{
			name:   "unterminated tag kept as text",
			tokens: []string{"<|en|>", "▁a", "<|b"},
			want:   Output{Language: "en", Text: "a<|b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.tokens); got != tt.want {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEmoji(t *testing.T) {
	if got := Emoji("sad", "applause"); got != "😔👏" {
		t.Errorf("Emoji = %q", got)
	}
	if got := Emoji("", "speech"); got != "" {
		t.Errorf("Emoji for plain speech = %q", got)
	}
}

func TestGreedyCTC(t *testing.T) {
	// vocab 4, blank 0; frames pick 2 2 0 2 3 3 1
	picks := []int{2, 2, 0, 2, 3, 3, 1}
	data := make([]float32, 0, len(picks)*4)
	for _, p := range picks {
		row := make([]float32, 4)
		row[p] = 5
		data = append(data, row...)
	}
	logits, _ := tensor.New([]int64{1, int64(len(picks)), 4}, data)
	ids, sum, err := greedyCTC(logits)
	if err != nil {
		t.Fatalf("greedyCTC: %v", err)
	}
	if !slices.Equal(ids, []int64{2, 2, 3, 1}) {
		t.Errorf("ids = %v, want [2 2 3 1]", ids)
	}
	if sum >= 0 {
		t.Errorf("sum of log probabilities = %v, want negative", sum)
	}

	flat, _ := tensor.New([]int64{int64(len(picks)), 4}, data)
	if ids2, _, err := greedyCTC(flat); err != nil || !slices.Equal(ids, ids2) {
		t.Errorf("rank-2 logits = %v, %v", ids2, err)
	}
	if _, _, err := greedyCTC(tensor.Zeros(2, 3, 4)); err == nil {
		t.Error("batch of 2 should be rejected")
	}
}

type fakeMetadata map[string]string

func (f fakeMetadata) Metadata(key string) (string, bool, error) {
	v, ok := f[key]
	return v, ok, nil
}

func TestReadMetadata(t *testing.T) {
	md, err := ReadMetadata(fakeMetadata{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if md.LFRWindowSize != 7 || md.LFRWindowShift != 6 || md.FeatureDim() != 560 {
		t.Errorf("md = %+v", md)
	}
	if md.Languages["auto"] != 0 || md.InvStddev[559] != 1 || md.NegMean[0] != 0 {
		t.Errorf("default statistics or languages wrong")
	}

	mean := strings.TrimSuffix(strings.Repeat("-1.5,", 80*3), ",")
	md, err = ReadMetadata(fakeMetadata{
		"lfr_window_size":  "3",
		"lfr_window_shift": "2",
		"with_itn":         "14",
		"neg_mean":         mean,
		"lang_en":          "4",
	})
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if md.FeatureDim() != 240 || md.NegMean[239] != -1.5 || md.Languages["en"] != 4 {
		t.Errorf("md = %+v", md)
	}
	if _, ok := md.Languages["zh"]; ok {
		t.Error("explicit language metadata should replace the defaults")
	}

	for _, bad := range []fakeMetadata{
		{"lfr_window_size": "seven"},
		{"lfr_window_shift": "0"},
		{"neg_mean": "1,2,3"},
		{"inv_stddev": strings.Repeat("x,", 559) + "x"},
	} {
		if _, err := ReadMetadata(bad); !errors.Is(err, asr.ErrModelLoad) {
			t.Errorf("ReadMetadata(%v): err = %v, want ErrModelLoad", bad, err)
		}
	}
}

func TestOpenMissingTokens(t *testing.T) {
	if _, err := Open(asr.Models{ModelSenseVoice: "model.onnx"}, asr.Options{}); !errors.Is(err, asr.ErrModelLoad) {
		t.Errorf("err = %v, want ErrModelLoad", err)
	}
}
