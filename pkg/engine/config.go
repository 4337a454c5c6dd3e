package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/session"

	"github.com/goccy/go-yaml"
)

// VADKind selects the voice activity detector.
type VADKind string

const (
	VADNone   VADKind = "none"
	VADSilero VADKind = "silero"
	VADEnergy VADKind = "energy"
)

// DefaultFullScale is the RMS the energy detector maps to probability 1.
const DefaultFullScale = 0.05

// VADConfig configures the optional speech gate.
type VADConfig struct {
	// Kind defaults to silero when Model is set and none otherwise.
	Kind      VADKind `yaml:"kind,omitempty"`
	Model     string  `yaml:"model,omitempty"`
	Threshold float32 `yaml:"threshold,omitempty"`
	FullScale float64 `yaml:"full_scale,omitempty"`
}

// Config is a complete caption engine configuration.
//
//	family: onnx-whisper
//	models:
//	  encoder: whisper/encoder_model.onnx
//	  decoder: whisper/decoder_model.onnx
//	  decoder_with_past: whisper/decoder_with_past_model.onnx
//	  tokenizer: whisper/tokenizer.json
//	asr:
//	  task: transcribe
//	vad:
//	  model: silero_vad.onnx
//	capture:
//	  direction: output
//	session:
//	  language: ja
//	  inference_interval: 2s
//
// Relative model paths are resolved against the directory of the file.
type Config struct {
	Family  asr.Family      `yaml:"family"`
	Models  asr.Models      `yaml:"models"`
	ASR     asr.Options     `yaml:"asr,omitempty"`
	VAD     VADConfig       `yaml:"vad,omitempty"`
	Capture capture.Config  `yaml:"capture,omitempty"`
	Session session.Options `yaml:"session,omitempty"`
}

// DefaultFamily is used when Config.Family is empty.
const DefaultFamily = asr.FamilyONNXWhisper

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("engine: %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// ParseConfig decodes YAML config data. Paths are left as written.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	models := make(asr.Models, len(c.Models))
	for k, v := range c.Models {
		models[k] = abs(v)
	}
	c.Models = models
	c.VAD.Model = abs(c.VAD.Model)
}

// WithDefaults returns c with zero fields filled. The session language
// falls back to the backend language hint.
func (c Config) WithDefaults() Config {
	if c.Family == "" {
		c.Family = DefaultFamily
	}
	if c.Session.Language == "" {
		c.Session.Language = c.ASR.Language
	}
	if c.VAD.Kind == "" {
		c.VAD.Kind = VADNone
		if c.VAD.Model != "" {
			c.VAD.Kind = VADSilero
		}
	}
	if c.VAD.Kind == VADEnergy && c.VAD.FullScale <= 0 {
		c.VAD.FullScale = DefaultFullScale
	}
	c.ASR = c.ASR.WithDefaults()
	c.Capture = c.Capture.WithDefaults()
	c.Session = c.Session.WithDefaults()
	return c
}

// Validate reports configuration errors that would make Launch fail before
// any model is loaded.
func (c Config) Validate() error {
	c = c.WithDefaults()
	var errs []error
	if !slices.Contains(asr.Families(), c.Family) {
		errs = append(errs, fmt.Errorf("%w: %q", asr.ErrUnknownFamily, c.Family))
	}
	switch c.ASR.Task {
	case asr.Transcribe, asr.Translate:
	default:
		errs = append(errs, fmt.Errorf("unknown task %q", c.ASR.Task))
	}
	switch c.VAD.Kind {
	case VADNone, VADEnergy:
	case VADSilero:
		if c.VAD.Model == "" {
			errs = append(errs, errors.New("vad: silero needs a model path"))
		}
	default:
		errs = append(errs, fmt.Errorf("vad: unknown kind %q", c.VAD.Kind))
	}
	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad: threshold must be between 0 and 1, got %v", c.VAD.Threshold))
	}
	if c.Capture.TargetSampleRate != asr.SampleRate {
		errs = append(errs, fmt.Errorf("capture: sample rate must be %d, got %d", asr.SampleRate, c.Capture.TargetSampleRate))
	}
	if c.Capture.TargetChannels != 1 {
		errs = append(errs, fmt.Errorf("capture: channels must be 1, got %d", c.Capture.TargetChannels))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
