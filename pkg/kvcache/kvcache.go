// Package kvcache bounds the decoder self-attention key/value cache during
// autoregressive decoding.
//
// Every layer stores key and value tensors laid out as
// [batch, heads, time, head_dim]. A Manager is consulted after each decode
// step and trims the time axis according to its Strategy.
package kvcache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xkeyC/fl-caption/pkg/tensor"
)

// TimeAxis is the index of the sequence dimension in cached tensors.
const TimeAxis = 2

// Strategy selects how the cache is bounded.
type Strategy int

const (
	// SlidingWindow drops the oldest steps once the cache exceeds MaxLength.
	SlidingWindow Strategy = iota
	// Reset discards the whole cache once it reaches MaxLength.
	Reset
	// Unlimited never trims.
	Unlimited
)

// String returns the configuration name of s.
func (s Strategy) String() string {
	switch s {
	case SlidingWindow:
		return "sliding_window"
	case Reset:
		return "reset"
	case Unlimited:
		return "unlimited"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses a strategy name as produced by String. The empty
// string selects SlidingWindow.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "sliding_window":
		return SlidingWindow, nil
	case "reset":
		return Reset, nil
	case "unlimited":
		return Unlimited, nil
	}
	return 0, fmt.Errorf("kvcache: unknown strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("kvcache: invalid config")

// Config bounds the cache.
type Config struct {
	Strategy  Strategy `yaml:"strategy"`
	MaxLength int      `yaml:"max_length"`
	// Step is how many steps below MaxLength a sliding window trims to, so
	// that trimming happens once per Step decode steps rather than every step.
	Step int `yaml:"step"`
}

// DefaultConfig returns a sliding window of 1024 steps trimmed by 256.
func DefaultConfig() Config {
	return Config{Strategy: SlidingWindow, MaxLength: 1024, Step: 256}
}

// Validate checks the bounds required by the strategy.
func (c Config) Validate() error {
	switch c.Strategy {
	case Unlimited:
		return nil
	case Reset:
		if c.MaxLength <= 0 {
			return fmt.Errorf("%w: max_length must be positive", ErrInvalidConfig)
		}
	case SlidingWindow:
		if c.MaxLength <= 0 {
			return fmt.Errorf("%w: max_length must be positive", ErrInvalidConfig)
		}
		if c.Step <= 0 || c.Step >= c.MaxLength {
			return fmt.Errorf("%w: step must be in (0, max_length), got %d", ErrInvalidConfig, c.Step)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidConfig, int(c.Strategy))
	}
	return nil
}

// Layer is the cached self-attention state of one decoder layer.
type Layer struct {
	Key   tensor.F32
	Value tensor.F32
}

// Cache is the per-layer decoder cache of one decode.
type Cache struct {
	Layers []Layer
}

// Len returns the cached sequence length, taken from the first layer.
func (c *Cache) Len() int64 {
	if c == nil || len(c.Layers) == 0 {
		return 0
	}
	return c.Layers[0].Key.Dim(TimeAxis)
}

// Bytes returns the memory held by the cached tensors.
func (c *Cache) Bytes() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, l := range c.Layers {
		n += l.Key.Bytes() + l.Value.Bytes()
	}
	return n
}

// Clear drops all cached layers.
func (c *Cache) Clear() {
	c.Layers = nil
}

// Manager applies a Config to caches. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
}

// NewManager returns a manager for cfg.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reconfigure replaces the configuration and clears cache, if non-nil.
func (m *Manager) Reconfigure(cfg Config, cache *Cache) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	if cache != nil {
		cache.Clear()
	}
	m.logger.Debug("kv cache reconfigured", "strategy", cfg.Strategy, "max_length", cfg.MaxLength, "step", cfg.Step)
	return nil
}

// Bound trims cache in place for a decode that has reached seqLen steps and
// returns the sequence length after trimming.
func (m *Manager) Bound(cache *Cache, seqLen int) (int, error) {
	cfg := m.Config()
	switch cfg.Strategy {
	case Reset:
		if seqLen < cfg.MaxLength {
			return seqLen, nil
		}
		for i := range cache.Layers {
			k, err := cache.Layers[i].Key.Narrow(TimeAxis, 0, 0)
			if err != nil {
				return seqLen, err
			}
			v, err := cache.Layers[i].Value.Narrow(TimeAxis, 0, 0)
			if err != nil {
				return seqLen, err
			}
			cache.Layers[i] = Layer{Key: k, Value: v}
		}
		m.logger.Debug("kv cache reset", "seq_len", seqLen)
		return 0, nil

	case SlidingWindow:
		if seqLen <= cfg.MaxLength {
			return seqLen, nil
		}
		trim := int64(seqLen - (cfg.MaxLength - cfg.Step))
		for i := range cache.Layers {
			k, err := dropFront(cache.Layers[i].Key, trim)
			if err != nil {
				return seqLen, err
			}
			v, err := dropFront(cache.Layers[i].Value, trim)
			if err != nil {
				return seqLen, err
			}
			cache.Layers[i] = Layer{Key: k, Value: v}
		}
		m.logger.Debug("kv cache trimmed", "seq_len", seqLen, "trimmed", trim)
		return seqLen - int(trim), nil
	}
	return seqLen, nil
}

func dropFront(t tensor.F32, n int64) (tensor.F32, error) {
	size := t.Dim(TimeAxis)
	if size <= n {
		return t.Narrow(TimeAxis, size, 0)
	}
	return t.Narrow(TimeAxis, n, size-n)
}
