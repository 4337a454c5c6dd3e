package onnx

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ModelID is the logical name of a model file.
type ModelID string

const (
	// ModelEncoder maps log-mel features to encoder hidden states.
	// Input "input_features": [1, n_mels, 3000]
	// Output "last_hidden_state": [1, 1500, d_model]
	ModelEncoder ModelID = "encoder"

	// ModelDecoder runs the prompt pass and emits the initial cache.
	ModelDecoder ModelID = "decoder"

	// ModelDecoderWithPast runs single-token steps against a cache.
	ModelDecoderWithPast ModelID = "decoder_with_past"

	// ModelSenseVoice is a CTC model with language, emotion and event tags.
	ModelSenseVoice ModelID = "sense_voice"

	// ModelVAD is the Silero voice activity model.
	// Inputs "input": [1, 576], "state": [2, 1, 128], "sr": [1] int64
	// Outputs "output": [1, 1], "stateN": [2, 1, 128]
	ModelVAD ModelID = "vad"
)

// ErrModelNotFound is returned when a locator has no entry for a model.
var ErrModelNotFound = errors.New("onnx: model not found")

// Locator maps logical model names to file paths.
type Locator map[ModelID]string

// Path returns the file registered for id.
func (l Locator) Path(id ModelID) (string, error) {
	p, ok := l[id]
	if !ok || p == "" {
		return "", fmt.Errorf("%w: %q", ErrModelNotFound, id)
	}
	return p, nil
}

// Has reports whether id is present and non-empty.
func (l Locator) Has(id ModelID) bool {
	return l[id] != ""
}

// Check verifies that every id is present and its file exists.
func (l Locator) Check(ids ...ModelID) error {
	for _, id := range ids {
		p, err := l.Path(id)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("onnx: model %q: %w", id, err)
		}
	}
	return nil
}

// ModelInfo describes an in-memory model.
type ModelInfo struct {
	ID   ModelID
	Data []byte // .onnx file content
}

var (
	registryMu sync.RWMutex
	registry   = make(map[ModelID]*ModelInfo)
)

// RegisterModel registers in-memory ONNX model data under id. Registered
// models take precedence over locator paths in LoadModel.
func RegisterModel(id ModelID, data []byte) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = &ModelInfo{ID: id, Data: data}
}

// UnregisterModel removes a registered model.
func UnregisterModel(id ModelID) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// GetModelData returns the raw ONNX model data for a registered model.
func GetModelData(id ModelID) ([]byte, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[id]
	if !ok {
		return nil, false
	}
	return info.Data, true
}

// ListModels returns the IDs of all registered models, sorted.
func ListModels() []ModelID {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]ModelID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LoadModel creates a session for id, preferring registered data over the
// file named by l.
func LoadModel(env *Env, l Locator, id ModelID, opts *SessionOptions) (*Session, error) {
	if data, ok := GetModelData(id); ok {
		return env.NewSession(data, opts)
	}
	p, err := l.Path(id)
	if err != nil {
		return nil, err
	}
	return env.NewSessionFromFile(p, opts)
}
