package onnx

import (
	"sync"

	"github.com/xkeyC/fl-caption/pkg/tensor"
)

// FromF32 creates a float32 tensor holding a copy of t.
func FromF32(t tensor.F32) (*Tensor, error) {
	return NewTensor(t.Shape, t.Data)
}

// F32 copies the tensor into a tensor.F32.
func (t *Tensor) F32() (tensor.F32, error) {
	shape, err := t.Shape()
	if err != nil {
		return tensor.F32{}, err
	}
	data, err := t.FloatData()
	if err != nil {
		return tensor.F32{}, err
	}
	return tensor.New(shape, data)
}

var defaultEnv struct {
	once sync.Once
	env  *Env
	err  error
}

// DefaultEnv returns the process-wide environment, creating it on first use.
func DefaultEnv() (*Env, error) {
	defaultEnv.once.Do(func() {
		defaultEnv.env, defaultEnv.err = NewEnv("fl-caption")
	})
	return defaultEnv.env, defaultEnv.err
}
