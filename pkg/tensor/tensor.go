// Package tensor holds dense row-major float32 tensors exchanged between
// inference backends and the decoder.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when data does not match a shape.
var ErrShape = errors.New("tensor: shape mismatch")

// F32 is a dense row-major float32 tensor.
type F32 struct {
	Shape []int64
	Data  []float32
}

// New returns a tensor over data, which must hold exactly the number of
// elements in shape.
func New(shape []int64, data []float32) (F32, error) {
	n, err := numel(shape)
	if err != nil {
		return F32{}, err
	}
	if int64(len(data)) != n {
		return F32{}, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return F32{Shape: append([]int64(nil), shape...), Data: data}, nil
}

// Zeros returns a zero-filled tensor of the given shape.
func Zeros(shape ...int64) F32 {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return F32{Shape: append([]int64(nil), shape...), Data: make([]float32, n)}
}

func numel(shape []int64) (int64, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of elements.
func (t F32) Len() int {
	return len(t.Data)
}

// Rank returns the number of dimensions.
func (t F32) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of axis i, or 0 when i is out of range.
func (t F32) Dim(i int) int64 {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Empty reports whether the tensor holds no elements.
func (t F32) Empty() bool {
	return len(t.Data) == 0
}

// Bytes returns the size of the data in bytes.
func (t F32) Bytes() int {
	return len(t.Data) * 4
}

// Narrow returns a copy of t restricted to [start, start+length) on axis.
func (t F32) Narrow(axis int, start, length int64) (F32, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return F32{}, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShape, axis, len(t.Shape))
	}
	if start < 0 || length < 0 || start+length > t.Shape[axis] {
		return F32{}, fmt.Errorf("%w: narrow [%d,%d) on axis %d of size %d", ErrShape, start, start+length, axis, t.Shape[axis])
	}
	outer := int64(1)
	for _, d := range t.Shape[:axis] {
		outer *= d
	}
	inner := int64(1)
	for _, d := range t.Shape[axis+1:] {
		inner *= d
	}
	shape := append([]int64(nil), t.Shape...)
	shape[axis] = length
	out := make([]float32, outer*length*inner)
	stride := t.Shape[axis] * inner
	for o := int64(0); o < outer; o++ {
		src := t.Data[o*stride+start*inner : o*stride+(start+length)*inner]
		copy(out[o*length*inner:], src)
	}
	return F32{Shape: shape, Data: out}, nil
}

// Concat joins a and b along axis. All other dimensions must match.
func Concat(axis int, a, b F32) (F32, error) {
	if len(a.Shape) != len(b.Shape) {
		return F32{}, fmt.Errorf("%w: concat rank %d with rank %d", ErrShape, len(a.Shape), len(b.Shape))
	}
	if axis < 0 || axis >= len(a.Shape) {
		return F32{}, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShape, axis, len(a.Shape))
	}
	for i := range a.Shape {
		if i != axis && a.Shape[i] != b.Shape[i] {
			return F32{}, fmt.Errorf("%w: concat %v with %v on axis %d", ErrShape, a.Shape, b.Shape, axis)
		}
	}
	outer := int64(1)
	for _, d := range a.Shape[:axis] {
		outer *= d
	}
	inner := int64(1)
	for _, d := range a.Shape[axis+1:] {
		inner *= d
	}
	shape := append([]int64(nil), a.Shape...)
	shape[axis] = a.Shape[axis] + b.Shape[axis]
	out := make([]float32, 0, outer*shape[axis]*inner)
	sa, sb := a.Shape[axis]*inner, b.Shape[axis]*inner
	for o := int64(0); o < outer; o++ {
		out = append(out, a.Data[o*sa:(o+1)*sa]...)
		out = append(out, b.Data[o*sb:(o+1)*sb]...)
	}
	return F32{Shape: shape, Data: out}, nil
}

// Row returns the last-axis slice at the given leading index. For a tensor of
// shape [1, T, V] Row(T-1) returns the V logits of the final step.
func (t F32) Row(i int64) ([]float32, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("%w: scalar has no rows", ErrShape)
	}
	width := t.Shape[len(t.Shape)-1]
	rows := int64(len(t.Data))
	if width > 0 {
		rows /= width
	}
	if i < 0 || i >= rows {
		return nil, fmt.Errorf("%w: row %d out of %d", ErrShape, i, rows)
	}
	return t.Data[i*width : (i+1)*width], nil
}

// LastRow returns the final last-axis slice.
func (t F32) LastRow() ([]float32, error) {
	if len(t.Shape) == 0 || t.Shape[len(t.Shape)-1] == 0 {
		return nil, fmt.Errorf("%w: no rows in %v", ErrShape, t.Shape)
	}
	return t.Row(int64(len(t.Data))/t.Shape[len(t.Shape)-1] - 1)
}

// Argmax returns the index of the largest value in v, or -1 for an empty
// slice. NaN values are ignored.
func Argmax(v []float32) int {
	best := -1
	bestV := float32(math.Inf(-1))
	for i, x := range v {
		if x != x {
			continue
		}
		if best < 0 || x > bestV {
			best, bestV = i, x
		}
	}
	return best
}

// LogSoftmax returns the log-probability of index i under softmax(v).
func LogSoftmax(v []float32, i int) float64 {
	maxV := math.Inf(-1)
	for _, x := range v {
		if float64(x) > maxV {
			maxV = float64(x)
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x) - maxV)
	}
	return float64(v[i]) - maxV - math.Log(sum)
}
