package tensor

import (
	"errors"
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	if _, err := New([]int64{2, 3}, make([]float32, 5)); !errors.Is(err, ErrShape) {
		t.Errorf("New with wrong length: err = %v, want ErrShape", err)
	}
	tt, err := New([]int64{2, 3}, make([]float32, 6))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tt.Rank() != 2 || tt.Dim(1) != 3 || tt.Dim(5) != 0 {
		t.Errorf("unexpected shape %v", tt.Shape)
	}
	z := Zeros(1, 4, 0, 8)
	if !z.Empty() || z.Dim(2) != 0 {
		t.Errorf("Zeros with a zero axis should be empty, got %d elements", z.Len())
	}
}

func TestNarrow(t *testing.T) {
	// shape [2, 3, 2]: values are their flat index
	data := make([]float32, 12)
	for i := range data {
		data[i] = float32(i)
	}
	x, _ := New([]int64{2, 3, 2}, data)

	got, err := x.Narrow(1, 1, 2)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	want := []float32{2, 3, 4, 5, 8, 9, 10, 11}
	if len(got.Data) != len(want) {
		t.Fatalf("len = %d, want %d", len(got.Data), len(want))
	}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("Data[%d] = %f, want %f", i, got.Data[i], want[i])
		}
	}
	if got.Shape[1] != 2 {
		t.Errorf("Shape = %v", got.Shape)
	}

	empty, err := x.Narrow(1, 3, 0)
	if err != nil {
		t.Fatalf("Narrow to zero length: %v", err)
	}
	if !empty.Empty() || empty.Shape[1] != 0 {
		t.Errorf("expected empty time axis, got %v", empty.Shape)
	}

	if _, err := x.Narrow(1, 2, 2); err == nil {
		t.Error("Narrow past the end should fail")
	}
	data[0] = 100
	if got.Data[0] == 100 {
		t.Error("Narrow must copy")
	}
}

func TestRows(t *testing.T) {
	x, _ := New([]int64{1, 2, 3}, []float32{0, 1, 2, 3, 9, 5})
	last, err := x.LastRow()
	if err != nil {
		t.Fatalf("LastRow: %v", err)
	}
	if Argmax(last) != 1 {
		t.Errorf("Argmax(last) = %d, want 1", Argmax(last))
	}
	if _, err := x.Row(2); err == nil {
		t.Error("Row(2) should be out of range")
	}
}

func TestArgmax(t *testing.T) {
	nan := float32(math.NaN())
	if Argmax(nil) != -1 {
		t.Error("Argmax(nil) should be -1")
	}
	if got := Argmax([]float32{nan, -3, -1, -2}); got != 2 {
		t.Errorf("Argmax = %d, want 2", got)
	}
	inf := float32(math.Inf(-1))
	if got := Argmax([]float32{inf, inf, 0}); got != 2 {
		t.Errorf("Argmax = %d, want 2", got)
	}
}

func TestLogSoftmax(t *testing.T) {
	v := []float32{1, 1}
	if got := LogSoftmax(v, 0); math.Abs(got-math.Log(0.5)) > 1e-9 {
		t.Errorf("LogSoftmax = %f, want %f", got, math.Log(0.5))
	}
}

func TestConcat(t *testing.T) {
	a, _ := New([]int64{2, 1, 2}, []float32{1, 2, 5, 6})
	b, _ := New([]int64{2, 2, 2}, []float32{3, 4, 3, 4, 7, 8, 7, 8})
	got, err := Concat(1, a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if got.Dim(1) != 3 {
		t.Fatalf("axis 1 = %d, want 3", got.Dim(1))
	}
	want := []float32{1, 2, 3, 4, 3, 4, 5, 6, 7, 8, 7, 8}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("Data = %v, want %v", got.Data, want)
		}
	}

	empty := Zeros(2, 0, 2)
	got, err = Concat(1, empty, a)
	if err != nil || got.Dim(1) != 1 || got.Len() != 4 {
		t.Errorf("Concat onto empty = %v, %v", got.Shape, err)
	}
	if _, err := Concat(0, a, b); !errors.Is(err, ErrShape) {
		t.Errorf("mismatched Concat: err = %v, want ErrShape", err)
	}
}
