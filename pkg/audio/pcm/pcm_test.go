package pcm

import (
	"math"
	"testing"
	"time"
)

func TestMergeChannels(t *testing.T) {
	t.Run("mono identity", func(t *testing.T) {
		in := []float32{0.1, -0.2, 0.3}
		out := MergeChannels(in, 1)
		if len(out) != len(in) {
			t.Fatalf("len = %d, want %d", len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
			}
		}
		out[0] = 9
		if in[0] == 9 {
			t.Error("MergeChannels must not alias its input")
		}
	})

	t.Run("stereo average", func(t *testing.T) {
		out := MergeChannels([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
		want := []float32{0.5, 0.5, 0}
		if len(out) != len(want) {
			t.Fatalf("len = %d, want %d", len(out), len(want))
		}
		for i := range want {
			if out[i] != want[i] {
				t.Errorf("out[%d] = %f, want %f", i, out[i], want[i])
			}
		}
	})

	t.Run("partial trailing group", func(t *testing.T) {
		out := MergeChannels([]float32{0.3, 0.3, 0.3, 0.8}, 3)
		if len(out) != 2 {
			t.Fatalf("len = %d, want 2", len(out))
		}
		if math.Abs(float64(out[1]-0.8)) > 1e-6 {
			t.Errorf("out[1] = %f, want 0.8", out[1])
		}
	})

	t.Run("length is ceil", func(t *testing.T) {
		for n := 0; n < 20; n++ {
			for c := 1; c <= 6; c++ {
				got := len(MergeChannels(make([]float32, n), c))
				want := (n + c - 1) / c
				if got != want {
					t.Errorf("len(MergeChannels(%d, %d)) = %d, want %d", n, c, got, want)
				}
			}
		}
	})
}

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}
	if got := f.SamplesInDuration(time.Second); got != 96000 {
		t.Errorf("SamplesInDuration(1s) = %d, want 96000", got)
	}
	if got := f.Duration(96000); got != time.Second {
		t.Errorf("Duration(96000) = %v, want 1s", got)
	}
	if got := Mono16K.SamplesInDuration(3 * time.Second); got != 48000 {
		t.Errorf("Mono16K.SamplesInDuration(3s) = %d, want 48000", got)
	}
	if (Format{}).Valid() {
		t.Error("zero Format should be invalid")
	}
}

func TestInt16Conversion(t *testing.T) {
	in := []int16{0, 16384, -32768, 32767}
	f := Int16ToFloat32(in)
	if f[1] != 0.5 || f[2] != -1 {
		t.Errorf("Int16ToFloat32 = %v", f)
	}
	back := Float32ToInt16([]float32{0, 2, -2, 0.5})
	if back[1] != 32767 || back[2] != -32768 || back[3] != 16383 {
		t.Errorf("Float32ToInt16 = %v", back)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS(nil) should be 0")
	}
	if got := RMS([]float32{1, -1, 1, -1}); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS = %f, want 1", got)
	}
}
