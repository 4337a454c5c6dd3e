package transcript

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestStatusText(t *testing.T) {
	for _, s := range []Status{Working, Loading, Ready, Error, Exit} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Status
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Errorf("round trip %v = %v, %v", s, got, err)
		}
	}
	var s Status
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("unknown status should fail")
	}
	if Status(42).String() != "Status(42)" {
		t.Errorf("String() = %q", Status(42).String())
	}
}

func TestMarker(t *testing.T) {
	m := Marker(Error, errors.New("boom"))
	if m.Status != Error || m.Text != "boom" || !m.IsLifecycle() {
		t.Errorf("Marker = %+v", m)
	}
	if Marker(Exit, nil).Text != "" {
		t.Error("Exit marker should have no text")
	}
	if (Segment{Text: "hi"}).IsLifecycle() {
		t.Error("Working segment is not lifecycle")
	}
}

func TestSegmentJSON(t *testing.T) {
	seg := Segment{Text: "hello", Status: Working}.WithTiming(1500*time.Millisecond, 12*time.Second)
	b, err := json.Marshal(seg)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"status":"working"`, `"text":"hello"`, `"audio_duration":12000000000`} {
		if !strings.Contains(s, want) {
			t.Errorf("json %s missing %s", s, want)
		}
	}
}

func TestSegmentMsgpack(t *testing.T) {
	seg := Segment{Text: "你好", Tokens: []int64{1, 2}, Status: Ready, Language: "zh"}
	b, err := msgpack.Marshal(&seg)
	if err != nil {
		t.Fatal(err)
	}
	var got Segment
	if err := msgpack.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Text != seg.Text || got.Status != Ready || got.Language != "zh" || len(got.Tokens) != 2 {
		t.Errorf("msgpack round trip = %+v", got)
	}
}

func TestCompressionRatio(t *testing.T) {
	if CompressionRatio("") != 0 {
		t.Error("empty text should score 0")
	}
	repetitive := strings.Repeat("thank you ", 40)
	varied := "The quick brown fox jumps over the lazy dog."
	if CompressionRatio(repetitive) <= CompressionRatio(varied) {
		t.Errorf("repetitive text should compress better: %f vs %f",
			CompressionRatio(repetitive), CompressionRatio(varied))
	}
}
