package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const whisperJSON = `{
  "model": {
    "type": "BPE",
    "vocab": {"Hello": 15947, "Ġworld": 1002, "!": 0, "Ġä½łå¥½": 2000}
  },
  "added_tokens": [
    {"id": 50257, "content": "<|endoftext|>", "special": true},
    {"id": 50258, "content": "<|startoftranscript|>", "special": true},
    {"id": 50259, "content": "<|en|>", "special": true}
  ],
  "decoder": {"type": "ByteLevel"}
}`

func TestFromJSON(t *testing.T) {
	tok, err := FromJSON([]byte(whisperJSON))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	got := tok.Decode([]int64{50258, 50259, 15947, 1002, 0, 50257}, true)
	if got != "Hello world!" {
		t.Errorf("Decode = %q, want %q", got, "Hello world!")
	}
	withSpecial := tok.Decode([]int64{50258, 15947}, false)
	if withSpecial != "<|startoftranscript|>Hello" {
		t.Errorf("Decode(keep special) = %q", withSpecial)
	}
	if id, ok := tok.TokenID("<|en|>"); !ok || id != 50259 {
		t.Errorf("TokenID(<|en|>) = %d, %v", id, ok)
	}
	if !tok.IsSpecial(50257) || tok.IsSpecial(15947) {
		t.Error("IsSpecial misreports")
	}
	if tok.VocabSize() != 50260 {
		t.Errorf("VocabSize = %d, want 50260", tok.VocabSize())
	}
}

func TestByteLevelMultibyte(t *testing.T) {
	tok, err := FromJSON([]byte(whisperJSON))
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Decode([]int64{2000}, true); got != " 你好" {
		t.Errorf("Decode = %q, want %q", got, " 你好")
	}
}

func TestByteDecoderComplete(t *testing.T) {
	dec := byteDecoder()
	if len(dec) != 256 {
		t.Fatalf("len = %d, want 256", len(dec))
	}
	seen := make(map[byte]bool)
	for _, b := range dec {
		seen[b] = true
	}
	if len(seen) != 256 {
		t.Errorf("decoder is not a bijection: %d distinct bytes", len(seen))
	}
	if dec['Ġ'] != ' ' {
		t.Errorf("Ġ should decode to space")
	}
}

func TestFromJSONInvalid(t *testing.T) {
	for _, doc := range []string{`{`, `{"model": {}}`} {
		if _, err := FromJSON([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("FromJSON(%q) = %v, want ErrInvalid", doc, err)
		}
	}
}

func TestFromTokensTxt(t *testing.T) {
	txt := "<unk> 0\n<s> 1\n</s> 2\n<|zh|> 3\n▁hello 4\n▁world 5\n, 6\n"
	tok, err := FromTokensTxt(strings.NewReader(txt))
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Decode([]int64{3, 4, 6, 5}, true); got != "hello, world" {
		t.Errorf("Decode = %q, want %q", got, "hello, world")
	}
	if id, ok := tok.TokenID("<|zh|>"); !ok || id != 3 {
		t.Errorf("TokenID = %d, %v", id, ok)
	}
	if _, err := FromTokensTxt(strings.NewReader("oops\n")); !errors.Is(err, ErrInvalid) {
		t.Errorf("malformed line: err = %v", err)
	}
	if _, err := FromTokensTxt(strings.NewReader("")); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty file: err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "tokenizer.json")
	txtPath := filepath.Join(dir, "tokens.txt")
	if err := os.WriteFile(jsonPath, []byte(whisperJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(txtPath, []byte("a 0\nb 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if tok, err := Load(jsonPath); err != nil || tok.VocabSize() != 50260 {
		t.Errorf("Load(json) = %v", err)
	}
	if tok, err := Load(txtPath); err != nil || tok.VocabSize() != 2 {
		t.Errorf("Load(txt) = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load(missing) should fail")
	}
}

func TestFromPieces(t *testing.T) {
	tok := FromPieces([]string{" Hello", " world", "!", "[_EOT_]"}, func(id int64) bool { return id >= 3 })
	if !tok.IsSpecial(3) || tok.IsSpecial(2) {
		t.Error("IsSpecial does not follow isSpecial")
	}
	if got := tok.Decode([]int64{0, 1, 2, 3}, true); got != "Hello world!" {
		t.Errorf("Decode = %q, want %q", got, "Hello world!")
	}
	if id, ok := tok.TokenID(" world"); !ok || id != 1 {
		t.Errorf("TokenID(\" world\") = %d, %v", id, ok)
	}
}
