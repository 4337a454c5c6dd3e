// Package tokenizer decodes model token ids back to text.
//
// Vocabularies come from Hugging Face tokenizer.json files (byte-level BPE
// as used by Whisper, or Metaspace/SentencePiece), from plain tokens.txt
// files with one "token id" pair per line, or from raw pieces handed over
// by a native runtime. Only decoding and token lookup are implemented;
// encoding is never needed to transcribe.
package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalid is returned for unparseable vocabulary files.
var ErrInvalid = errors.New("tokenizer: invalid vocabulary")

// metaspace is the SentencePiece word-boundary marker.
const metaspace = "▁"

// Tokenizer maps between token ids and token strings.
type Tokenizer struct {
	tokens    map[int64]string
	ids       map[string]int64
	special   map[int64]bool
	byteLevel bool
	byteDec   map[rune]byte
}

func newTokenizer() *Tokenizer {
	return &Tokenizer{
		tokens:  make(map[int64]string),
		ids:     make(map[string]int64),
		special: make(map[int64]bool),
	}
}

func (t *Tokenizer) add(tok string, id int64, special bool) {
	t.tokens[id] = tok
	t.ids[tok] = id
	if special {
		t.special[id] = true
	}
}

// Load reads a vocabulary from path. Files ending in .json are parsed as
// tokenizer.json; anything else as tokens.txt.
func Load(path string) (*Tokenizer, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: %w", err)
		}
		return FromJSON(data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	defer f.Close()
	return FromTokensTxt(f)
}

// FromJSON parses a Hugging Face tokenizer.json document.
func FromJSON(data []byte) (*Tokenizer, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalid)
	}
	doc := gjson.ParseBytes(data)
	vocab := doc.Get("model.vocab")
	if !vocab.IsObject() {
		return nil, fmt.Errorf("%w: missing model.vocab", ErrInvalid)
	}

	t := newTokenizer()
	vocab.ForEach(func(k, v gjson.Result) bool {
		t.add(k.String(), v.Int(), false)
		return true
	})
	doc.Get("added_tokens").ForEach(func(_, v gjson.Result) bool {
		t.add(v.Get("content").String(), v.Get("id").Int(), v.Get("special").Bool())
		return true
	})

	switch doc.Get("decoder.type").String() {
	case "ByteLevel":
		t.byteLevel = true
	case "Sequence":
		doc.Get("decoder.decoders").ForEach(func(_, v gjson.Result) bool {
			if v.Get("type").String() == "ByteLevel" {
				t.byteLevel = true
				return false
			}
			return true
		})
	}
	if t.byteLevel {
		t.byteDec = byteDecoder()
	}
	return t, nil
}

// FromTokensTxt parses "token id" lines. Tokens of the form <...> are
// treated as special.
func FromTokensTxt(r io.Reader) (*Tokenizer, error) {
	t := newTokenizer()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		i := strings.LastIndexAny(text, " \t")
		if i < 0 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalid, line, text)
		}
		id, err := strconv.ParseInt(text[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalid, line, err)
		}
		tok := text[:i]
		t.add(tok, id, strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	if len(t.tokens) == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrInvalid)
	}
	return t, nil
}

// FromPieces builds a vocabulary of raw text pieces indexed by id, as
// exported by whisper.cpp. isSpecial marks the control tokens.
func FromPieces(pieces []string, isSpecial func(id int64) bool) *Tokenizer {
	t := newTokenizer()
	for i, p := range pieces {
		id := int64(i)
		t.add(p, id, isSpecial != nil && isSpecial(id))
	}
	return t
}

// VocabSize returns one more than the largest token id.
func (t *Tokenizer) VocabSize() int {
	var maxID int64 = -1
	for id := range t.tokens {
		maxID = max(maxID, id)
	}
	return int(maxID + 1)
}

// TokenID returns the id of tok.
func (t *Tokenizer) TokenID(tok string) (int64, bool) {
	id, ok := t.ids[tok]
	return id, ok
}

// Token returns the string of id.
func (t *Tokenizer) Token(id int64) (string, bool) {
	tok, ok := t.tokens[id]
	return tok, ok
}

// IsSpecial reports whether id is a special (control) token.
func (t *Tokenizer) IsSpecial(id int64) bool {
	return t.special[id]
}

// Decode converts ids to text. Unknown ids are skipped. With skipSpecial,
// special tokens are omitted.
func (t *Tokenizer) Decode(ids []int64, skipSpecial bool) string {
	var sb strings.Builder
	for _, id := range ids {
		if skipSpecial && t.special[id] {
			continue
		}
		tok, ok := t.tokens[id]
		if !ok {
			continue
		}
		sb.WriteString(tok)
	}
	s := sb.String()
	if t.byteLevel {
		return t.decodeBytes(s)
	}
	s = strings.ReplaceAll(s, metaspace, " ")
	return strings.TrimLeft(s, " ")
}

func (t *Tokenizer) decodeBytes(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := t.byteDec[r]; ok {
			buf = append(buf, b)
			continue
		}
		buf = append(buf, string(r)...)
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// byteDecoder inverts the GPT-2 byte-to-unicode table: printable latin-1
// bytes map to themselves and the remaining bytes to code points from 256.
func byteDecoder() map[rune]byte {
	dec := make(map[rune]byte, 256)
	n := 0
	for b := 0; b < 256; b++ {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			dec[rune(b)] = byte(b)
			continue
		}
		dec[rune(256+n)] = byte(b)
		n++
	}
	return dec
}
