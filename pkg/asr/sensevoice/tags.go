package sensevoice

import "strings"

// Output is a parsed SenseVoice transcript.
type Output struct {
	// Language is "zh", "en", "yue", "ja", "ko" or "nospeech".
	Language string
	Emotion  string
	Event    string
	// TextNorm is "withitn" or "woitn".
	TextNorm string
	Text     string
	// Emoji decorates the emotion and event tags, in order of appearance.
	Emoji string
}

type tag struct {
	name  string
	emoji string
}

var languageTags = map[string]string{
	"<|zh|>":       "zh",
	"<|en|>":       "en",
	"<|yue|>":      "yue",
	"<|ja|>":       "ja",
	"<|ko|>":       "ko",
	"<|nospeech|>": "nospeech",
}

var emotionTags = map[string]tag{
	"<|HAPPY|>":       {"happy", "😊"},
	"<|SAD|>":         {"sad", "😔"},
	"<|ANGRY|>":       {"angry", "😡"},
	"<|NEUTRAL|>":     {"neutral", ""},
	"<|FEARFUL|>":     {"fearful", "😰"},
	"<|DISGUSTED|>":   {"disgusted", "🤢"},
	"<|SURPRISED|>":   {"surprised", "😮"},
	"<|EMO_UNKNOWN|>": {"unknown", ""},
}

var eventTags = map[string]tag{
	"<|Speech|>":       {"speech", ""},
	"<|BGM|>":          {"bgm", "🎼"},
	"<|Applause|>":     {"applause", "👏"},
	"<|Laughter|>":     {"laughter", "😀"},
	"<|Cry|>":          {"cry", "😭"},
	"<|Sneeze|>":       {"sneeze", "🤧"},
	"<|Breath|>":       {"breath", ""},
	"<|Cough|>":        {"cough", "😷"},
	"<|Sing|>":         {"sing", ""},
	"<|Speech_Noise|>": {"speech_noise", ""},
	"<|GBG|>":          {"gbg", ""},
	"<|Event_UNK|>":    {"unknown", ""},
}

var textNormTags = map[string]string{
	"<|withitn|>": "withitn",
	"<|woitn|>":   "woitn",
}

// unknownAudio marks audio that is neither speech nor a known event.
const unknownAudio = "❓"

// Emoji returns the decoration for an emotion and event name as stored in
// a segment.
func Emoji(emotion, event string) string {
	var sb strings.Builder
	for _, t := range emotionTags {
		if t.name == emotion {
			sb.WriteString(t.emoji)
			break
		}
	}
	for _, t := range eventTags {
		if t.name == event {
			sb.WriteString(t.emoji)
			break
		}
	}
	return sb.String()
}

// Parse splits decoded tokens into tags and text. Unknown tags are dropped
// and the word-boundary marker becomes a space.
func Parse(tokens []string) Output {
	var out Output
	var text, emoji strings.Builder

	s := strings.ReplaceAll(strings.Join(tokens, ""), "<|nospeech|><|Event_UNK|>", unknownAudio)
	for {
		start := strings.Index(s, "<|")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "|>")
		if end < 0 {
			break
		}
		text.WriteString(s[:start])
		name := s[start : start+end+2]
		s = s[start+end+2:]

		if lang, ok := languageTags[name]; ok {
			out.Language = lang
		} else if t, ok := emotionTags[name]; ok {
			out.Emotion = t.name
			emoji.WriteString(t.emoji)
		} else if t, ok := eventTags[name]; ok {
			out.Event = t.name
			emoji.WriteString(t.emoji)
		} else if norm, ok := textNormTags[name]; ok {
			out.TextNorm = norm
		}
	}
	text.WriteString(s)

	out.Text = strings.TrimSpace(strings.ReplaceAll(text.String(), "▁", " "))
	out.Emoji = emoji.String()
	return out
}
