package danmaku

import (
	"bytes"
	"encoding/json"
)

// Defaults used when the relay omits style or emoji dimensions.
const (
	DefaultFontSize    = 25
	DefaultColor       = 0xFFFFFF
	DefaultEmojiWidth  = 20
	DefaultEmojiHeight = 20
)

// Message is one chat message in canonical form.
type Message struct {
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
	Style     Style     `json:"style"`
	Emojis    []Emoji   `json:"emojis"`
	Sender    Sender    `json:"sender"`
}

// Style is the text rendering requested by the sender.
type Style struct {
	FontSize int   `json:"font_size"`
	Color    int64 `json:"color"`
}

// Emoji is an inline sticker referenced from the message text.
type Emoji struct {
	Description string `json:"description"`
	Text        string `json:"text"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	URL         string `json:"url"`
}

// Sender identifies who sent a message.
type Sender struct {
	UID       int64  `json:"uid"`
	Name      string `json:"name"`
	NameColor int64  `json:"name_color"`
	AvatarURL string `json:"avatar_url"`
	IsSelf    bool   `json:"is_self"`
}

// Timestamp is the send time exactly as the relay reported it. Depending on
// the payload shape it is a bare number or an object with a "ts" field, and
// the unit (seconds or milliseconds) is not known here. Formatting code picks
// the unit.
type Timestamp struct {
	raw json.RawMessage
}

// NewTimestamp wraps a raw JSON value.
func NewTimestamp(raw json.RawMessage) Timestamp {
	return Timestamp{raw: append(json.RawMessage(nil), raw...)}
}

// IsZero reports whether no timestamp was present.
func (t Timestamp) IsZero() bool {
	return len(t.raw) == 0 || bytes.Equal(t.raw, []byte("null"))
}

// Value returns the numeric value, unwrapping {"ts": n} objects.
func (t Timestamp) Value() (float64, bool) {
	if t.IsZero() {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(t.raw, &n); err == nil {
		return n, true
	}
	var obj struct {
		TS *float64 `json:"ts"`
	}
	if err := json.Unmarshal(t.raw, &obj); err == nil && obj.TS != nil {
		return *obj.TS, true
	}
	return 0, false
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte("null"), nil
	}
	return t.raw, nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.raw = append(json.RawMessage(nil), b...)
	return nil
}
