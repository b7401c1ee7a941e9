package danmaku

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// CommandChat is the command carried by chat message events.
const CommandChat = "DANMU_MSG"

// richInfoLen is the info length above which the rich payload shape is used.
// The relay gives no version field; the array length is the only signal, so a
// server adding one element to the legacy shape would flip the branch.
const richInfoLen = 15

// Event is a decoded relay command.
type Event struct {
	Cmd  string            `json:"cmd"`
	Info []json.RawMessage `json:"info"`
}

// IsChat reports whether the event carries a chat message. Some relays append
// ":"-separated flags to the command name.
func (e Event) IsChat() bool {
	cmd, _, _ := strings.Cut(e.Cmd, ":")
	return cmd == CommandChat
}

// Normalize decodes a JSON event and converts it into a Message. It returns
// false for anything that is not a well-formed chat message.
func Normalize(data []byte) (Message, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Message{}, false
	}
	return NormalizeEvent(ev)
}

// NormalizeEvent converts a decoded event into a Message.
func NormalizeEvent(ev Event) (Message, bool) {
	if !ev.IsChat() || len(ev.Info) < 3 {
		return Message{}, false
	}
	text, ok := decodeText(ev.Info[1])
	if !ok {
		return Message{}, false
	}
	if len(ev.Info) > richInfoLen {
		return rich(ev.Info, text)
	}
	return legacy(ev.Info, text)
}

type richUser struct {
	UID  number `json:"uid"`
	Base *struct {
		Name      *string `json:"name"`
		NameColor *number `json:"name_color"`
		Face      *string `json:"face"`
	} `json:"base"`
}

type richData struct {
	Extra *string   `json:"extra"`
	User  *richUser `json:"user"`
}

type richExtra struct {
	FontSize   *number         `json:"font_size"`
	Color      *number         `json:"color"`
	Emots      json.RawMessage `json:"emots"`
	SendFromMe bool            `json:"send_from_me"`
}

type emot struct {
	Descript *string `json:"descript"`
	Emoji    *string `json:"emoji"`
	Width    *number `json:"width"`
	Height   *number `json:"height"`
	URL      *string `json:"url"`
}

func rich(info []json.RawMessage, text string) (Message, bool) {
	var head []json.RawMessage
	if !decode(info[0], &head) || len(head) <= 15 {
		return Message{}, false
	}
	var data richData
	if !decode(head[15], &data) || data.Extra == nil || data.User == nil || data.User.Base == nil {
		return Message{}, false
	}
	base := data.User.Base
	if base.Name == nil || base.NameColor == nil || base.Face == nil {
		return Message{}, false
	}
	var extra richExtra
	if !decode(json.RawMessage(*data.Extra), &extra) {
		return Message{}, false
	}
	emojis, ok := emojiList(extra.Emots)
	if !ok {
		return Message{}, false
	}

	style := Style{FontSize: DefaultFontSize, Color: DefaultColor}
	if extra.FontSize != nil {
		style.FontSize = int(*extra.FontSize)
	}
	if extra.Color != nil {
		style.Color = int64(*extra.Color)
	}

	return Message{
		Text:      text,
		Timestamp: NewTimestamp(info[9]),
		Style:     style,
		Emojis:    emojis,
		Sender: Sender{
			UID:       int64(data.User.UID),
			Name:      *base.Name,
			NameColor: int64(*base.NameColor),
			AvatarURL: *base.Face,
			IsSelf:    extra.SendFromMe,
		},
	}, true
}

// emojiList reads the shortcode -> descriptor mapping in document order.
func emojiList(raw json.RawMessage) ([]Emoji, bool) {
	emojis := []Emoji{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emojis, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, false
		}
		var e emot
		if err := dec.Decode(&e); err != nil {
			return nil, false
		}
		if e.Descript == nil || e.Emoji == nil || e.URL == nil {
			return nil, false
		}
		emoji := Emoji{
			Description: *e.Descript,
			Text:        *e.Emoji,
			Width:       DefaultEmojiWidth,
			Height:      DefaultEmojiHeight,
			URL:         *e.URL,
		}
		if e.Width != nil {
			emoji.Width = int(*e.Width)
		}
		if e.Height != nil {
			emoji.Height = int(*e.Height)
		}
		emojis = append(emojis, emoji)
	}
	return emojis, true
}

func legacy(info []json.RawMessage, text string) (Message, bool) {
	var head, sender []json.RawMessage
	if !decode(info[0], &head) || len(head) < 4 {
		return Message{}, false
	}
	if !decode(info[2], &sender) || len(sender) < 2 {
		return Message{}, false
	}

	var ts json.RawMessage
	if len(info) > 10 {
		ts = info[9]
	} else {
		if len(head) < 5 {
			return Message{}, false
		}
		ts = head[4]
	}

	var fontSize, color, uid number
	var msg Message
	if !decode(head[2], &fontSize) || !decode(head[3], &color) {
		return Message{}, false
	}
	if !decode(sender[0], &uid) || !decode(sender[1], &msg.Sender.Name) {
		return Message{}, false
	}
	msg.Style = Style{FontSize: int(fontSize), Color: int64(color)}
	msg.Sender.UID = int64(uid)
	msg.Text = text
	msg.Timestamp = NewTimestamp(ts)
	msg.Emojis = []Emoji{}
	msg.Sender.NameColor = DefaultColor
	return msg, true
}

// number is an integer field that tolerates float encodings (25.0) and
// numeric strings. Fractions are truncated.
type number int64

func (n *number) UnmarshalJSON(b []byte) error {
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	if i, err := num.Int64(); err == nil {
		*n = number(i)
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		return err
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return fmt.Errorf("number %s out of range", num)
	}
	*n = number(f)
	return nil
}

// decodeText reads the message text. Numbers and booleans are kept as
// their literal text; objects, arrays and null are rejected.
func decodeText(raw json.RawMessage) (string, bool) {
	var text string
	if decode(raw, &text) {
		return text, true
	}
	var v interface{}
	if !decode(raw, &v) {
		return "", false
	}
	switch v.(type) {
	case float64, bool:
		return string(bytes.TrimSpace(raw)), true
	}
	return "", false
}

// decode unmarshals raw into v, rejecting absent values and JSON null.
func decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
