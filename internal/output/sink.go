package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sadewadee/danmu/internal/danmaku"
)

// Output formats.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Sink writes messages to an output stream. Implementations are safe for
// concurrent use.
type Sink interface {
	Write(m danmaku.Message) error
}

// Record is the structured form written by the json and msgpack sinks.
type Record struct {
	Time      string          `json:"time,omitempty"`
	Timestamp *float64        `json:"timestamp"`
	Text      string          `json:"text"`
	Style     danmaku.Style   `json:"style"`
	Emojis    []danmaku.Emoji `json:"emojis"`
	Sender    danmaku.Sender  `json:"sender"`
}

// NewRecord flattens m, resolving the timestamp with f.
func NewRecord(m danmaku.Message, f *Formatter) Record {
	r := Record{
		Time:   f.FormatTime(m.Timestamp),
		Text:   m.Text,
		Style:  m.Style,
		Emojis: m.Emojis,
		Sender: m.Sender,
	}
	if v, ok := m.Timestamp.Value(); ok {
		r.Timestamp = &v
	}
	if r.Emojis == nil {
		r.Emojis = []danmaku.Emoji{}
	}
	return r
}

// NewSink returns a sink for format writing to w.
func NewSink(w io.Writer, format string, f *Formatter) (Sink, error) {
	switch format {
	case FormatText, "":
		return &textSink{w: w, f: f}, nil
	case FormatJSON:
		return &jsonSink{enc: json.NewEncoder(w), f: f}, nil
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		// Reuse the json field names so both structured formats agree.
		enc.SetCustomStructTag("json")
		return &msgpackSink{enc: enc, f: f}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type textSink struct {
	mu sync.Mutex
	w  io.Writer
	f  *Formatter
}

func (s *textSink) Write(m danmaku.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, s.f.Line(m))
	return err
}

type jsonSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *Formatter
}

func (s *jsonSink) Write(m danmaku.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(NewRecord(m, s.f))
}

type msgpackSink struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
	f   *Formatter
}

func (s *msgpackSink) Write(m danmaku.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(NewRecord(m, s.f))
}
