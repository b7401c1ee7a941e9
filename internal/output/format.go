// Package output renders normalized chat messages for display or piping.
package output

import (
	"fmt"
	"math"
	"time"
	_ "time/tzdata"

	"github.com/sadewadee/danmu/internal/danmaku"
)

// Timestamp units understood by the formatter.
const (
	UnitSeconds      = "s"
	UnitMilliseconds = "ms"
)

// Options controls how timestamps are rendered.
type Options struct {
	TimeZone   string // IANA name, default Asia/Shanghai
	TimeLayout string // default 15:04:05
	Unit       string // s or ms, default s
}

// Formatter turns relay timestamps into wall-clock strings.
type Formatter struct {
	loc    *time.Location
	layout string
	unit   string
}

// NewFormatter validates opts and loads the time zone.
func NewFormatter(opts Options) (*Formatter, error) {
	if opts.TimeZone == "" {
		opts.TimeZone = "Asia/Shanghai"
	}
	if opts.TimeLayout == "" {
		opts.TimeLayout = time.TimeOnly
	}
	if opts.Unit == "" {
		opts.Unit = UnitSeconds
	}
	if opts.Unit != UnitSeconds && opts.Unit != UnitMilliseconds {
		return nil, fmt.Errorf("unknown timestamp unit %q", opts.Unit)
	}
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}
	return &Formatter{loc: loc, layout: opts.TimeLayout, unit: opts.Unit}, nil
}

// Time converts ts using the configured unit. ok is false when the
// timestamp is absent or not numeric.
func (f *Formatter) Time(ts danmaku.Timestamp) (t time.Time, ok bool) {
	v, ok := ts.Value()
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	if f.unit == UnitMilliseconds {
		return time.UnixMilli(int64(v)).In(f.loc), true
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).In(f.loc), true
}

// FormatTime renders ts in the configured zone and layout, or "" when the
// message carried no usable timestamp.
func (f *Formatter) FormatTime(ts danmaku.Timestamp) string {
	t, ok := f.Time(ts)
	if !ok {
		return ""
	}
	return t.Format(f.layout)
}

// Line renders "<time> - <name>: <text>". The time prefix is dropped when
// the timestamp is missing.
func (f *Formatter) Line(m danmaku.Message) string {
	if ts := f.FormatTime(m.Timestamp); ts != "" {
		return ts + " - " + m.Sender.Name + ": " + m.Text
	}
	return m.Sender.Name + ": " + m.Text
}
