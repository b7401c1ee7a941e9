package protocol

import (
	"errors"
	"fmt"
)

// Unpack turns one transport message into its leaf frames: frames whose
// payload is a JSON document, plus heartbeat replies carried verbatim.
// Brotli batches are decompressed and split again up to MaxBatchDepth.
//
// A failing frame never hides its siblings. Every per-frame failure is
// joined into the returned error and the remaining frames are still returned.
func Unpack(raw []byte) ([]Frame, error) {
	if h, err := DecodeHeader(raw); err == nil && h.Type == TypeHeartbeatReply {
		return heartbeatReply(h, raw)
	}
	var u unpacker
	u.message(raw, 0)
	return u.frames, errors.Join(u.errs...)
}

// heartbeatReply reads the popularity at offset 16 regardless of the
// declared total length and returns it as the frame payload.
func heartbeatReply(h Header, raw []byte) ([]Frame, error) {
	if _, err := DecodePopularity(raw); err != nil {
		return nil, err
	}
	return []Frame{{Header: h, Payload: raw[HeaderSize : HeaderSize+4]}}, nil
}

type unpacker struct {
	frames []Frame
	errs   []error
}

func (u *unpacker) message(b []byte, depth int) {
	parts, err := SplitBatch(b)
	if err != nil {
		u.errs = append(u.errs, err)
	}
	for _, part := range parts {
		u.frame(part, depth)
	}
}

func (u *unpacker) frame(b []byte, depth int) {
	f, err := DecodeFrame(b)
	if err != nil {
		u.errs = append(u.errs, err)
		return
	}

	// Heartbeat replies carry a bare u32, not JSON.
	if f.Type == TypeHeartbeatReply {
		u.frames = append(u.frames, f)
		return
	}

	p, err := Decompress(f.Scheme, f.Payload)
	if err != nil {
		u.errs = append(u.errs, fmt.Errorf("frame seq %d: %w", f.Sequence, err))
		return
	}
	switch p.Kind {
	case PayloadJSON:
		f.Payload = p.Data
		u.frames = append(u.frames, f)
	case PayloadBatch:
		if depth >= MaxBatchDepth {
			u.errs = append(u.errs, fmt.Errorf("%w: batch nested deeper than %d", ErrProtocolViolation, MaxBatchDepth))
			return
		}
		u.message(p.Data, depth+1)
	}
}
