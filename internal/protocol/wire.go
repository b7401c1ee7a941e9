package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = 16

// MaxBatchDepth bounds how many brotli-batch layers are unpacked for one transport message.
const MaxBatchDepth = 4

// Scheme identifies how a frame payload is encoded.
type Scheme uint16

const (
	SchemeRawJSON Scheme = 0 // uncompressed JSON
	SchemeRaw     Scheme = 1 // uncompressed JSON, also used for acks and heartbeats
	SchemeZlib    Scheme = 2 // single zlib-compressed JSON payload
	SchemeBrotli  Scheme = 3 // brotli-compressed concatenation of complete frames
)

func (s Scheme) String() string {
	switch s {
	case SchemeRawJSON, SchemeRaw:
		return "raw"
	case SchemeZlib:
		return "zlib"
	case SchemeBrotli:
		return "brotli-batch"
	default:
		return fmt.Sprintf("scheme(%d)", uint16(s))
	}
}

// MessageType defines the purpose of each frame.
type MessageType uint32

const (
	TypeHeartbeat      MessageType = 2 // client -> relay: keepalive
	TypeHeartbeatReply MessageType = 3 // relay -> client: popularity ack
	TypeMessage        MessageType = 5 // relay -> client: command events
	TypeAuth           MessageType = 7 // client -> relay: verify
	TypeAuthReply      MessageType = 8 // relay -> client: verify ack
)

func (t MessageType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeHeartbeatReply:
		return "heartbeat-reply"
	case TypeMessage:
		return "message"
	case TypeAuth:
		return "auth"
	case TypeAuthReply:
		return "auth-reply"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Header is the fixed 16-byte frame header. All integers are big-endian.
//
//	offset 0  u32 total length (header + payload)
//	offset 4  u16 header length (always 16)
//	offset 6  u16 scheme
//	offset 8  u32 message type
//	offset 12 u32 sequence
type Header struct {
	TotalLength  uint32
	HeaderLength uint16
	Scheme       Scheme
	Type         MessageType
	Sequence     uint32
}

// Frame is one decoded unit of the relay wire protocol.
type Frame struct {
	Header
	Payload []byte
}

// Encode serializes payload as compact JSON and prefixes it with a frame header.
func Encode(payload interface{}, typ MessageType, scheme Scheme, seq uint32) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return EncodeRaw(body, typ, scheme, seq), nil
}

// EncodeRaw frames an already encoded payload.
func EncodeRaw(body []byte, typ MessageType, scheme Scheme, seq uint32) []byte {
	buf := make([]byte, HeaderSize+len(body))
	PutHeader(buf, Header{
		TotalLength:  uint32(HeaderSize + len(body)),
		HeaderLength: HeaderSize,
		Scheme:       scheme,
		Type:         typ,
		Sequence:     seq,
	})
	copy(buf[HeaderSize:], body)
	return buf
}

// PutHeader writes h into the first 16 bytes of buf.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.HeaderLength)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Scheme))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[12:16], h.Sequence)
}

// DecodeHeader reads the frame header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformedFrame, HeaderSize, len(b))
	}
	return Header{
		TotalLength:  binary.BigEndian.Uint32(b[0:4]),
		HeaderLength: binary.BigEndian.Uint16(b[4:6]),
		Scheme:       Scheme(binary.BigEndian.Uint16(b[6:8])),
		Type:         MessageType(binary.BigEndian.Uint32(b[8:12])),
		Sequence:     binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// DecodeFrame decodes a single frame occupying b. Bytes past TotalLength are ignored.
func DecodeFrame(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if h.TotalLength < HeaderSize {
		return Frame{}, fmt.Errorf("%w: total length %d below header size", ErrMalformedFrame, h.TotalLength)
	}
	if int(h.TotalLength) > len(b) {
		return Frame{}, fmt.Errorf("%w: total length %d exceeds %d available bytes", ErrMalformedFrame, h.TotalLength, len(b))
	}
	return Frame{Header: h, Payload: b[HeaderSize:h.TotalLength]}, nil
}

// SplitBatch slices consecutive frames out of b in order. On a length
// inconsistency it returns the frames sliced so far together with the error.
func SplitBatch(b []byte) ([][]byte, error) {
	var frames [][]byte
	offset := 0
	for offset < len(b) {
		h, err := DecodeHeader(b[offset:])
		if err != nil {
			return frames, fmt.Errorf("frame at offset %d: %w", offset, err)
		}
		if h.TotalLength < HeaderSize {
			return frames, fmt.Errorf("%w: frame at offset %d declares total length %d", ErrMalformedFrame, offset, h.TotalLength)
		}
		end := offset + int(h.TotalLength)
		if end > len(b) {
			return frames, fmt.Errorf("%w: frame at offset %d runs %d bytes past buffer end", ErrMalformedFrame, offset, end-len(b))
		}
		frames = append(frames, b[offset:end])
		offset = end
	}
	return frames, nil
}

// Popularity reads the metric carried by a decoded heartbeat reply.
func (f Frame) Popularity() (uint32, error) {
	return readPopularity(f.Type, f.Payload)
}

// DecodePopularity reads the u32 that follows the header of a heartbeat
// reply. The relay may declare a total length of 16 and still append the
// value, so the declared length is not consulted.
func DecodePopularity(b []byte) (uint32, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return 0, err
	}
	return readPopularity(h.Type, b[HeaderSize:])
}

func readPopularity(typ MessageType, body []byte) (uint32, error) {
	if typ != TypeHeartbeatReply {
		return 0, fmt.Errorf("%w: expected heartbeat reply, got %s", ErrProtocolViolation, typ)
	}
	if len(body) < 4 {
		return 0, fmt.Errorf("%w: heartbeat reply carries %d payload bytes", ErrMalformedFrame, len(body))
	}
	return binary.BigEndian.Uint32(body[:4]), nil
}
