package protocol

import "errors"

var (
	// ErrMalformedFrame reports a header or length inconsistency. The frame is dropped.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrDecompression reports a corrupt compressed payload. The frame is dropped.
	ErrDecompression = errors.New("decompression failed")
	// ErrProtocolViolation reports a structurally valid frame the client cannot accept.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrEncoding reports an outbound payload that cannot be serialized.
	ErrEncoding = errors.New("encoding failed")
)
