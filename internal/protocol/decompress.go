package protocol

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// PayloadKind tells the caller what Decompress produced.
type PayloadKind int

const (
	// PayloadNone means the scheme is unknown and the frame should be skipped.
	PayloadNone PayloadKind = iota
	// PayloadJSON holds a single JSON document.
	PayloadJSON
	// PayloadBatch holds concatenated frames for SplitBatch.
	PayloadBatch
)

// Payload is the decompressed body of one frame.
type Payload struct {
	Kind PayloadKind
	Data []byte
}

// Decompress runs a frame payload through the codec its scheme declares.
func Decompress(scheme Scheme, payload []byte) (Payload, error) {
	switch scheme {
	case SchemeRawJSON, SchemeRaw:
		return Payload{Kind: PayloadJSON, Data: payload}, nil
	case SchemeZlib:
		data, err := inflate(payload)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: PayloadJSON, Data: data}, nil
	case SchemeBrotli:
		data, err := unbrotli(payload)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: PayloadBatch, Data: data}, nil
	default:
		return Payload{Kind: PayloadNone}, nil
	}
}

func inflate(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrDecompression, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrDecompression, err)
	}
	return data, nil
}

func unbrotli(payload []byte) ([]byte, error) {
	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: brotli: %v", ErrDecompression, err)
	}
	return data, nil
}
