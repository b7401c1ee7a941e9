package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sadewadee/danmu/internal/protocol"
)

const tracerName = "github.com/sadewadee/danmu/internal/relay"

// HandshakeState tracks the verify exchange.
type HandshakeState int

const (
	HandshakeNotConnected HandshakeState = iota
	HandshakeAwaitingAck
	HandshakeVerified
	HandshakeRejected
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeNotConnected:
		return "not_connected"
	case HandshakeAwaitingAck:
		return "awaiting_ack"
	case HandshakeVerified:
		return "verified"
	case HandshakeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("handshake_state(%d)", int(s))
	}
}

// HandshakeResult is the outcome of Handshake. Code is -1 when no ack code was read.
type HandshakeResult struct {
	State HandshakeState
	Code  int
	Err   error
}

// Verified reports whether the relay accepted the auth frame.
func (r HandshakeResult) Verified() bool {
	return r.State == HandshakeVerified
}

// Error returns a *HandshakeError for a rejected handshake and nil otherwise.
func (r HandshakeResult) Error() error {
	if r.Verified() {
		return nil
	}
	return &HandshakeError{Code: r.Code, Err: r.Err}
}

// Handshake sends the auth frame and reads exactly one reply. A transport
// error or an undecodable reply counts as a rejection. If ctx has a deadline
// and t supports it, the reply read is bounded by that deadline; cancelling
// ctx closes t.
func Handshake(ctx context.Context, t Transport, auth protocol.AuthPacket) HandshakeResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "relay.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("relay.room_id", auth.RoomID),
			attribute.Int64("relay.uid", auth.UID),
		),
	)
	defer span.End()

	res := handshake(ctx, t, auth)

	span.SetAttributes(
		attribute.String("relay.handshake_state", res.State.String()),
		attribute.Int("relay.ack_code", res.Code),
	)
	if res.Verified() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(res.Error())
		span.SetStatus(codes.Error, res.Error().Error())
	}
	return res
}

func handshake(ctx context.Context, t Transport, auth protocol.AuthPacket) HandshakeResult {
	res := HandshakeResult{State: HandshakeNotConnected, Code: -1}
	reject := func(err error) HandshakeResult {
		res.State = HandshakeRejected
		res.Err = err
		return res
	}

	frame, err := protocol.EncodePacket(auth)
	if err != nil {
		return reject(err)
	}

	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	if err := t.Send(frame); err != nil {
		return reject(fmt.Errorf("sending auth frame: %w", err))
	}
	res.State = HandshakeAwaitingAck

	if d, ok := ctx.Deadline(); ok {
		if rd, ok := t.(readDeadliner); ok {
			rd.SetReadDeadline(d)
			defer rd.SetReadDeadline(time.Time{})
		}
	}

	raw, err := t.Receive()
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return reject(fmt.Errorf("reading auth reply: %w", err))
	}

	frames, err := protocol.Unpack(raw)
	if err != nil {
		return reject(fmt.Errorf("decoding auth reply: %w", err))
	}
	if len(frames) == 0 {
		return reject(fmt.Errorf("decoding auth reply: %w: no payload", protocol.ErrProtocolViolation))
	}

	reply := protocol.AuthReply{Code: -1}
	if err := json.Unmarshal(frames[0].Payload, &reply); err != nil {
		return reject(fmt.Errorf("decoding auth reply: %w", err))
	}
	res.Code = reply.Code
	if reply.Code != 0 {
		return reject(nil)
	}
	res.State = HandshakeVerified
	return res
}
