package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sadewadee/danmu/internal/protocol"
)

// fakeTransport is an in-memory Transport. Inbound messages are queued with
// push; onSend lets a test script replies to outbound frames.
type fakeTransport struct {
	inbound chan []byte
	closed  chan struct{}
	failErr error

	mu     sync.Mutex
	sent   [][]byte
	onSend func(f *fakeTransport, data []byte)

	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) push(data []byte) {
	f.inbound <- data
}

func (f *fakeTransport) Send(data []byte) error {
	select {
	case <-f.closed:
		return fmt.Errorf("%w: closed", ErrTransport)
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(f, data)
	}
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-f.inbound:
		if data == nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, f.failErr)
		}
		return data, nil
	case <-f.closed:
		return nil, fmt.Errorf("%w: use of closed connection", ErrTransport)
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sentTypes() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []protocol.MessageType
	for _, b := range f.sent {
		if h, err := protocol.DecodeHeader(b); err == nil {
			types = append(types, h.Type)
		}
	}
	return types
}

func (f *fakeTransport) countSent(t protocol.MessageType) int {
	n := 0
	for _, got := range f.sentTypes() {
		if got == t {
			n++
		}
	}
	return n
}

func (f *fakeTransport) dialer() DialFunc {
	return func(ctx context.Context, url string) (Transport, error) {
		return f, nil
	}
}

// fail makes the next Receive return err.
func (f *fakeTransport) fail(err error) {
	f.failErr = err
	f.inbound <- nil
}

var errPeerReset = errors.New("connection reset by peer")

func authReply(code int) []byte {
	return protocol.EncodeRaw([]byte(fmt.Sprintf(`{"code":%d}`, code)), protocol.TypeAuthReply, protocol.SchemeRaw, 1)
}

func heartbeatReply(p uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, p)
	return protocol.EncodeRaw(body, protocol.TypeHeartbeatReply, protocol.SchemeRaw, 1)
}

// relayScript acks the auth frame with code and answers heartbeats with popularity.
func relayScript(code int, popularity uint32) func(f *fakeTransport, data []byte) {
	return func(f *fakeTransport, data []byte) {
		h, err := protocol.DecodeHeader(data)
		if err != nil {
			return
		}
		switch h.Type {
		case protocol.TypeAuth:
			f.push(authReply(code))
		case protocol.TypeHeartbeat:
			f.push(heartbeatReply(popularity))
		}
	}
}

var testRoom = &RoomConnection{
	RoomID: 7734200,
	Token:  "token",
	Hosts:  []RelayHost{{Host: "relay.example", Port: 443, WSSPort: 443, WSPort: 2244}},
}
