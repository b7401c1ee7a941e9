package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/danmu/internal/danmaku"
	"github.com/sadewadee/danmu/internal/protocol"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger            *slog.Logger
	metrics           *Metrics
	dial              DialFunc
	pickHost          HostPicker
	secure            bool
	heartbeatInterval time.Duration
	handshakeTimeout  time.Duration
	onMessage         func(danmaku.Message)
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records session activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// WithHostPicker replaces the default first-host policy.
func WithHostPicker(p HostPicker) Option {
	return func(o *options) { o.pickHost = p }
}

// WithSecure selects wss (true, the default) or plain ws endpoints.
func WithSecure(secure bool) Option {
	return func(o *options) { o.secure = secure }
}

// WithHeartbeatInterval sets the keepalive period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithHandshakeTimeout bounds the wait for the auth ack. Zero waits forever.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithMessageHandler streams each message to fn on the receive goroutine
// instead of buffering it. PopMessages then always returns nothing.
func WithMessageHandler(fn func(danmaku.Message)) Option {
	return func(o *options) { o.onMessage = fn }
}

// Session owns one relay connection end to end: handshake, heartbeat and
// the receive loop. A Session runs at most once.
type Session struct {
	room *RoomConnection
	user User
	opts options

	state      atomic.Int32
	stopped    atomic.Bool
	popularity atomic.Int64

	mu     sync.Mutex
	buffer []danmaku.Message

	// guarded by lifeMu
	lifeMu    sync.Mutex
	started   bool
	cancel    context.CancelFunc
	transport Transport
	done      chan struct{}
}

// NewSession creates an idle session for room, authenticating as user.
func NewSession(room *RoomConnection, user User, opts ...Option) *Session {
	o := options{
		logger:            slog.Default(),
		dial:              WSDialer{HandshakeTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}.Dial,
		pickHost:          FirstHost,
		secure:            true,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("room_id", room.RoomID)

	s := &Session{
		room: room,
		user: user,
		opts: o,
		done: make(chan struct{}),
	}
	s.popularity.Store(-1)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Popularity returns the last heartbeat metric, or -1 before the first reply.
func (s *Session) Popularity() int64 {
	return s.popularity.Load()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.opts.metrics.setState(st)
}

func (s *Session) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.opts.metrics.setState(to)
	return true
}

// Start connects, authenticates and runs the receive loop until the
// connection ends or Stop is called. It returns nil after Stop, a
// *HandshakeError when the relay rejects the auth frame, and an error
// wrapping ErrTransport when the connection fails. There is no retry:
// callers decide whether to try another host.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.started || !s.transition(StateIdle, StateHandshaking) {
		s.lifeMu.Unlock()
		return ErrSessionClosed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.lifeMu.Unlock()

	defer close(s.done)
	defer cancel()

	err := s.run(ctx)
	s.setState(StateClosed)
	if s.stopped.Load() {
		return nil
	}
	return err
}

func (s *Session) run(ctx context.Context) error {
	host, err := s.opts.pickHost(s.room.Hosts)
	if err != nil {
		return fmt.Errorf("picking relay host: %w", err)
	}
	url := host.WSURL()
	if s.opts.secure {
		url = host.WSSURL()
	}

	s.opts.logger.Info("connecting to relay", "url", url)
	t, err := s.opts.dial(ctx, url)
	if err != nil {
		return err
	}
	defer t.Close()

	s.lifeMu.Lock()
	s.transport = t
	s.lifeMu.Unlock()
	if s.stopped.Load() {
		return nil
	}

	hsCtx, hsCancel := ctx, context.CancelFunc(func() {})
	if s.opts.handshakeTimeout > 0 {
		hsCtx, hsCancel = context.WithTimeout(ctx, s.opts.handshakeTimeout)
	}
	res := Handshake(hsCtx, t, protocol.NewAuthPacket(s.user.UID, s.room.RoomID, s.room.Token))
	hsCancel()
	if !res.Verified() {
		s.opts.logger.Warn("relay rejected handshake", "url", url, "code", res.Code, "error", res.Err)
		return res.Error()
	}

	if !s.transition(StateHandshaking, StateActive) {
		return nil
	}
	s.opts.logger.Info("relay session active", "url", url)

	hb := &heartbeat{
		transport:  t,
		interval:   s.opts.heartbeatInterval,
		replies:    make(chan uint32, 1),
		popularity: &s.popularity,
		active:     func() bool { return s.State() == StateActive },
		logger:     s.opts.logger,
		metrics:    s.opts.metrics,
	}
	hbCtx, hbCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.run(hbCtx)
	}()

	err = s.receive(t, hb)

	s.transition(StateActive, StateClosing)
	hbCancel()
	t.Close()
	wg.Wait()

	if err != nil && !s.stopped.Load() {
		s.opts.logger.Warn("relay connection lost", "url", url, "error", err)
	}
	return err
}

// receive reads transport messages until the transport fails or closes.
func (s *Session) receive(t Transport, hb *heartbeat) error {
	for {
		raw, err := t.Receive()
		if err != nil {
			return err
		}
		s.process(raw, hb)
	}
}

// process runs one transport message through unpack and normalize. Per-frame
// failures are logged and dropped.
func (s *Session) process(raw []byte, hb *heartbeat) {
	frames, err := protocol.Unpack(raw)
	if err != nil {
		s.opts.logger.Debug("dropped frames", "bytes", len(raw), "error", err)
		s.opts.metrics.frameError(err)
	}

	for _, f := range frames {
		s.opts.metrics.frame(f.Type)

		if f.Type == protocol.TypeHeartbeatReply {
			p, err := f.Popularity()
			if err != nil {
				s.opts.logger.Debug("bad heartbeat reply", "error", err)
				s.opts.metrics.frameError(err)
				continue
			}
			if hb != nil {
				hb.deliver(p)
			}
			continue
		}

		msg, ok := danmaku.Normalize(f.Payload)
		if !ok {
			continue
		}
		s.opts.metrics.message()
		s.push(msg)
	}
}

func (s *Session) push(msg danmaku.Message) {
	if s.opts.onMessage != nil {
		s.opts.onMessage(msg)
		return
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, msg)
	s.mu.Unlock()
}

// PopMessages drains and returns the buffered messages without stopping the session.
func (s *Session) PopMessages() []danmaku.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.buffer
	s.buffer = nil
	return msgs
}

// Stop closes the session and returns any buffered messages. It is safe to
// call from any goroutine and more than once. When it returns the heartbeat
// goroutine has exited.
func (s *Session) Stop() []danmaku.Message {
	s.stopped.Store(true)
	for {
		cur := s.State()
		if cur == StateClosing || cur == StateClosed || s.transition(cur, StateClosing) {
			break
		}
	}

	s.lifeMu.Lock()
	started, cancel, t := s.started, s.cancel, s.transport
	s.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	if started {
		<-s.done
	}
	s.setState(StateClosed)
	return s.PopMessages()
}
