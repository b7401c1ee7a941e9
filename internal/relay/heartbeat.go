package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sadewadee/danmu/internal/protocol"
)

// DefaultHeartbeatInterval is how often keepalives are sent.
const DefaultHeartbeatInterval = 30 * time.Second

// heartbeat sends one keepalive per interval and records the popularity
// carried by each reply. The receive loop owns all reads and forwards
// heartbeat replies on the replies channel.
type heartbeat struct {
	transport  Transport
	interval   time.Duration
	replies    chan uint32
	popularity *atomic.Int64
	active     func() bool
	logger     *slog.Logger
	metrics    *Metrics
}

func (h *heartbeat) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !h.active() {
			return
		}
		h.beat(ctx)
		// Rounds are spaced from the end of the previous one, so a timed-out
		// reply stretches the gap between sends to two intervals.
		timer.Reset(h.interval)
	}
}

// beat runs one round trip. Failures leave the popularity unchanged.
func (h *heartbeat) beat(ctx context.Context) {
	// A late reply from the previous round must not satisfy this one.
	select {
	case <-h.replies:
	default:
	}

	frame, err := protocol.EncodePacket(protocol.HeartbeatPacket{})
	if err != nil {
		h.logger.Error("encoding heartbeat", "error", err)
		return
	}
	if err := h.transport.Send(frame); err != nil {
		h.logger.Debug("heartbeat send failed", "error", err)
		h.metrics.heartbeat("send_error")
		return
	}

	timeout := time.NewTimer(h.interval)
	defer timeout.Stop()

	select {
	case p := <-h.replies:
		h.popularity.Store(int64(p))
		h.metrics.heartbeat("ok")
		h.metrics.setPopularity(p)
		h.logger.Debug("heartbeat reply", "popularity", p)
	case <-timeout.C:
		h.logger.Debug("heartbeat reply timed out", "interval", h.interval)
		h.metrics.heartbeat("timeout")
	case <-ctx.Done():
	}
}

// deliver hands a reply to the waiting round without blocking the receive loop.
func (h *heartbeat) deliver(p uint32) {
	select {
	case h.replies <- p:
	default:
	}
}
