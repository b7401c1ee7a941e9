// Package status serves liveness, readiness and Prometheus metrics for a
// running relay session.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sadewadee/danmu/internal/relay"
)

// Source is the session state the status endpoints report.
type Source interface {
	State() relay.State
	Popularity() int64
}

// Server is the status HTTP server.
type Server struct {
	source      Source
	roomID      int64
	gatherer    prometheus.Gatherer
	metricsPath string
	logger      *slog.Logger
	started     time.Time

	srv *http.Server
}

// Options configures a Server.
type Options struct {
	Address     string
	MetricsPath string
	RoomID      int64
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// New creates a status server for source.
func New(source Source, opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		source:      source,
		roomID:      opts.RoomID,
		gatherer:    opts.Gatherer,
		metricsPath: opts.MetricsPath,
		logger:      opts.Logger,
		started:     time.Now(),
	}
	s.srv = &http.Server{
		Addr:              opts.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the chi router with all status routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.liveness)
	r.Get("/readyz", s.readiness)
	r.Method(http.MethodGet, s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("status server listening", "address", ln.Addr().String(), "metrics", s.metricsPath)

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	state := s.source.State()

	code := http.StatusOK
	statusStr := "ready"
	if state != relay.StateActive {
		code = http.StatusServiceUnavailable
		statusStr = "not_ready"
	}

	body := map[string]interface{}{
		"status":         statusStr,
		"room_id":        s.roomID,
		"session_state":  state.String(),
		"uptime":         time.Since(s.started).String(),
		"uptime_seconds": time.Since(s.started).Seconds(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
	}
	if p := s.source.Popularity(); p >= 0 {
		body["popularity"] = p
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
