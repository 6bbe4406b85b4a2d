// Package server owns the listening socket and runs one goroutine per
// accepted connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tinyhttpd-go/internal/cgi"
	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/metrics"
	"tinyhttpd-go/internal/static"
)

// ErrNotListening is returned by Serve before Listen has succeeded.
var ErrNotListening = errors.New("server: not listening")

// Server accepts connections and answers exactly one request on each.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	files   *static.FileServer
	cgi     *cgi.Executor
	limiter *rate.Limiter // nil when throttling is disabled

	// baseCtx is the parent of every CGI run; Shutdown cancels it once the
	// grace period is over.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a Server. The metrics parameter is optional; pass nil to
// disable recording.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, files *static.FileServer, exec *cgi.Executor) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		metrics: m,
		files:   files,
		cgi:     exec,
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.ConnectionsPerSecond), rl.Burst)
	}
	return s
}

// Listen binds the configured address and returns the bound address, which
// carries the OS-assigned port when port 0 was requested.
func (s *Server) Listen() (net.Addr, error) {
	addr := s.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until the listener is closed by Shutdown, in
// which case it returns nil. The loop itself never waits on a request.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.baseCtx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Typically EMFILE; back off instead of spinning.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.logger.Error("accept failed", "err", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.register(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handle(conn)
	}
}

// Shutdown stops accepting, then waits for in-flight connections until ctx
// is done. Running CGI programs are killed when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.shutdown = true
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return err
	case <-ctx.Done():
		s.cancel()
		s.expireConns()
		<-done
		return errors.Join(err, ctx.Err())
	}
}

// register tracks conn and counts it as in flight. It refuses once
// Shutdown has started so the WaitGroup never grows during Wait.
func (s *Server) register(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// expireConns unblocks handlers stuck on client I/O by expiring their
// deadlines. Each handler still closes its own connection.
func (s *Server) expireConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for c := range s.conns {
		_ = c.SetDeadline(now)
	}
}
