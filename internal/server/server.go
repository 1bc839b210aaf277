package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/efreitasn/marketbroker/internal/engine"
	"github.com/efreitasn/marketbroker/internal/metrics"
)

// Options tune the server's queues and timeouts.
type Options struct {
	// BroadcastQueue bounds the shared dispatcher queue.
	BroadcastQueue int
	// SessionQueue bounds each session's outbound queue. A session whose
	// queue stays full when a broadcast arrives is marked failed and reaped.
	SessionQueue int
	// HeartbeatTimeout, when positive, culls sessions that have been silent
	// longer than this. Zero disables culling.
	HeartbeatTimeout time.Duration
}

// DefaultOptions returns the queue sizes used in production.
func DefaultOptions() Options {
	return Options{
		BroadcastQueue: 256,
		SessionQueue:   64,
	}
}

// Server owns the TCP listener, the session registry, and the broadcast
// dispatcher. Market state itself lives in the engine.
type Server struct {
	manager *engine.MarketManager
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options

	listener net.Listener

	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[net.Conn]struct{}

	broadcasts chan broadcast

	shutdownOnce sync.Once
	done         chan struct{}
	wg           sync.WaitGroup
}

// New creates a server over the given manager.
func New(manager *engine.MarketManager, m *metrics.Metrics, logger *slog.Logger, opts Options) *Server {
	if opts.BroadcastQueue <= 0 {
		opts.BroadcastQueue = DefaultOptions().BroadcastQueue
	}
	if opts.SessionQueue <= 0 {
		opts.SessionQueue = DefaultOptions().SessionQueue
	}
	return &Server{
		manager:    manager,
		metrics:    m,
		logger:     logger,
		opts:       opts,
		sessions:   make(map[string]*Session),
		conns:      make(map[net.Conn]struct{}),
		broadcasts: make(chan broadcast, opts.BroadcastQueue),
		done:       make(chan struct{}),
	}
}

// Listen binds the TCP listener. Call before Serve; the bound address is
// available via Addr (useful with ":0" in tests).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the listener's address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop and the broadcast dispatcher until Shutdown.
// Each accepted connection gets its own Session goroutine.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	s.wg.Add(1)
	go s.dispatchBroadcasts()

	if s.opts.HeartbeatTimeout > 0 {
		s.wg.Add(1)
		go s.cullSilentSessions()
	}

	s.logger.Info("server started", slog.String("addr", s.listener.Addr().String()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		sess := newSession(conn, s, s.opts.SessionQueue)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
		s.logger.Info("new client connected", slog.String("remote", conn.RemoteAddr().String()))
	}
}

// register inserts a freshly-handshaken session into the registry.
func (s *Server) register(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.SessionsActive.WithLabelValues(sess.role).Inc()
}

// deregister removes the session. Safe to call for sessions that never
// completed registration.
func (s *Server) deregister(sess *Session) {
	s.mu.Lock()
	delete(s.conns, sess.conn)
	var present bool
	if sess.id != "" {
		_, present = s.sessions[sess.id]
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
	if present {
		s.metrics.SessionsActive.WithLabelValues(sess.role).Dec()
	}
}

// snapshotSessions returns the current session set. A session registered
// after the snapshot misses the broadcast in flight but receives later ones.
func (s *Server) snapshotSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCounts returns the number of connected sessions per role.
func (s *Server) SessionCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, 2)
	for _, sess := range s.sessions {
		counts[sess.role]++
	}
	return counts
}

// cullSilentSessions reaps sessions whose last heartbeat is older than the
// configured timeout.
func (s *Server) cullSilentSessions() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HeartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, sess := range s.snapshotSessions() {
				if now.Sub(sess.lastHeartbeat()) > s.opts.HeartbeatTimeout {
					s.logger.Warn("culling silent session", slog.String("client_id", sess.id))
					sess.fail("heartbeat timeout")
				}
			}
		}
	}
}

// Shutdown stops accepting, drains the broadcast queue best-effort within
// ctx's deadline, closes all sessions, and closes the listener. Idempotent.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}

		// Best-effort drain: give queued broadcasts a chance to flush.
		deadline := time.NewTimer(drainWait(ctx))
		defer deadline.Stop()
	drain:
		for {
			if len(s.broadcasts) == 0 {
				break
			}
			select {
			case <-deadline.C:
				break drain
			case <-time.After(5 * time.Millisecond):
			}
		}

		for _, sess := range s.snapshotSessions() {
			sess.close()
		}
		// Also unblock connections still mid-handshake.
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.logger.Info("server shutdown complete")
	})
	s.wg.Wait()
}

func drainWait(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		if rem := time.Until(d); rem > 0 {
			return rem
		}
		return 0
	}
	return time.Second
}
