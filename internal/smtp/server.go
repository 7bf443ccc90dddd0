package smtp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fwdmail/fwdmail/internal/delivery"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server name used in the greeting and replies.
	Hostname string

	// Deliverer is the mail delivery backend.
	Deliverer delivery.Deliverer

	// LocalDomains, when non-empty, lists the recipient domains this
	// server accepts mail for; anything else gets 550 at RCPT.
	LocalDomains []string

	// MaxMessageSize caps the accepted body size in bytes; 0 means
	// unlimited.
	MaxMessageSize int64

	// ReadTimeout bounds the wait for each command from the peer; 0
	// disables deadlines.
	ReadTimeout time.Duration
}

// Server is an SMTP server that accepts connections and hands accepted
// messages to the configured Deliverer.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Server{config: cfg}
}

// ListenAndServe starts the server and blocks until the context is
// cancelled, then stops accepting and waits up to 30 seconds for
// in-flight sessions. Session failures never stop the accept loop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"backend", s.config.Deliverer.Name(),
		"local_domains", s.config.LocalDomains,
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP server")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown.
				s.waitForSessions()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		slog.Debug("peer connected", "remote", conn.RemoteAddr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session := NewSession(
				conn,
				s.config.Deliverer,
				s.config.Hostname,
				s.config.LocalDomains,
				s.config.MaxMessageSize,
				s.config.ReadTimeout,
			)
			session.Handle(ctx)
			slog.Debug("peer disconnected", "remote", conn.RemoteAddr().String())
		}()
	}
}

// Addr returns the bound listener address, or nil before ListenAndServe
// has opened the listener. Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// waitForSessions waits for in-flight sessions to complete, with a
// maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, abandoning in-flight sessions")
	}
}
