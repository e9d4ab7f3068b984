package oscar

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Server accepts TCP connections on one listener and hands each to a
// connection handler. It tracks live connections so Shutdown can wait for
// in-flight conversations to wind down.
type Server struct {
	addr    string
	name    string
	handler func(ctx context.Context, conn net.Conn)
	logger  *slog.Logger

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	connWg   sync.WaitGroup
	listenWg sync.WaitGroup

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closed         chan struct{}
	closeOnce      sync.Once

	listener net.Listener
}

// NewServer creates a server bound to addr once ListenAndServe runs. The name
// tags log lines so the AUTH and BOS listeners can be told apart.
func NewServer(addr, name string, handler func(ctx context.Context, conn net.Conn), logger *slog.Logger) *Server {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &Server{
		addr:           addr,
		name:           name,
		handler:        handler,
		logger:         logger,
		conns:          make(map[net.Conn]struct{}),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		closed:         make(chan struct{}),
	}
}

// ListenAndServe starts accepting connections and blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	s.listener = listener
	s.connMu.Unlock()

	s.logger.Info("listening", "server", s.name, "addr", s.addr)

	s.listenWg.Add(1)
	go s.acceptLoop(listener)

	<-s.closed
	return nil
}

// Addr reports the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.listenWg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "server", s.name, "err", err.Error())
			continue
		}
		s.connWg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.connWg.Done()

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	s.handler(s.shutdownCtx, conn)
}

// Shutdown stops accepting connections, signals every live conversation to
// finish, and waits for them until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.connMu.Unlock()

	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.listenWg.Wait()
		s.connWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
		err = ctx.Err()
	}

	s.closeOnce.Do(func() { close(s.closed) })
	return err
}

// IPRateLimiter throttles login attempts per remote IP. Limiter state is held
// in an expiring cache so idle IPs cost nothing.
type IPRateLimiter struct {
	cache *cache.Cache
	rate  rate.Limit
	burst int
}

// NewIPRateLimiter creates a limiter allowing r events/sec with the given
// burst. State for an IP is dropped after ttl of inactivity.
func NewIPRateLimiter(r rate.Limit, burst int, ttl time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		cache: cache.New(ttl, ttl*2),
		rate:  r,
		burst: burst,
	}
}

// Allow reports whether the IP may make another attempt right now.
func (l *IPRateLimiter) Allow(ip string) bool {
	limiter, found := l.cache.Get(ip)
	if !found {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	// sliding expiration: every attempt restarts the TTL
	l.cache.Set(ip, limiter, cache.DefaultExpiration)
	return limiter.(*rate.Limiter).Allow()
}
