package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// defaults for the listening socket
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 10000
)

// acceptBackoff is the pause after a failed Accept before trying again.
const acceptBackoff = 50 * time.Millisecond

// Options configure a relay Server.
type Options struct {
	Host       string
	Port       int
	Connection ConnectionOptions
}

// Server accepts relay connections and runs one Handler per connection.
type Server struct {
	opts     Options
	Registry *Registry // shared by every handler, the only cross-connection state
	sink     ReadingSink
	metrics  *Metrics
	logger   *slog.Logger
	pool     *ants.Pool // one goroutine per connection, never queued

	mu       sync.Mutex
	conns    map[string]*Connection // every open connection, for shutdown
	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
}

// constructor for Server
func NewServer(opts Options, registry *Registry, sink ReadingSink, metrics *Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	if sink == nil {
		sink = nopSink{}
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if !ValidFraming(opts.Connection.Framing) {
		return nil, fmt.Errorf("unknown framing %q", opts.Connection.Framing)
	}

	// size -1 makes the pool unbounded so Submit never waits for a free worker
	pool, err := ants.NewPool(-1, ants.WithPanicHandler(func(p any) {
		logger.Error("handler_panic", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create handler pool: %w", err)
	}

	return &Server{
		opts:     opts,
		Registry: registry,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		pool:     pool,
		conns:    make(map[string]*Connection),
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start listens and accepts connections until ctx is cancelled.
// On cancellation every open connection is closed and Start returns after all
// handlers have finished.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay server on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("relay_server_started",
		"addr", listener.Addr().String(),
		"framing", s.opts.Connection.Framing,
	)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			listener.Close() // unblocks Accept
		case <-stop:
		}
	}()

	defer s.shutdown()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept_failed",
				"error", err.Error(),
			)
			time.Sleep(acceptBackoff)
			continue
		}
		s.serve(ctx, conn)
	}
}

// serve hands one accepted connection to the pool.
func (s *Server) serve(ctx context.Context, raw net.Conn) {
	conn, err := NewConnection(raw, s.opts.Connection, s.logger)
	if err != nil {
		s.logger.Error("connection_setup_failed",
			"remote_addr", raw.RemoteAddr().String(),
			"error", err.Error(),
		)
		raw.Close()
		return
	}

	s.track(conn)
	s.wg.Add(1)
	err = s.pool.Submit(func() {
		defer s.wg.Done()
		defer s.untrack(conn)
		NewHandler(conn, s.Registry, s.sink, s.metrics, s.logger).Run(ctx)
	})
	if err != nil {
		s.wg.Done()
		s.untrack(conn)
		conn.Close()
		s.logger.Error("handler_submit_failed",
			"client_id", conn.ID,
			"error", err.Error(),
		)
	}
}

func (s *Server) track(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID] = conn
}

func (s *Server) untrack(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn.ID)
}

// shutdown closes every open connection, which unblocks their reads, then
// waits for the handlers to unregister and exit.
func (s *Server) shutdown() {
	s.mu.Lock()
	for id, conn := range s.conns {
		conn.Close()
		s.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	s.logger.Info("relay_server_stopped")
}
