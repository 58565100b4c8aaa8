package relay

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ConnectionOptions tune the per-connection transport behaviour.
type ConnectionOptions struct {
	Framing        string        // FramingSingleRead or FramingLine
	ReadBufferSize int           // size of the single read, 0 means DefaultReadBufferSize
	IdleTimeout    time.Duration // 0 disables the read deadline
	RateLimit      float64       // messages per second, 0 disables limiting
	RateBurst      int
}

// Connection wraps one accepted transport connection.
// Sends are serialized so that several handlers forwarding to the same peer
// can never interleave bytes of two JSON lines.
type Connection struct {
	ID          string // unique identifier, used in logs and the admin API
	conn        net.Conn
	codec       Codec
	writer      *bufio.Writer
	writeMu     sync.Mutex
	limiter     *rate.Limiter // nil when rate limiting is off
	idleTimeout time.Duration
	logger      *slog.Logger
	closeOnce   sync.Once
}

// constructor for Connection
func NewConnection(conn net.Conn, opts ConnectionOptions, logger *slog.Logger) (*Connection, error) {
	codec, err := NewCodec(opts.Framing, conn, opts.ReadBufferSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		ID:          uuid.NewString(),
		conn:        conn,
		codec:       codec,
		writer:      bufio.NewWriter(conn),
		idleTimeout: opts.IdleTimeout,
	}
	c.logger = logger.With("client_id", c.ID)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		// the limiter auto depletes tokens when Allow is called and refills over time
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// RemoteAddr returns the peer address for logging.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Receive blocks until the codec yields the next message or fails.
func (c *Connection) Receive() (Message, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrPeerClosed, err)
		}
	}
	return c.codec.Decode()
}

// Allow reports whether the next inbound message fits the rate limit.
func (c *Connection) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Send writes msg as one line. A message that cannot be encoded is logged and
// dropped without an error; transport failures are returned.
func (c *Connection) Send(msg Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		c.logger.Error("message_encode_failed",
			"method", msg.Method,
			"error", err.Error(),
		)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
