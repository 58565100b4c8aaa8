package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// sinkTimeout bounds how long one reading may block the handler in a sink.
const sinkTimeout = 2 * time.Second

type handlerState int

const (
	stateAwaitingRegister handlerState = iota
	stateRegistered
	stateClosed
)

func (s handlerState) String() string {
	switch s {
	case stateAwaitingRegister:
		return "awaiting_register"
	case stateRegistered:
		return "registered"
	default:
		return "closed"
	}
}

// Handler runs the protocol for one connection:
// AWAITING_REGISTER -> REGISTERED -> CLOSED.
type Handler struct {
	conn       *Connection
	registry   *Registry
	sink       ReadingSink
	metrics    *Metrics
	logger     *slog.Logger
	role       string
	registered bool // the role may legitimately be empty
	state      handlerState
}

// constructor for Handler
func NewHandler(conn *Connection, registry *Registry, sink ReadingSink, metrics *Metrics, logger *slog.Logger) *Handler {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		conn:     conn,
		registry: registry,
		sink:     sink,
		metrics:  metrics,
		logger:   logger.With("client_id", conn.ID),
		state:    stateAwaitingRegister,
	}
}

// Run drives the state machine until the connection is closed.
func (h *Handler) Run(ctx context.Context) {
	h.metrics.connectionOpened()
	defer h.metrics.connectionClosed()
	defer h.close()

	h.logger.Info("client_connected",
		"remote_addr", h.conn.RemoteAddr(),
	)

	if !h.register() {
		return
	}

	for h.state == stateRegistered {
		msg, err := h.conn.Receive()
		if err != nil {
			h.logDecodeFailure(err)
			h.state = stateClosed
			break
		}
		h.dispatch(ctx, msg)
	}
}

// register performs the handshake and reports whether it succeeded.
func (h *Handler) register() bool {
	msg, err := h.conn.Receive()
	if err != nil {
		h.logDecodeFailure(err)
	}
	if err != nil || msg.Method != MethodRegister || msg.Role == nil {
		h.metrics.registration(false)
		h.logger.Warn("invalid_registration",
			"method", msg.Method,
		)
		h.reply(errorMessage(errInvalidRegistration))
		h.state = stateClosed
		return false
	}
	h.metrics.message(MethodRegister)

	h.role = strings.ToUpper(*msg.Role)
	h.registry.Register(h.role, h.conn)
	h.registered = true
	h.state = stateRegistered
	h.metrics.registration(true)
	h.logger = h.logger.With("role", h.role)
	h.reply(ackMessage(fmt.Sprintf("REGISTER OK (%s)", h.role)))
	return true
}

func (h *Handler) dispatch(ctx context.Context, msg Message) {
	if !h.conn.Allow() {
		h.logger.Warn("rate_limit_exceeded",
			"method", msg.Method,
		)
		h.reply(errorMessage(errRateLimited))
		return
	}
	h.metrics.message(msg.Method)

	switch msg.Method {
	case MethodPing:
		h.reply(pongMessage())
	case MethodPut:
		h.handlePut(ctx, msg)
	case MethodGet:
		h.reply(errorMessage(errUnknownVariable))
	default:
		h.logger.Debug("unknown_method",
			"method", msg.Method,
		)
		h.reply(errorMessage(errUnknownMethod))
	}
}

// handlePut forwards the light actions for a reading to the actuator.
// The sender never gets a reply.
func (h *Handler) handlePut(ctx context.Context, msg Message) {
	distance, ok := msg.Distance()
	if !ok {
		h.metrics.forward(forwardNoDistance)
		h.logger.Debug("put_without_distance")
		return
	}

	leds := MapDistance(distance)
	forwarded := false
	if actuator, found := h.registry.Lookup(RoleActuator); found {
		if err := actuator.Send(putLedsMessage(leds)); err != nil {
			h.metrics.forward(forwardFailed)
			h.logger.Error("forward_failed",
				"actuator_id", actuator.ID,
				"error", err.Error(),
			)
		} else {
			forwarded = true
			h.metrics.forward(forwardSent)
			h.logger.Debug("reading_forwarded",
				"distance", distance,
				"actuator_id", actuator.ID,
			)
		}
	} else {
		h.metrics.forward(forwardNoActuator)
		h.logger.Debug("no_actuator_registered",
			"distance", distance,
		)
	}

	sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	err := h.sink.Record(sinkCtx, Reading{
		ConnectionID: h.conn.ID,
		Role:         h.role,
		Distance:     distance,
		Data:         msg.Data,
		Leds:         leds,
		Forwarded:    forwarded,
		ReceivedAt:   time.Now(),
	})
	if err != nil {
		h.logger.Warn("reading_sink_failed",
			"error", err.Error(),
		)
	}
}

// reply sends msg back on the handler's own connection; a failed send is
// logged and the read loop decides what happens next.
func (h *Handler) reply(msg Message) {
	if err := h.conn.Send(msg); err != nil {
		h.logger.Warn("send_failed",
			"method", msg.Method,
			"error", err.Error(),
		)
	}
}

func (h *Handler) close() {
	if h.registered {
		h.registry.Unregister(h.role, h.conn)
	}
	h.state = stateClosed
	if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Debug("close_failed",
			"error", err.Error(),
		)
	}
}

func (h *Handler) logDecodeFailure(err error) {
	h.metrics.decodeFailure(err)

	var netErr net.Error
	switch {
	case errors.Is(err, ErrMalformed):
		h.logger.Warn("invalid_json_received",
			"state", h.state.String(),
			"error", err.Error(),
		)
	case errors.As(err, &netErr) && netErr.Timeout():
		h.logger.Warn("client_read_timeout",
			"state", h.state.String(),
		)
	default:
		h.logger.Info("client_disconnected",
			"state", h.state.String(),
		)
	}
}
