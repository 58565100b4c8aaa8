package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultReadBufferSize is the size of the single read used by SingleReadCodec.
const DefaultReadBufferSize = 1024

// MaxLineSize bounds one message when the line framing is used.
const MaxLineSize = 64 * 1024

// framing modes
const (
	FramingSingleRead = "single-read"
	FramingLine       = "line"
)

var (
	// ErrPeerClosed means the read produced nothing usable because the peer
	// went away or the transport failed.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrMalformed means bytes arrived but they are not one JSON object.
	ErrMalformed = errors.New("malformed message")
)

// Codec frames messages on a single connection.
// Both decode errors drive the connection handler to close; they are kept
// apart only for logs and metrics.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode() (Message, error)
}

// ValidFraming reports whether framing names a known framing mode.
// The empty string selects the single-read default.
func ValidFraming(framing string) bool {
	switch framing {
	case "", FramingSingleRead, FramingLine:
		return true
	}
	return false
}

// NewCodec returns the codec for the given framing mode reading from r.
func NewCodec(framing string, r io.Reader, readBufferSize int) (Codec, error) {
	switch framing {
	case "", FramingSingleRead:
		return NewSingleReadCodec(r, readBufferSize), nil
	case FramingLine:
		return NewLineCodec(r, MaxLineSize), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", framing)
	}
}

// EncodeMessage serializes msg as one newline-terminated JSON line.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Method, err)
	}
	return append(payload, '\n'), nil
}

// parseMessage parses exactly one JSON object.
func parseMessage(raw []byte) (Message, error) {
	var msg Message
	if len(raw) == 0 {
		return msg, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if raw[0] != '{' {
		return msg, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return msg, nil
}

// SingleReadCodec performs exactly one bounded read per Decode call.
// There is no reassembly: a message split across reads, or two messages
// arriving in the same read, fail to parse and come back as ErrMalformed.
type SingleReadCodec struct {
	r   io.Reader
	buf []byte
}

// constructor for SingleReadCodec
func NewSingleReadCodec(r io.Reader, bufferSize int) *SingleReadCodec {
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	return &SingleReadCodec{r: r, buf: make([]byte, bufferSize)}
}

func (c *SingleReadCodec) Encode(msg Message) ([]byte, error) {
	return EncodeMessage(msg)
}

func (c *SingleReadCodec) Decode() (Message, error) {
	n, err := c.r.Read(c.buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return Message{}, fmt.Errorf("%w: %w", ErrPeerClosed, err)
	}
	// bytes that arrived together with an error are still decoded; the error
	// shows up again on the next read
	return parseMessage(bytes.TrimSpace(c.buf[:n]))
}

// LineCodec reads newline-delimited messages through a buffered reader, so
// split and concatenated messages are handled. Blank lines are skipped.
type LineCodec struct {
	scanner *bufio.Scanner
}

// constructor for LineCodec
func NewLineCodec(r io.Reader, maxLineSize int) *LineCodec {
	if maxLineSize <= 0 {
		maxLineSize = MaxLineSize
	}
	initial := 4096
	if maxLineSize < initial {
		initial = maxLineSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxLineSize)
	return &LineCodec{scanner: scanner}
}

func (c *LineCodec) Encode(msg Message) ([]byte, error) {
	return EncodeMessage(msg)
}

func (c *LineCodec) Decode() (Message, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return parseMessage(line)
	}
	err := c.scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err == nil {
		err = io.EOF
	}
	return Message{}, fmt.Errorf("%w: %w", ErrPeerClosed, err)
}
