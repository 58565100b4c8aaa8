package relay

import "encoding/json"

// protocol methods
const (
	MethodRegister = "REGISTER"
	MethodAck      = "ACK"
	MethodError    = "ERROR"
	MethodPing     = "PING"
	MethodPong     = "PONG"
	MethodPut      = "PUT"
	MethodGet      = "GET"
)

// RoleActuator is the role whose connection receives light commands.
const RoleActuator = "ACT"

// error texts sent back to clients
const (
	errInvalidRegistration = "invalid registration"
	errUnknownVariable     = "unknown variable"
	errUnknownMethod       = "unknown method"
	errRateLimited         = "rate limit exceeded"
)

// Message is one line of the wire protocol in either direction.
// Data is kept raw so sensor fields other than distance pass through untouched.
type Message struct {
	Method string          `json:"method"`
	Role   *string         `json:"role,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Leds   []LightAction   `json:"leds,omitempty"`
}

// UnmarshalJSON only requires data to be a JSON object. A field with an
// unexpected type is left at its zero value: a non-string method dispatches as
// an unknown method and a non-string role fails registration.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}
	json.Unmarshal(fields["method"], &m.Method)
	json.Unmarshal(fields["msg"], &m.Msg)
	var leds []LightAction
	if json.Unmarshal(fields["leds"], &leds) == nil {
		m.Leds = leds
	}

	var role string
	if raw := fields["role"]; isJSONString(raw) && json.Unmarshal(raw, &role) == nil {
		m.Role = &role
	}
	if raw, ok := fields["data"]; ok {
		m.Data = raw
	}
	return nil
}

// isJSONString reports whether raw holds a string literal rather than null.
func isJSONString(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '"'
}

func ackMessage(text string) Message {
	return Message{Method: MethodAck, Msg: text}
}

func errorMessage(text string) Message {
	return Message{Method: MethodError, Msg: text}
}

func pongMessage() Message {
	return Message{Method: MethodPong}
}

func putLedsMessage(leds []LightAction) Message {
	return Message{Method: MethodPut, Leds: leds}
}

// Distance extracts data.distance from a PUT payload.
// ok is false when data is not an object or distance is missing or not a number.
func (m Message) Distance() (distance float64, ok bool) {
	if len(m.Data) == 0 {
		return 0, false
	}
	var fields map[string]any
	if err := json.Unmarshal(m.Data, &fields); err != nil {
		return 0, false
	}
	distance, ok = fields["distance"].(float64) // JSON numbers are float64
	return distance, ok
}
