package relay

import (
	"context"
	"encoding/json"
	"time"
)

// Reading is one sensor PUT as seen by the relay.
type Reading struct {
	ConnectionID string          `json:"connection_id"`
	Role         string          `json:"role"`
	Distance     float64         `json:"distance"`
	Data         json.RawMessage `json:"data"`
	Leds         []LightAction   `json:"leds"`
	Forwarded    bool            `json:"forwarded"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// ReadingSink observes sensor readings. Sinks are best effort: an error is
// logged by the caller and never changes what goes over the wire.
type ReadingSink interface {
	Record(ctx context.Context, reading Reading) error
}

type nopSink struct{}

func (nopSink) Record(context.Context, Reading) error { return nil }
