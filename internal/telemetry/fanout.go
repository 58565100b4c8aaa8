package telemetry

import (
	"context"
	"errors"

	"stayalert/internal/microservices/relay"
)

// Fanout records each reading in every sink, in order. One failing sink does
// not stop the others; all errors are joined.
type Fanout []relay.ReadingSink

func (f Fanout) Record(ctx context.Context, reading relay.Reading) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
