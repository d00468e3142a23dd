package audit

import (
	"context"

	"go.uber.org/multierr"
)

// Multi fans every event out to all sinks. A failing sink does not stop the
// others; the combined error is returned.
type Multi []Sink

func (m Multi) Append(ctx context.Context, e Event) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Append(ctx, e))
	}
	return err
}
