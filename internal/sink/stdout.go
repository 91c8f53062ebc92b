package sink

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/stream"
)

// StdoutForwarder drains the queue and writes one envelope per line. The
// default consumer when no Kafka forwarder is configured.
type StdoutForwarder struct {
	out    io.Writer
	logger *zap.Logger
}

// NewStdoutForwarder creates a line-delimited JSON forwarder.
func NewStdoutForwarder(out io.Writer, logger *zap.Logger) *StdoutForwarder {
	return &StdoutForwarder{out: out, logger: logger}
}

// Run consumes envelopes until the channel closes or the context is
// cancelled.
func (f *StdoutForwarder) Run(ctx context.Context, events <-chan stream.Envelope) error {
	enc := json.NewEncoder(f.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(env); err != nil {
				return err
			}
		}
	}
}
