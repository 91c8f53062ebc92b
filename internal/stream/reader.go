package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/observability"
)

// maxLineSize bounds a single NDJSON line. Falcon events are small; 1MB
// leaves ample headroom.
const maxLineSize = 1024 * 1024

// State is a phase of the read loop.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateReading
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Envelope wraps one raw backend event under the fixed "falcon" key.
type Envelope struct {
	Falcon json.RawMessage `json:"falcon"`
}

// Sink receives event envelopes. Put blocks while the consumer queue is
// full and must honor context cancellation.
type Sink interface {
	Put(ctx context.Context, env Envelope) error
}

// Reader runs the read loop for one partition. It owns the Session and the
// long-lived HTTP connection; the only shared resource it touches is the
// output sink.
type Reader struct {
	session *Session
	filter  *Filter
	sink    Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	delay   time.Duration

	// No client timeout: the stream is intentionally long-lived and is
	// cancelled through the request context instead.
	httpClient *http.Client

	// Observed by the ops surface while the loop runs.
	state atomic.Int32
}

// ReaderConfig holds reader construction parameters.
type ReaderConfig struct {
	Session *Session
	Filter  *Filter
	Sink    Sink
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Delay   time.Duration
}

// NewReader creates a read loop for one partition.
func NewReader(cfg ReaderConfig) *Reader {
	return &Reader{
		session:    cfg.Session,
		filter:     cfg.Filter,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		delay:      cfg.Delay,
		httpClient: &http.Client{},
	}
}

// State returns the current loop phase.
func (r *Reader) State() State { return State(r.state.Load()) }

func (r *Reader) setState(s State) { r.state.Store(int32(s)) }

// Run opens the stream and consumes it until the context is cancelled, the
// backend closes the body, or an unrecoverable error occurs. The connection
// is released exactly once on every exit path. A cancelled context is
// returned as ctx.Err() so the caller can tell shutdown from failure.
func (r *Reader) Run(ctx context.Context) error {
	body, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			r.logger.Warn("failed to close stream connection",
				zap.String("partition", r.session.Partition()), zap.Error(cerr))
		}
		r.setState(StateClosed)
	}()

	return r.read(ctx, body)
}

// open performs the CLOSED -> OPEN transition: a GET against the data feed
// with the session token and the offset-or-tail selector.
func (r *Reader) open(ctx context.Context) (io.ReadCloser, error) {
	url := r.session.feedURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.session.sessionToken)
	req.Header.Set("User-Agent", "falconstream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream for partition %s: %w", r.session.Partition(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream for partition %s returned status %d", r.session.Partition(), resp.StatusCode)
	}

	r.setState(StateOpen)
	r.logger.Info("stream opened",
		zap.String("partition", r.session.Partition()),
		zap.Int64("offset", r.session.Offset()),
	)
	return resp.Body, nil
}

type eventMetadata struct {
	EventType string `json:"eventType"`
	Offset    int64  `json:"offset"`
}

type eventLine struct {
	Metadata eventMetadata `json:"metadata"`
}

// read performs the OPEN -> READING loop. The offset advances for every
// parsed line, filtered or not, so resumption never replays skipped events.
// The expiry check runs once per line; refresh continues on the same body.
func (r *Reader) read(ctx context.Context, body io.Reader) error {
	r.setState(StateReading)
	partition := r.session.Partition()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			var ev eventLine
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("malformed event on partition %s: %w", partition, err)
			}
			if ev.Metadata.EventType == "" {
				return fmt.Errorf("malformed event on partition %s: missing metadata.eventType", partition)
			}

			r.session.Advance(ev.Metadata.Offset)
			if r.metrics != nil {
				r.metrics.EventsReceived.WithLabelValues(partition).Inc()
			}

			if r.filter.Allows(ev.Metadata.EventType) {
				if err := r.deliver(ctx, line); err != nil {
					return err
				}
			} else if r.metrics != nil {
				r.metrics.EventsFiltered.WithLabelValues(partition).Inc()
			}
		}

		if r.session.Expired(time.Now()) {
			if err := r.refresh(ctx); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed on partition %s: %w", partition, err)
	}

	// Backend closed the body; a normal end of stream.
	r.logger.Info("stream ended", zap.String("partition", partition))
	return nil
}

// deliver hands one envelope to the sink, then applies the cooperative
// throttle delay if one is configured.
func (r *Reader) deliver(ctx context.Context, line []byte) error {
	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	if err := r.sink.Put(ctx, Envelope{Falcon: raw}); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.EventsDelivered.WithLabelValues(r.session.Partition()).Inc()
	}

	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// refresh performs the READING -> REFRESHING -> READING transition. The open
// connection is kept; only the session epoch and token change. A failed
// refresh terminates the loop.
func (r *Reader) refresh(ctx context.Context) error {
	r.setState(StateRefreshing)
	partition := r.session.Partition()

	if err := r.session.Refresh(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.SessionRefreshes.WithLabelValues(partition, "error").Inc()
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.SessionRefreshes.WithLabelValues(partition, "ok").Inc()
	}
	r.logger.Info("stream session refreshed", zap.String("partition", partition))
	r.setState(StateReading)
	return nil
}
