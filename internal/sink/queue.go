// Package sink delivers event envelopes to consumers: a bounded in-memory
// queue shared by all partition loops, and an optional Kafka forwarder that
// drains it.
package sink

import (
	"context"

	"github.com/lvonguyen/falconstream/internal/observability"
	"github.com/lvonguyen/falconstream/internal/stream"
)

// Queue is a bounded envelope queue. Multiple partition loops Put
// concurrently; a single consumer drains Events. When the queue is full,
// Put blocks rather than dropping: completeness and ordering matter more
// than throughput here.
type Queue struct {
	ch      chan stream.Envelope
	metrics *observability.Metrics
}

// NewQueue creates a queue with the given capacity.
func NewQueue(size int, metrics *observability.Metrics) *Queue {
	return &Queue{
		ch:      make(chan stream.Envelope, size),
		metrics: metrics,
	}
}

// Put enqueues one envelope, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, env stream.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- env:
	}
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
	}
	return nil
}

// Events returns the consumer side of the queue.
func (q *Queue) Events() <-chan stream.Envelope {
	return q.ch
}

// Close closes the queue. Call only after every producer has stopped.
func (q *Queue) Close() {
	close(q.ch)
}
