package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/config"
	"github.com/lvonguyen/falconstream/internal/falcon"
	"github.com/lvonguyen/falconstream/internal/observability"
)

// OffsetStore persists per-partition offsets so a restarted consumer can
// resume where it left off.
type OffsetStore interface {
	Load(ctx context.Context, partition string) (int64, bool, error)
	Save(ctx context.Context, partition string, offset int64) error
}

// Streamer discovers partitions and runs one read loop per partition until
// the context is cancelled or every loop has finished.
type Streamer struct {
	client  *falcon.Client
	cfg     config.StreamConfig
	sink    Sink
	offsets OffsetStore
	logger  *zap.Logger
	metrics *observability.Metrics

	checkpointInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	readers  map[string]*Reader
	started  time.Time
}

// StreamerConfig holds orchestrator construction parameters. Offsets and
// Metrics are optional.
type StreamerConfig struct {
	Client             *falcon.Client
	Stream             config.StreamConfig
	Sink               Sink
	Offsets            OffsetStore
	CheckpointInterval time.Duration
	Logger             *zap.Logger
	Metrics            *observability.Metrics
}

// NewStreamer creates the partition orchestrator.
func NewStreamer(cfg StreamerConfig) *Streamer {
	interval := cfg.CheckpointInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Streamer{
		client:             cfg.Client,
		cfg:                cfg.Stream,
		sink:               cfg.Sink,
		offsets:            cfg.Offsets,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		checkpointInterval: interval,
		sessions:           make(map[string]*Session),
		readers:            make(map[string]*Reader),
	}
}

// PartitionStats is a point-in-time view of one read loop.
type PartitionStats struct {
	Partition string `json:"partition"`
	Offset    int64  `json:"offset"`
	State     string `json:"state"`
}

// Stats is a point-in-time view of the whole streamer.
type Stats struct {
	StreamName string           `json:"stream_name"`
	StartedAt  time.Time        `json:"started_at"`
	Partitions []PartitionStats `json:"partitions"`
}

// Stats returns a snapshot for the ops surface.
func (st *Streamer) Stats() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := Stats{StreamName: st.cfg.Name, StartedAt: st.started}
	for id, sess := range st.sessions {
		s.Partitions = append(s.Partitions, PartitionStats{
			Partition: id,
			Offset:    sess.Offset(),
			State:     st.readers[id].State().String(),
		})
	}
	return s
}

// Run authenticates, discovers partitions, and drives one reader per
// partition. Zero discovered partitions is a clean no-op. Per-partition
// failures are isolated: the other loops keep running and the joined error
// is returned once all loops have finished.
func (st *Streamer) Run(ctx context.Context) error {
	st.mu.Lock()
	st.started = time.Now()
	st.mu.Unlock()

	token, err := st.client.Authenticate(ctx)
	if err != nil {
		return err
	}

	descriptors, err := st.client.ListAvailableStreams(ctx, token, st.cfg.Name)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		st.logger.Info("no streams available, nothing to do",
			zap.String("stream_name", st.cfg.Name))
		return nil
	}

	readers := make([]*Reader, 0, len(descriptors))
	for _, desc := range descriptors {
		reader, err := st.buildReader(ctx, desc)
		if err != nil {
			return err
		}
		readers = append(readers, reader)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(readers))

	for i, reader := range readers {
		wg.Add(1)
		go func(i int, reader *Reader) {
			defer wg.Done()
			if st.metrics != nil {
				st.metrics.PartitionsActive.Inc()
				defer st.metrics.PartitionsActive.Dec()
			}

			stop := st.startCheckpointing(ctx, reader.session)
			defer stop()

			err := reader.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				st.logger.Error("partition loop failed",
					zap.String("partition", reader.session.Partition()), zap.Error(err))
				errs[i] = err
				return
			}
			st.logger.Info("partition loop finished",
				zap.String("partition", reader.session.Partition()),
				zap.Int64("offset", reader.session.Offset()),
			)
		}(i, reader)
	}

	wg.Wait()

	err = errors.Join(errs...)
	if err != nil {
		st.logger.Error("streaming finished with partition errors", zap.Error(err))
	} else {
		st.logger.Info("all partitions finished cleanly")
	}
	return err
}

// buildReader resolves the initial offset and wires a session and reader
// for one discovered partition.
func (st *Streamer) buildReader(ctx context.Context, desc falcon.StreamDescriptor) (*Reader, error) {
	sessCfg := SessionConfig{
		AppID:             st.cfg.Name,
		Latest:            st.cfg.Latest,
		IncludeEventTypes: st.cfg.IncludeEventTypes,
	}
	if st.cfg.Offset != nil {
		sessCfg.Offset = *st.cfg.Offset
	}

	session, err := NewSession(st.client, desc, sessCfg)
	if err != nil {
		return nil, err
	}

	// A checkpointed offset applies only when neither an explicit offset
	// nor a tail read was requested.
	if st.offsets != nil && st.cfg.Offset == nil && !st.cfg.Latest {
		offset, ok, err := st.offsets.Load(ctx, session.Partition())
		if err != nil {
			st.logger.Warn("failed to load checkpointed offset, starting from zero",
				zap.String("partition", session.Partition()), zap.Error(err))
		} else if ok {
			session.Advance(offset)
			st.logger.Info("resuming from checkpointed offset",
				zap.String("partition", session.Partition()), zap.Int64("offset", offset))
		}
	}

	reader := NewReader(ReaderConfig{
		Session: session,
		Filter:  NewFilter(st.cfg.IncludeEventTypes, st.cfg.ExcludeEventTypes),
		Sink:    st.sink,
		Logger:  st.logger,
		Metrics: st.metrics,
		Delay:   st.cfg.Delay,
	})

	st.mu.Lock()
	st.sessions[session.Partition()] = session
	st.readers[session.Partition()] = reader
	st.mu.Unlock()

	return reader, nil
}

// startCheckpointing periodically persists the session offset. The returned
// stop function writes a final checkpoint; checkpoint failures are logged
// and never escalate.
func (st *Streamer) startCheckpointing(ctx context.Context, session *Session) func() {
	if st.offsets == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(st.checkpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				st.checkpoint(ctx, session)
			}
		}
	}()

	return func() {
		close(done)
		// Checkpoints must survive cancellation; use a fresh context.
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st.checkpoint(saveCtx, session)
	}
}

func (st *Streamer) checkpoint(ctx context.Context, session *Session) {
	if err := st.offsets.Save(ctx, session.Partition(), session.Offset()); err != nil {
		st.logger.Warn("failed to checkpoint offset",
			zap.String("partition", session.Partition()), zap.Error(err))
	}
}
