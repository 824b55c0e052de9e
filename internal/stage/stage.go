// Package stage buffers a stream of payloads in a fixed-size ring buffer and publishes it
// downstream in bounded batches. When the producer outpaces the publisher the stager either
// overwrites the oldest staged bytes or rejects new payloads, depending on its Policy.
package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ttd2089/ring-staging-poc/internal/messages"
	"github.com/ttd2089/ring-staging-poc/internal/metrics"
	"github.com/ttd2089/ring-staging-poc/internal/ringbuf"
)

// Counter names reported in Stats.
const (
	CounterBytesIn          = "bytes.in"
	CounterBytesOut         = "bytes.out"
	CounterBytesDropped     = "bytes.dropped"
	CounterPayloadsRejected = "payloads.rejected"
	CounterBatchesOut       = "batches.out"
	CounterBatchesFailed    = "batches.failed"
)

const defaultFlushInterval = time.Second

// A Policy decides what happens to a payload that doesn't fit in the free space.
type Policy string

const (
	// PolicyOverwrite stages the payload and discards the oldest unpublished bytes.
	PolicyOverwrite Policy = "overwrite"

	// PolicyReject refuses the payload and leaves staged bytes untouched.
	PolicyReject Policy = "reject"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyOverwrite, PolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown staging policy %q", s)
	}
}

type Config struct {
	// ID identifies the stager on published batches. A random UUID is used when empty.
	ID            string
	Capacity      int
	ChunkSize     int
	Policy        Policy
	FlushInterval time.Duration
}

// A Source yields payloads to stage. Consume blocks until a payload is available or ctx is
// done.
type Source interface {
	Consume(ctx context.Context) ([]byte, error)
}

// A Sink receives published batches.
type Sink interface {
	Publish(ctx context.Context, batch messages.Batch) error
}

type Stats struct {
	ID        string           `json:"id"`
	Policy    Policy           `json:"policy"`
	Capacity  int              `json:"capacity"`
	Used      int              `json:"used"`
	Available int              `json:"available"`
	Counters  metrics.Snapshot `json:"counters"`
}

type Stager struct {
	cfg      Config
	buf      *ringbuf.Locked
	counters *metrics.Counters
	log      *zap.Logger

	// pendingDropped is only accessed inside buf.Do.
	pendingDropped uint64

	flushMu sync.Mutex
	seq     uint64
}

func New(cfg Config, log *zap.Logger) (*Stager, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if _, err := ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	buf, err := ringbuf.NewLocked(cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("allocate ring buffer: %w", err)
	}

	return &Stager{
		cfg: cfg,
		buf: buf,
		counters: metrics.NewCounters(
			CounterBytesIn,
			CounterBytesOut,
			CounterBytesDropped,
			CounterPayloadsRejected,
			CounterBatchesOut,
			CounterBatchesFailed,
		),
		log: log.With(zap.String("stager_id", cfg.ID)),
	}, nil
}

func (s *Stager) ID() string {
	return s.cfg.ID
}

// Ingest stages p according to the stager's policy. Payloads longer than the capacity are
// always rejected with ringbuf.ErrCapacityExceeded.
func (s *Stager) Ingest(p []byte) error {
	var (
		err     error
		dropped int
	)
	s.buf.Do(func(b *ringbuf.Buffer) {
		// Oversized payloads fail the same way under both policies.
		if len(p) > b.Cap() {
			err = fmt.Errorf("%w: %d > %d", ringbuf.ErrCapacityExceeded, len(p), b.Cap())
			return
		}
		if s.cfg.Policy == PolicyReject {
			_, err = b.SafeWrite(p)
			return
		}
		available := b.AvailableSpace()
		if _, err = b.Write(p); err != nil {
			return
		}
		dropped = max(0, len(p)-available)
		s.pendingDropped += uint64(dropped)
	})
	if err != nil {
		s.counters.Add(CounterPayloadsRejected, 1)
		return fmt.Errorf("stage %d byte payload: %w", len(p), err)
	}

	s.counters.Add(CounterBytesIn, len(p))
	if dropped > 0 {
		s.counters.Add(CounterBytesDropped, dropped)
		s.log.Debug("overwrote unpublished bytes", zap.Int("dropped", dropped))
	}
	return nil
}

// Flush publishes everything staged at the time of the call in batches of at most ChunkSize
// bytes. A batch whose publish fails is lost; its bytes are reported as dropped on the next
// batch.
func (s *Stager) Flush(ctx context.Context, sink Sink) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for remaining := s.buf.UsedSpace(); remaining > 0; {
		var (
			data    []byte
			dropped uint64
		)
		s.buf.Do(func(b *ringbuf.Buffer) {
			if b.IsEmpty() {
				return
			}
			data, _ = b.Pop(s.cfg.ChunkSize)
			dropped = s.pendingDropped
			s.pendingDropped = 0
		})
		if len(data) == 0 {
			return nil
		}
		remaining -= len(data)

		batch := messages.Batch{
			StagerID: s.cfg.ID,
			Seq:      s.seq,
			Dropped:  dropped,
			Data:     data,
		}
		if err := sink.Publish(ctx, batch); err != nil {
			s.buf.Do(func(*ringbuf.Buffer) {
				s.pendingDropped += dropped + uint64(len(data))
			})
			s.counters.Add(CounterBatchesFailed, 1)
			s.counters.Add(CounterBytesDropped, len(data))
			return fmt.Errorf("publish batch %d: %w", batch.Seq, err)
		}
		s.seq++
		s.counters.Add(CounterBatchesOut, 1)
		s.counters.Add(CounterBytesOut, len(data))
	}
	return nil
}

// Run stages payloads from src until ctx is done or src fails, flushing to sink every
// FlushInterval. Whatever is still staged when consumption stops is flushed before Run
// returns.
func (s *Stager) Run(ctx context.Context, src Source, sink Sink) error {
	flushCtx, stopFlushing := context.WithCancel(ctx)
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		s.flushEvery(flushCtx, sink)
	}()

	runErr := s.consume(ctx, src)

	stopFlushing()
	<-flushed

	if err := s.Flush(context.WithoutCancel(ctx), sink); err != nil {
		return errors.Join(runErr, fmt.Errorf("final flush: %w", err))
	}
	return runErr
}

func (s *Stager) consume(ctx context.Context, src Source) error {
	for !isCancelled(ctx) {
		p, err := src.Consume(ctx)
		if err != nil {
			if isCancelled(ctx) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if err := s.Ingest(p); err != nil {
			s.log.Warn("payload not staged", zap.Error(err))
		}
	}
	return nil
}

func (s *Stager) flushEvery(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx, sink); err != nil {
				s.log.Error("flush", zap.Error(err))
			}
		}
	}
}

func (s *Stager) Stats() Stats {
	stats := Stats{
		ID:       s.cfg.ID,
		Policy:   s.cfg.Policy,
		Counters: s.counters.Snapshot(),
	}
	s.buf.Do(func(b *ringbuf.Buffer) {
		stats.Capacity = b.Cap()
		stats.Used = b.UsedSpace()
		stats.Available = b.AvailableSpace()
	})
	return stats
}

// Fields renders the stats as log fields, with counters in name order.
func (st Stats) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("policy", string(st.Policy)),
		zap.Int("capacity", st.Capacity),
		zap.Int("used", st.Used),
		zap.Int("available", st.Available),
	}
	for _, name := range st.Counters.Keys() {
		fields = append(fields, zap.Uint64(name, st.Counters[name]))
	}
	return fields
}

// Close releases the staging buffer. Staged bytes that were not flushed are lost.
func (s *Stager) Close() {
	s.buf.Release()
}

func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
