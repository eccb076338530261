package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchSize: flush once this many deliveries queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize   int
	MaxBatchSize int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const (
	defaultBufferSize   = 4096
	defaultMaxBatchSize = 256
	defaultMaxBatchWait = 250 * time.Millisecond
	defaultSinkTimeout  = 5 * time.Second
	dropLogInterval     = 5 * time.Second
)

// Hub aggregates Delivery records and fans them out to registered sinks. It is
// safe for concurrent use by multiple goroutines and never blocks callers.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Delivery
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropLogs logThrottle
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    nonNil(sinks),
		events:   make(chan Delivery, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		dropLogs: logThrottle{interval: dropLogInterval},
	}
	go h.run()
	return h
}

func nonNil(sinks []Sink) []Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Emit enqueues a Delivery for batching. It never blocks; if the buffer is full
// the record is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(d Delivery) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := d.Validate(); err != nil {
		h.logger.Debug("discarding invalid delivery", zap.Error(err))
		return
	}
	select {
	case h.events <- d:
	default:
		h.dropped.Add(1)
		if h.dropLogs.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("progress deliveries dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains remaining deliveries, flushes sinks, and blocks until the background
// goroutine exits. It is safe to call multiple times; subsequent calls are
// ignored once shutdown begins.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// run batches deliveries until stopCh closes. The timer starts with the first
// delivery of a batch, so MaxBatchWait bounds how stale a sink can get.
func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Delivery, 0, h.cfg.MaxBatchSize)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	for {
		select {
		case d := <-h.events:
			if len(batch) == 0 {
				timer.Reset(h.cfg.MaxBatchWait)
			}
			batch = append(batch, d)
			if len(batch) >= h.cfg.MaxBatchSize {
				timer.Stop()
				batch = h.flush(batch)
			}
		case <-timer.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			timer.Stop()
			h.drain(batch)
			return
		}
	}
}

// drain flushes whatever is still buffered, then closes every sink.
func (h *Hub) drain(batch []Delivery) {
	for {
		select {
		case d := <-h.events:
			batch = append(batch, d)
			if len(batch) >= h.cfg.MaxBatchSize {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied for reuse.
func (h *Hub) flush(batch []Delivery) []Delivery {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Delivery(nil), batch...)
	for _, sink := range h.sinks {
		h.consume(sink, out)
	}
	return batch[:0]
}

func (h *Hub) consume(sink Sink, batch []Delivery) {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	if err := sink.Consume(ctx, batch); err != nil {
		h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("batch", len(batch)))
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
