package sinks

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-csv-ingest/internal/progress"
)

// maxTracked bounds the number of in-flight request ids remembered by the sink.
// Past the bound the oldest id is forgotten and stops counting as in flight.
const maxTracked = 10000

// PrometheusSink exports broadcast metrics via Prometheus. It owns the
// collectors for broadcasts, deliveries, dropped connections, and uploads
// still reporting progress.
type PrometheusSink struct {
	broadcasts  prometheus.Counter
	deliveries  prometheus.Counter
	dropped     prometheus.Counter
	progress    prometheus.Histogram
	inFlight    prometheus.Gauge
	completions prometheus.Counter

	tracker *requestTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csvingest_progress_broadcasts_total",
			Help: "Progress events relayed to connected clients.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csvingest_progress_deliveries_total",
			Help: "Messages queued to individual connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csvingest_progress_dropped_connections_total",
			Help: "Connections removed because their outbound queue was full.",
		}),
		progress: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "csvingest_progress_value",
			Help:    "Distribution of relayed progress values.",
			Buckets: []float64{10, 25, 50, 75, 90, 100},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csvingest_progress_requests_in_flight",
			Help: "Request ids that reported progress below 100.",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csvingest_progress_completions_total",
			Help: "Request ids that reported progress of 100 or more.",
		}),
		tracker: newRequestTracker(maxTracked),
	}
	for _, collector := range []prometheus.Collector{
		s.broadcasts,
		s.deliveries,
		s.dropped,
		s.progress,
		s.inFlight,
		s.completions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Delivery) error {
	for _, d := range batch {
		s.consumeDelivery(d)
	}
	return nil
}

func (s *PrometheusSink) consumeDelivery(d progress.Delivery) {
	s.broadcasts.Inc()
	s.deliveries.Add(float64(d.Recipients))
	s.dropped.Add(float64(d.Dropped))
	s.progress.Observe(d.Event.Progress)

	id := d.Event.RequestID
	if d.Event.Progress >= 100 {
		s.completions.Inc()
		if s.tracker.complete(id) {
			s.inFlight.Dec()
		}
		return
	}
	added, evicted := s.tracker.start(id)
	if added {
		s.inFlight.Inc()
	}
	if evicted {
		s.inFlight.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// requestTracker remembers in-flight ids in arrival order.
type requestTracker struct {
	mu      sync.Mutex
	limit   int
	order   *list.List
	running map[string]*list.Element
}

func newRequestTracker(limit int) *requestTracker {
	return &requestTracker{
		limit:   limit,
		order:   list.New(),
		running: make(map[string]*list.Element),
	}
}

// start records id. It reports whether id was new and whether the oldest id
// was evicted to make room for it.
func (t *requestTracker) start(id string) (added, evicted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok || t.limit <= 0 {
		return false, false
	}
	if t.order.Len() >= t.limit {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.running, oldest.Value.(string))
		evicted = true
	}
	t.running[id] = t.order.PushBack(id)
	return true, evicted
}

func (t *requestTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.running[id]
	if !ok {
		return false
	}
	t.order.Remove(el)
	delete(t.running, id)
	return true
}
