// Package stats holds the Statistics record each Writer maintains and an
// optional Prometheus-backed Registry for exposing snapshots by name.
//
// This mirrors the teacher's sender/stats package (a channel-fed
// aggregator logged once a minute via kayvee) but generalizes it: instead
// of a single process-wide drop-rate tracker, every Writer gets its own
// Statistics value, updated with atomics so any number of observer
// goroutines can read a consistent snapshot without blocking the writer
// goroutine.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Statistics is the mutable, concurrency-safe counters for one Writer.
// All fields are updated via atomics or under mu; Snapshot returns a
// consistent, independent copy.
type Statistics struct {
	mu sync.Mutex

	messagesSent       int64
	messagesDiscarded  int64
	messagesRequeued   int64
	batchCount         int64
	lastErrorMessage   string
	lastError          error
	lastErrorTimestamp int64

	actualTopicArn     string
	actualStreamName   string
	actualLogGroupName string
	actualLogStreamName string
}

// Snapshot is an immutable point-in-time copy of Statistics, safe to hand
// to a caller of writer.Statistics().
type Snapshot struct {
	MessagesSent        int64
	MessagesDiscarded   int64
	MessagesRequeued    int64
	BatchCount          int64
	LastErrorMessage    string
	LastError           error
	LastErrorTimestamp  int64
	ActualTopicArn      string
	ActualStreamName    string
	ActualLogGroupName  string
	ActualLogStreamName string
}

// New constructs a zeroed Statistics record.
func New() *Statistics {
	return &Statistics{}
}

// AddSent increments the sent counter by n.
func (s *Statistics) AddSent(n int64) { atomic.AddInt64(&s.messagesSent, n) }

// AddDiscarded increments the discarded counter by n.
func (s *Statistics) AddDiscarded(n int64) { atomic.AddInt64(&s.messagesDiscarded, n) }

// AddRequeued increments the requeued counter by n.
func (s *Statistics) AddRequeued(n int64) { atomic.AddInt64(&s.messagesRequeued, n) }

// IncrementBatchCount increments the count of processed batches by one.
func (s *Statistics) IncrementBatchCount() { atomic.AddInt64(&s.batchCount, 1) }

// SetLastError records err (and its message) with the current time.
// Passing a nil error clears the last-error fields.
func (s *Statistics) SetLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
	if err != nil {
		s.lastErrorMessage = err.Error()
		s.lastErrorTimestamp = time.Now().UnixMilli()
	} else {
		s.lastErrorMessage = ""
		s.lastErrorTimestamp = 0
	}
}

// SetActualLogDestination records the resolved group/stream names after
// ServiceFacade.initializeDestination (or rotation) for the CloudWatch
// Logs variant.
func (s *Statistics) SetActualLogDestination(group, stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actualLogGroupName = group
	s.actualLogStreamName = stream
}

// SetActualStreamName records the resolved stream name for the
// shard-partitioned stream variant.
func (s *Statistics) SetActualStreamName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actualStreamName = name
}

// SetActualTopicArn records the resolved topic ARN for the topic variant.
func (s *Statistics) SetActualTopicArn(arn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actualTopicArn = arn
}

// Snapshot returns a consistent, independent copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		MessagesSent:        atomic.LoadInt64(&s.messagesSent),
		MessagesDiscarded:   atomic.LoadInt64(&s.messagesDiscarded),
		MessagesRequeued:    atomic.LoadInt64(&s.messagesRequeued),
		BatchCount:          atomic.LoadInt64(&s.batchCount),
		LastErrorMessage:    s.lastErrorMessage,
		LastError:           s.lastError,
		LastErrorTimestamp:  s.lastErrorTimestamp,
		ActualTopicArn:      s.actualTopicArn,
		ActualStreamName:    s.actualStreamName,
		ActualLogGroupName:  s.actualLogGroupName,
		ActualLogStreamName: s.actualLogStreamName,
	}
}

// Registry exposes named Statistics snapshots as Prometheus gauges. It
// replaces the original implementation's process-wide JMX MBean registry
// (§9 "Global/singleton statistics registry") with an explicit object the
// host constructs once and threads through its appenders.
type Registry struct {
	mu    sync.Mutex
	stats map[string]*Statistics

	sent       *prometheus.GaugeVec
	discarded  *prometheus.GaugeVec
	requeued   *prometheus.GaugeVec
	lastErrAge *prometheus.GaugeVec
}

// NewRegistry constructs an empty Registry with its Prometheus collectors
// created but not yet registered with any prometheus.Registerer.
func NewRegistry() *Registry {
	return &Registry{
		stats: map[string]*Statistics{},
		sent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "log_writer_messages_sent_total",
			Help: "Messages successfully sent by writer name.",
		}, []string{"writer"}),
		discarded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "log_writer_messages_discarded_total",
			Help: "Messages discarded by writer name.",
		}, []string{"writer"}),
		requeued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "log_writer_messages_requeued_total",
			Help: "Messages requeued after a partial failure, by writer name.",
		}, []string{"writer"}),
		lastErrAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "log_writer_last_error_timestamp_seconds",
			Help: "Unix timestamp of the last error recorded by writer name.",
		}, []string{"writer"}),
	}
}

// MustRegister registers the Registry's collectors with reg.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.sent, r.discarded, r.requeued, r.lastErrAge)
}

// Register associates name with stats so future Collect calls (and
// Prometheus scrapes) include it, and returns stats for convenience.
func (r *Registry) Register(name string, statistics *Statistics) *Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[name] = statistics
	return statistics
}

// Snapshot returns the named writer's current Statistics snapshot, and
// false if no writer with that name was registered.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	r.mu.Lock()
	statistics, ok := r.stats[name]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return statistics.Snapshot(), true
}

// Collect refreshes the Prometheus gauges from every registered writer's
// current Statistics. Call this periodically (e.g. on each Prometheus
// scrape via a custom collector, or from a ticker) since Statistics
// itself is not a prometheus.Collector.
func (r *Registry) Collect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, statistics := range r.stats {
		snap := statistics.Snapshot()
		r.sent.WithLabelValues(name).Set(float64(snap.MessagesSent))
		r.discarded.WithLabelValues(name).Set(float64(snap.MessagesDiscarded))
		r.requeued.WithLabelValues(name).Set(float64(snap.MessagesRequeued))
		r.lastErrAge.WithLabelValues(name).Set(float64(snap.LastErrorTimestamp) / 1000)
	}
}
