package websession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the fixed metric set.
type MetricID uint16

const (
	// MetricSessionCreated counts sessions persisted for the first time.
	MetricSessionCreated MetricID = iota
	// MetricSessionLoaded counts sessions resolved from a valid cookie.
	MetricSessionLoaded
	// MetricCookieRejected counts cookies that failed structural or
	// integrity validation.
	MetricCookieRejected
	// MetricSessionRotated counts identifier rotations.
	MetricSessionRotated
	// MetricSessionDestroyed counts explicit session terminations.
	MetricSessionDestroyed
	// MetricStoreUnavailable counts backend outages that exhausted the
	// retry budget.
	MetricStoreUnavailable
	// MetricSaveFailure counts surfaced save errors.
	MetricSaveFailure
	// MetricIDCollisionRetry counts identifier regenerations after a
	// backend-reported collision.
	MetricIDCollisionRetry
	// MetricTouch counts payload-free TTL refreshes.
	MetricTouch
	// MetricSessionExpired counts sessions evicted for exceeding the
	// absolute lifetime cap. Plain sliding-TTL expiry is invisible here;
	// the backend retires those records on its own.
	MetricSessionExpired
	// MetricBeginLatency is the Begin latency histogram.
	MetricBeginLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Counters are padded to a cache line each so hot concurrent increments on
// different IDs do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size atomic counter set. A nil or disabled Metrics is
// safe to use; every operation is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a metric set per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the Begin latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the latency histogram for id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricBeginLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and histogram. Reads are atomic per metric
// but not across the whole set.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricBeginLatency].buckets[i])
		}
		s.Histograms[MetricBeginLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
