package sessionguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricSessionCreated counts successful session creations.
	MetricSessionCreated MetricID = iota
	// MetricSessionReplayed counts idempotent creation replays.
	MetricSessionReplayed
	// MetricSessionTerminated counts session terminations of any kind.
	MetricSessionTerminated
	// MetricSessionQuarantined counts risk or policy quarantines.
	MetricSessionQuarantined
	// MetricSessionEvicted counts oldest-session evictions at the
	// concurrent limit.
	MetricSessionEvicted
	// MetricValidateSuccess counts access validations that passed.
	MetricValidateSuccess
	// MetricValidateFailure counts access validations that failed.
	MetricValidateFailure
	// MetricValidateLockout counts validations rejected by the
	// failed-validation lockout.
	MetricValidateLockout
	// MetricRefreshSuccess counts successful rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed refresh attempts.
	MetricRefreshFailure
	// MetricRefreshConflict counts rotation races lost to a concurrent
	// refresh.
	MetricRefreshConflict
	// MetricRefreshReuseDetected counts superseded-generation refresh
	// presentations.
	MetricRefreshReuseDetected
	// MetricTokenRevoked counts explicit token revocations.
	MetricTokenRevoked
	// MetricTenantMismatch counts cross-tenant credential presentations.
	MetricTenantMismatch
	// MetricMembershipDenied counts membership-provider rejections.
	MetricMembershipDenied
	// MetricDeviceRejected counts sessions refused for device trust.
	MetricDeviceRejected
	// MetricDeviceTrustGranted counts explicit trust grants.
	MetricDeviceTrustGranted
	// MetricDeviceTrustRevoked counts explicit trust revocations.
	MetricDeviceTrustRevoked
	// MetricRiskFlagged counts assessments in the flag band.
	MetricRiskFlagged
	// MetricRiskStepUp counts assessments that demanded step-up.
	MetricRiskStepUp
	// MetricRiskQuarantine counts assessments that triggered quarantine.
	MetricRiskQuarantine
	// MetricPolicyDenied counts operations blocked by tenant policy.
	MetricPolicyDenied
	// MetricLogoutAll counts terminate-everywhere sweeps.
	MetricLogoutAll
	// MetricValidateLatency is the histogram bucket for validation
	// latency.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each hot counter on its own cache line.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional latency histogram. All
// methods are safe for concurrent use and are no-ops on a nil or
// disabled receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance configured by cfg. When
// Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the instance records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram records.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments the counter for id.
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
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters and histograms.
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
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
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
