package goBankAuth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in Metrics.
type MetricID uint16

const (
	// MetricRequest counts pipeline requests sent, successful or not.
	MetricRequest MetricID = iota
	// MetricRequestClientError counts 4xx responses.
	MetricRequestClientError
	// MetricRequestServerError counts 5xx responses.
	MetricRequestServerError
	// MetricRequestTransportError counts requests that got no response.
	MetricRequestTransportError
	// MetricUnexpectedResponse counts responses that failed shape checks.
	MetricUnexpectedResponse
	// MetricLoginSuccess counts completed personal code logins.
	MetricLoginSuccess
	// MetricLoginFailure counts rejected personal code logins.
	MetricLoginFailure
	// MetricChallengeStarted counts accepted Mobile BankID challenges.
	MetricChallengeStarted
	// MetricChallengeFailure counts Mobile BankID challenges the bank refused.
	MetricChallengeFailure
	// MetricVerificationPoll counts completed verification polls.
	MetricVerificationPoll
	// MetricVerificationComplete counts polls that reported COMPLETE.
	MetricVerificationComplete
	// MetricLogout counts logout requests, including the one after a 4xx.
	MetricLogout
	// MetricSessionCleanup counts cleanups of cookie jar and transport.
	MetricSessionCleanup
	// MetricSessionSaved counts persisted records written.
	MetricSessionSaved
	// MetricSessionRestored counts sessions rebuilt from a persisted record.
	MetricSessionRestored
	// MetricRequestLatency is the request round-trip histogram.
	MetricRequestLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricRequest:               "request",
	MetricRequestClientError:    "request_client_error",
	MetricRequestServerError:    "request_server_error",
	MetricRequestTransportError: "request_transport_error",
	MetricUnexpectedResponse:    "unexpected_response",
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricChallengeStarted:      "challenge_started",
	MetricChallengeFailure:      "challenge_failure",
	MetricVerificationPoll:      "verification_poll",
	MetricVerificationComplete:  "verification_complete",
	MetricLogout:                "logout",
	MetricSessionCleanup:        "session_cleanup",
	MetricSessionSaved:          "session_saved",
	MetricSessionRestored:       "session_restored",
	MetricRequestLatency:        "request_latency",
}

// String returns the snake_case metric name.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and
// records nothing. One Metrics may be shared by many sessions.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
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

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricRequestLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and, when enabled, the latency buckets.
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
		if id == MetricRequestLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRequestLatency].buckets[i])
		}
		s.Histograms[MetricRequestLatency] = buckets
	}
	return s
}

// Bank round trips are slower than in-process validation, so the buckets
// start at 50ms.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
