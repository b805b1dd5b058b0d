package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID indexes a counter slot.
type MetricID uint16

const (
	MetricOTPSent MetricID = iota
	MetricOTPSendFailure
	MetricOTPVerified
	MetricOTPMismatch
	MetricOTPAttemptsExceeded
	MetricOTPNotFound
	MetricTempTokenIssued
	MetricTempTokenConsumed
	MetricSignInTokenIssued
	MetricSignInTokenExchanged
	MetricTokenNotFound
	MetricRateLimitHit
	MetricSignUpSuccess
	MetricSignUpDuplicate
	MetricLoginSuccess
	MetricLoginFailure
	MetricSessionCreated
	MetricLogout
	MetricValidateSuccess
	MetricValidateFailure
	MetricInternalError
	MetricRateLimitedSendOTP
	MetricRateLimitedVerifyOTP
	MetricRateLimitedTempToken
	MetricRateLimitedEmailFromToken
	MetricRateLimitedSignInExchange
	MetricRateLimitedSignUp
	MetricRateLimitedLogin
	MetricSendOTPLatency
	MetricValidateLatency
	MetricIDCount
)

// HistBucketCount is the number of latency buckets (≤5ms … +Inf).
const HistBucketCount = 8

const cacheLineSize = 64

// HistBucketBounds are the inclusive upper bounds of the first
// HistBucketCount-1 buckets. The last bucket is +Inf.
var HistBucketBounds = [HistBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// LatencyIDs lists the metrics that carry histograms.
var LatencyIDs = []MetricID{MetricSendOTPLatency, MetricValidateLatency}

type histogram struct {
	buckets [HistBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

// Metrics holds cache-line-padded atomic counters and fixed-bucket histograms.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricIDCount]paddedCounter
	histograms    [MetricIDCount]histogram
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into id's histogram. Only LatencyIDs are accepted.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isLatencyID(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[BucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, int(MetricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(LatencyIDs)),
	}

	for id := MetricID(0); id < MetricIDCount; id++ {
		if isLatencyID(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range LatencyIDs {
			buckets := make([]uint64, HistBucketCount)
			for i := 0; i < HistBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isLatencyID(id MetricID) bool {
	for _, l := range LatencyIDs {
		if l == id {
			return true
		}
	}
	return false
}

// BucketIndex maps a duration onto its histogram bucket.
func BucketIndex(d time.Duration) int {
	for i, bound := range HistBucketBounds {
		if d <= bound {
			return i
		}
	}
	return HistBucketCount - 1
}
