package swim

import (
	"sort"
	"sync"
	"time"
)

// metricsMaxSamples bounds the global sample deque metrics.rs keeps in
// original_source, used only for percentile reporting.
const metricsMaxSamples = 1000

// LatencyStats is a point-in-time percentile snapshot, grounded on
// original_source/src/protocol/metrics.rs's LatencyStats.
type LatencyStats struct {
	Min, Max, Mean    time.Duration
	P50, P95, P99     time.Duration
	Jitter            time.Duration
	SampleCount       int
}

// Metrics aggregates per-peer RTT estimators (the value the probe
// requires the probe coordinator to consult) alongside process-wide
// counters and a bounded latency sample deque, the supplemental reporting
// original_source/src/protocol/metrics.rs carries as supplemental reporting.
//
// Metrics is safe for concurrent use: the event loop owns it on the hot
// path, but the telemetry sync loop reads it from another goroutine.
type Metrics struct {
	mu sync.Mutex

	peers map[Endpoint]*RTT

	pingsSent      uint64
	acksReceived   uint64
	timeouts       uint64
	decodeFailures uint64

	samples    []time.Duration
	sampleHead int
	startedAt  time.Time
}

// NewMetrics returns an empty aggregator. now is recorded as the process
// start time for uptime reporting.
func NewMetrics(now time.Time) *Metrics {
	return &Metrics{
		peers:     make(map[Endpoint]*RTT),
		samples:   make([]time.Duration, 0, metricsMaxSamples),
		startedAt: now,
	}
}

// RecordPingSent increments the outgoing-probe counter.
func (m *Metrics) RecordPingSent() {
	m.mu.Lock()
	m.pingsSent++
	m.mu.Unlock()
}

// RecordTimeout increments the probe-timeout counter.
func (m *Metrics) RecordTimeout() {
	m.mu.Lock()
	m.timeouts++
	m.mu.Unlock()
}

// RecordDecodeFailure increments the malformed-datagram counter.
func (m *Metrics) RecordDecodeFailure() {
	m.mu.Lock()
	m.decodeFailures++
	m.mu.Unlock()
}

// RecordRTT folds sample into peer's EWMA estimator and the global
// percentile deque, and counts it as an acknowledged probe.
func (m *Metrics) RecordRTT(peer Endpoint, sample time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acksReceived++

	r, ok := m.peers[peer]
	if !ok {
		r = &RTT{}
		m.peers[peer] = r
	}
	r.Update(sample)

	if len(m.samples) < metricsMaxSamples {
		m.samples = append(m.samples, sample)
	} else {
		m.samples[m.sampleHead] = sample
		m.sampleHead = (m.sampleHead + 1) % metricsMaxSamples
	}
}

// PeerRTT returns the current mean/jitter estimate for peer, if any
// samples have been recorded for it.
func (m *Metrics) PeerRTT(peer Endpoint) (mean, jitter time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.peers[peer]
	if !found || r.Samples() == 0 {
		return 0, 0, false
	}
	return r.Mean(), r.Jitter(), true
}

// ForgetPeer drops the RTT estimator for peer, used when a member is
// declared dead so its estimate is not kept.
func (m *Metrics) ForgetPeer(peer Endpoint) {
	m.mu.Lock()
	delete(m.peers, peer)
	m.mu.Unlock()
}

// Counters is a snapshot of the process-wide counters.
type Counters struct {
	PingsSent      uint64
	AcksReceived   uint64
	Timeouts       uint64
	DecodeFailures uint64
	Uptime         time.Duration
}

// Snapshot returns the current counters, evaluating uptime against now.
func (m *Metrics) Snapshot(now time.Time) Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counters{
		PingsSent:      m.pingsSent,
		AcksReceived:   m.acksReceived,
		Timeouts:       m.timeouts,
		DecodeFailures: m.decodeFailures,
		Uptime:         now.Sub(m.startedAt),
	}
}

// Stats computes a percentile snapshot over the bounded sample deque. It
// returns nil if no samples have been recorded yet.
func (m *Metrics) Stats() *LatencyStats {
	m.mu.Lock()
	samples := append([]time.Duration(nil), m.samples...)
	m.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	mean := sum / time.Duration(len(samples))

	var devSum time.Duration
	for _, s := range samples {
		d := s - mean
		if d < 0 {
			d = -d
		}
		devSum += d
	}
	jitter := devSum / time.Duration(len(samples))

	pick := func(p float64) time.Duration {
		idx := int(p * float64(len(samples)-1))
		return samples[idx]
	}

	return &LatencyStats{
		Min:         samples[0],
		Max:         samples[len(samples)-1],
		Mean:        mean,
		P50:         pick(0.50),
		P95:         pick(0.95),
		P99:         pick(0.99),
		Jitter:      jitter,
		SampleCount: len(samples),
	}
}
