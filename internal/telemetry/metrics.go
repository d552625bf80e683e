// Package telemetry exposes swim-rs's process metrics to Prometheus,
// grounded on ryandielhenn-zephyrcache/internal/telemetry/metrics.go:
// package-level collectors registered in an init(), plus a handler to
// mount under /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swim "github.com/Paulius0112/swim-rs"
)

var (
	Registry = prometheus.NewRegistry()

	PingsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swim",
		Name:      "pings_sent_total",
		Help:      "Total number of direct probe Pings sent.",
	})

	AcksReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swim",
		Name:      "acks_received_total",
		Help:      "Total number of Acks received for direct probes.",
	})

	TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swim",
		Name:      "probe_timeouts_total",
		Help:      "Total number of direct or indirect probes that timed out.",
	})

	DecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swim",
		Name:      "decode_failures_total",
		Help:      "Total number of datagrams dropped for failing to decode.",
	})

	MembersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "members",
			Help:      "Current member table size broken down by state.",
		},
		[]string{"state"},
	)

	LatencyMean = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swim",
		Name:      "rtt_mean_seconds",
		Help:      "Mean round-trip time across the bounded recent sample window.",
	})

	LatencyJitter = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swim",
		Name:      "rtt_jitter_seconds",
		Help:      "Mean absolute deviation of round-trip time across the bounded recent sample window.",
	})

	LatencyP50 = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "swim", Name: "rtt_p50_seconds", Help: "50th percentile round-trip time."})
	LatencyP95 = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "swim", Name: "rtt_p95_seconds", Help: "95th percentile round-trip time."})
	LatencyP99 = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "swim", Name: "rtt_p99_seconds", Help: "99th percentile round-trip time."})

	uptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swim",
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)
)

func init() {
	Registry.MustRegister(
		PingsSentTotal, AcksReceivedTotal, TimeoutsTotal, DecodeFailuresTotal,
		MembersByState, LatencyMean, LatencyJitter, LatencyP50, LatencyP95, LatencyP99,
		uptimeSeconds, buildInfo,
	)
}

// MetricsHandler exposes /metrics. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// Sampler bridges swim's polled snapshots (Metrics.Snapshot, Metrics.Stats,
// Table.CountByState) to Prometheus: the underlying swim.Metrics counters
// are monotonic uint64s read by periodic polling rather than incremented
// at the call site, so Sampler tracks the last value seen and pushes only
// the delta, preserving normal Prometheus counter semantics.
type Sampler struct {
	lastPings, lastAcks, lastTimeouts, lastDecodeFailures uint64
}

// Sync pushes one snapshot into the registered collectors. stats may be
// nil if no RTT sample has been recorded yet.
func (s *Sampler) Sync(counters swim.Counters, active, suspect, dead int, stats *swim.LatencyStats) {
	addDelta(PingsSentTotal, &s.lastPings, counters.PingsSent)
	addDelta(AcksReceivedTotal, &s.lastAcks, counters.AcksReceived)
	addDelta(TimeoutsTotal, &s.lastTimeouts, counters.Timeouts)
	addDelta(DecodeFailuresTotal, &s.lastDecodeFailures, counters.DecodeFailures)

	MembersByState.WithLabelValues("active").Set(float64(active))
	MembersByState.WithLabelValues("suspect").Set(float64(suspect))
	MembersByState.WithLabelValues("dead").Set(float64(dead))

	uptimeSeconds.Set(counters.Uptime.Seconds())

	if stats == nil {
		return
	}
	LatencyMean.Set(stats.Mean.Seconds())
	LatencyJitter.Set(stats.Jitter.Seconds())
	LatencyP50.Set(stats.P50.Seconds())
	LatencyP95.Set(stats.P95.Seconds())
	LatencyP99.Set(stats.P99.Seconds())
}

func addDelta(c prometheus.Counter, last *uint64, current uint64) {
	if current > *last {
		c.Add(float64(current - *last))
	}
	*last = current
}

// SyncLoop calls sync.Sync every interval using the given Node accessors,
// until stop is closed. Grounded on the periodic-refresh pattern needed
// because swim's core package never imports Prometheus directly.
func SyncLoop(stop <-chan struct{}, interval time.Duration, poll func() (swim.Counters, int, int, int, *swim.LatencyStats)) {
	s := &Sampler{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			counters, active, suspect, dead, stats := poll()
			s.Sync(counters, active, suspect, dead, stats)
		}
	}
}
