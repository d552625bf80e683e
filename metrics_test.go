package swim

import (
	"testing"
	"time"
)

func TestMetricsRecordRTTUpdatesPeerAndCounters(t *testing.T) {
	start := time.Now()
	m := NewMetrics(start)
	peer := mustEndpoint(t, "127.0.0.1:2")

	m.RecordPingSent()
	m.RecordRTT(peer, 20*time.Millisecond)

	mean, _, ok := m.PeerRTT(peer)
	if !ok {
		t.Fatalf("expected a recorded RTT for peer")
	}
	if mean != 20*time.Millisecond {
		t.Fatalf("mean = %v, want 20ms", mean)
	}

	counters := m.Snapshot(start.Add(time.Second))
	if counters.PingsSent != 1 || counters.AcksReceived != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
	if counters.Uptime != time.Second {
		t.Fatalf("uptime = %v, want 1s", counters.Uptime)
	}
}

func TestMetricsForgetPeerClearsEstimator(t *testing.T) {
	m := NewMetrics(time.Now())
	peer := mustEndpoint(t, "127.0.0.1:2")

	m.RecordRTT(peer, time.Millisecond)
	m.ForgetPeer(peer)

	if _, _, ok := m.PeerRTT(peer); ok {
		t.Fatalf("expected PeerRTT to report no estimate after ForgetPeer")
	}
}

func TestMetricsStatsNilWithNoSamples(t *testing.T) {
	m := NewMetrics(time.Now())
	if stats := m.Stats(); stats != nil {
		t.Fatalf("expected nil stats before any sample, got %+v", stats)
	}
}

func TestMetricsStatsComputesPercentiles(t *testing.T) {
	m := NewMetrics(time.Now())
	peer := mustEndpoint(t, "127.0.0.1:2")

	for i := 1; i <= 100; i++ {
		m.RecordRTT(peer, time.Duration(i)*time.Millisecond)
	}

	stats := m.Stats()
	if stats == nil {
		t.Fatalf("expected non-nil stats")
	}
	if stats.SampleCount != 100 {
		t.Fatalf("SampleCount = %d, want 100", stats.SampleCount)
	}
	if stats.Min != time.Millisecond {
		t.Fatalf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Fatalf("Max = %v, want 100ms", stats.Max)
	}
	if stats.P50 < 40*time.Millisecond || stats.P50 > 60*time.Millisecond {
		t.Fatalf("P50 = %v, out of expected range", stats.P50)
	}
}

func TestMetricsStatsBoundedSampleDeque(t *testing.T) {
	m := NewMetrics(time.Now())
	peer := mustEndpoint(t, "127.0.0.1:2")

	for i := 0; i < metricsMaxSamples+500; i++ {
		m.RecordRTT(peer, time.Duration(i)*time.Microsecond)
	}

	stats := m.Stats()
	if stats.SampleCount != metricsMaxSamples {
		t.Fatalf("SampleCount = %d, want the bounded deque size %d", stats.SampleCount, metricsMaxSamples)
	}
}

func TestMetricsRecordDecodeFailure(t *testing.T) {
	m := NewMetrics(time.Now())
	m.RecordDecodeFailure()
	m.RecordDecodeFailure()

	counters := m.Snapshot(time.Now())
	if counters.DecodeFailures != 2 {
		t.Fatalf("DecodeFailures = %d, want 2", counters.DecodeFailures)
	}
}
