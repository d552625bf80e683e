package swim

import "time"

// rttAlphaMean and rttAlphaJitter are the Jacobson/Karels EWMA gains
// the protocol uses: 0.125 for the mean, 0.25 for the jitter term.
const (
	rttAlphaMean   = 0.125
	rttAlphaJitter = 0.25
)

// RTT tracks one peer's round-trip time as an exponentially weighted
// moving average plus a mean-deviation jitter term. It carries no
// atomics: the event loop is its only owner.
type RTT struct {
	samples int
	mean    time.Duration
	jitter  time.Duration
}

// Update folds a new sample into the running mean and jitter.
func (r *RTT) Update(sample time.Duration) {
	if r.samples == 0 {
		r.mean = sample
		r.jitter = 0
		r.samples = 1
		return
	}

	diff := sample - r.mean
	if diff < 0 {
		diff = -diff
	}
	r.jitter += time.Duration(rttAlphaJitter * float64(diff-r.jitter))
	r.mean += time.Duration(rttAlphaMean * float64(sample-r.mean))
	r.samples++
}

// Mean returns the current EWMA mean RTT.
func (r *RTT) Mean() time.Duration { return r.mean }

// Jitter returns the current mean-deviation jitter term.
func (r *RTT) Jitter() time.Duration { return r.jitter }

// Samples reports how many updates have been folded in.
func (r *RTT) Samples() int { return r.samples }

// Bound derives an adaptive timeout as mean+4*jitter, clamped to
// [floor, ceiling]. Used only when --adaptive-timeout is set; returns
// floor unconditionally until at least one sample has been observed.
func (r *RTT) Bound(floor, ceiling time.Duration) time.Duration {
	if r.samples == 0 {
		return floor
	}
	t := r.mean + 4*r.jitter
	if t < floor {
		return floor
	}
	if t > ceiling {
		return ceiling
	}
	return t
}
