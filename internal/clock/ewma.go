package clock

import "math"

// MeanStd tracks an exponentially-weighted mean and standard deviation with
// time constant tau. It is initialized lazily on
// the first sample rather than assuming a starting mean of zero.
type MeanStd struct {
	tau float64

	initialized bool
	mean        float64
	meanSq      float64
}

// NewMeanStd creates an estimator with smoothing time constant tau seconds.
func NewMeanStd(tau float64) *MeanStd {
	return &MeanStd{tau: tau}
}

// Add folds in a new sample observed dt seconds after the previous one.
// The very first call seeds mean/meanSq directly from the sample.
func (m *MeanStd) Add(sample, dt float64) {
	if !m.initialized {
		m.mean = sample
		m.meanSq = sample * sample
		m.initialized = true
		return
	}
	alpha := 1 - math.Exp(-dt/m.tau)
	m.mean += alpha * (sample - m.mean)
	m.meanSq += alpha * (sample*sample - m.meanSq)
}

// Mean returns the current smoothed mean, or 0 before the first sample.
func (m *MeanStd) Mean() float64 { return m.mean }

// StdDev returns sqrt(max(0, meanSq - mean^2)), or 0 before the first sample.
func (m *MeanStd) StdDev() float64 {
	v := m.meanSq - m.mean*m.mean
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// Ready reports whether at least one sample has been added.
func (m *MeanStd) Ready() bool { return m.initialized }
