package clock

// BufferMultiplierParams bundles the tuning inputs for DynamicBufferMultiplier.
type BufferMultiplierParams struct {
	SendInterval float64 // configured nominal send interval, seconds
	Base         float64 // B: base multiplier
	Tolerance    float64 // T: extra tolerance added to the jitter-derived term
	Min, Max     float64 // clamp bounds
}

// DynamicBufferMultiplier sizes the jitter buffer: when disabled or the
// estimator isn't ready, returns Base clamped to [Min,Max]; otherwise
// returns max(Base, (sendInterval+jitter)/sendInterval + T) clamped.
func DynamicBufferMultiplier(enabled bool, est *TimeEstimator, p BufferMultiplierParams) float64 {
	if !enabled || est == nil || !est.Ready() {
		return clamp(p.Base, p.Min, p.Max)
	}
	jitter := est.JitterStd()
	v := p.Base
	if candidate := (p.SendInterval+jitter)/p.SendInterval + p.Tolerance; candidate > v {
		v = candidate
	}
	return clamp(v, p.Min, p.Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
