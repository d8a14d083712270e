package clock

// TimeEstimator tracks the offset between this client's local clock and the
// server's broadcast clock, so snapshots timestamped in server time can be
// placed on the local render timeline.
type TimeEstimator struct {
	offset       *MeanStd
	lastSampleAt float64 // local time of the previous sample, for dt
	hasLast      bool
}

// NewTimeEstimator creates an estimator with a fixed tau of 1 s.
func NewTimeEstimator() *TimeEstimator {
	return &TimeEstimator{offset: NewMeanStd(1.0)}
}

// AddSample folds in one (localReceiveTime, serverBroadcastTime) pair.
func (e *TimeEstimator) AddSample(localReceiveTime, serverBroadcastTime float64) {
	offset := localReceiveTime - serverBroadcastTime
	dt := 1.0
	if e.hasLast {
		dt = localReceiveTime - e.lastSampleAt
		if dt <= 0 {
			dt = 1e-3
		}
	}
	e.offset.Add(offset, dt)
	e.lastSampleAt = localReceiveTime
	e.hasLast = true
}

// Ready reports whether at least one sample has been observed.
func (e *TimeEstimator) Ready() bool { return e.offset.Ready() }

// EstimateServerNow converts a local timestamp into the estimated
// corresponding server timestamp. Before the first sample it returns
// localNow unchanged.
func (e *TimeEstimator) EstimateServerNow(localNow float64) float64 {
	if !e.offset.Ready() {
		return localNow
	}
	return localNow - e.offset.Mean()
}

// JitterStd is the standard deviation of the observed offset samples.
func (e *TimeEstimator) JitterStd() float64 { return e.offset.StdDev() }

// SendIntervalEstimator smooths the gap between consecutive poseTime
// values from one sender, ignoring implausible deltas and falling back to
// a configured nominal interval until it has data.
type SendIntervalEstimator struct {
	smoothed *MeanStd
	lastPose float64
	hasLast  bool
	nominal  float64
}

// NewSendIntervalEstimator creates an estimator with a fixed
// tau of 2 s, falling back to nominalInterval seconds until ready.
func NewSendIntervalEstimator(nominalInterval float64) *SendIntervalEstimator {
	return &SendIntervalEstimator{smoothed: NewMeanStd(2.0), nominal: nominalInterval}
}

// AddPoseTime folds in one sender-side poseTime sample.
func (e *SendIntervalEstimator) AddPoseTime(poseTime float64) {
	if e.hasLast {
		delta := poseTime - e.lastPose
		if delta > 0 && delta <= 1.0 {
			e.smoothed.Add(delta, delta)
		}
	}
	e.lastPose = poseTime
	e.hasLast = true
}

// Interval returns the current smoothed send interval, or the configured
// nominal interval before any valid sample has been observed.
func (e *SendIntervalEstimator) Interval() float64 {
	if !e.smoothed.Ready() {
		return e.nominal
	}
	return e.smoothed.Mean()
}
