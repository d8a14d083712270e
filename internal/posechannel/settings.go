// Package posechannel implements the per-part snapshot smoothing
// engine: a pose channel buffers incoming snapshots, detects
// teleports, and on each render tick produces an interpolated,
// extrapolated, or low-pass-smoothed pose. A transform applier binds a
// set of channels to output targets for one avatar or a single marker.
package posechannel

// Settings configures one pose channel's smoothing and teleport behavior.
type Settings struct {
	MaxExtrapolationSeconds    float64
	EnableSecondPhaseSmoothing bool
	TauMinSeconds              float64
	TauMaxSeconds              float64
	SpeedForTauMin             float64
	AngularSpeedForTauMin      float64
	TeleportDistanceMeters     float64
	TeleportAngleDegrees       float64
	MaxReasonableSpeed         float64
	MaxReasonableAngularSpeed  float64
}

// DefaultSettings returns the values used by the reference
// avatar channels absent any override.
func DefaultSettings() Settings {
	return Settings{
		MaxExtrapolationSeconds:    0.25,
		EnableSecondPhaseSmoothing: true,
		TauMinSeconds:              0.02,
		TauMaxSeconds:              0.2,
		SpeedForTauMin:             2.0,  // m/s
		AngularSpeedForTauMin:      180.0, // deg/s
		TeleportDistanceMeters:     3.0,
		TeleportAngleDegrees:       120.0,
		MaxReasonableSpeed:         15.0,  // m/s
		MaxReasonableAngularSpeed:  1080.0, // deg/s
	}
}
