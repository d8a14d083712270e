package posechannel

import (
	"math"

	"github.com/styly-dev/netsync-go/internal/snapshot"
	"github.com/styly-dev/netsync-go/internal/wire"
)

// Channel is one snapshot buffer plus smoothing settings bound to one
// output target.
type Channel struct {
	settings Settings
	buf      *snapshot.Buffer[wire.Pose]

	current    wire.Pose
	hasCurrent bool
}

// NewChannel creates a channel with the given settings and ring capacity
// (snapshot.DefaultCapacity when capacity <= 0; the buffer raises values
// below 2 to 2).
func NewChannel(settings Settings, capacity int) *Channel {
	if capacity <= 0 {
		capacity = snapshot.DefaultCapacity
	}
	return &Channel{settings: settings, buf: snapshot.New[wire.Pose](capacity)}
}

// Clear discards all buffered history and the current smoothed pose.
func (c *Channel) Clear() {
	c.buf.Reset()
	c.hasCurrent = false
}

// AddSnapshot folds in one received (time, seq, pose). The rotation is
// normalized first (the zero quaternion becomes Identity). If the jump
// from the previous snapshot exceeds the teleport distance/angle
// thresholds, or implies an unreasonable speed, the buffer is reset and
// this snapshot becomes the new origin and current pose immediately.
// Otherwise it is appended, silently dropped if it violates the buffer's
// strict-ordering rule.
func (c *Channel) AddSnapshot(t float64, seq uint16, pose wire.Pose) {
	pose.Rotation = pose.Rotation.Normalize()

	if last, ok := c.buf.Latest(); ok {
		dist := pose.Position.Distance(last.Value.Position)
		angle := pose.Rotation.AngleTo(last.Value.Rotation)
		teleport := dist > c.settings.TeleportDistanceMeters || angle > c.settings.TeleportAngleDegrees

		if !teleport {
			if dt := t - last.Time; dt > 0 {
				if dist/dt > c.settings.MaxReasonableSpeed || angle/dt > c.settings.MaxReasonableAngularSpeed {
					teleport = true
				}
			}
		}

		if teleport {
			c.buf.Set(t, seq, pose)
			c.current = pose
			c.hasCurrent = true
			return
		}
	}

	c.buf.Add(t, seq, pose)
}

// Tick advances the channel to renderServerTime and returns the resulting
// pose, applying bracketed interpolation/extrapolation and, if enabled,
// adaptive second-phase low-pass smoothing over the elapsed dt.
func (c *Channel) Tick(renderServerTime, dt float64) wire.Pose {
	target := c.sampleTarget(renderServerTime)

	if !c.hasCurrent {
		c.current = target
		c.hasCurrent = true
		return c.current
	}

	if !c.settings.EnableSecondPhaseSmoothing || dt <= 0 {
		c.current = target
		return c.current
	}

	linearSpeed := target.Position.Distance(c.current.Position) / dt
	angularSpeed := target.Rotation.AngleTo(c.current.Rotation) / dt

	tParam := linearSpeed / nonZero(c.settings.SpeedForTauMin)
	if angular := angularSpeed / nonZero(c.settings.AngularSpeedForTauMin); angular > tParam {
		tParam = angular
	}
	tParam = clamp01(tParam)

	tau := c.settings.TauMaxSeconds + (c.settings.TauMinSeconds-c.settings.TauMaxSeconds)*tParam
	alpha := 1 - math.Exp(-dt/nonZero(tau))

	c.current = wire.Pose{
		Position: c.current.Position.Lerp(target.Position, alpha),
		Rotation: c.current.Rotation.Slerp(target.Rotation, alpha).Normalize(),
	}
	return c.current
}

// sampleTarget resolves the raw sample: empty/hold-single/
// interpolating/extrapolating, without touching c.current.
func (c *Channel) sampleTarget(renderServerTime float64) wire.Pose {
	n := c.buf.Len()
	if n == 0 {
		if c.hasCurrent {
			return c.current
		}
		return wire.Pose{Rotation: wire.Identity}
	}
	if n == 1 {
		return c.buf.At(0).Value
	}

	from, to, u, ok := c.buf.TryGetBracket(renderServerTime)
	if !ok {
		return wire.Pose{Rotation: wire.Identity}
	}

	e0 := c.buf.At(from)
	e1 := c.buf.At(to)

	if renderServerTime > e1.Time {
		beyond := renderServerTime - e1.Time
		dtPair := e1.Time - e0.Time
		if beyond <= c.settings.MaxExtrapolationSeconds && dtPair > 0 {
			u = 1 + beyond/dtPair
		} else {
			u = 1
		}
	}

	return wire.Pose{
		Position: e0.Value.Position.Lerp(e1.Value.Position, u),
		Rotation: e0.Value.Rotation.Slerp(e1.Value.Rotation, u),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1e-9
	}
	return v
}
