package posechannel

import (
	"math"
	"testing"

	"github.com/styly-dev/netsync-go/internal/wire"
)

func straightSettings() Settings {
	s := DefaultSettings()
	s.EnableSecondPhaseSmoothing = false
	return s
}

func TestChannelInterpolatesWithoutSmoothing(t *testing.T) {
	c := NewChannel(straightSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 0}, Rotation: wire.Identity})
	c.AddSnapshot(10, 0, wire.Pose{Position: wire.Vec3{X: 2}, Rotation: wire.Identity})

	got := c.Tick(2.5, 0.1)
	if diff := got.Position.X - 0.5; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected lerp position X~0.5, got %v", got.Position.X)
	}
}

func TestChannelHoldsBeforeFirstSnapshot(t *testing.T) {
	c := NewChannel(straightSettings(), 8)
	c.AddSnapshot(5, 0, wire.Pose{Position: wire.Vec3{X: 1}, Rotation: wire.Identity})
	c.AddSnapshot(10, 0, wire.Pose{Position: wire.Vec3{X: 2}, Rotation: wire.Identity})

	got := c.Tick(0, 0.1)
	if got.Position.X != 1 {
		t.Errorf("expected hold at first entry X=1, got %v", got.Position.X)
	}
}

func TestChannelExtrapolatesWithinBudget(t *testing.T) {
	c := NewChannel(straightSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 0}, Rotation: wire.Identity})
	c.AddSnapshot(1, 0, wire.Pose{Position: wire.Vec3{X: 1}, Rotation: wire.Identity})

	// maxExtrapolationSeconds defaults to 0.25; render time 0.1s past last.
	got := c.Tick(1.1, 0.1)
	if diff := got.Position.X - 1.1; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected extrapolated X~1.1, got %v", got.Position.X)
	}
}

func TestChannelHoldsLatestBeyondExtrapolationBudget(t *testing.T) {
	c := NewChannel(straightSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 0}, Rotation: wire.Identity})
	c.AddSnapshot(1, 0, wire.Pose{Position: wire.Vec3{X: 1}, Rotation: wire.Identity})

	got := c.Tick(10, 0.1) // far beyond maxExtrapolationSeconds
	if got.Position.X != 1 {
		t.Errorf("expected hold at latest X=1, got %v", got.Position.X)
	}
}

func TestChannelFirstSampleAdoptsImmediately(t *testing.T) {
	c := NewChannel(DefaultSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 5}, Rotation: wire.Identity})

	got := c.Tick(0, 1.0 / 60)
	if got.Position.X != 5 {
		t.Errorf("expected immediate adoption of the first sample, got %v", got.Position.X)
	}
}

func TestChannelTeleportResetsBuffer(t *testing.T) {
	c := NewChannel(DefaultSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 0, Y: 0, Z: 0}, Rotation: wire.Identity})
	c.AddSnapshot(0.1, 0, wire.Pose{Position: wire.Vec3{X: 0.01, Y: 0, Z: 0}, Rotation: wire.Identity})
	c.AddSnapshot(0.2, 0, wire.Pose{Position: wire.Vec3{X: 5, Y: 0, Z: 0}, Rotation: wire.Identity})

	if c.buf.Len() != 1 {
		t.Fatalf("expected teleport to reset buffer to a single entry, got %d", c.buf.Len())
	}
	if c.current.Position.X != 5 {
		t.Errorf("expected adopted current pose X=5, got %v", c.current.Position.X)
	}
}

func TestChannelSecondPhaseSmoothingApproachesTarget(t *testing.T) {
	c := NewChannel(DefaultSettings(), 8)
	c.AddSnapshot(0, 0, wire.Pose{Position: wire.Vec3{X: 0}, Rotation: wire.Identity})
	c.Tick(0, 1.0/60) // adopt first sample as current

	c.AddSnapshot(10, 0, wire.Pose{Position: wire.Vec3{X: 2}, Rotation: wire.Identity})

	var last float64
	for i := 0; i < 120; i++ {
		got := c.Tick(10, 1.0/60)
		if got.Position.X < last {
			t.Fatalf("expected monotonic approach toward target, regressed at step %d", i)
		}
		last = got.Position.X
	}
	if diff := math.Abs(last - 2); diff > 0.05 {
		t.Errorf("expected smoothed position to converge near 2 after 2s, got %v", last)
	}
}

func TestChannelEmptyReturnsIdentity(t *testing.T) {
	c := NewChannel(DefaultSettings(), 8)
	got := c.Tick(1.0, 1.0/60)
	if got.Rotation != wire.Identity {
		t.Errorf("expected identity rotation for an empty channel, got %+v", got.Rotation)
	}
}
