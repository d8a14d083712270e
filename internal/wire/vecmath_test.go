package wire

import "testing"

func TestVec3LerpMidpoint(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 10, Y: 20, Z: -10}
	got := a.Lerp(b, 0.5)
	want := Vec3{X: 5, Y: 10, Z: -5}
	if got != want {
		t.Errorf("Lerp(0.5) = %+v, want %+v", got, want)
	}
}

func TestVec3LerpExtrapolatesBeyondOne(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 1, Y: 0, Z: 0}
	got := a.Lerp(b, 2.0)
	if got.X != 2 {
		t.Errorf("expected extrapolation to X=2, got %v", got.X)
	}
}

func TestVec3Distance(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 3, Y: 4, Z: 0}
	if d := a.Distance(b); d != 5 {
		t.Errorf("expected distance 5, got %v", d)
	}
}

func TestQuaternionSlerpEndpoints(t *testing.T) {
	a := Identity
	b := QuaternionFromYaw(90)
	if got := a.Slerp(b, 0); got.AngleTo(a) > 0.01 {
		t.Errorf("Slerp(0) should equal a, got %+v", got)
	}
	if got := a.Slerp(b, 1); got.AngleTo(b) > 0.01 {
		t.Errorf("Slerp(1) should equal b, got %+v", got)
	}
}

func TestQuaternionSlerpHalfway(t *testing.T) {
	a := Identity
	b := QuaternionFromYaw(90)
	got := a.Slerp(b, 0.5)
	if diff := got.AngleTo(QuaternionFromYaw(45)); diff > 0.5 {
		t.Errorf("expected halfway slerp near 45 degrees yaw, got angle diff %v", diff)
	}
}

func TestQuaternionSlerpPicksShorterArc(t *testing.T) {
	a := Quaternion{X: 0, Y: 0, Z: 0, W: 1}
	b := Quaternion{X: 0, Y: 0, Z: 0, W: -1} // same rotation as a, opposite sign
	got := a.Slerp(b, 0.5)
	if got.AngleTo(a) > 0.01 {
		t.Errorf("expected near-parallel quaternions to slerp without a long detour, got %+v", got)
	}
}
