package wire

import (
	"math"
	"math/rand"
	"testing"
)

func TestCompressQuaternionRoundTrip(t *testing.T) {
	cases := []Quaternion{
		Identity,
		{X: 0.5, Y: 0.5, Z: 0.5, W: 0.5},
		{X: 1, Y: 0, Z: 0, W: 0},
		{X: 0, Y: 1, Z: 0, W: 0},
		{X: 0, Y: 0, Z: 1, W: 0},
	}
	for _, q := range cases {
		packed := CompressQuaternion(q)
		out := DecompressQuaternion(packed)
		if angle := q.Normalize().AngleTo(out); angle > 0.1 {
			t.Errorf("q=%+v angle=%.4f° exceeds 0.1°", q, angle)
		}
	}
}

func TestCompressQuaternionRandomSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 10000
	var maxAngle float64
	var angles []float64
	for i := 0; i < n; i++ {
		q := Quaternion{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64(), W: rng.NormFloat64()}.Normalize()
		out := DecompressQuaternion(CompressQuaternion(q))

		// Sign convention: the largest-magnitude component is non-negative.
		comps := [4]float64{out.X, out.Y, out.Z, out.W}
		k := 0
		largest := math.Abs(comps[0])
		for j := 1; j < 4; j++ {
			if a := math.Abs(comps[j]); a > largest {
				largest = a
				k = j
			}
		}
		if comps[k] < -1e-9 {
			t.Fatalf("largest component %d is negative: %+v", k, out)
		}

		angle := q.AngleTo(out)
		angles = append(angles, angle)
		if angle > maxAngle {
			maxAngle = angle
		}
	}

	// 99th percentile <= 0.1 degrees.
	sortFloat64s(angles)
	p99 := angles[int(float64(len(angles))*0.99)]
	if p99 > 0.1 {
		t.Errorf("p99 angle error %.5f° exceeds 0.1° (max=%.5f)", p99, maxAngle)
	}
}

func sortFloat64s(a []float64) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

func TestCompressQuaternionReencodeStable(t *testing.T) {
	q := Quaternion{X: 0.5, Y: 0.5, Z: 0.5, W: 0.5}
	first := CompressQuaternion(q)
	decoded := DecompressQuaternion(first)
	second := CompressQuaternion(decoded)
	if first != second {
		t.Errorf("re-encoding decoded quaternion changed bytes: %#x vs %#x", first, second)
	}
	if angle := q.AngleTo(decoded); angle > 0.1 {
		t.Errorf("angle %.4f exceeds 0.1°", angle)
	}
}

func TestYawRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 45, -45, 90, -90, 179, -179} {
		q := QuaternionFromYaw(deg)
		got := YawDegrees(q)
		if math.Abs(got-deg) > 0.01 {
			t.Errorf("yaw %v: got %v", deg, got)
		}
	}
}
