package wire

import "math"

// Add returns the component-wise sum of two vectors.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Length returns the Euclidean norm of v.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Length() }

// Lerp returns the unclamped linear interpolation between v and o at u.
func (v Vec3) Lerp(o Vec3, u float64) Vec3 {
	return Vec3{
		X: v.X + (o.X-v.X)*u,
		Y: v.Y + (o.Y-v.Y)*u,
		Z: v.Z + (o.Z-v.Z)*u,
	}
}

// Slerp spherically interpolates between two unit quaternions at u,
// picking the shorter arc (negating b when the dot product is negative).
// u is not clamped, so u>1 or u<0 extrapolates along the great-circle arc.
// Falls back to Nlerp when the quaternions are nearly parallel, where the
// slerp coefficients would be numerically unstable.
func (a Quaternion) Slerp(b Quaternion, u float64) Quaternion {
	d := a.Dot(b)
	if d < 0 {
		b = Quaternion{X: -b.X, Y: -b.Y, Z: -b.Z, W: -b.W}
		d = -d
	}
	if d > 1 {
		d = 1
	}

	const epsilon = 1e-6
	if 1-d < epsilon {
		return Quaternion{
			X: a.X + (b.X-a.X)*u,
			Y: a.Y + (b.Y-a.Y)*u,
			Z: a.Z + (b.Z-a.Z)*u,
			W: a.W + (b.W-a.W)*u,
		}.Normalize()
	}

	theta := math.Acos(d)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-u)*theta) / sinTheta
	wb := math.Sin(u*theta) / sinTheta
	return Quaternion{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}.Normalize()
}
