package wire

import "math"

func quantizePos(v, scale float64) int16 {
	scaled := math.Round(v / scale)
	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	}
	if scaled < math.MinInt16 {
		scaled = math.MinInt16
	}
	return int16(scaled)
}

func dequantizePos(v int16, scale float64) float64 {
	return float64(v) * scale
}

func appendVec3(b []byte, v Vec3, scale float64) []byte {
	b = appendI16(b, quantizePos(v.X, scale))
	b = appendI16(b, quantizePos(v.Y, scale))
	b = appendI16(b, quantizePos(v.Z, scale))
	return b
}

func readVec3(r *reader, scale float64) (Vec3, bool) {
	x, ok := r.i16()
	if !ok {
		return Vec3{}, false
	}
	y, ok := r.i16()
	if !ok {
		return Vec3{}, false
	}
	z, ok := r.i16()
	if !ok {
		return Vec3{}, false
	}
	return Vec3{X: dequantizePos(x, scale), Y: dequantizePos(y, scale), Z: dequantizePos(z, scale)}, true
}

// appendPhysical writes the physical part: absolute position plus a
// yaw-only rotation, per the fixed wire layout.
func appendPhysical(b []byte, p Pose) []byte {
	b = appendVec3(b, p.Position, AbsolutePositionScale)
	yaw := YawDegrees(p.Rotation)
	b = appendI16(b, int16(math.Round(yaw/PhysicalYawScale)))
	return b
}

func readPhysical(r *reader) (Pose, bool) {
	pos, ok := readVec3(r, AbsolutePositionScale)
	if !ok {
		return Pose{}, false
	}
	yawRaw, ok := r.i16()
	if !ok {
		return Pose{}, false
	}
	yaw := float64(yawRaw) * PhysicalYawScale
	return Pose{Position: pos, Rotation: QuaternionFromYaw(yaw)}, true
}

// appendAbsolutePose writes a world-space position + compressed quaternion
// (used for head, and for right/left/virtuals when not head-relative).
func appendAbsolutePose(b []byte, p Pose) []byte {
	b = appendVec3(b, p.Position, AbsolutePositionScale)
	b = appendU32(b, CompressQuaternion(p.Rotation))
	return b
}

func readAbsolutePose(r *reader) (Pose, bool) {
	pos, ok := readVec3(r, AbsolutePositionScale)
	if !ok {
		return Pose{}, false
	}
	q, ok := r.u32()
	if !ok {
		return Pose{}, false
	}
	return Pose{Position: pos, Rotation: DecompressQuaternion(q)}, true
}

// appendRelativePose writes a head-relative position + compressed
// quaternion: p_rel = p_world - p_head, q_rel = q_head^-1 * q_world.
func appendRelativePose(b []byte, p, head Pose) []byte {
	rel := Pose{
		Position: Vec3{X: p.Position.X - head.Position.X, Y: p.Position.Y - head.Position.Y, Z: p.Position.Z - head.Position.Z},
		Rotation: head.Rotation.Normalize().Conjugate().Mul(p.Rotation),
	}
	b = appendVec3(b, rel.Position, HeadRelativePositionScale)
	b = appendU32(b, CompressQuaternion(rel.Rotation))
	return b
}

func readRelativePose(r *reader, head Pose) (Pose, bool) {
	relPos, ok := readVec3(r, HeadRelativePositionScale)
	if !ok {
		return Pose{}, false
	}
	relQ, ok := r.u32()
	if !ok {
		return Pose{}, false
	}
	q := DecompressQuaternion(relQ)
	return Pose{
		Position: Vec3{X: relPos.X + head.Position.X, Y: relPos.Y + head.Position.Y, Z: relPos.Z + head.Position.Z},
		Rotation: head.Rotation.Normalize().Mul(q),
	}, true
}

// readWorldOrRelativePose dispatches on whether headRelative is set in the
// encoding flags actually present on the wire — receivers honor the bits
// read, never the default mask.
func readWorldOrRelativePose(r *reader, head Pose, headRelative bool) (Pose, bool) {
	if headRelative {
		return readRelativePose(r, head)
	}
	return readAbsolutePose(r)
}

func appendWorldOrRelativePose(b []byte, p, head Pose, headRelative bool) []byte {
	if headRelative {
		return appendRelativePose(b, p, head)
	}
	return appendAbsolutePose(b, p)
}
