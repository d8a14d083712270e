package wire

import "hash/fnv"

// PoseSignature computes a 64-bit FNV-1a hash over the quantized pose
// fields exactly as they would be written to the wire — flags,
// encodingFlags, and each valid part's quantized integers — excluding
// deviceId and poseSeq. Two transforms that would produce identical wire
// bytes for their pose content always produce the same signature, which
// lets a sender skip re-transmitting an unchanged pose.
func PoseSignature(ct ClientTransform) uint64 {
	content := appendPoseContent(make([]byte, 0, 48), ct)
	h := fnv.New64a()
	h.Write(content) //nolint:errcheck — hash.Hash.Write never fails
	return h.Sum64()
}
