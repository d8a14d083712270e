package wire

// appendPoseContent writes everything after poseSeq: flags, encodingFlags,
// the optional parts selected by ct.Flags, then the virtuals array. This is also exactly
// the byte range used to compute the pose signature, so
// EncodeClientPose and PoseSignature share it.
func appendPoseContent(b []byte, ct ClientTransform) []byte {
	flags := ct.Flags.Normalize()
	b = appendU8(b, uint8(flags))
	b = appendU8(b, uint8(DefaultEncodingFlags))

	if flags&FlagPhysicalValid != 0 {
		b = appendPhysical(b, ct.Physical)
	}
	if flags&FlagHeadValid != 0 {
		b = appendAbsolutePose(b, ct.Head)
	}
	if flags&FlagRightValid != 0 {
		b = appendRelativePose(b, ct.Right, ct.Head)
	}
	if flags&FlagLeftValid != 0 {
		b = appendRelativePose(b, ct.Left, ct.Head)
	}

	n := len(ct.Virtuals)
	if n > MaxVirtuals {
		n = MaxVirtuals
	}
	if flags&FlagVirtualsValid == 0 {
		n = 0
	}
	b = appendU8(b, uint8(n))
	for i := 0; i < n; i++ {
		b = appendRelativePose(b, ct.Virtuals[i], ct.Head)
	}
	return b
}

// EncodeClientPose serializes a ClientTransform as a ClientPose (type 11)
// frame. Flags are normalized before encoding so Right/Left/Virtuals can
// never be set on the wire without Head.
func EncodeClientPose(ct ClientTransform) ([]byte, error) {
	if len(ct.DeviceId) > MaxDeviceIdBytes {
		return nil, errDecode("deviceId exceeds %d bytes", MaxDeviceIdBytes)
	}
	b := make([]byte, 0, 64)
	b = appendU8(b, uint8(MessageClientPose))
	b = appendU8(b, ProtocolVersion)
	b = appendString1(b, ct.DeviceId)
	b = appendU16(b, ct.PoseSeq)
	b = appendPoseContent(b, ct)
	return b, nil
}

// StealthHandshake builds the present-but-invisible keep-alive frame: a
// ClientPose with only IsStealth set, poseSeq=0, and no parts.
func StealthHandshake(deviceId string) (ClientTransform, []byte, error) {
	ct := ClientTransform{DeviceId: deviceId, Flags: FlagIsStealth}
	b, err := EncodeClientPose(ct)
	return ct, b, err
}

// decodePoseContent reads flags, encodingFlags, and parts+virtuals from r,
// populating every field of ct except DeviceId/ClientNo/PoseTime/PoseSeq.
func decodePoseContent(r *reader, ct *ClientTransform) bool {
	flagsRaw, ok := r.u8()
	if !ok {
		return false
	}
	ct.Flags = PoseFlags(flagsRaw).Normalize()

	encRaw, ok := r.u8()
	if !ok {
		return false
	}
	enc := EncodingFlags(encRaw)

	if ct.Flags&FlagPhysicalValid != 0 {
		p, ok := readPhysical(r)
		if !ok {
			return false
		}
		ct.Physical = p
	}

	var head Pose
	if ct.Flags&FlagHeadValid != 0 {
		h, ok := readAbsolutePose(r)
		if !ok {
			return false
		}
		head = h
		ct.Head = h
	}

	rightRelative := enc&EncodingRightHeadRelative != 0
	leftRelative := enc&EncodingLeftHeadRelative != 0
	virtualsRelative := enc&EncodingVirtualsHeadRelative != 0

	if ct.Flags&FlagRightValid != 0 {
		p, ok := readWorldOrRelativePose(r, head, rightRelative)
		if !ok {
			return false
		}
		ct.Right = p
	}
	if ct.Flags&FlagLeftValid != 0 {
		p, ok := readWorldOrRelativePose(r, head, leftRelative)
		if !ok {
			return false
		}
		ct.Left = p
	}

	vCount, ok := r.u8()
	if !ok {
		return false
	}
	decodeCount := int(vCount)
	if decodeCount > MaxVirtuals {
		decodeCount = MaxVirtuals
	}
	virtuals := make([]Pose, 0, decodeCount)
	for i := 0; i < decodeCount; i++ {
		p, ok := readWorldOrRelativePose(r, head, virtualsRelative)
		if !ok {
			return false
		}
		virtuals = append(virtuals, p)
	}
	// Excess entries beyond MaxVirtuals are read-and-discarded so the
	// stream (e.g. a following RoomPose client) stays aligned.
	for i := decodeCount; i < int(vCount); i++ {
		if !r.skip(10) {
			return false
		}
	}
	ct.Virtuals = virtuals
	return true
}

// DecodeClientPose parses a ClientPose frame. body excludes the leading
// type byte. Truncation, an unexpected version, or a malformed string
// yields a *DecodeError; callers should log and drop the frame.
func DecodeClientPose(body []byte) (ClientTransform, error) {
	r := newReader(body)
	version, ok := r.u8()
	if !ok {
		return ClientTransform{}, errDecode("truncated before version")
	}
	if version != ProtocolVersion {
		return ClientTransform{}, errDecode("unsupported protocol version %d", version)
	}
	deviceId, ok := r.string1()
	if !ok {
		return ClientTransform{}, errDecode("truncated deviceId")
	}
	poseSeq, ok := r.u16()
	if !ok {
		return ClientTransform{}, errDecode("truncated poseSeq")
	}
	ct := ClientTransform{DeviceId: deviceId, PoseSeq: poseSeq}
	if !decodePoseContent(r, &ct) {
		return ClientTransform{}, errDecode("truncated pose content")
	}
	return ct, nil
}
