package wire

// EncodeRoomPose serializes a RoomTransformSnapshot as a RoomPose (type 12)
// frame. Device ids are never included; receivers resolve clientNo to a
// deviceId via the mapping table.
func EncodeRoomPose(snap RoomTransformSnapshot) ([]byte, error) {
	if len(snap.RoomId) > MaxRoomIdBytes {
		return nil, errDecode("roomId exceeds %d bytes", MaxRoomIdBytes)
	}
	if len(snap.Clients) > 0xFFFF {
		return nil, errDecode("too many clients for a single RoomPose frame")
	}
	b := make([]byte, 0, 64+32*len(snap.Clients))
	b = appendU8(b, uint8(MessageRoomPose))
	b = appendU8(b, ProtocolVersion)
	b = appendString1(b, snap.RoomId)
	b = appendF64(b, snap.BroadcastTime)
	b = appendU16(b, uint16(len(snap.Clients)))
	for _, ct := range snap.Clients {
		b = appendU16(b, ct.ClientNo)
		b = appendF64(b, ct.PoseTime)
		b = appendU16(b, ct.PoseSeq)
		b = appendPoseContent(b, ct)
	}
	return b, nil
}

// DecodeRoomPose parses a RoomPose frame. body excludes the leading type byte.
func DecodeRoomPose(body []byte) (RoomTransformSnapshot, error) {
	r := newReader(body)
	version, ok := r.u8()
	if !ok {
		return RoomTransformSnapshot{}, errDecode("truncated before version")
	}
	if version != ProtocolVersion {
		return RoomTransformSnapshot{}, errDecode("unsupported protocol version %d", version)
	}
	roomId, ok := r.string1()
	if !ok {
		return RoomTransformSnapshot{}, errDecode("truncated roomId")
	}
	broadcastTime, ok := r.f64()
	if !ok {
		return RoomTransformSnapshot{}, errDecode("truncated broadcastTime")
	}
	nClients, ok := r.u16()
	if !ok {
		return RoomTransformSnapshot{}, errDecode("truncated clientCount")
	}

	clients := make([]ClientTransform, 0, nClients)
	for i := 0; i < int(nClients); i++ {
		clientNo, ok := r.u16()
		if !ok {
			return RoomTransformSnapshot{}, errDecode("truncated clientNo at index %d", i)
		}
		poseTime, ok := r.f64()
		if !ok {
			return RoomTransformSnapshot{}, errDecode("truncated poseTime at index %d", i)
		}
		poseSeq, ok := r.u16()
		if !ok {
			return RoomTransformSnapshot{}, errDecode("truncated poseSeq at index %d", i)
		}
		ct := ClientTransform{ClientNo: clientNo, PoseTime: poseTime, PoseSeq: poseSeq}
		if !decodePoseContent(r, &ct) {
			return RoomTransformSnapshot{}, errDecode("truncated pose content at index %d", i)
		}
		clients = append(clients, ct)
	}

	return RoomTransformSnapshot{RoomId: roomId, BroadcastTime: broadcastTime, Clients: clients}, nil
}
