package wire

// RPCMessage is the decoded payload of an RPC (type 3) frame.
type RPCMessage struct {
	SenderClientNo uint16
	FunctionName   string
	ArgumentsJSON  string // JSON array of strings, not parsed by this package
}

// EncodeRPC serializes an RPC call. An over-long function name or arguments
// string is rejected with an error rather than silently truncated.
func EncodeRPC(senderClientNo uint16, functionName, argumentsJSON string) ([]byte, error) {
	if len(functionName) > MaxNameBytes {
		return nil, errDecode("function name exceeds %d bytes", MaxNameBytes)
	}
	if len(argumentsJSON) > MaxValueBytes {
		return nil, errDecode("arguments JSON exceeds %d bytes", MaxValueBytes)
	}
	b := make([]byte, 0, 16+len(functionName)+len(argumentsJSON))
	b = appendU8(b, uint8(MessageRPC))
	b = appendU16(b, senderClientNo)
	b = appendString1(b, functionName)
	b = appendString2(b, argumentsJSON)
	return b, nil
}

// DecodeRPC parses an RPC frame body (excluding the leading type byte).
func DecodeRPC(body []byte) (RPCMessage, error) {
	r := newReader(body)
	sender, ok := r.u16()
	if !ok {
		return RPCMessage{}, errDecode("truncated sender")
	}
	fn, ok := r.string1()
	if !ok {
		return RPCMessage{}, errDecode("truncated function name")
	}
	args, ok := r.string2()
	if !ok {
		return RPCMessage{}, errDecode("truncated arguments")
	}
	return RPCMessage{SenderClientNo: sender, FunctionName: fn, ArgumentsJSON: args}, nil
}

// DeviceMappingEntry is one clientNo<->deviceId binding within a
// DeviceIdMapping frame.
type DeviceMappingEntry struct {
	ClientNo uint16
	Stealth  bool
	DeviceId string
}

// DeviceMappingMessage is the decoded payload of a DeviceIdMapping (type 6)
// frame: the server's semantic version plus the full mapping table.
type DeviceMappingMessage struct {
	ServerMajor, ServerMinor, ServerPatch uint8
	Entries                               []DeviceMappingEntry
}

func EncodeDeviceIdMapping(msg DeviceMappingMessage) ([]byte, error) {
	if len(msg.Entries) > 0xFFFF {
		return nil, errDecode("too many mapping entries for a single frame")
	}
	b := make([]byte, 0, 8+8*len(msg.Entries))
	b = appendU8(b, uint8(MessageDeviceIdMapping))
	b = appendU8(b, msg.ServerMajor)
	b = appendU8(b, msg.ServerMinor)
	b = appendU8(b, msg.ServerPatch)
	b = appendU16(b, uint16(len(msg.Entries)))
	for _, e := range msg.Entries {
		if len(e.DeviceId) > MaxDeviceIdBytes {
			return nil, errDecode("deviceId exceeds %d bytes", MaxDeviceIdBytes)
		}
		b = appendU16(b, e.ClientNo)
		stealth := uint8(0)
		if e.Stealth {
			stealth = 1
		}
		b = appendU8(b, stealth)
		b = appendString1(b, e.DeviceId)
	}
	return b, nil
}

func DecodeDeviceIdMapping(body []byte) (DeviceMappingMessage, error) {
	r := newReader(body)
	major, ok := r.u8()
	if !ok {
		return DeviceMappingMessage{}, errDecode("truncated server version")
	}
	minor, ok := r.u8()
	if !ok {
		return DeviceMappingMessage{}, errDecode("truncated server version")
	}
	patch, ok := r.u8()
	if !ok {
		return DeviceMappingMessage{}, errDecode("truncated server version")
	}
	n, ok := r.u16()
	if !ok {
		return DeviceMappingMessage{}, errDecode("truncated entry count")
	}
	entries := make([]DeviceMappingEntry, 0, n)
	for i := 0; i < int(n); i++ {
		clientNo, ok := r.u16()
		if !ok {
			return DeviceMappingMessage{}, errDecode("truncated clientNo at index %d", i)
		}
		stealthRaw, ok := r.u8()
		if !ok {
			return DeviceMappingMessage{}, errDecode("truncated stealth at index %d", i)
		}
		deviceId, ok := r.string1()
		if !ok {
			return DeviceMappingMessage{}, errDecode("truncated deviceId at index %d", i)
		}
		entries = append(entries, DeviceMappingEntry{ClientNo: clientNo, Stealth: stealthRaw != 0, DeviceId: deviceId})
	}
	return DeviceMappingMessage{ServerMajor: major, ServerMinor: minor, ServerPatch: patch, Entries: entries}, nil
}

// GlobalVarSetMessage is the decoded payload of a GlobalVarSet (type 7) frame.
type GlobalVarSetMessage struct {
	Sender    uint16
	Name      string
	Value     string
	Timestamp float64
}

func EncodeGlobalVarSet(msg GlobalVarSetMessage) ([]byte, error) {
	if len(msg.Name) > MaxNameBytes {
		return nil, errDecode("variable name exceeds %d bytes", MaxNameBytes)
	}
	if len(msg.Value) > MaxValueBytes {
		return nil, errDecode("variable value exceeds %d bytes", MaxValueBytes)
	}
	b := make([]byte, 0, 24+len(msg.Name)+len(msg.Value))
	b = appendU8(b, uint8(MessageGlobalVarSet))
	b = appendU16(b, msg.Sender)
	b = appendString1(b, msg.Name)
	b = appendString2(b, msg.Value)
	b = appendF64(b, msg.Timestamp)
	return b, nil
}

func DecodeGlobalVarSet(body []byte) (GlobalVarSetMessage, error) {
	r := newReader(body)
	sender, ok := r.u16()
	if !ok {
		return GlobalVarSetMessage{}, errDecode("truncated sender")
	}
	name, ok := r.string1()
	if !ok {
		return GlobalVarSetMessage{}, errDecode("truncated name")
	}
	value, ok := r.string2()
	if !ok {
		return GlobalVarSetMessage{}, errDecode("truncated value")
	}
	ts, ok := r.f64()
	if !ok {
		return GlobalVarSetMessage{}, errDecode("truncated timestamp")
	}
	return GlobalVarSetMessage{Sender: sender, Name: name, Value: value, Timestamp: ts}, nil
}

// VarSyncEntry is one name/value/timestamp/writer tuple, shared by
// GlobalVarSync and (nested) ClientVarSync.
type VarSyncEntry struct {
	Name                string
	Value               string
	Timestamp           float64
	LastWriterClientNo  uint16
}

func appendVarSyncEntry(b []byte, e VarSyncEntry) ([]byte, error) {
	if len(e.Name) > MaxNameBytes {
		return nil, errDecode("variable name exceeds %d bytes", MaxNameBytes)
	}
	if len(e.Value) > MaxValueBytes {
		return nil, errDecode("variable value exceeds %d bytes", MaxValueBytes)
	}
	b = appendString1(b, e.Name)
	b = appendString2(b, e.Value)
	b = appendF64(b, e.Timestamp)
	b = appendU16(b, e.LastWriterClientNo)
	return b, nil
}

func readVarSyncEntry(r *reader) (VarSyncEntry, bool) {
	name, ok := r.string1()
	if !ok {
		return VarSyncEntry{}, false
	}
	value, ok := r.string2()
	if !ok {
		return VarSyncEntry{}, false
	}
	ts, ok := r.f64()
	if !ok {
		return VarSyncEntry{}, false
	}
	writer, ok := r.u16()
	if !ok {
		return VarSyncEntry{}, false
	}
	return VarSyncEntry{Name: name, Value: value, Timestamp: ts, LastWriterClientNo: writer}, true
}

// GlobalVarSyncMessage is the decoded payload of a GlobalVarSync (type 8) frame.
type GlobalVarSyncMessage struct {
	Entries []VarSyncEntry
}

func EncodeGlobalVarSync(msg GlobalVarSyncMessage) ([]byte, error) {
	if len(msg.Entries) > 0xFFFF {
		return nil, errDecode("too many entries for a single frame")
	}
	b := make([]byte, 0, 8+32*len(msg.Entries))
	b = appendU8(b, uint8(MessageGlobalVarSync))
	b = appendU16(b, uint16(len(msg.Entries)))
	var err error
	for _, e := range msg.Entries {
		if b, err = appendVarSyncEntry(b, e); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func DecodeGlobalVarSync(body []byte) (GlobalVarSyncMessage, error) {
	r := newReader(body)
	n, ok := r.u16()
	if !ok {
		return GlobalVarSyncMessage{}, errDecode("truncated entry count")
	}
	entries := make([]VarSyncEntry, 0, n)
	for i := 0; i < int(n); i++ {
		e, ok := readVarSyncEntry(r)
		if !ok {
			return GlobalVarSyncMessage{}, errDecode("truncated entry at index %d", i)
		}
		entries = append(entries, e)
	}
	return GlobalVarSyncMessage{Entries: entries}, nil
}

// ClientVarSetMessage is the decoded payload of a ClientVarSet (type 9) frame.
type ClientVarSetMessage struct {
	Sender    uint16
	Target    uint16
	Name      string
	Value     string
	Timestamp float64
}

func EncodeClientVarSet(msg ClientVarSetMessage) ([]byte, error) {
	if len(msg.Name) > MaxNameBytes {
		return nil, errDecode("variable name exceeds %d bytes", MaxNameBytes)
	}
	if len(msg.Value) > MaxValueBytes {
		return nil, errDecode("variable value exceeds %d bytes", MaxValueBytes)
	}
	b := make([]byte, 0, 24+len(msg.Name)+len(msg.Value))
	b = appendU8(b, uint8(MessageClientVarSet))
	b = appendU16(b, msg.Sender)
	b = appendU16(b, msg.Target)
	b = appendString1(b, msg.Name)
	b = appendString2(b, msg.Value)
	b = appendF64(b, msg.Timestamp)
	return b, nil
}

func DecodeClientVarSet(body []byte) (ClientVarSetMessage, error) {
	r := newReader(body)
	sender, ok := r.u16()
	if !ok {
		return ClientVarSetMessage{}, errDecode("truncated sender")
	}
	target, ok := r.u16()
	if !ok {
		return ClientVarSetMessage{}, errDecode("truncated target")
	}
	name, ok := r.string1()
	if !ok {
		return ClientVarSetMessage{}, errDecode("truncated name")
	}
	value, ok := r.string2()
	if !ok {
		return ClientVarSetMessage{}, errDecode("truncated value")
	}
	ts, ok := r.f64()
	if !ok {
		return ClientVarSetMessage{}, errDecode("truncated timestamp")
	}
	return ClientVarSetMessage{Sender: sender, Target: target, Name: name, Value: value, Timestamp: ts}, nil
}

// ClientVarSyncClientEntry groups one client's variables within a
// ClientVarSync frame.
type ClientVarSyncClientEntry struct {
	ClientNo uint16
	Vars     []VarSyncEntry
}

// ClientVarSyncMessage is the decoded payload of a ClientVarSync (type 10) frame.
type ClientVarSyncMessage struct {
	Clients []ClientVarSyncClientEntry
}

func EncodeClientVarSync(msg ClientVarSyncMessage) ([]byte, error) {
	if len(msg.Clients) > 0xFFFF {
		return nil, errDecode("too many clients for a single frame")
	}
	b := make([]byte, 0, 8+32*len(msg.Clients))
	b = appendU8(b, uint8(MessageClientVarSync))
	b = appendU16(b, uint16(len(msg.Clients)))
	for _, c := range msg.Clients {
		if len(c.Vars) > 0xFFFF {
			return nil, errDecode("too many variables for client %d", c.ClientNo)
		}
		b = appendU16(b, c.ClientNo)
		b = appendU16(b, uint16(len(c.Vars)))
		var err error
		for _, e := range c.Vars {
			if b, err = appendVarSyncEntry(b, e); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func DecodeClientVarSync(body []byte) (ClientVarSyncMessage, error) {
	r := newReader(body)
	nClients, ok := r.u16()
	if !ok {
		return ClientVarSyncMessage{}, errDecode("truncated client count")
	}
	clients := make([]ClientVarSyncClientEntry, 0, nClients)
	for i := 0; i < int(nClients); i++ {
		clientNo, ok := r.u16()
		if !ok {
			return ClientVarSyncMessage{}, errDecode("truncated clientNo at index %d", i)
		}
		nVars, ok := r.u16()
		if !ok {
			return ClientVarSyncMessage{}, errDecode("truncated var count at index %d", i)
		}
		vars := make([]VarSyncEntry, 0, nVars)
		for j := 0; j < int(nVars); j++ {
			e, ok := readVarSyncEntry(r)
			if !ok {
				return ClientVarSyncMessage{}, errDecode("truncated var at client %d index %d", clientNo, j)
			}
			vars = append(vars, e)
		}
		clients = append(clients, ClientVarSyncClientEntry{ClientNo: clientNo, Vars: vars})
	}
	return ClientVarSyncMessage{Clients: clients}, nil
}

// DecodeAny reads the leading type byte off frame and dispatches to the
// matching decoder. An unrecognized type yields (MessageUnknown, nil, nil)
// — not an error: unknown types are ignored, not fatal.
func DecodeAny(frame []byte) (MessageType, any, error) {
	if len(frame) == 0 {
		return MessageUnknown, nil, errDecode("empty frame")
	}
	t := MessageType(frame[0])
	body := frame[1:]
	switch t {
	case MessageClientPose:
		v, err := DecodeClientPose(body)
		return t, v, err
	case MessageRoomPose:
		v, err := DecodeRoomPose(body)
		return t, v, err
	case MessageRPC:
		v, err := DecodeRPC(body)
		return t, v, err
	case MessageDeviceIdMapping:
		v, err := DecodeDeviceIdMapping(body)
		return t, v, err
	case MessageGlobalVarSet:
		v, err := DecodeGlobalVarSet(body)
		return t, v, err
	case MessageGlobalVarSync:
		v, err := DecodeGlobalVarSync(body)
		return t, v, err
	case MessageClientVarSet:
		v, err := DecodeClientVarSet(body)
		return t, v, err
	case MessageClientVarSync:
		v, err := DecodeClientVarSync(body)
		return t, v, err
	default:
		return MessageUnknown, nil, nil
	}
}
