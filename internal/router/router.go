// Package router implements the message router: it
// demultiplexes inbound payloads by type byte, keeps a bounded
// latest-N(2) queue for RoomPose frames and a general FIFO for
// everything else, and drives client lifecycle from the clientNo<->
// deviceId mapping table.
package router

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/styly-dev/netsync-go/internal/wire"
)

// TransformSink receives one spawned peer's transforms, typically a
// posechannel.AvatarApplier.
type TransformSink interface {
	OnClientTransform(ct wire.ClientTransform)
}

// roomPoseQueueCap is the bound on buffered RoomPose frames; older ones are obsolete.
const roomPoseQueueCap = 2

// Router demultiplexes inbound payloads on the I/O task (via Dispatch)
// and applies their effects on the main task (via DrainTick). It is safe
// to call Dispatch and DrainTick from different goroutines, but DrainTick
// itself is not reentrant.
type Router struct {
	localClientNo atomic.Uint32

	roomPoseMu    sync.Mutex
	roomPoseQueue []wire.RoomTransformSnapshot

	generalMu    sync.Mutex
	generalQueue []any

	mapping       atomic.Pointer[wire.DeviceMappingMessage]
	serverVersion atomic.Uint32 // packed major<<16 | minor<<8 | patch

	sinkMu sync.Mutex
	sinks  map[uint16]TransformSink

	pendingMu     sync.Mutex
	pendingSpawn  map[uint16]wire.ClientTransform
	firedConnect  map[uint16]bool

	cbMu             sync.RWMutex
	onConnect        func(clientNo uint16)
	onDisconnect     func(clientNo uint16)
	onRPC            func(msg wire.RPCMessage)
	onGlobalVarSet   func(msg wire.GlobalVarSetMessage)
	onGlobalVarSync  func(msg wire.GlobalVarSyncMessage)
	onClientVarSet   func(msg wire.ClientVarSetMessage)
	onClientVarSync  func(msg wire.ClientVarSyncMessage)
	onHumanPresence  func(ct wire.ClientTransform)
	onRoomPose       func(snap wire.RoomTransformSnapshot)
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		sinks:        make(map[uint16]TransformSink),
		pendingSpawn: make(map[uint16]wire.ClientTransform),
		firedConnect: make(map[uint16]bool),
	}
}

// SetLocalClientNo records the local participant's clientNo once the
// handshake assigns one, so RoomPose processing can skip our own entry.
func (r *Router) SetLocalClientNo(clientNo uint16) { r.localClientNo.Store(uint32(clientNo)) }

// SetOnConnect/SetOnDisconnect/SetOnRPC/... register the callbacks fired
// during DrainTick. Unset callbacks are simply skipped.
func (r *Router) SetOnConnect(fn func(clientNo uint16))       { r.set(func() { r.onConnect = fn }) }
func (r *Router) SetOnDisconnect(fn func(clientNo uint16))    { r.set(func() { r.onDisconnect = fn }) }
func (r *Router) SetOnRPC(fn func(wire.RPCMessage))           { r.set(func() { r.onRPC = fn }) }
func (r *Router) SetOnGlobalVarSet(fn func(wire.GlobalVarSetMessage)) {
	r.set(func() { r.onGlobalVarSet = fn })
}
func (r *Router) SetOnGlobalVarSync(fn func(wire.GlobalVarSyncMessage)) {
	r.set(func() { r.onGlobalVarSync = fn })
}
func (r *Router) SetOnClientVarSet(fn func(wire.ClientVarSetMessage)) {
	r.set(func() { r.onClientVarSet = fn })
}
func (r *Router) SetOnClientVarSync(fn func(wire.ClientVarSyncMessage)) {
	r.set(func() { r.onClientVarSync = fn })
}
func (r *Router) SetOnHumanPresence(fn func(ct wire.ClientTransform)) {
	r.set(func() { r.onHumanPresence = fn })
}

// SetOnRoomPose registers an observer fired once per applied RoomPose
// frame, before per-client processing. The session uses it to feed the
// server-time estimator from broadcastTime.
func (r *Router) SetOnRoomPose(fn func(snap wire.RoomTransformSnapshot)) {
	r.set(func() { r.onRoomPose = fn })
}

func (r *Router) set(apply func()) {
	r.cbMu.Lock()
	apply()
	r.cbMu.Unlock()
}

// BindSink registers the avatar's transform sink for clientNo. If a
// transform was buffered in the pending-spawn map while the avatar was
// being created, it is delivered immediately so the first frame is never
// lost.
func (r *Router) BindSink(clientNo uint16, sink TransformSink) {
	r.sinkMu.Lock()
	r.sinks[clientNo] = sink
	r.sinkMu.Unlock()

	r.pendingMu.Lock()
	ct, ok := r.pendingSpawn[clientNo]
	if ok {
		delete(r.pendingSpawn, clientNo)
	}
	r.pendingMu.Unlock()

	if ok {
		sink.OnClientTransform(ct)
	}
}

// UnbindSink removes clientNo's sink, if any. Idempotent.
func (r *Router) UnbindSink(clientNo uint16) {
	r.sinkMu.Lock()
	delete(r.sinks, clientNo)
	r.sinkMu.Unlock()
}

// ServerVersion returns the most recently observed server version triplet
// and whether one has been observed at all.
func (r *Router) ServerVersion() (major, minor, patch uint8, ok bool) {
	packed := r.serverVersion.Load()
	if packed == 0 {
		return 0, 0, 0, false
	}
	return uint8(packed >> 16), uint8(packed >> 8), uint8(packed), true
}

// Dispatch classifies one inbound payload and enqueues it for the main
// task. Called from the I/O task; single-producer into each queue.
func (r *Router) Dispatch(payload []byte) {
	kind, value, err := wire.DecodeAny(payload)
	if err != nil {
		log.Printf("[router] dropping malformed frame (type %v): %v", kind, err)
		return
	}
	if value == nil {
		return // unknown type byte: ignored, not an error
	}

	switch v := value.(type) {
	case wire.RoomTransformSnapshot:
		r.pushRoomPose(v)
	default:
		r.pushGeneral(v)
	}
}

func (r *Router) pushRoomPose(snap wire.RoomTransformSnapshot) {
	r.roomPoseMu.Lock()
	defer r.roomPoseMu.Unlock()
	r.roomPoseQueue = append(r.roomPoseQueue, snap)
	if len(r.roomPoseQueue) > roomPoseQueueCap {
		// Keep only the newest roomPoseQueueCap entries — older frames are
		// obsolete by construction.
		r.roomPoseQueue = r.roomPoseQueue[len(r.roomPoseQueue)-roomPoseQueueCap:]
	}
}

func (r *Router) pushGeneral(v any) {
	r.generalMu.Lock()
	r.generalQueue = append(r.generalQueue, v)
	r.generalMu.Unlock()
}

// DrainTick drains the RoomPose queue, then the general queue, applying
// each item's effects on the calling (main) task.
func (r *Router) DrainTick() {
	r.roomPoseMu.Lock()
	roomPoses := r.roomPoseQueue
	r.roomPoseQueue = nil
	r.roomPoseMu.Unlock()

	for _, snap := range roomPoses {
		r.applyRoomPose(snap)
	}

	r.generalMu.Lock()
	general := r.generalQueue
	r.generalQueue = nil
	r.generalMu.Unlock()

	for _, item := range general {
		r.applyGeneral(item)
	}
}

func (r *Router) applyRoomPose(snap wire.RoomTransformSnapshot) {
	local := uint16(r.localClientNo.Load())
	live := make(map[uint16]struct{}, len(snap.Clients))

	r.cbMu.RLock()
	onHumanPresence := r.onHumanPresence
	onRoomPose := r.onRoomPose
	onConnect := r.onConnect
	r.cbMu.RUnlock()

	if onRoomPose != nil {
		onRoomPose(snap)
	}

	for _, ct := range snap.Clients {
		if ct.ClientNo == local {
			continue
		}
		live[ct.ClientNo] = struct{}{}

		r.sinkMu.Lock()
		sink, spawned := r.sinks[ct.ClientNo]
		r.sinkMu.Unlock()

		if spawned {
			sink.OnClientTransform(ct)
		} else {
			r.pendingMu.Lock()
			r.pendingSpawn[ct.ClientNo] = ct
			r.pendingMu.Unlock()
			// The mapping for this clientNo may have arrived first; the
			// join fires from whichever side completes it.
			r.emitConnectIfJoined(ct.ClientNo, onConnect)
		}

		if onHumanPresence != nil {
			onHumanPresence(ct)
		}
	}

	r.reconcileDisconnects(live)
}

// reconcileDisconnects removes sinks and pending-spawn entries for
// clientNos no longer present in the latest RoomPose frame, firing a
// disconnect event for every previously spawned peer that departed.
func (r *Router) reconcileDisconnects(live map[uint16]struct{}) {
	var disconnected []uint16

	r.sinkMu.Lock()
	for clientNo := range r.sinks {
		if _, ok := live[clientNo]; !ok {
			delete(r.sinks, clientNo)
			disconnected = append(disconnected, clientNo)
		}
	}
	r.sinkMu.Unlock()

	r.pendingMu.Lock()
	for clientNo := range r.pendingSpawn {
		if _, ok := live[clientNo]; !ok {
			delete(r.pendingSpawn, clientNo)
		}
	}
	for _, clientNo := range disconnected {
		delete(r.firedConnect, clientNo)
	}
	r.pendingMu.Unlock()

	if len(disconnected) == 0 {
		return
	}
	r.cbMu.RLock()
	onDisconnect := r.onDisconnect
	r.cbMu.RUnlock()
	if onDisconnect == nil {
		return
	}
	for _, clientNo := range disconnected {
		onDisconnect(clientNo)
	}
}

func (r *Router) applyGeneral(item any) {
	switch v := item.(type) {
	case wire.DeviceMappingMessage:
		r.applyDeviceMapping(v)
	case wire.RPCMessage:
		if cb := r.rpcCallback(); cb != nil {
			cb(v)
		}
	case wire.GlobalVarSetMessage:
		r.cbMu.RLock()
		cb := r.onGlobalVarSet
		r.cbMu.RUnlock()
		if cb != nil {
			cb(v)
		}
	case wire.GlobalVarSyncMessage:
		r.cbMu.RLock()
		cb := r.onGlobalVarSync
		r.cbMu.RUnlock()
		if cb != nil {
			cb(v)
		}
	case wire.ClientVarSetMessage:
		r.cbMu.RLock()
		cb := r.onClientVarSet
		r.cbMu.RUnlock()
		if cb != nil {
			cb(v)
		}
	case wire.ClientVarSyncMessage:
		r.cbMu.RLock()
		cb := r.onClientVarSync
		r.cbMu.RUnlock()
		if cb != nil {
			cb(v)
		}
	default:
		log.Printf("[router] unhandled general message of type %T", v)
	}
}

func (r *Router) rpcCallback() func(wire.RPCMessage) {
	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	return r.onRPC
}

func (r *Router) applyDeviceMapping(msg wire.DeviceMappingMessage) {
	stored := msg
	r.mapping.Store(&stored)
	r.serverVersion.Store(uint32(msg.ServerMajor)<<16 | uint32(msg.ServerMinor)<<8 | uint32(msg.ServerPatch))

	r.cbMu.RLock()
	onConnect := r.onConnect
	r.cbMu.RUnlock()
	if onConnect == nil {
		return
	}

	for _, e := range msg.Entries {
		r.emitConnectIfJoined(e.ClientNo, onConnect)
	}
}

// emitConnectIfJoined fires the connect event for clientNo when both
// join inputs are present — a buffered transform in pendingSpawn and a
// deviceId in the current mapping — at most once per key. RoomPose and
// DeviceIdMapping frames arrive in either order, so both apply paths
// call this after writing their half of the join.
func (r *Router) emitConnectIfJoined(clientNo uint16, onConnect func(uint16)) {
	if onConnect == nil || !r.mappingHas(clientNo) {
		return
	}

	r.pendingMu.Lock()
	_, isPending := r.pendingSpawn[clientNo]
	already := r.firedConnect[clientNo]
	if isPending && !already {
		r.firedConnect[clientNo] = true
	}
	r.pendingMu.Unlock()

	if isPending && !already {
		onConnect(clientNo)
	}
}

func (r *Router) mappingHas(clientNo uint16) bool {
	m := r.mapping.Load()
	if m == nil {
		return false
	}
	for _, e := range m.Entries {
		if e.ClientNo == clientNo {
			return true
		}
	}
	return false
}

// Reset clears the mapping table, every queue, the sinks, and the
// pending-spawn state — used on room switch and reconnect. The local
// clientNo is cleared to unassigned.
func (r *Router) Reset() {
	r.localClientNo.Store(0)
	r.mapping.Store(nil)
	r.serverVersion.Store(0)

	r.roomPoseMu.Lock()
	r.roomPoseQueue = nil
	r.roomPoseMu.Unlock()

	r.generalMu.Lock()
	r.generalQueue = nil
	r.generalMu.Unlock()

	r.sinkMu.Lock()
	r.sinks = make(map[uint16]TransformSink)
	r.sinkMu.Unlock()

	r.pendingMu.Lock()
	r.pendingSpawn = make(map[uint16]wire.ClientTransform)
	r.firedConnect = make(map[uint16]bool)
	r.pendingMu.Unlock()
}

// Mapping returns the most recently applied device mapping, if any.
func (r *Router) Mapping() (wire.DeviceMappingMessage, bool) {
	p := r.mapping.Load()
	if p == nil {
		return wire.DeviceMappingMessage{}, false
	}
	return *p, true
}
