package netsync

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/styly-dev/netsync-go/internal/clock"
	"github.com/styly-dev/netsync-go/internal/posechannel"
	"github.com/styly-dev/netsync-go/internal/wire"
)

// Tick advances the session by one application frame. It drains the
// mailbox and router queues, runs the periodic pose send, flushes the
// variable and RPC queues, evaluates readiness, and drives every remote
// pose channel against the render clock. Main task only.
func (s *Session) Tick() {
	now := s.monoNow()
	dt := 0.0
	if s.hasLastTick {
		dt = now - s.lastTickAt
	}
	s.lastTickAt = now
	s.hasLastTick = true

	s.mb.drain()
	s.rt.DrainTick()
	s.syncClientNoFromMapping()
	s.checkServerVersion()

	if s.state == StateReconnecting && now >= s.reconnectAt {
		s.loop.ResetError()
		s.connectTo(s.serverAddr, s.dealerPort, s.subPort)
	}

	if s.connected() {
		s.sendHandshakeIfPending()
		s.periodicSend(now)
		s.nv.FlushDebounced()
		s.rpcMgr.FlushPendingIfReady()
		s.evaluateReadiness()
	}

	s.advanceChannels(now, dt)
}

func (s *Session) connected() bool {
	switch s.state {
	case StateConnected, StateHandshaking, StateReady:
		return true
	default:
		return false
	}
}

// syncClientNoFromMapping resolves our own deviceId to the assigned
// client number whenever the mapping table changes.
func (s *Session) syncClientNoFromMapping() {
	mapping, ok := s.rt.Mapping()
	if !ok {
		return
	}
	for _, e := range mapping.Entries {
		if e.DeviceId == s.deviceId {
			if e.ClientNo != s.clientNo {
				s.clientNo = e.ClientNo
				s.rt.SetLocalClientNo(e.ClientNo)
			}
			return
		}
	}
}

// checkServerVersion surfaces an incompatible server version as a
// connection error, once per connection.
func (s *Session) checkServerVersion() {
	if s.versionWarned {
		return
	}
	major, minor, _, ok := s.rt.ServerVersion()
	if !ok {
		return
	}
	if !wire.VersionCompatible(major, minor, VersionMajor, VersionMinor) {
		s.versionWarned = true
		reason := fmt.Sprintf("server version %d.%d incompatible with client %d.%d", major, minor, VersionMajor, VersionMinor)
		log.Printf("[session] %s", reason)
		if s.events.OnConnectionError != nil {
			s.events.OnConnectionError(reason)
		}
	}
}

// sendHandshakeIfPending pushes the single post-connect handshake onto
// the control lane: a stealth frame in stealth mode, the current pose
// otherwise.
func (s *Session) sendHandshakeIfPending() {
	if !s.handshakePending {
		return
	}
	var frame []byte
	var err error
	if s.stealth || s.poseSource == nil {
		_, frame, err = wire.StealthHandshake(s.deviceId)
	} else {
		ct := s.localTransform()
		frame, err = wire.EncodeClientPose(ct)
	}
	if err != nil {
		log.Printf("[session] handshake encode: %v", err)
		s.handshakePending = false
		s.roomSwitchGuard = false
		return
	}
	if s.pushControl(frame) {
		s.handshakePending = false
		s.roomSwitchGuard = false
		s.state = StateHandshaking
		s.lastTransformSendAt = s.monoNow()
	}
}

// localTransform samples the pose source and stamps sequencing fields.
func (s *Session) localTransform() wire.ClientTransform {
	ct := s.poseSource.SamplePose()
	ct.DeviceId = s.deviceId
	ct.ClientNo = s.clientNo
	ct.Flags = ct.Flags.Normalize()
	s.poseSeq++
	if s.poseSeq == 0 {
		s.poseSeq = 1 // 0 is reserved for the stealth handshake
	}
	ct.PoseSeq = s.poseSeq
	ct.PoseTime = s.timeEst.EstimateServerNow(s.monoNow())
	if len(ct.Virtuals) > wire.MaxVirtuals {
		ct.Virtuals = ct.Virtuals[:wire.MaxVirtuals]
	}
	return ct
}

// periodicSend publishes the local pose at the configured cadence,
// skipping frames whose wire content is unchanged, and falls back to a
// stealth keep-alive when transform traffic has been quiet longer than
// the heartbeat interval.
func (s *Session) periodicSend(now float64) {
	interval := 0.1
	if s.cfg.SendRate > 0 {
		interval = 1 / s.cfg.SendRate
	}
	if s.hasSentThisConn && now-s.lastSendTickAt < interval {
		return
	}
	s.lastSendTickAt = now
	s.hasSentThisConn = true

	heartbeat := s.cfg.HeartbeatIntervalSeconds
	if heartbeat <= 0 {
		heartbeat = 1
	}

	if s.stealth {
		if now-s.lastTransformSendAt >= heartbeat {
			s.sendStealthKeepAlive(now)
		}
		return
	}

	ct := s.localTransform()
	sig := wire.PoseSignature(ct)
	if s.hasLastSignature && sig == s.lastSignature {
		// Unchanged pose: withhold the frame, but keep the server's
		// liveness check fed.
		if now-s.lastTransformSendAt >= heartbeat {
			s.sendStealthKeepAlive(now)
		}
		return
	}

	frame, err := wire.EncodeClientPose(ct)
	if err != nil {
		log.Printf("[session] pose encode: %v", err)
		return
	}
	s.loop.PushTransform(frame)
	s.lastSignature = sig
	s.hasLastSignature = true
	s.lastTransformSendAt = now
}

func (s *Session) sendStealthKeepAlive(now float64) {
	_, frame, err := wire.StealthHandshake(s.deviceId)
	if err != nil {
		log.Printf("[session] keep-alive encode: %v", err)
		return
	}
	s.loop.PushTransform(frame)
	s.lastTransformSendAt = now
}

// evaluateReadiness fires the one-shot Ready callback when the gate
// opens: handshake answered (clientNo assigned) and initial sync done.
func (s *Session) evaluateReadiness() {
	if s.readyFired || !s.Ready() {
		return
	}
	s.readyFired = true
	s.state = StateReady
	if s.events.OnReady != nil {
		s.events.OnReady()
	}
}

// onPeerConnected runs when the router joins a pending spawn with its
// device mapping. Stealth peers are present but never spawn an avatar.
func (s *Session) onPeerConnected(clientNo uint16) {
	deviceId, isStealth := s.lookupPeer(clientNo)

	p := &peer{
		sendEst: clock.NewSendIntervalEstimator(s.nominalSendInterval()),
		stealth: isStealth,
	}
	if !isStealth && s.avatarFactory != nil {
		p.applier = s.avatarFactory(clientNo, deviceId)
	}
	if s.presenceTarget != nil {
		if target := s.presenceTarget(clientNo); target != nil {
			p.presence = posechannel.NewSingleApplier(target, posechannel.DefaultSettings(), 0)
			p.presence.SetSpace(posechannel.SpaceLocal)
		}
	}
	s.peers[clientNo] = p
	s.rt.BindSink(clientNo, peerSink{p: p})

	if s.events.OnAvatarConnected != nil {
		s.events.OnAvatarConnected(clientNo)
	}
}

func (s *Session) lookupPeer(clientNo uint16) (deviceId string, stealth bool) {
	mapping, ok := s.rt.Mapping()
	if !ok {
		return "", false
	}
	for _, e := range mapping.Entries {
		if e.ClientNo == clientNo {
			return e.DeviceId, e.Stealth
		}
	}
	return "", false
}

func (s *Session) onPeerDisconnected(clientNo uint16) {
	if p, ok := s.peers[clientNo]; ok {
		if p.applier != nil {
			p.applier.ClearAll()
		}
		delete(s.peers, clientNo)
	}
	if s.events.OnAvatarDisconnected != nil {
		s.events.OnAvatarDisconnected(clientNo)
	}
}

// onHumanPresence feeds the reduced-detail presence channel from the
// physical part of any connected peer; transforms for other clientNos are
// ignored.
func (s *Session) onHumanPresence(ct wire.ClientTransform) {
	p, ok := s.peers[ct.ClientNo]
	if !ok || p.presence == nil {
		return
	}
	valid := ct.Flags&wire.FlagIsStealth == 0 && ct.Flags&wire.FlagPhysicalValid != 0
	p.presence.OnSnapshot(valid, ct.PoseTime, ct.PoseSeq, ct.Physical)
}

func (s *Session) nominalSendInterval() float64 {
	if s.cfg.SendRate > 0 {
		return 1 / s.cfg.SendRate
	}
	return 0.1
}

// advanceChannels computes the render-time offset behind estimated
// server time and ticks every peer's channels.
func (s *Session) advanceChannels(now, dt float64) {
	serverNow := s.timeEst.EstimateServerNow(now)

	for _, p := range s.peers {
		interval := p.sendEst.Interval()
		mult := clock.DynamicBufferMultiplier(true, s.timeEst, clock.BufferMultiplierParams{
			SendInterval: interval,
			Base:         bufferMultBase,
			Tolerance:    bufferMultTolerance,
			Min:          bufferMultMin,
			Max:          bufferMultMax,
		})
		renderTime := serverNow - mult*interval
		if p.applier != nil {
			p.applier.Tick(renderTime, dt)
		}
		if p.presence != nil {
			p.presence.Tick(renderTime, dt)
		}
	}
}

// lastSession caches the most recently constructed session for
// convenience accessors; the session itself is always an explicit owner
// passed through the API.
var lastSession atomic.Pointer[Session]

// Default returns the most recently constructed Session, or nil.
func Default() *Session { return lastSession.Load() }
