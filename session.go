// Package netsync is the client-side networking core of the STYLY
// NetSync spatial presence library: it connects to a room on a NetSync
// server, publishes the local participant's pose at a fixed cadence, and
// reconstructs every remote participant's smoothed pose alongside RPC
// and network-variable traffic. Rendering, input capture, and the server
// itself are collaborators behind small interfaces.
package netsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/styly-dev/netsync-go/internal/clock"
	"github.com/styly-dev/netsync-go/internal/config"
	"github.com/styly-dev/netsync-go/internal/discovery"
	"github.com/styly-dev/netsync-go/internal/identity"
	"github.com/styly-dev/netsync-go/internal/ioloop"
	"github.com/styly-dev/netsync-go/internal/netvar"
	"github.com/styly-dev/netsync-go/internal/posechannel"
	"github.com/styly-dev/netsync-go/internal/router"
	"github.com/styly-dev/netsync-go/internal/rpc"
	"github.com/styly-dev/netsync-go/internal/wire"
)

// Client library semantic version, reported against the server's triplet
// from DeviceIdMapping frames; compatible iff (major, minor) match.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
	VersionPatch uint8 = 0
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateHandshaking
	StateReady
	StateReconnecting
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateTearingDown:
		return "tearing down"
	default:
		return "unknown"
	}
}

// LocalPoseSource supplies the local participant's pose each send tick.
// The returned transform's Flags decide which parts are valid; DeviceId,
// PoseSeq, and PoseTime are filled in by the session. A session built
// without a pose source runs in stealth mode.
type LocalPoseSource interface {
	SamplePose() wire.ClientTransform
}

// Buffer-multiplier tuning for the render-time offset. Base and bounds
// follow the reference avatar configuration; see DESIGN.md.
const (
	bufferMultBase      = 2.0
	bufferMultTolerance = 0.5
	bufferMultMin       = 1.0
	bufferMultMax       = 6.0
)

// peer is everything the session tracks per connected remote client.
type peer struct {
	applier  *posechannel.AvatarApplier // nil for stealth peers and when no factory is set
	presence *posechannel.SingleApplier
	sendEst  *clock.SendIntervalEstimator
	stealth  bool
}

// peerSink adapts a peer to the router's TransformSink, feeding the
// send-interval estimator before the applier.
type peerSink struct {
	p *peer
}

func (s peerSink) OnClientTransform(ct wire.ClientTransform) {
	s.p.sendEst.AddPoseTime(ct.PoseTime)
	if s.p.applier != nil {
		s.p.applier.OnClientTransform(ct)
	}
}

// Options configures a Session. Only Config is consulted for tunables;
// the rest are collaborator seams.
type Options struct {
	Config config.Config

	// DeviceId overrides the persisted identity; generated via
	// internal/identity when empty.
	DeviceId string

	// PoseSource provides the local pose. nil enables stealth mode.
	PoseSource LocalPoseSource

	// AvatarFactory builds the render-side applier for one newly
	// connected visible peer. nil means remote poses are tracked but not
	// applied anywhere.
	AvatarFactory func(clientNo uint16, deviceId string) *posechannel.AvatarApplier

	// PresenceTarget builds the reduced-detail human-presence output for
	// one peer. Optional.
	PresenceTarget func(clientNo uint16) posechannel.OutputTarget

	Events Events

	// Clock overrides the monotonic source in tests.
	Clock clock.Source

	// WallClock returns unix seconds, used only for network-variable
	// timestamps. Defaults to time.Now().
	WallClock func() float64

	// TransportFactory builds the transport each connection attempt.
	// Defaults to the WebTransport implementation.
	TransportFactory func() ioloop.Transport

	// DiscoveryStrategy overrides platform strategy selection in tests.
	DiscoveryStrategy discovery.Strategy
}

// Session owns the client lifecycle: discovery, connection, handshake,
// readiness, periodic pose publishing, and room switching. All public
// methods except construction must be called from the main task; Tick
// must be called once per application frame.
type Session struct {
	cfg      config.Config
	deviceId string
	stealth  bool

	poseSource     LocalPoseSource
	avatarFactory  func(clientNo uint16, deviceId string) *posechannel.AvatarApplier
	presenceTarget func(clientNo uint16) posechannel.OutputTarget
	events         Events

	clockSrc         clock.Source
	wallNow          func() float64
	transportFactory func() ioloop.Transport
	discoveryOpts    discovery.Options

	rt      *router.Router
	nv      *netvar.Manager
	rpcMgr  *rpc.Manager
	timeEst *clock.TimeEstimator

	loop   *ioloop.Loop
	cancel context.CancelFunc

	mb mailbox

	state    State
	clientNo uint16

	serverAddr string
	dealerPort int
	subPort    int

	handshakePending bool
	readyFired       bool
	roomSwitchGuard  bool
	versionWarned    bool
	reconnectAt      float64 // monotonic seconds; valid in StateReconnecting
	discoveryCancel  context.CancelFunc

	poseSeq             uint16
	lastSignature       uint64
	hasLastSignature    bool
	lastTransformSendAt float64
	lastSendTickAt      float64
	hasSentThisConn     bool

	lastTickAt  float64
	hasLastTick bool

	peers map[uint16]*peer
}

// NewSession builds a session from opts. The device id is loaded or
// generated when not supplied. The returned session is Idle until
// Connect is called.
func NewSession(opts Options) (*Session, error) {
	deviceId := opts.DeviceId
	if deviceId == "" {
		id, err := identity.Load("")
		if err != nil {
			return nil, fmt.Errorf("netsync: bootstrap device id: %w", err)
		}
		deviceId = id
	}
	if err := identity.Validate(deviceId); err != nil {
		return nil, err
	}

	clockSrc := opts.Clock
	if clockSrc == nil {
		clockSrc = clock.SystemSource{}
	}
	wallNow := opts.WallClock
	if wallNow == nil {
		wallNow = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	transportFactory := opts.TransportFactory
	if transportFactory == nil {
		transportFactory = func() ioloop.Transport { return ioloop.NewWebTransportTransport() }
	}

	s := &Session{
		cfg:              opts.Config,
		deviceId:         deviceId,
		stealth:          opts.PoseSource == nil,
		poseSource:       opts.PoseSource,
		avatarFactory:    opts.AvatarFactory,
		presenceTarget:   opts.PresenceTarget,
		events:           opts.Events,
		clockSrc:         clockSrc,
		wallNow:          wallNow,
		transportFactory: transportFactory,
		rt:               router.New(),
		timeEst:          clock.NewTimeEstimator(),
		state:            StateIdle,
		peers:            make(map[uint16]*peer),
	}

	s.discoveryOpts = discovery.Options{
		BeaconPort:     s.cfg.BeaconPort,
		AttemptTimeout: time.Duration(s.cfg.DiscoveryTimeoutSeconds * float64(time.Second)),
		Cache:          discovery.NewFileCache(),
		Strategy:       opts.DiscoveryStrategy,
	}

	s.nv = netvar.NewManager(s.localClientNo, s.wallNow, s.pushControl)
	if s.cfg.NVDebounceMs > 0 {
		s.nv.SetDebounce(float64(s.cfg.NVDebounceMs) / 1000)
	}

	s.rpcMgr = rpc.NewManager(s.localClientNo, s.monoNow, s.Ready, s.pushControl)
	s.rpcMgr.SetRateLimit(s.cfg.RPCLimitCount, s.cfg.RPCLimitWindowSeconds)
	s.rpcMgr.SetPendingPolicy(s.cfg.RPCPendingMax, s.cfg.RPCTtlSeconds, s.cfg.RPCFlushPerFrame)

	s.wireRouter()

	lastSession.Store(s)
	return s, nil
}

func (s *Session) monoNow() float64      { return clock.NowSeconds(s.clockSrc) }
func (s *Session) localClientNo() uint16 { return s.clientNo }

// pushControl offers one frame to the active loop's control lane.
func (s *Session) pushControl(payload []byte) bool {
	if s.loop == nil {
		return false
	}
	return s.loop.PushControl(payload)
}

func (s *Session) wireRouter() {
	s.rt.SetOnConnect(s.onPeerConnected)
	s.rt.SetOnDisconnect(s.onPeerDisconnected)
	s.rt.SetOnRoomPose(func(snap wire.RoomTransformSnapshot) {
		s.timeEst.AddSample(s.monoNow(), snap.BroadcastTime)
	})
	s.rt.SetOnHumanPresence(s.onHumanPresence)
	s.rt.SetOnRPC(func(msg wire.RPCMessage) {
		in, err := rpc.ParseInbound(msg)
		if err != nil {
			log.Printf("[session] %v", err)
			return
		}
		if s.events.OnRPCReceived != nil {
			s.events.OnRPCReceived(in.SenderClientNo, in.FunctionName, in.Args)
		}
	})
	s.rt.SetOnGlobalVarSet(s.nv.ApplyGlobalSet)
	s.rt.SetOnGlobalVarSync(s.nv.ApplyGlobalSync)
	s.rt.SetOnClientVarSet(s.nv.ApplyClientSet)
	s.rt.SetOnClientVarSync(s.nv.ApplyClientSync)

	s.nv.SetOnGlobalChanged(func(name, old, new string) {
		if s.events.OnGlobalVariableChanged != nil {
			s.events.OnGlobalVariableChanged(name, old, new)
		}
	})
	s.nv.SetOnClientChanged(func(clientNo uint16, name, old, new string) {
		if s.events.OnClientVariableChanged != nil {
			s.events.OnClientVariableChanged(clientNo, name, old, new)
		}
	})
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state }

// ClientNo reports the server-assigned client number; 0 means unassigned.
func (s *Session) ClientNo() uint16 { return s.clientNo }

// DeviceId reports the local device identity.
func (s *Session) DeviceId() string { return s.deviceId }

// RoomId reports the current room topic.
func (s *Session) RoomId() string { return s.cfg.RoomId }

// Stealth reports whether this session publishes no renderable pose.
func (s *Session) Stealth() bool { return s.stealth }

// Ready reports readiness: connected, handshake complete, and the
// initial variable sync observed or timed out.
func (s *Session) Ready() bool {
	switch s.state {
	case StateConnected, StateHandshaking, StateReady:
		return s.clientNo > 0 && s.nv.InitialSyncDone()
	default:
		return false
	}
}

// ServerVersion reports the server's semantic version triplet once a
// DeviceIdMapping frame has carried one.
func (s *Session) ServerVersion() (major, minor, patch uint8, ok bool) {
	return s.rt.ServerVersion()
}

// Connect starts the session: discovery when no server address is
// configured, otherwise a direct connection. Idempotent while active.
func (s *Session) Connect() error {
	if s.state != StateIdle {
		return fmt.Errorf("netsync: connect from state %q", s.state)
	}

	if s.cfg.ServerAddress == "" {
		if !s.cfg.EnableDiscovery {
			return fmt.Errorf("netsync: no server address and discovery disabled")
		}
		s.state = StateDiscovering
		ctx, cancel := context.WithCancel(context.Background())
		s.discoveryCancel = cancel
		d := discovery.New(s.discoveryOpts, s.mb.post)
		d.Start(ctx, func(r discovery.Result) {
			s.discoveryCancel = nil
			s.connectTo(r.Address, r.DealerPort, r.SubPort)
		})
		return nil
	}

	host, err := discovery.NormalizeServerHost(s.cfg.ServerAddress)
	if err != nil {
		return err
	}
	s.connectTo(host, s.cfg.DealerPort, s.cfg.SubPort)
	return nil
}

// connectTo spins up a fresh loop against addr. Main task only.
func (s *Session) connectTo(addr string, dealerPort, subPort int) {
	s.serverAddr = addr
	s.dealerPort = dealerPort
	s.subPort = subPort
	s.state = StateConnecting
	s.hasSentThisConn = false
	s.hasLastSignature = false

	loop := ioloop.NewLoop(s.transportFactory(), s.cfg.RoomId, 0)
	loop.SetOnInbound(s.rt.Dispatch)
	loop.SetOnConnected(func() {
		s.mb.post(s.onTransportConnected)
	})
	loop.SetOnFatalError(func(summary string) {
		s.mb.post(func() { s.onFatalError(summary) })
	})
	s.loop = loop

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go loop.Run(ctx, addr, dealerPort, subPort) //nolint:errcheck — surfaced via the error slot
}

// onTransportConnected runs on the main task once the transport dials.
func (s *Session) onTransportConnected() {
	if s.state != StateConnecting {
		return
	}
	s.state = StateConnected
	s.nv.MarkConnected()
	s.handshakePending = true
}

// onFatalError implements the reconnection flow.
func (s *Session) onFatalError(summary string) {
	if s.events.OnConnectionError != nil {
		s.events.OnConnectionError(summary)
	}
	if s.state == StateIdle || s.state == StateTearingDown {
		return
	}
	s.teardownConnection()
	s.state = StateReconnecting
	s.reconnectAt = s.monoNow() + s.cfg.ReconnectDelaySeconds
}

// teardownConnection clears per-connection state but keeps the resolved
// server address for reconnects.
func (s *Session) teardownConnection() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.loop != nil {
		s.loop.Disconnect()
	}
	s.clientNo = 0
	s.readyFired = false
	s.versionWarned = false
	s.handshakePending = false
	s.nv.Reset()
	s.rt.Reset()
	s.clearPeers()
	s.timeEst = clock.NewTimeEstimator()
}

func (s *Session) clearPeers() {
	for clientNo, p := range s.peers {
		if p.applier != nil {
			p.applier.ClearAll()
		}
		delete(s.peers, clientNo)
	}
}

// Disconnect tears the session down to Idle. Application-level RPC and
// variable state is dropped.
func (s *Session) Disconnect() {
	if s.discoveryCancel != nil {
		s.discoveryCancel()
		s.discoveryCancel = nil
	}
	if s.state == StateIdle {
		return
	}
	s.teardownConnection()
	if s.loop != nil {
		s.loop.ResetError()
		s.loop = nil
	}
	s.rpcMgr.Reset()
	s.state = StateIdle
}

// SetRoomId switches rooms: rejected while a switch is in
// progress or when the room is unchanged; otherwise the session tears
// down, clears all room-scoped state, and reconnects under the new topic.
func (s *Session) SetRoomId(roomId string) error {
	if s.roomSwitchGuard {
		return fmt.Errorf("netsync: room switch already in progress")
	}
	if roomId == s.cfg.RoomId {
		return fmt.Errorf("netsync: already in room %q", roomId)
	}
	if len(roomId) == 0 || len(roomId) > wire.MaxRoomIdBytes {
		return fmt.Errorf("netsync: room id must be 1..%d bytes", wire.MaxRoomIdBytes)
	}

	s.roomSwitchGuard = true
	s.state = StateTearingDown
	s.teardownConnection()
	if s.loop != nil {
		s.loop.ResetError()
	}
	s.rpcMgr.Reset()
	s.cfg.RoomId = roomId

	if s.serverAddr != "" {
		s.connectTo(s.serverAddr, s.dealerPort, s.subPort)
	} else {
		s.state = StateIdle
		s.roomSwitchGuard = false
		return s.Connect()
	}
	return nil
}

// SendRPC issues a remote procedure call to the room.
func (s *Session) SendRPC(functionName string, args []string) error {
	return s.rpcMgr.Send(functionName, args)
}

// SetGlobalVariable writes one room-global variable.
func (s *Session) SetGlobalVariable(name, value string) error {
	return s.nv.SetGlobal(name, value)
}

// GetGlobalVariable reads one room-global variable, or def when unset.
func (s *Session) GetGlobalVariable(name, def string) string {
	return s.nv.GetGlobal(name, def)
}

// SetClientVariable writes one per-client variable.
func (s *Session) SetClientVariable(targetClientNo uint16, name, value string) error {
	return s.nv.SetClient(targetClientNo, name, value)
}

// GetClientVariable reads one per-client variable, or def when unset.
func (s *Session) GetClientVariable(clientNo uint16, name, def string) string {
	return s.nv.GetClient(clientNo, name, def)
}
