package netsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/styly-dev/netsync-go/internal/clock"
	"github.com/styly-dev/netsync-go/internal/config"
	"github.com/styly-dev/netsync-go/internal/ioloop"
	"github.com/styly-dev/netsync-go/internal/posechannel"
	"github.com/styly-dev/netsync-go/internal/wire"
)

type inboundFrame struct {
	topic   string
	payload []byte
}

// fakeTransport is an in-memory Transport: sends are recorded, inbound
// frames are injected by the test.
type fakeTransport struct {
	mu            sync.Mutex
	sent          [][]byte
	inbound       []inboundFrame
	connectedRoom string
	failSends     bool
}

func (t *fakeTransport) Connect(_ context.Context, _ string, _, _ int, roomId string) error {
	t.mu.Lock()
	t.connectedRoom = roomId
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Disconnect() {}

func (t *fakeTransport) Send(payload []byte) (ioloop.SendOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends {
		return ioloop.Fatal, context.Canceled
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.sent = append(t.sent, cp)
	return ioloop.Sent, nil
}

func (t *fakeTransport) Receive(context.Context) (string, []byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbound) == 0 {
		return "", nil, false, nil
	}
	f := t.inbound[0]
	t.inbound = t.inbound[1:]
	return f.topic, f.payload, true, nil
}

func (t *fakeTransport) inject(topic string, payload []byte) {
	t.mu.Lock()
	t.inbound = append(t.inbound, inboundFrame{topic: topic, payload: payload})
	t.mu.Unlock()
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) room() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectedRoom
}

func (t *fakeTransport) setFailSends(v bool) {
	t.mu.Lock()
	t.failSends = v
	t.mu.Unlock()
}

type sessionHarness struct {
	s          *Session
	fakeClock  *clock.FakeSource
	wall       float64
	transports []*fakeTransport

	connected    []uint16
	disconnected []uint16
	readyCount   int
	errors       []string
}

func newSessionHarness(t *testing.T, customize func(*Options)) *sessionHarness {
	t.Helper()
	h := &sessionHarness{fakeClock: clock.NewFakeSource()}

	cfg := config.Default()
	cfg.RoomId = "R"
	cfg.ReconnectDelaySeconds = 0

	opts := Options{
		Config:   cfg,
		DeviceId: "device-local",
		Clock:    h.fakeClock,
		WallClock: func() float64 {
			return h.wall
		},
		TransportFactory: func() ioloop.Transport {
			ft := &fakeTransport{}
			h.transports = append(h.transports, ft)
			return ft
		},
		Events: Events{
			OnAvatarConnected:    func(c uint16) { h.connected = append(h.connected, c) },
			OnAvatarDisconnected: func(c uint16) { h.disconnected = append(h.disconnected, c) },
			OnReady:              func() { h.readyCount++ },
			OnConnectionError:    func(reason string) { h.errors = append(h.errors, reason) },
		},
	}
	if customize != nil {
		customize(&opts)
	}

	s, err := NewSession(opts)
	if err != nil {
		t.Fatal(err)
	}
	h.s = s
	t.Cleanup(s.Disconnect)
	return h
}

func (h *sessionHarness) current() *fakeTransport {
	return h.transports[len(h.transports)-1]
}

// waitUntil ticks the session until cond holds, failing after a bounded
// real-time wait (the loop goroutine needs wall time to run).
func (h *sessionHarness) waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.s.Tick()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mappingFrame(t *testing.T, entries ...wire.DeviceMappingEntry) []byte {
	t.Helper()
	frame, err := wire.EncodeDeviceIdMapping(wire.DeviceMappingMessage{
		ServerMajor: VersionMajor, ServerMinor: VersionMinor, ServerPatch: 3,
		Entries: entries,
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func roomPoseFrame(t *testing.T, broadcastTime float64, clients ...wire.ClientTransform) []byte {
	t.Helper()
	frame, err := wire.EncodeRoomPose(wire.RoomTransformSnapshot{
		RoomId: "R", BroadcastTime: broadcastTime, Clients: clients,
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestSingleClientHandshake(t *testing.T) {
	h := newSessionHarness(t, nil) // no pose source: stealth mode

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.waitUntil(t, "connection", func() bool { return h.s.State() >= StateConnected })

	// Exactly one stealth handshake goes out on the control lane.
	h.waitUntil(t, "handshake", func() bool { return len(h.current().sentFrames()) >= 1 })
	_, v, err := wire.DecodeAny(h.current().sentFrames()[0])
	if err != nil {
		t.Fatal(err)
	}
	hs := v.(wire.ClientTransform)
	if hs.Flags&wire.FlagIsStealth == 0 || hs.PoseSeq != 0 || len(hs.Virtuals) != 0 {
		t.Fatalf("handshake = %+v", hs)
	}
	if hs.DeviceId != "device-local" {
		t.Fatalf("handshake device id = %q", hs.DeviceId)
	}

	h.current().inject("R", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 7, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo assignment", func() bool { return h.s.ClientNo() == 7 })

	if h.readyCount != 0 {
		t.Fatal("ready must wait for the initial sync gate")
	}
	h.current().inject("R", mustEncodeGlobalSync(t))
	h.waitUntil(t, "ready", func() bool { return h.readyCount == 1 })

	if h.s.State() != StateReady {
		t.Fatalf("state = %v", h.s.State())
	}
	if major, minor, patch, ok := h.s.ServerVersion(); !ok || major != VersionMajor || minor != VersionMinor || patch != 3 {
		t.Fatalf("server version = %d.%d.%d ok=%v", major, minor, patch, ok)
	}
}

func mustEncodeGlobalSync(t *testing.T, entries ...wire.VarSyncEntry) []byte {
	t.Helper()
	frame, err := wire.EncodeGlobalVarSync(wire.GlobalVarSyncMessage{Entries: entries})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestReadyFiresOnSyncTimeout(t *testing.T) {
	h := newSessionHarness(t, nil)

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.current().inject("R", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 7, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo assignment", func() bool { return h.s.ClientNo() == 7 })

	if h.readyCount != 0 {
		t.Fatal("ready fired before the timeout")
	}
	h.wall += 2.1
	h.waitUntil(t, "ready via timeout", func() bool { return h.readyCount == 1 })
}

type recordingTarget struct {
	mu    sync.Mutex
	world []wire.Pose
}

func (r *recordingTarget) SetLocalPose(p wire.Pose) { r.SetWorldPose(p) }
func (r *recordingTarget) SetWorldPose(p wire.Pose) {
	r.mu.Lock()
	r.world = append(r.world, p)
	r.mu.Unlock()
}

func (r *recordingTarget) last() (wire.Pose, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.world) == 0 {
		return wire.Pose{}, false
	}
	return r.world[len(r.world)-1], true
}

func TestTwoClientVisibility(t *testing.T) {
	headTarget := &recordingTarget{}

	h := newSessionHarness(t, func(o *Options) {
		o.AvatarFactory = func(clientNo uint16, deviceId string) *posechannel.AvatarApplier {
			if deviceId != "device-b" {
				t.Errorf("avatar factory device id = %q", deviceId)
			}
			return posechannel.NewAvatarApplier(
				posechannel.AvatarTargets{Head: headTarget},
				posechannel.SmoothingSettings{Head: posechannel.DefaultSettings()},
				0,
			)
		}
	})

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.current().inject("R", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 7, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo assignment", func() bool { return h.s.ClientNo() == 7 })

	remoteHead := wire.Pose{Position: wire.Vec3{X: 1, Y: 1.6, Z: 0}, Rotation: wire.Identity}
	h.current().inject("R", roomPoseFrame(t, 10.0,
		wire.ClientTransform{ClientNo: 7, PoseTime: 10.0, PoseSeq: 1, Flags: wire.FlagIsStealth},
		wire.ClientTransform{ClientNo: 8, PoseTime: 10.0, PoseSeq: 1, Flags: wire.FlagHeadValid, Head: remoteHead},
	))

	// Before the mapping arrives the remote sits in pending-spawn: ticks
	// pass, no connect event fires.
	for i := 0; i < 20; i++ {
		h.s.Tick()
		time.Sleep(time.Millisecond)
	}
	if len(h.connected) != 0 {
		t.Fatalf("connect fired before mapping: %v", h.connected)
	}

	h.current().inject("R", mappingFrame(t,
		wire.DeviceMappingEntry{ClientNo: 7, Stealth: true, DeviceId: "device-local"},
		wire.DeviceMappingEntry{ClientNo: 8, DeviceId: "device-b"},
	))
	h.waitUntil(t, "avatar connect", func() bool { return len(h.connected) == 1 })
	if h.connected[0] != 8 {
		t.Fatalf("connected = %v", h.connected)
	}

	// Subsequent frames drive the avatar's pose channels.
	h.current().inject("R", roomPoseFrame(t, 10.1,
		wire.ClientTransform{ClientNo: 8, PoseTime: 10.1, PoseSeq: 2, Flags: wire.FlagHeadValid, Head: remoteHead},
	))
	h.waitUntil(t, "head pose applied", func() bool {
		p, ok := headTarget.last()
		return ok && p.Position.Distance(remoteHead.Position) < 0.01
	})

	// A connect event never repeats for the same clientNo.
	h.current().inject("R", mappingFrame(t,
		wire.DeviceMappingEntry{ClientNo: 7, Stealth: true, DeviceId: "device-local"},
		wire.DeviceMappingEntry{ClientNo: 8, DeviceId: "device-b"},
	))
	for i := 0; i < 20; i++ {
		h.s.Tick()
		time.Sleep(time.Millisecond)
	}
	if len(h.connected) != 1 {
		t.Fatalf("connect fired twice: %v", h.connected)
	}
}

func TestRoomSwitch(t *testing.T) {
	h := newSessionHarness(t, nil)

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.current().inject("R", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 7, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo assignment in room R", func() bool { return h.s.ClientNo() == 7 })
	h.current().inject("R", mustEncodeGlobalSync(t, wire.VarSyncEntry{Name: "X", Value: "A", Timestamp: 1}))
	h.waitUntil(t, "ready in room R", func() bool { return h.readyCount == 1 })

	if err := h.s.SetRoomId("R"); err == nil {
		t.Fatal("switching to the current room must be rejected")
	}

	if err := h.s.SetRoomId("B"); err != nil {
		t.Fatal(err)
	}
	if h.s.ClientNo() != 0 {
		t.Fatal("clientNo must reset on room switch")
	}
	if got := h.s.GetGlobalVariable("X", "cleared"); got != "cleared" {
		t.Fatalf("NV store must be cleared, got %q", got)
	}
	if len(h.transports) != 2 {
		t.Fatalf("expected a fresh transport, got %d", len(h.transports))
	}

	h.waitUntil(t, "reconnect to B", func() bool { return h.current().room() == "B" })
	h.waitUntil(t, "handshake in B", func() bool { return len(h.current().sentFrames()) >= 1 })

	// Exactly one handshake on the new connection.
	nHandshakes := 0
	for _, f := range h.current().sentFrames() {
		kind, _, _ := wire.DecodeAny(f)
		if kind == wire.MessageClientPose {
			nHandshakes++
		}
	}
	if nHandshakes != 1 {
		t.Fatalf("handshakes on new connection = %d", nHandshakes)
	}

	h.current().inject("B", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 3, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo assignment in room B", func() bool { return h.s.ClientNo() == 3 })
	h.current().inject("B", mustEncodeGlobalSync(t))
	h.waitUntil(t, "ready in room B", func() bool { return h.readyCount == 2 })
}

func TestFatalErrorTriggersReconnect(t *testing.T) {
	h := newSessionHarness(t, nil)

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.waitUntil(t, "connection", func() bool { return h.s.State() >= StateConnected })

	h.current().setFailSends(true)
	// Force an outbound frame so the loop hits the fatal send.
	h.s.SetGlobalVariable("x", "1") //nolint:errcheck
	h.wall += 1.0
	h.fakeClock.Advance(time.Second)
	h.waitUntil(t, "connection error surfaced", func() bool { return len(h.errors) >= 1 })

	h.fakeClock.Advance(time.Second) // past the (zero) reconnect delay
	h.waitUntil(t, "fresh transport", func() bool { return len(h.transports) >= 2 })

	h.current().inject("R", mappingFrame(t, wire.DeviceMappingEntry{
		ClientNo: 9, Stealth: true, DeviceId: "device-local",
	}))
	h.waitUntil(t, "clientNo after reconnect", func() bool { return h.s.ClientNo() == 9 })
}

func TestStealthHeartbeatKeepAlive(t *testing.T) {
	h := newSessionHarness(t, nil)

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	h.waitUntil(t, "handshake", func() bool { return len(h.current().sentFrames()) >= 1 })
	before := len(h.current().sentFrames())

	h.fakeClock.Advance(1200 * time.Millisecond)
	h.waitUntil(t, "keep-alive", func() bool { return len(h.current().sentFrames()) > before })

	frames := h.current().sentFrames()
	_, v, err := wire.DecodeAny(frames[len(frames)-1])
	if err != nil {
		t.Fatal(err)
	}
	ka := v.(wire.ClientTransform)
	if ka.Flags&wire.FlagIsStealth == 0 || ka.PoseSeq != 0 {
		t.Fatalf("keep-alive = %+v", ka)
	}
}

type fixedPoseSource struct {
	mu sync.Mutex
	ct wire.ClientTransform
}

func (f *fixedPoseSource) SamplePose() wire.ClientTransform {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ct
}

func (f *fixedPoseSource) set(ct wire.ClientTransform) {
	f.mu.Lock()
	f.ct = ct
	f.mu.Unlock()
}

func TestUnchangedPoseIsNotResent(t *testing.T) {
	src := &fixedPoseSource{}
	src.set(wire.ClientTransform{
		Flags: wire.FlagHeadValid,
		Head:  wire.Pose{Position: wire.Vec3{X: 1}, Rotation: wire.Identity},
	})

	h := newSessionHarness(t, func(o *Options) { o.PoseSource = src })

	if err := h.s.Connect(); err != nil {
		t.Fatal(err)
	}
	// Handshake pose + first periodic pose.
	h.waitUntil(t, "first pose", func() bool { return len(h.current().sentFrames()) >= 2 })
	base := len(h.current().sentFrames())

	// Advance past several send intervals with an identical pose: the
	// signature gate withholds every frame (heartbeat not yet due).
	h.fakeClock.Advance(500 * time.Millisecond)
	for i := 0; i < 20; i++ {
		h.s.Tick()
		time.Sleep(time.Millisecond)
	}
	if got := len(h.current().sentFrames()); got != base {
		t.Fatalf("unchanged pose was resent: %d -> %d", base, got)
	}

	src.set(wire.ClientTransform{
		Flags: wire.FlagHeadValid,
		Head:  wire.Pose{Position: wire.Vec3{X: 2}, Rotation: wire.Identity},
	})
	h.fakeClock.Advance(200 * time.Millisecond)
	h.waitUntil(t, "changed pose sent", func() bool { return len(h.current().sentFrames()) > base })
}
