package posechannel

import "github.com/styly-dev/netsync-go/internal/wire"

// OutputTarget is the rendering-side collaborator a channel's smoothed
// pose is written to. Rendering itself is out of scope; this is the only
// seam the applier needs.
type OutputTarget interface {
	SetLocalPose(wire.Pose)
	SetWorldPose(wire.Pose)
}

// Space selects whether a part's smoothed pose is applied in local or
// world space.
type Space int

const (
	SpaceWorld Space = iota
	SpaceLocal
)

// PartBinding pairs one channel with its output target and the space the
// result is applied in.
type PartBinding struct {
	Channel *Channel
	Target  OutputTarget
	Space   Space
}

func newPart(settings Settings, capacity int, target OutputTarget, space Space) PartBinding {
	return PartBinding{Channel: NewChannel(settings, capacity), Target: target, Space: space}
}

func (p PartBinding) apply(pose wire.Pose) {
	if p.Target == nil {
		return
	}
	if p.Space == SpaceLocal {
		p.Target.SetLocalPose(pose)
	} else {
		p.Target.SetWorldPose(pose)
	}
}

// addOrClear adds a snapshot when valid, or clears the channel when not —
// the per-part rule of the transform applier.
func (p PartBinding) addOrClear(valid bool, t float64, seq uint16, pose wire.Pose) {
	if valid {
		p.Channel.AddSnapshot(t, seq, pose)
	} else {
		p.Channel.Clear()
	}
}

// AvatarTargets are the rendering-side sinks for one remote avatar.
type AvatarTargets struct {
	Physical OutputTarget
	Head     OutputTarget
	Right    OutputTarget
	Left     OutputTarget
	Virtuals []OutputTarget
}

// SmoothingSettings carries one Settings value per avatar part.
type SmoothingSettings struct {
	Physical Settings
	Head     Settings
	Right    Settings
	Left     Settings
	Virtuals []Settings
}

// AvatarApplier composes the full set of channels for one remote avatar:
// physical/head/right/left plus N virtuals.
type AvatarApplier struct {
	physical PartBinding
	head     PartBinding
	right    PartBinding
	left     PartBinding
	virtuals []PartBinding
}

// NewAvatarApplier builds an avatar applier bound to targets, with
// physical applied in local space and every other part in world space.
func NewAvatarApplier(targets AvatarTargets, settings SmoothingSettings, capacity int) *AvatarApplier {
	a := &AvatarApplier{
		physical: newPart(settings.Physical, capacity, targets.Physical, SpaceLocal),
		head:     newPart(settings.Head, capacity, targets.Head, SpaceWorld),
		right:    newPart(settings.Right, capacity, targets.Right, SpaceWorld),
		left:     newPart(settings.Left, capacity, targets.Left, SpaceWorld),
	}
	for i, target := range targets.Virtuals {
		s := DefaultSettings()
		if i < len(settings.Virtuals) {
			s = settings.Virtuals[i]
		}
		a.virtuals = append(a.virtuals, newPart(s, capacity, target, SpaceWorld))
	}
	return a
}

// ClearAll drops history on every bound channel, used for stealth clients.
func (a *AvatarApplier) ClearAll() {
	a.physical.Channel.Clear()
	a.head.Channel.Clear()
	a.right.Channel.Clear()
	a.left.Channel.Clear()
	for _, v := range a.virtuals {
		v.Channel.Clear()
	}
}

// OnClientTransform feeds one inbound transform into the bound channels,
// stealth clears everything; otherwise each part is added
// or cleared according to its validity flag, and virtuals are matched up
// to min(received, bound).
func (a *AvatarApplier) OnClientTransform(ct wire.ClientTransform) {
	if ct.Flags&wire.FlagIsStealth != 0 {
		a.ClearAll()
		return
	}

	a.physical.addOrClear(ct.Flags&wire.FlagPhysicalValid != 0, ct.PoseTime, ct.PoseSeq, ct.Physical)
	a.head.addOrClear(ct.Flags&wire.FlagHeadValid != 0, ct.PoseTime, ct.PoseSeq, ct.Head)
	a.right.addOrClear(ct.Flags&wire.FlagRightValid != 0, ct.PoseTime, ct.PoseSeq, ct.Right)
	a.left.addOrClear(ct.Flags&wire.FlagLeftValid != 0, ct.PoseTime, ct.PoseSeq, ct.Left)

	if ct.Flags&wire.FlagVirtualsValid != 0 {
		n := len(ct.Virtuals)
		if len(a.virtuals) < n {
			n = len(a.virtuals)
		}
		for i := 0; i < n; i++ {
			a.virtuals[i].Channel.AddSnapshot(ct.PoseTime, ct.PoseSeq, ct.Virtuals[i])
		}
	} else {
		for _, v := range a.virtuals {
			v.Channel.Clear()
		}
	}
}

// Tick advances every bound channel to renderServerTime and writes the
// result to its target.
func (a *AvatarApplier) Tick(renderServerTime, dt float64) {
	a.physical.apply(a.physical.Channel.Tick(renderServerTime, dt))
	a.head.apply(a.head.Channel.Tick(renderServerTime, dt))
	a.right.apply(a.right.Channel.Tick(renderServerTime, dt))
	a.left.apply(a.left.Channel.Tick(renderServerTime, dt))
	for _, v := range a.virtuals {
		v.apply(v.Channel.Tick(renderServerTime, dt))
	}
}

// SingleApplier binds one channel to one output target — the
// "single" mode, used for the simpler presence marker.
type SingleApplier struct {
	part PartBinding
}

// NewSingleApplier builds a single-part applier, applied in world space
// by default.
func NewSingleApplier(target OutputTarget, settings Settings, capacity int) *SingleApplier {
	return &SingleApplier{part: newPart(settings, capacity, target, SpaceWorld)}
}

// SetSpace overrides the output space (world by default).
func (s *SingleApplier) SetSpace(space Space) { s.part.Space = space }

// OnSnapshot adds or clears the bound channel depending on validity.
func (s *SingleApplier) OnSnapshot(valid bool, t float64, seq uint16, pose wire.Pose) {
	s.part.addOrClear(valid, t, seq, pose)
}

// Clear drops the bound channel's history.
func (s *SingleApplier) Clear() { s.part.Channel.Clear() }

// Tick advances the bound channel and writes the result to its target.
func (s *SingleApplier) Tick(renderServerTime, dt float64) {
	s.part.apply(s.part.Channel.Tick(renderServerTime, dt))
}
