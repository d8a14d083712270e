// Package rpc implements the remote-procedure-call subsystem:
// a sliding-window rate limit, a bounded pending queue for calls issued
// before the session is ready, TTL expiry, and a bounded per-tick flush.
// All methods are main-task only.
package rpc

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/styly-dev/netsync-go/internal/wire"
)

// Default tunables for the RPC subsystem.
const (
	DefaultLimitCount    = 30
	DefaultLimitWindow   = 1.0 // seconds
	DefaultPendingMax    = 100
	DefaultTTLSeconds    = 5.0
	DefaultFlushPerFrame = 10
)

// warnCooldownSeconds throttles repeated drop warnings so a burst over
// the rate limit logs once, not once per call.
const warnCooldownSeconds = 1.0

type pendingCall struct {
	functionName string
	argsJSON     string
	enqueuedAt   float64
}

// Manager owns the outbound RPC path. localClientNo and now are sampled
// per call; ready gates immediate sends; send pushes an encoded frame
// onto the control lane and reports acceptance (false = backpressure).
type Manager struct {
	localClientNo func() uint16
	now           func() float64 // monotonic seconds
	ready         func() bool
	send          func(payload []byte) bool

	limitCount  int
	limitWindow float64
	sendTimes   []float64

	pending    []pendingCall
	pendingMax int
	ttl        float64
	flushMax   int

	lastWarnAt float64
	hasWarned  bool
}

// NewManager creates a Manager with default tunables.
func NewManager(localClientNo func() uint16, now func() float64, ready func() bool, send func([]byte) bool) *Manager {
	return &Manager{
		localClientNo: localClientNo,
		now:           now,
		ready:         ready,
		send:          send,
		limitCount:    DefaultLimitCount,
		limitWindow:   DefaultLimitWindow,
		pendingMax:    DefaultPendingMax,
		ttl:           DefaultTTLSeconds,
		flushMax:      DefaultFlushPerFrame,
	}
}

// SetRateLimit overrides the sliding window: count sends per window
// seconds. count <= 0 disables the limit.
func (m *Manager) SetRateLimit(count int, window float64) {
	m.limitCount = count
	if window > 0 {
		m.limitWindow = window
	}
}

// SetPendingPolicy overrides the pending queue cap, TTL, and per-tick
// flush bound. Non-positive values keep the current setting.
func (m *Manager) SetPendingPolicy(max int, ttlSeconds float64, flushPerFrame int) {
	if max > 0 {
		m.pendingMax = max
	}
	if ttlSeconds > 0 {
		m.ttl = ttlSeconds
	}
	if flushPerFrame > 0 {
		m.flushMax = flushPerFrame
	}
}

// Send issues one RPC call. Before readiness the call is parked in the
// pending queue (overflow drops the oldest). Once ready the rate limit
// applies; over-budget calls are dropped with a throttled warning. An
// oversize function name fails immediately with a typed error.
func (m *Manager) Send(functionName string, args []string) error {
	if len(functionName) > wire.MaxNameBytes {
		return fmt.Errorf("rpc: function name exceeds %d bytes", wire.MaxNameBytes)
	}
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: encode arguments: %w", err)
	}

	if !m.ready() {
		m.enqueuePending(functionName, string(argsJSON))
		return nil
	}

	now := m.now()
	if !m.allowSend(now) {
		m.warnf(now, "[rpc] rate limit exceeded, dropping %q", functionName)
		return nil
	}
	return m.encodeAndPush(functionName, string(argsJSON), now)
}

func (m *Manager) enqueuePending(functionName, argsJSON string) {
	if len(m.pending) >= m.pendingMax {
		dropped := m.pending[0]
		m.pending = m.pending[1:]
		log.Printf("[rpc] pending queue full, dropping oldest call %q", dropped.functionName)
	}
	m.pending = append(m.pending, pendingCall{
		functionName: functionName,
		argsJSON:     argsJSON,
		enqueuedAt:   m.now(),
	})
}

// allowSend applies the sliding-window rate limit and, when allowed,
// records the send time.
func (m *Manager) allowSend(now float64) bool {
	if m.limitCount <= 0 {
		return true
	}
	cutoff := now - m.limitWindow
	kept := m.sendTimes[:0]
	for _, t := range m.sendTimes {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	m.sendTimes = kept
	if len(m.sendTimes) >= m.limitCount {
		return false
	}
	m.sendTimes = append(m.sendTimes, now)
	return true
}

// encodeAndPush serializes and offers the frame to the control lane. A
// lane rejection (backpressure/overflow) drops the call; reliable
// delivery is out of scope.
func (m *Manager) encodeAndPush(functionName, argsJSON string, now float64) error {
	frame, err := wire.EncodeRPC(m.localClientNo(), functionName, argsJSON)
	if err != nil {
		return err
	}
	if !m.send(frame) {
		m.warnf(now, "[rpc] control lane rejected %q", functionName)
	}
	return nil
}

// FlushPendingIfReady drains up to the per-tick bound from the pending
// queue: expired entries are dropped with a warning; the drain stops at
// the first rate-limited or backpressured send without discarding the
// remainder. Called once per main-task tick.
func (m *Manager) FlushPendingIfReady() {
	if !m.ready() || len(m.pending) == 0 {
		return
	}
	now := m.now()

	flushed := 0
	for len(m.pending) > 0 && flushed < m.flushMax {
		call := m.pending[0]

		if now-call.enqueuedAt > m.ttl {
			m.pending = m.pending[1:]
			m.warnf(now, "[rpc] pending call %q expired after %.1fs", call.functionName, m.ttl)
			continue
		}

		if !m.allowSend(now) {
			return
		}
		frame, err := wire.EncodeRPC(m.localClientNo(), call.functionName, call.argsJSON)
		if err != nil {
			m.pending = m.pending[1:]
			log.Printf("[rpc] dropping unencodable pending call %q: %v", call.functionName, err)
			continue
		}
		if !m.send(frame) {
			return
		}
		m.pending = m.pending[1:]
		flushed++
	}
}

// PendingLen reports how many calls are parked awaiting readiness.
func (m *Manager) PendingLen() int { return len(m.pending) }

// Reset drops the pending queue and the rate-limit history, used on
// room switch.
func (m *Manager) Reset() {
	m.pending = nil
	m.sendTimes = nil
}

func (m *Manager) warnf(now float64, format string, args ...any) {
	if m.hasWarned && now-m.lastWarnAt < warnCooldownSeconds {
		return
	}
	m.lastWarnAt = now
	m.hasWarned = true
	log.Printf(format, args...)
}

// Inbound is one received RPC call with its JSON arguments parsed once,
// ready for main-task delivery.
type Inbound struct {
	SenderClientNo uint16
	FunctionName   string
	Args           []string
}

// ParseInbound decodes the JSON argument array of one received RPC frame.
func ParseInbound(msg wire.RPCMessage) (Inbound, error) {
	var args []string
	if msg.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(msg.ArgumentsJSON), &args); err != nil {
			return Inbound{}, fmt.Errorf("rpc: parse arguments of %q: %w", msg.FunctionName, err)
		}
	}
	return Inbound{
		SenderClientNo: msg.SenderClientNo,
		FunctionName:   msg.FunctionName,
		Args:           args,
	}, nil
}
