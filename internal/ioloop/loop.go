package ioloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// maxInboundDrainPerTick bounds how many backlog datagrams one tick will
// drain before yielding, so a burst on the subscribe channel cannot stall
// outbound sends indefinitely.
const maxInboundDrainPerTick = 4

// joinTimeout and finalJoinTimeout bound Disconnect's two waits for the loop
// goroutine to exit; if both expire, Disconnect returns without it.
const (
	joinTimeout      = 1 * time.Second
	finalJoinTimeout = 500 * time.Millisecond
)

// idleSleep is the yield duration when a tick neither sent nor received
// anything.
const idleSleep = 1 * time.Millisecond

// Loop is the single-task I/O core: it owns the transport, the two
// outbound lanes, and reports fatal errors through a volatile slot
// readable from the main task.
type Loop struct {
	transport Transport
	roomId    string

	control   *ControlQueue
	transform *TransformCell
	errorSlot ErrorSlot

	connectionError atomic.Bool

	cbMu         sync.RWMutex
	onConnected  func()
	onInbound    func(payload []byte)
	onFatalError func(summary string)

	stopCh context.CancelFunc
	doneCh chan struct{}
}

// NewLoop creates a Loop bound to transport and roomId, with a control
// lane capacity of controlQueueCap (DefaultControlQueueCap if <= 0).
func NewLoop(transport Transport, roomId string, controlQueueCap int) *Loop {
	return &Loop{
		transport: transport,
		roomId:    roomId,
		control:   NewControlQueue(controlQueueCap),
		transform: &TransformCell{},
		doneCh:    make(chan struct{}),
	}
}

// SetOnConnected registers the callback fired once the transport has
// connected, from the loop goroutine. Used by the session controller to
// enqueue the post-connect handshake on the main task.
func (l *Loop) SetOnConnected(fn func()) {
	l.cbMu.Lock()
	l.onConnected = fn
	l.cbMu.Unlock()
}

// SetOnInbound registers the callback invoked with each inbound payload
// whose topic matched roomId. Typically wired to the message router.
func (l *Loop) SetOnInbound(fn func(payload []byte)) {
	l.cbMu.Lock()
	l.onInbound = fn
	l.cbMu.Unlock()
}

// SetOnFatalError registers the callback fired once when the loop exits
// due to a fatal transport error.
func (l *Loop) SetOnFatalError(fn func(summary string)) {
	l.cbMu.Lock()
	l.onFatalError = fn
	l.cbMu.Unlock()
}

// PushControl enqueues a control-lane frame; false means the queue is
// full and the caller should treat the send as dropped.
func (l *Loop) PushControl(payload []byte) bool { return l.control.Push(payload) }

// PushTransform overwrites the transform lane's single pending slot.
func (l *Loop) PushTransform(payload []byte) { l.transform.Push(payload) }

// ConnectionError reports whether the loop has exited on a fatal error.
func (l *Loop) ConnectionError() bool { return l.connectionError.Load() }

// LastError reads the volatile error slot.
func (l *Loop) LastError() (summary string, at time.Time, hasErr bool) { return l.errorSlot.Get() }

// ResetError clears the error slot. The main task must call this before
// any reconnect attempt.
func (l *Loop) ResetError() {
	l.errorSlot.Reset()
	l.connectionError.Store(false)
}

// Run connects and drives the loop until ctx is cancelled, Disconnect is
// called, or a fatal transport error occurs. It is meant to be launched
// as its own goroutine, the loop's dedicated "task". The
// transport's sockets are created on entry and disposed on exit, never
// accessed outside this call.
func (l *Loop) Run(ctx context.Context, addr string, dealerPort, subPort int) error {
	defer close(l.doneCh)

	runCtx, cancel := context.WithCancel(ctx)
	l.stopCh = cancel
	defer cancel()
	defer l.transport.Disconnect()

	if err := l.transport.Connect(runCtx, addr, dealerPort, subPort, l.roomId); err != nil {
		l.reportFatal(err)
		return err
	}

	l.cbMu.RLock()
	onConnected := l.onConnected
	l.cbMu.RUnlock()
	if onConnected != nil {
		onConnected()
	}

	for {
		if runCtx.Err() != nil {
			return nil
		}

		sentAny, err := l.flushOutbound()
		if err != nil {
			l.reportFatal(err)
			return err
		}

		receivedAny, err := l.drainInbound(runCtx)
		if err != nil {
			l.reportFatal(err)
			return err
		}

		if !sentAny && !receivedAny {
			time.Sleep(idleSleep)
		}
	}
}

// flushOutbound flushes the outbound lanes: control lane first (FIFO,
// retried in place on backpressure, never dropped), then the transform
// lane (latest-wins, restored on backpressure unless superseded).
func (l *Loop) flushOutbound() (sentAny bool, fatalErr error) {
	for {
		payload, ok := l.control.PopFront()
		if !ok {
			break
		}
		outcome, err := l.transport.Send(payload)
		if outcome == Fatal {
			return sentAny, err
		}
		if outcome == Backpressure {
			l.control.PushFront(payload)
			break
		}
		sentAny = true
	}

	if payload, ok := l.transform.TakeForSend(); ok {
		outcome, err := l.transport.Send(payload)
		if outcome == Fatal {
			return sentAny, err
		}
		if outcome == Backpressure {
			l.transform.Restore(payload)
		} else {
			sentAny = true
		}
	}

	return sentAny, nil
}

// drainInbound drains up to
// maxInboundDrainPerTick backlogged broadcasts, keeping only the most
// recent one whose topic matches roomId, then dispatches it.
func (l *Loop) drainInbound(ctx context.Context) (receivedAny bool, fatalErr error) {
	var chosen []byte
	got := false

	for i := 0; i < maxInboundDrainPerTick; i++ {
		topic, payload, ok, err := l.transport.Receive(ctx)
		if err != nil {
			return receivedAny, err
		}
		if !ok {
			break
		}
		receivedAny = true
		if topic == l.roomId {
			chosen = payload
			got = true
		}
	}

	if got {
		l.cbMu.RLock()
		cb := l.onInbound
		l.cbMu.RUnlock()
		if cb != nil {
			cb(chosen)
		}
	}
	return receivedAny, nil
}

func (l *Loop) reportFatal(err error) {
	l.errorSlot.Set(err.Error(), time.Now())
	l.connectionError.Store(true)
	l.cbMu.RLock()
	cb := l.onFatalError
	l.cbMu.RUnlock()
	if cb != nil {
		cb(err.Error())
	}
}

// Disconnect clears the outbound queues, cancels the run context, and
// joins with a bounded wait; if the join times out, a final bounded join
// is awaited. The loop goroutine is not otherwise interrupted.
func (l *Loop) Disconnect() {
	l.control.Clear()
	l.transform.Clear()

	if l.stopCh == nil {
		return
	}
	l.stopCh()

	select {
	case <-l.doneCh:
		return
	case <-time.After(joinTimeout):
	}

	// Best-effort interrupt: the run context is already cancelled above,
	// which unblocks any in-flight Send/Receive deadline; wait once more.
	select {
	case <-l.doneCh:
	case <-time.After(finalJoinTimeout):
	}
}
