package netvar

import (
	"log"

	"github.com/styly-dev/netsync-go/internal/wire"
)

// DefaultDebounceSeconds is the outbound coalescing window:
// 100 ms, at most one set per name per window.
const DefaultDebounceSeconds = 0.1

// InitialSyncTimeoutSeconds is how long after connection establishment
// the sync gate waits for a var-sync frame before opening anyway, so
// empty rooms do not stall readiness.
const InitialSyncTimeoutSeconds = 2.0

type pendingVar struct {
	dueAt float64
}

type clientVarKey struct {
	clientNo uint16
	name     string
}

// Manager wires the Store to the outbound control lane with debounced
// sends, merges inbound set/sync frames, and tracks the initial-sync
// gate. All methods run on the main task; the send function hands an
// encoded frame to the I/O core's control lane and reports acceptance.
type Manager struct {
	store *Store

	localClientNo func() uint16
	now           func() float64 // unix seconds, for LWW timestamps
	send          func(payload []byte) bool

	debounce      float64
	pendingGlobal map[string]pendingVar
	pendingClient map[clientVarKey]pendingVar

	initialSyncDone bool
	connectedAt     float64
	hasConnectedAt  bool

	onGlobalChanged func(name, old, new string)
	onClientChanged func(clientNo uint16, name, old, new string)
}

// NewManager creates a Manager. localClientNo and now are sampled at each
// set; send pushes one encoded frame onto the control lane.
func NewManager(localClientNo func() uint16, now func() float64, send func([]byte) bool) *Manager {
	return &Manager{
		store:         NewStore(),
		localClientNo: localClientNo,
		now:           now,
		send:          send,
		debounce:      DefaultDebounceSeconds,
		pendingGlobal: make(map[string]pendingVar),
		pendingClient: make(map[clientVarKey]pendingVar),
	}
}

// SetDebounce overrides the coalescing window, in seconds.
func (m *Manager) SetDebounce(seconds float64) {
	if seconds > 0 {
		m.debounce = seconds
	}
}

// SetOnGlobalChanged registers the change callback fired whenever a
// global variable's stored value changes, locally or from the network.
func (m *Manager) SetOnGlobalChanged(fn func(name, old, new string)) { m.onGlobalChanged = fn }

// SetOnClientChanged registers the per-client change callback.
func (m *Manager) SetOnClientChanged(fn func(clientNo uint16, name, old, new string)) {
	m.onClientChanged = fn
}

// SetGlobal updates the local copy with (value, now, localClientNo) and
// schedules a debounced send; repeated sets of the same name within the
// window coalesce into one outbound frame carrying the latest value.
func (m *Manager) SetGlobal(name, value string) error {
	if err := validate(name, value); err != nil {
		return err
	}
	// A local set is authoritative for this client: it overwrites rather
	// than merges, stamping (now, localClientNo) for downstream LWW.
	now := m.now()
	old, had := m.store.Global(name)
	m.store.global[name] = Entry{Value: value, Timestamp: now, LastWriter: m.localClientNo()}
	if (!had || old != value) && m.onGlobalChanged != nil {
		m.onGlobalChanged(name, old, value)
	}
	if _, already := m.pendingGlobal[name]; !already {
		m.pendingGlobal[name] = pendingVar{dueAt: now + m.debounce}
	}
	return nil
}

// SetClient updates a per-client variable and schedules a debounced send.
func (m *Manager) SetClient(targetClientNo uint16, name, value string) error {
	if err := validate(name, value); err != nil {
		return err
	}
	now := m.now()
	old, had := m.store.Client(targetClientNo, name)
	vars, ok := m.store.clients[targetClientNo]
	if !ok {
		vars = make(map[string]Entry)
		m.store.clients[targetClientNo] = vars
	}
	vars[name] = Entry{Value: value, Timestamp: now, LastWriter: m.localClientNo()}
	if (!had || old != value) && m.onClientChanged != nil {
		m.onClientChanged(targetClientNo, name, old, value)
	}
	key := clientVarKey{clientNo: targetClientNo, name: name}
	if _, already := m.pendingClient[key]; !already {
		m.pendingClient[key] = pendingVar{dueAt: now + m.debounce}
	}
	return nil
}

// GetGlobal reads a global variable, returning def when unset.
func (m *Manager) GetGlobal(name, def string) string {
	if v, ok := m.store.Global(name); ok {
		return v
	}
	return def
}

// GetClient reads a per-client variable, returning def when unset.
func (m *Manager) GetClient(clientNo uint16, name, def string) string {
	if v, ok := m.store.Client(clientNo, name); ok {
		return v
	}
	return def
}

// FlushDebounced sends every pending set whose coalescing window has
// elapsed. Called once per main-task tick. A send rejected by the control
// lane stays pending and is retried next tick.
func (m *Manager) FlushDebounced() {
	now := m.now()

	for name, p := range m.pendingGlobal {
		if now < p.dueAt {
			continue
		}
		e, ok := m.store.global[name]
		if !ok {
			delete(m.pendingGlobal, name)
			continue
		}
		frame, err := wire.EncodeGlobalVarSet(wire.GlobalVarSetMessage{
			Sender:    m.localClientNo(),
			Name:      name,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		})
		if err != nil {
			log.Printf("[netvar] dropping global set %q: %v", name, err)
			delete(m.pendingGlobal, name)
			continue
		}
		if m.send(frame) {
			delete(m.pendingGlobal, name)
		}
	}

	for key, p := range m.pendingClient {
		if now < p.dueAt {
			continue
		}
		v, ok := m.store.clients[key.clientNo][key.name]
		if !ok {
			delete(m.pendingClient, key)
			continue
		}
		frame, err := wire.EncodeClientVarSet(wire.ClientVarSetMessage{
			Sender:    m.localClientNo(),
			Target:    key.clientNo,
			Name:      key.name,
			Value:     v.Value,
			Timestamp: v.Timestamp,
		})
		if err != nil {
			log.Printf("[netvar] dropping client set %q: %v", key.name, err)
			delete(m.pendingClient, key)
			continue
		}
		if m.send(frame) {
			delete(m.pendingClient, key)
		}
	}
}

// ApplyGlobalSync merges one inbound GlobalVarSync frame and opens the
// initial-sync gate.
func (m *Manager) ApplyGlobalSync(msg wire.GlobalVarSyncMessage) {
	m.initialSyncDone = true
	for _, e := range msg.Entries {
		changed, old := m.store.MergeGlobal(e.Name, Entry{Value: e.Value, Timestamp: e.Timestamp, LastWriter: e.LastWriterClientNo})
		if changed && m.onGlobalChanged != nil {
			m.onGlobalChanged(e.Name, old, e.Value)
		}
	}
}

// ApplyClientSync merges one inbound ClientVarSync frame and opens the
// initial-sync gate.
func (m *Manager) ApplyClientSync(msg wire.ClientVarSyncMessage) {
	m.initialSyncDone = true
	for _, c := range msg.Clients {
		for _, e := range c.Vars {
			changed, old := m.store.MergeClient(c.ClientNo, e.Name, Entry{Value: e.Value, Timestamp: e.Timestamp, LastWriter: e.LastWriterClientNo})
			if changed && m.onClientChanged != nil {
				m.onClientChanged(c.ClientNo, e.Name, old, e.Value)
			}
		}
	}
}

// ApplyGlobalSet merges one inbound single-variable set relayed by the
// server.
func (m *Manager) ApplyGlobalSet(msg wire.GlobalVarSetMessage) {
	changed, old := m.store.MergeGlobal(msg.Name, Entry{Value: msg.Value, Timestamp: msg.Timestamp, LastWriter: msg.Sender})
	if changed && m.onGlobalChanged != nil {
		m.onGlobalChanged(msg.Name, old, msg.Value)
	}
}

// ApplyClientSet merges one inbound per-client set.
func (m *Manager) ApplyClientSet(msg wire.ClientVarSetMessage) {
	changed, old := m.store.MergeClient(msg.Target, msg.Name, Entry{Value: msg.Value, Timestamp: msg.Timestamp, LastWriter: msg.Sender})
	if changed && m.onClientChanged != nil {
		m.onClientChanged(msg.Target, msg.Name, old, msg.Value)
	}
}

// MarkConnected records when the connection was established, starting the
// initial-sync timeout.
func (m *Manager) MarkConnected() {
	m.connectedAt = m.now()
	m.hasConnectedAt = true
}

// InitialSyncDone reports whether the readiness gate is open: either a
// sync frame has arrived, or the timeout has elapsed since connection
// establishment.
func (m *Manager) InitialSyncDone() bool {
	if m.initialSyncDone {
		return true
	}
	if m.hasConnectedAt && m.now()-m.connectedAt >= InitialSyncTimeoutSeconds {
		m.initialSyncDone = true
	}
	return m.initialSyncDone
}

// Reset clears both dictionaries, pending sends, and the sync gate —
// used on room switch and reconnect.
func (m *Manager) Reset() {
	m.store.Clear()
	m.pendingGlobal = make(map[string]pendingVar)
	m.pendingClient = make(map[clientVarKey]pendingVar)
	m.initialSyncDone = false
	m.hasConnectedAt = false
}
