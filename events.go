package netsync

import (
	"log"
	"sync"
)

// Events carries the application-facing callbacks. All of them run on
// the main task, during Tick; none are invoked from the I/O or discovery
// goroutines.
type Events struct {
	OnAvatarConnected       func(clientNo uint16)
	OnAvatarDisconnected    func(clientNo uint16)
	OnRPCReceived           func(senderClientNo uint16, functionName string, args []string)
	OnGlobalVariableChanged func(name, old, new string)
	OnClientVariableChanged func(clientNo uint16, name, old, new string)
	OnReady                 func() // one-shot per room connection
	OnConnectionError       func(reason string)
}

// mailboxCap bounds the main-task mailbox; posts beyond it are dropped
// with a warning rather than blocking a background goroutine.
const mailboxCap = 256

// mailbox is the bounded main-task queue background goroutines post
// closures onto. Drained once per Tick.
type mailbox struct {
	mu    sync.Mutex
	items []func()
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) >= mailboxCap {
		log.Printf("[session] mailbox full, dropping posted callback")
		return
	}
	m.items = append(m.items, fn)
}

func (m *mailbox) drain() {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	for _, fn := range items {
		fn()
	}
}
