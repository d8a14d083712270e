package ioloop

import (
	"sync"
	"time"
)

// ErrorSlot is the volatile handoff for a fatal loop error:
// the I/O task writes it once and exits; the main task reads it and
// must explicitly reset it before any reconnect attempt.
type ErrorSlot struct {
	mu      sync.Mutex
	summary string
	at      time.Time
	hasErr  bool
}

// Set records a fatal error's summary and timestamp.
func (s *ErrorSlot) Set(summary string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.at = at
	s.hasErr = true
}

// Get reads the current error, if any.
func (s *ErrorSlot) Get() (summary string, at time.Time, hasErr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.at, s.hasErr
}

// Reset clears the slot. The main task must call this before reconnecting.
func (s *ErrorSlot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = ""
	s.hasErr = false
}
