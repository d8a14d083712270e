package discovery

import (
	"context"
	"log"
	"time"
)

// DefaultAttemptTimeout is the per-attempt discovery timeout.
const DefaultAttemptTimeout = 5 * time.Second

// Strategy is one way of locating a server. Run blocks until a server is
// found or ctx ends.
type Strategy interface {
	Run(ctx context.Context) (Result, error)
}

// Options configures a Discoverer.
type Options struct {
	BeaconPort     int           // DefaultBeaconPort when 0
	AttemptTimeout time.Duration // DefaultAttemptTimeout when 0
	Cache          Cache         // optional last-known cache for the scan fallback

	// CanBroadcast reports whether the platform permits UDP broadcast;
	// when false only the scan strategy runs. Defaults to true.
	CanBroadcast func() bool

	// Strategy overrides the platform selection entirely when non-nil.
	Strategy Strategy
}

// Discoverer runs discovery attempts on its own transient goroutine and
// posts the first result to the main task.
type Discoverer struct {
	opts Options

	// post hands a closure to the main task's mailbox; results and
	// failures are only ever surfaced through it.
	post func(fn func())
}

// New creates a Discoverer that delivers callbacks via post.
func New(opts Options, post func(fn func())) *Discoverer {
	return &Discoverer{opts: opts, post: post}
}

// Start launches discovery. It retries with fresh attempts until a
// server is found or ctx is cancelled; each attempt runs the strategy
// the platform supports. onFound runs on the main task.
func (d *Discoverer) Start(ctx context.Context, onFound func(Result)) {
	go func() {
		attemptTimeout := d.opts.AttemptTimeout
		if attemptTimeout <= 0 {
			attemptTimeout = DefaultAttemptTimeout
		}

		for attempt := 1; ; attempt++ {
			if ctx.Err() != nil {
				return
			}

			r, err := d.attempt(ctx, attemptTimeout)
			if err == nil {
				d.post(func() { onFound(r) })
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[discovery] attempt %d failed: %v", attempt, err)
		}
	}()
}

func (d *Discoverer) attempt(ctx context.Context, timeout time.Duration) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.opts.Strategy != nil {
		return d.opts.Strategy.Run(attemptCtx)
	}

	canBroadcast := true
	if d.opts.CanBroadcast != nil {
		canBroadcast = d.opts.CanBroadcast()
	}

	// One strategy per platform: broadcast where permitted,
	// otherwise the TCP scan.
	if canBroadcast {
		b := &BroadcastStrategy{BeaconPort: d.opts.BeaconPort}
		r, err := b.Run(attemptCtx)
		if err == nil && d.opts.Cache != nil {
			d.opts.Cache.Store(r.Address)
		}
		return r, err
	}

	s := &ScanStrategy{BeaconPort: d.opts.BeaconPort, Cache: d.opts.Cache}
	return s.Run(attemptCtx)
}
