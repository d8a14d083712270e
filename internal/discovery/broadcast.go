package discovery

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultProbeInterval is how often the broadcast strategy re-sends the
// discover datagram until a reply arrives.
const DefaultProbeInterval = 500 * time.Millisecond

// BroadcastStrategy probes for a server by sending the discover string to
// the IPv4 broadcast address on the beacon port and waiting for the first
// valid reply.
type BroadcastStrategy struct {
	BeaconPort int           // DefaultBeaconPort when 0
	Interval   time.Duration // DefaultProbeInterval when 0
}

// Run sends probes until a valid reply arrives, ctx is cancelled, or its
// deadline passes. The replying peer's address becomes Result.Address.
func (s *BroadcastStrategy) Run(ctx context.Context) (Result, error) {
	port := s.BeaconPort
	if port == 0 {
		port = DefaultBeaconPort
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Result{}, fmt.Errorf("discovery: bind probe socket: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	target := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	buf := make([]byte, 1024)
	nextProbe := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if !time.Now().Before(nextProbe) {
			if _, err := conn.WriteToUDP([]byte(DiscoverRequest), target); err != nil {
				return Result{}, fmt.Errorf("discovery: send probe: %w", err)
			}
			nextProbe = time.Now().Add(interval)
		}

		deadline := nextProbe
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return Result{}, err
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return Result{}, fmt.Errorf("discovery: receive reply: %w", err)
		}

		dealer, sub, name, err := ParseReply(string(buf[:n]))
		if err != nil {
			continue // something else on the beacon port; keep listening
		}
		return Result{
			Address:    from.IP.String(),
			DealerPort: dealer,
			SubPort:    sub,
			ServerName: name,
		}, nil
	}
}
