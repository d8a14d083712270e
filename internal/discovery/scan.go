package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultScanConcurrency bounds how many TCP probes run at once.
const DefaultScanConcurrency = 32

// scanProbeTimeout bounds one TCP handshake probe.
const scanProbeTimeout = 300 * time.Millisecond

// roundRobinStride is how far the global scan offset advances each
// cycle, so repeated scans spread their early probes across the /24
// instead of always hammering .1 first.
const roundRobinStride = 32

// scanOffset is the process-global round-robin offset.
var scanOffset atomic.Uint32

// ScanStrategy locates a server without broadcast capability: it first
// probes the cached last-known addresses over TCP on the beacon port,
// then sweeps each up interface's /24 (hosts 1..254, excluding our own
// addresses) with bounded concurrency, stopping at the first success.
type ScanStrategy struct {
	BeaconPort  int // DefaultBeaconPort when 0
	Concurrency int // DefaultScanConcurrency when 0
	Cache       Cache

	// Interfaces overrides the candidate enumeration in tests. When nil,
	// the host's up interfaces are used.
	Interfaces func() ([]net.Addr, error)

	// probe overrides the TCP handshake in tests.
	probe func(ctx context.Context, addr string, port int) (Result, bool)
}

// Run executes the strategy until a server is found or ctx ends. On
// success the address is persisted to the cache.
func (s *ScanStrategy) Run(ctx context.Context) (Result, error) {
	port := s.BeaconPort
	if port == 0 {
		port = DefaultBeaconPort
	}
	probe := s.probe
	if probe == nil {
		probe = tcpProbe
	}

	if s.Cache != nil {
		for _, addr := range s.Cache.Load() {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			if r, ok := probe(ctx, addr, port); ok {
				s.Cache.Store(r.Address)
				return r, nil
			}
		}
	}

	candidates, err := s.enumerateCandidates()
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("discovery: no scannable interfaces")
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultScanConcurrency
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan string)
	found := make(chan Result, 1)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range work {
				if r, ok := probe(scanCtx, addr, port); ok {
					select {
					case found <- r:
						cancel()
					default:
					}
					return
				}
			}
		}()
	}

feed:
	for _, addr := range candidates {
		select {
		case work <- addr:
		case <-scanCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	select {
	case r := <-found:
		if s.Cache != nil {
			s.Cache.Store(r.Address)
		}
		return r, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{}, fmt.Errorf("discovery: scan found no server")
}

// enumerateCandidates lists hosts 1..254 of each up interface's /24,
// excluding our own addresses, rotated by the global round-robin offset.
func (s *ScanStrategy) enumerateCandidates() ([]string, error) {
	listAddrs := s.Interfaces
	if listAddrs == nil {
		listAddrs = upInterfaceAddrs
	}
	addrs, err := listAddrs()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interfaces: %w", err)
	}

	own := make(map[string]struct{})
	var subnets []net.IP
	seen := make(map[string]struct{})
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		own[ip4.String()] = struct{}{}
		base := ip4.Mask(net.CIDRMask(24, 32))
		if _, dup := seen[base.String()]; dup {
			continue
		}
		seen[base.String()] = struct{}{}
		subnets = append(subnets, base)
	}

	offset := int(scanOffset.Add(roundRobinStride)-roundRobinStride) % 254

	var out []string
	for _, base := range subnets {
		for i := 0; i < 254; i++ {
			host := 1 + (offset+i)%254
			ip := net.IPv4(base[0], base[1], base[2], byte(host)).String()
			if _, mine := own[ip]; mine {
				continue
			}
			out = append(out, ip)
		}
	}
	return out, nil
}

func upInterfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}
	return out, nil
}

// tcpProbe performs the handshake: connect to addr:port, send the
// discover string, expect a beacon reply line.
func tcpProbe(ctx context.Context, addr string, port int) (Result, bool) {
	d := net.Dialer{Timeout: scanProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
	if err != nil {
		return Result{}, false
	}
	defer conn.Close() //nolint:errcheck

	if err := conn.SetDeadline(time.Now().Add(scanProbeTimeout)); err != nil {
		return Result{}, false
	}
	if _, err := conn.Write([]byte(DiscoverRequest + "\n")); err != nil {
		return Result{}, false
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return Result{}, false
	}
	dealer, sub, name, err := ParseReply(line)
	if err != nil {
		return Result{}, false
	}
	return Result{Address: addr, DealerPort: dealer, SubPort: sub, ServerName: name}, true
}
