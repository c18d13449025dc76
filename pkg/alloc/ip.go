// Package alloc allocates the two scarce resources a tunnel or forwarding
// needs: a pair of IPv4 addresses carved out of the configured routable
// pools, and a local TCP port not already claimed by another forwarding.
package alloc

import (
	"context"
	"crypto/rand"
	"math/big"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
)

// IPPool sweeps a set of routable CIDRs for an address not already in use
// by any tunnel, not excluded by configuration, and not carved out for some
// other process-wide purpose.
type IPPool struct {
	Routable []*net.IPNet
	Excluded []*net.IPNet
	Reserved []*net.IPNet
}

// NewIPPool parses the routable, excluded and reserved CIDR strings and
// returns an error for the first one that does not parse. reserved
// carves out addresses for process-wide use (e.g. ranges some other system
// already owns) independently of the per-call excluded list.
func NewIPPool(routable, excluded, reserved []string) (*IPPool, error) {
	p := &IPPool{}
	for _, s := range routable {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		p.Routable = append(p.Routable, n)
	}
	for _, s := range excluded {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		p.Excluded = append(p.Excluded, n)
	}
	for _, s := range reserved {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		p.Reserved = append(p.Reserved, n)
	}
	return p, nil
}

func (p *IPPool) isExcluded(ip net.IP) bool {
	for _, n := range p.Excluded {
		if n.Contains(ip) {
			return true
		}
	}
	for _, n := range p.Reserved {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// inUse reports whether ip is already assigned as a server or client
// address to any tunnel.
func inUse(ip net.IP, tunnels []*domain.Tunnel) bool {
	for _, t := range tunnels {
		if t.Server.Equal(ip) || t.Client.Equal(ip) {
			return true
		}
	}
	return false
}

// AllocateServer picks the server-side address for a new tunnel. It has no
// peer address to allocate adjacent to, so each routable CIDR is swept
// starting from a uniformly random host (via RandomHost) rather than from
// the first address in the range, to avoid every tunnel clustering at the
// bottom of the pool. The sweep wraps to the start of the CIDR if it
// reaches the broadcast address before finding a free host. AllocateClient
// then picks the adjacent address (server + 1), wrapping the same way.
func (p *IPPool) AllocateServer(ctx context.Context, tunnels []*domain.Tunnel) (net.IP, error) {
	for _, network := range p.Routable {
		first, last := cidr.AddressRange(network)
		candidate, err := RandomHost(network)
		if err != nil {
			candidate = nextIP(first)
		}
		for i := 0; i < hostCount(network); i++ {
			if compareIPs(candidate, last) >= 0 {
				candidate = nextIP(first)
			}
			if !p.isExcluded(candidate) && !inUse(candidate, tunnels) {
				return candidate, nil
			}
			candidate = nextIP(candidate)
		}
	}
	return nil, domain.ErrNoAddressAvailable
}

// AllocateClient picks the peer address for server, starting immediately
// after it within the same routable CIDR and sweeping forward, wrapping to
// the start of the CIDR if it reaches the broadcast address.
func (p *IPPool) AllocateClient(ctx context.Context, server net.IP, tunnels []*domain.Tunnel) (net.IP, error) {
	for _, network := range p.Routable {
		if !network.Contains(server) {
			continue
		}
		first, last := cidr.AddressRange(network)
		candidate := nextIP(server)
		for i := 0; i < hostCount(network); i++ {
			if compareIPs(candidate, last) >= 0 {
				candidate = nextIP(first)
			}
			if !candidate.Equal(server) && !p.isExcluded(candidate) && !inUse(candidate, tunnels) {
				return candidate, nil
			}
			candidate = nextIP(candidate)
		}
	}
	return nil, domain.ErrNoAddressAvailable
}

// RandomHost returns a uniformly random host address within network,
// between the network and broadcast addresses exclusive, using cidr.Host to
// step to the chosen offset.
func RandomHost(network *net.IPNet) (net.IP, error) {
	count := cidr.AddressCount(network)
	if count <= 2 {
		return nil, domain.ErrNoAddressAvailable
	}
	max := new(big.Int).SetUint64(count - 2)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, err
	}
	return cidr.Host(network, int(n.Int64())+1)
}

func hostCount(network *net.IPNet) int {
	count := cidr.AddressCount(network)
	if count > 1<<20 {
		return 1 << 20
	}
	return int(count)
}

func nextIP(ip net.IP) net.IP {
	ip4 := ip.To4()
	out := make(net.IP, len(ip4))
	copy(out, ip4)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func compareIPs(a, b net.IP) int {
	a4, b4 := a.To4(), b.To4()
	for i := range a4 {
		if a4[i] != b4[i] {
			if a4[i] < b4[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
