package alloc

import "github.com/dimrozakis/vpn-proxy-go/pkg/domain"

const maxPortAttempts = 60000

// AllocatePort linearly probes ports starting at hint, returning the first
// one not already claimed by any forwarding. The API layer seeds hint with
// dst_port + 5000 + tunnel.id as a deterministic starting point, not a
// guarantee that it is free.
func AllocatePort(hint int, inUse map[int]bool) (int, error) {
	port := hint
	if port < 1 {
		port = 1
	}
	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		candidate := port + attempt
		if candidate > 65535 {
			candidate = (candidate % 65535) + 1
		}
		if !inUse[candidate] {
			return candidate, nil
		}
	}
	return 0, domain.ErrNoPortAvailable
}
