// Package osadapt projects a Tunnel or Forwarding's desired state onto the
// operating system: the openvpn@<name> service, policy routing, reverse-path
// filtering, and the iptables rules a Forwarding needs. Adapters expose
// idempotent Add/Remove (Start/Stop for Service, EnsureLoose for RPFilter)
// that check current state before mutating; only Service exposes its check
// (IsActive) as a method of its own — grounded in the
// teacher's pkg/network.HostPortPublisher DNAT/MASQUERADE pairs, generalized
// to the fwmark-based scheme this control plane needs and given independent
// check/add/remove per rule instead of a best-effort cleanup sweep.
package osadapt

import (
	"context"
	"fmt"

	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
)

// Service adapts the systemd openvpn@<name> instance for one tunnel
// interface.
type Service struct {
	Exec *execctl.Executor
}

// IsActive reports whether openvpn@<name> is currently running.
func (s *Service) IsActive(ctx context.Context, name string) (bool, error) {
	return s.Exec.Succeeds(ctx, "systemctl", "is-active", "--quiet", "openvpn@"+name)
}

// Start starts openvpn@<name> if it is not already active. Start goes
// through the close-FDs executor so the daemon never inherits the HTTP
// listening socket.
func (s *Service) Start(ctx context.Context, name string) (fsreconcile.Result, error) {
	active, err := s.IsActive(ctx, name)
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if active {
		return fsreconcile.Unchanged, nil
	}
	if _, err := s.Exec.RunCloseFDs(ctx, execctl.Info, "systemctl", "start", "openvpn@"+name); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("starting openvpn@%s: %w", name, err)
	}
	return fsreconcile.Changed, nil
}

// Restart unconditionally restarts openvpn@<name> through the close-FDs
// executor, since a config change requires the daemon to reload even though
// it was already active.
func (s *Service) Restart(ctx context.Context, name string) error {
	if _, err := s.Exec.RunCloseFDs(ctx, execctl.Info, "systemctl", "restart", "openvpn@"+name); err != nil {
		return fmt.Errorf("restarting openvpn@%s: %w", name, err)
	}
	return nil
}

// Stop stops openvpn@<name> if it is active.
func (s *Service) Stop(ctx context.Context, name string) (fsreconcile.Result, error) {
	active, err := s.IsActive(ctx, name)
	if err != nil {
		return fsreconcile.Unchanged, err
	}
	if !active {
		return fsreconcile.Unchanged, nil
	}
	if _, err := s.Exec.Run(ctx, execctl.Info, "systemctl", "stop", "openvpn@"+name); err != nil {
		return fsreconcile.Unchanged, fmt.Errorf("stopping openvpn@%s: %w", name, err)
	}
	return fsreconcile.Changed, nil
}
