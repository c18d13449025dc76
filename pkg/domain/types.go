// Package domain holds the desired-state model: the Tunnel and Forwarding
// entities, their invariants and derived attributes, and the Reconcilable
// capability interface that pkg/control's entity handles implement. It has
// no knowledge of the
// store or of how OS state gets converged — that lives in pkg/control and
// pkg/orchestrator — so that the model stays a plain, testable value type.
package domain

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Reconcilable is the shared capability interface for entities whose
// desired state must be projected onto the operating system. It is
// implemented by pkg/control's tunnel and forwarding handles, which wrap a
// Tunnel or Forwarding; a single interface replaces what would otherwise be
// an inheritance chain between them.
type Reconcilable interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Reconcile(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Tunnel is the persisted desired-state record of a point-to-point OpenVPN
// link. ID, Server, Client and Key are assigned once and never change;
// Active is the only field a caller mutates after creation.
type Tunnel struct {
	ID        int
	Server    net.IP
	Client    net.IP
	Key       []byte
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultIfacePrefix is the default interface name prefix; the process-level
// value is overridable (see pkg/config).
const DefaultIfacePrefix = "vpn-proxy-tun"

// DefaultServerPortStart is the UDP port of tunnel id 1.
const DefaultServerPortStart = 1195

// Name returns the tun interface / systemd instance name for the tunnel,
// e.g. "vpn-proxy-tun3".
func (t *Tunnel) Name(ifacePrefix string) string {
	return fmt.Sprintf("%s%d", ifacePrefix, t.ID)
}

// Port returns the UDP port OpenVPN listens on for this tunnel.
func (t *Tunnel) Port(serverPortStart int) int {
	return serverPortStart + t.ID - 1
}

// RTable returns the custom routing table name for this tunnel.
func (t *Tunnel) RTable(ifacePrefix string) string {
	return "rt_" + t.Name(ifacePrefix)
}

// KeyPath returns the path OpenVPN's static secret is written to.
func (t *Tunnel) KeyPath(openvpnDir, ifacePrefix string) string {
	return fmt.Sprintf("%s/%s.key", openvpnDir, t.Name(ifacePrefix))
}

// ConfPath returns the path of the tunnel's OpenVPN server config.
func (t *Tunnel) ConfPath(openvpnDir, ifacePrefix string) string {
	return fmt.Sprintf("%s/%s.conf", openvpnDir, t.Name(ifacePrefix))
}

// RPFilterPath returns the sysctl-style proc path for the interface's
// reverse-path-filter mode.
func (t *Tunnel) RPFilterPath(ifacePrefix string) string {
	return fmt.Sprintf("/proc/sys/net/ipv4/conf/%s/rp_filter", t.Name(ifacePrefix))
}

// FwmarkHex returns the fwmark value used to steer a Forwarding's marked
// packets into this tunnel's routing table, formatted the way `ip rule`
// prints it (e.g. "0x1").
func (t *Tunnel) FwmarkHex() string {
	return fmt.Sprintf("0x%x", t.ID)
}

// Validate checks the invariants that must hold before a Tunnel is
// persisted: both addresses present, private, IPv4, and distinct. CIDR
// membership and uniqueness against existing tunnels are ensured only by the
// allocator, which skips addresses held by the tunnels it is given; the
// store does not check uniqueness on insert.
func (t *Tunnel) Validate() error {
	if t.ID < 0 {
		return ValidationErrorf("tunnel id must not be negative, got %d", t.ID)
	}
	if t.Server == nil || t.Server.To4() == nil {
		return ValidationErrorf("tunnel server address must be a valid IPv4 address")
	}
	if t.Client == nil || t.Client.To4() == nil {
		return ValidationErrorf("tunnel client address must be a valid IPv4 address")
	}
	if t.Server.Equal(t.Client) {
		return ValidationErrorf("tunnel server and client addresses must differ")
	}
	if !t.Server.IsPrivate() {
		return ValidationErrorf("tunnel server address %s is not a private IPv4 address", t.Server)
	}
	if !t.Client.IsPrivate() {
		return ValidationErrorf("tunnel client address %s is not a private IPv4 address", t.Client)
	}
	if len(t.Key) == 0 {
		return ValidationErrorf("tunnel key must not be empty")
	}
	return nil
}

// Forwarding is a persisted TCP port-forwarding rule attached to one
// Tunnel. TunnelID, DstAddr and DstPort are assigned once; LocPort is
// assigned by the port allocator at creation and never changes; Active is
// the only field a caller mutates after creation.
type Forwarding struct {
	ID        int
	TunnelID  int
	DstAddr   net.IP
	DstPort   int
	LocPort   int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants that must hold before a Forwarding is
// persisted. LocPort uniqueness is ensured only by the port allocator, which
// skips ports held by the forwardings it is given; the store does not check
// it on insert.
func (f *Forwarding) Validate() error {
	if f.ID < 0 {
		return ValidationErrorf("forwarding id must not be negative, got %d", f.ID)
	}
	if f.TunnelID <= 0 {
		return ValidationErrorf("forwarding must reference a tunnel")
	}
	if f.DstAddr == nil || f.DstAddr.To4() == nil {
		return ValidationErrorf("forwarding destination address must be a valid IPv4 address")
	}
	if f.DstPort < 1 || f.DstPort > 65535 {
		return ValidationErrorf("forwarding destination port %d out of range [1, 65535]", f.DstPort)
	}
	if f.LocPort < 1 || f.LocPort > 65535 {
		return ValidationErrorf("forwarding local port %d out of range [1, 65535]", f.LocPort)
	}
	return nil
}

// DictFields describe the wire shape of the two entities for the HTTP
// facade (§6 of the specification); kept here, next to the model, rather
// than in the api package, so the field list cannot drift from the model.

// TunnelDict is the JSON representation of a Tunnel.
type TunnelDict struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Server string `json:"server"`
	Client string `json:"client"`
	Port   int    `json:"port"`
	Key    string `json:"key"`
	Active bool   `json:"active"`
}

// ForwardingDict is the JSON representation of a Forwarding.
type ForwardingDict struct {
	ID         int    `json:"id"`
	DstAddr    string `json:"dst_addr"`
	DstPort    int    `json:"dst_port"`
	LocPort    int    `json:"loc_port"`
	TunnelID   int    `json:"tunnel_id"`
	TunnelName string `json:"tunnel_name"`
	RTable     string `json:"r_table"`
}

// ToDict renders a Tunnel for the API, given the process-wide naming
// configuration (iface prefix and server port start).
func (t *Tunnel) ToDict(ifacePrefix string, serverPortStart int) TunnelDict {
	return TunnelDict{
		ID:     t.ID,
		Name:   t.Name(ifacePrefix),
		Server: t.Server.String(),
		Client: t.Client.String(),
		Port:   t.Port(serverPortStart),
		Key:    string(t.Key),
		Active: t.Active,
	}
}

// ToDict renders a Forwarding for the API, given its owning tunnel's
// derived name and routing table.
func (f *Forwarding) ToDict(ifacePrefix string, tunnel *Tunnel) ForwardingDict {
	return ForwardingDict{
		ID:         f.ID,
		DstAddr:    f.DstAddr.String(),
		DstPort:    f.DstPort,
		LocPort:    f.LocPort,
		TunnelID:   f.TunnelID,
		TunnelName: tunnel.Name(ifacePrefix),
		RTable:     tunnel.RTable(ifacePrefix),
	}
}
