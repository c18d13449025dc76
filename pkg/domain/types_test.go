package domain

import (
	"net"
	"testing"
	"time"
)

func validTunnel() *Tunnel {
	return &Tunnel{
		ID:        3,
		Server:    net.ParseIP("10.8.0.1"),
		Client:    net.ParseIP("10.8.0.2"),
		Key:       []byte("secret"),
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestTunnelDerivedAttributes(t *testing.T) {
	tn := validTunnel()

	if got, want := tn.Name("vpn-proxy-tun"), "vpn-proxy-tun3"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if got, want := tn.Port(1195), 1197; got != want {
		t.Errorf("Port() = %d, want %d", got, want)
	}
	if got, want := tn.RTable("vpn-proxy-tun"), "rt_vpn-proxy-tun3"; got != want {
		t.Errorf("RTable() = %q, want %q", got, want)
	}
	if got, want := tn.KeyPath("/etc/openvpn", "vpn-proxy-tun"), "/etc/openvpn/vpn-proxy-tun3.key"; got != want {
		t.Errorf("KeyPath() = %q, want %q", got, want)
	}
	if got, want := tn.ConfPath("/etc/openvpn", "vpn-proxy-tun"), "/etc/openvpn/vpn-proxy-tun3.conf"; got != want {
		t.Errorf("ConfPath() = %q, want %q", got, want)
	}
	if got, want := tn.RPFilterPath("vpn-proxy-tun"), "/proc/sys/net/ipv4/conf/vpn-proxy-tun3/rp_filter"; got != want {
		t.Errorf("RPFilterPath() = %q, want %q", got, want)
	}
	if got, want := tn.FwmarkHex(), "0x3"; got != want {
		t.Errorf("FwmarkHex() = %q, want %q", got, want)
	}
}

func TestTunnelValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Tunnel)
		wantErr bool
	}{
		{"valid", func(*Tunnel) {}, false},
		{"negative id", func(tn *Tunnel) { tn.ID = -1 }, true},
		{"nil server", func(tn *Tunnel) { tn.Server = nil }, true},
		{"nil client", func(tn *Tunnel) { tn.Client = nil }, true},
		{"same addresses", func(tn *Tunnel) { tn.Client = tn.Server }, true},
		{"public server", func(tn *Tunnel) { tn.Server = net.ParseIP("8.8.8.8") }, true},
		{"public client", func(tn *Tunnel) { tn.Client = net.ParseIP("1.1.1.1") }, true},
		{"empty key", func(tn *Tunnel) { tn.Key = nil }, true},
		{"ipv6 server", func(tn *Tunnel) { tn.Server = net.ParseIP("fd00::1") }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tn := validTunnel()
			tc.mutate(tn)
			err := tn.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && KindOf(err) != KindValidation {
				t.Errorf("KindOf() = %v, want KindValidation", KindOf(err))
			}
		})
	}
}

func validForwarding() *Forwarding {
	return &Forwarding{
		ID:        1,
		TunnelID:  3,
		DstAddr:   net.ParseIP("192.168.1.5"),
		DstPort:   22,
		LocPort:   10022,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestForwardingValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Forwarding)
		wantErr bool
	}{
		{"valid", func(*Forwarding) {}, false},
		{"no tunnel", func(f *Forwarding) { f.TunnelID = 0 }, true},
		{"nil dst", func(f *Forwarding) { f.DstAddr = nil }, true},
		{"dst port zero", func(f *Forwarding) { f.DstPort = 0 }, true},
		{"dst port too big", func(f *Forwarding) { f.DstPort = 70000 }, true},
		{"loc port zero", func(f *Forwarding) { f.LocPort = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validForwarding()
			tc.mutate(f)
			err := f.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTunnelToDict(t *testing.T) {
	tn := validTunnel()
	d := tn.ToDict("vpn-proxy-tun", 1195)
	if d.Name != "vpn-proxy-tun3" || d.Port != 1197 || d.Server != "10.8.0.1" || d.Client != "10.8.0.2" {
		t.Errorf("unexpected dict: %+v", d)
	}
}

func TestForwardingToDict(t *testing.T) {
	tn := validTunnel()
	f := validForwarding()
	d := f.ToDict("vpn-proxy-tun", tn)
	if d.TunnelName != "vpn-proxy-tun3" || d.RTable != "rt_vpn-proxy-tun3" || d.DstAddr != "192.168.1.5" {
		t.Errorf("unexpected dict: %+v", d)
	}
}
