package storage

import (
	"net"
	"testing"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTunnelAssignsID(t *testing.T) {
	s := openTestStore(t)

	t1 := &domain.Tunnel{Server: net.ParseIP("10.8.0.1"), Client: net.ParseIP("10.8.0.2"), Key: []byte("k1")}
	if err := s.CreateTunnel(t1); err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}
	if t1.ID != 1 {
		t.Fatalf("first tunnel ID = %d, want 1", t1.ID)
	}

	t2 := &domain.Tunnel{Server: net.ParseIP("10.8.1.1"), Client: net.ParseIP("10.8.1.2"), Key: []byte("k2")}
	if err := s.CreateTunnel(t2); err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}
	if t2.ID != 2 {
		t.Fatalf("second tunnel ID = %d, want 2", t2.ID)
	}

	got, err := s.GetTunnel(1)
	if err != nil {
		t.Fatalf("GetTunnel() error: %v", err)
	}
	if !got.Server.Equal(t1.Server) {
		t.Errorf("GetTunnel() server = %v, want %v", got.Server, t1.Server)
	}
}

func TestGetTunnelNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTunnel(99)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("GetTunnel() error kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestListTunnels(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		tn := &domain.Tunnel{Server: net.ParseIP("10.8.0.1"), Client: net.ParseIP("10.8.0.2"), Key: []byte("k")}
		if err := s.CreateTunnel(tn); err != nil {
			t.Fatal(err)
		}
	}
	tunnels, err := s.ListTunnels()
	if err != nil {
		t.Fatalf("ListTunnels() error: %v", err)
	}
	if len(tunnels) != 3 {
		t.Fatalf("ListTunnels() returned %d tunnels, want 3", len(tunnels))
	}
}

func TestUpdateTunnel(t *testing.T) {
	s := openTestStore(t)
	tn := &domain.Tunnel{Server: net.ParseIP("10.8.0.1"), Client: net.ParseIP("10.8.0.2"), Key: []byte("k"), Active: false}
	if err := s.CreateTunnel(tn); err != nil {
		t.Fatal(err)
	}

	tn.Active = true
	tn.UpdatedAt = time.Now()
	if err := s.UpdateTunnel(tn); err != nil {
		t.Fatalf("UpdateTunnel() error: %v", err)
	}

	got, err := s.GetTunnel(tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active {
		t.Error("UpdateTunnel() did not persist Active=true")
	}
}

func TestUpdateTunnelNotFound(t *testing.T) {
	s := openTestStore(t)
	tn := &domain.Tunnel{ID: 42}
	err := s.UpdateTunnel(tn)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("UpdateTunnel() error kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestDeleteTunnel(t *testing.T) {
	s := openTestStore(t)
	tn := &domain.Tunnel{Server: net.ParseIP("10.8.0.1"), Client: net.ParseIP("10.8.0.2"), Key: []byte("k")}
	if err := s.CreateTunnel(tn); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTunnel(tn.ID); err != nil {
		t.Fatalf("DeleteTunnel() error: %v", err)
	}
	_, err := s.GetTunnel(tn.ID)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("GetTunnel() after delete error kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestForwardingCRUDAndFilterByTunnel(t *testing.T) {
	s := openTestStore(t)

	f1 := &domain.Forwarding{TunnelID: 1, DstAddr: net.ParseIP("192.168.1.5"), DstPort: 22, LocPort: 10022}
	f2 := &domain.Forwarding{TunnelID: 1, DstAddr: net.ParseIP("192.168.1.6"), DstPort: 80, LocPort: 10080}
	f3 := &domain.Forwarding{TunnelID: 2, DstAddr: net.ParseIP("192.168.2.5"), DstPort: 22, LocPort: 10023}

	for _, f := range []*domain.Forwarding{f1, f2, f3} {
		if err := s.CreateForwarding(f); err != nil {
			t.Fatalf("CreateForwarding() error: %v", err)
		}
	}

	all, err := s.ListForwardings()
	if err != nil || len(all) != 3 {
		t.Fatalf("ListForwardings() = %d, %v, want 3 forwardings", len(all), err)
	}

	byTunnel, err := s.ListForwardingsByTunnel(1)
	if err != nil {
		t.Fatalf("ListForwardingsByTunnel() error: %v", err)
	}
	if len(byTunnel) != 2 {
		t.Fatalf("ListForwardingsByTunnel(1) = %d forwardings, want 2", len(byTunnel))
	}

	f1.Active = true
	if err := s.UpdateForwarding(f1); err != nil {
		t.Fatalf("UpdateForwarding() error: %v", err)
	}
	got, err := s.GetForwarding(f1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active {
		t.Error("UpdateForwarding() did not persist Active=true")
	}

	if err := s.DeleteForwarding(f1.ID); err != nil {
		t.Fatalf("DeleteForwarding() error: %v", err)
	}
	_, err = s.GetForwarding(f1.ID)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("GetForwarding() after delete error kind = %v, want KindNotFound", domain.KindOf(err))
	}
}
