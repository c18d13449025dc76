package control

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/dimrozakis/vpn-proxy-go/pkg/alloc"
	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
)

// fakeStore is an in-memory storage.Store for exercising Controller without
// BoltDB on disk.
type fakeStore struct {
	tunnels     map[int]*domain.Tunnel
	forwardings map[int]*domain.Forwarding
	nextTunnel  int
	nextFwd     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tunnels:     map[int]*domain.Tunnel{},
		forwardings: map[int]*domain.Forwarding{},
	}
}

func (s *fakeStore) CreateTunnel(t *domain.Tunnel) error {
	s.nextTunnel++
	t.ID = s.nextTunnel
	cp := *t
	s.tunnels[t.ID] = &cp
	return nil
}

func (s *fakeStore) GetTunnel(id int) (*domain.Tunnel, error) {
	t, ok := s.tunnels[id]
	if !ok {
		return nil, domain.NotFoundf("tunnel %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListTunnels() ([]*domain.Tunnel, error) {
	var out []*domain.Tunnel
	for _, t := range s.tunnels {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) UpdateTunnel(t *domain.Tunnel) error {
	if _, ok := s.tunnels[t.ID]; !ok {
		return domain.NotFoundf("tunnel %d not found", t.ID)
	}
	cp := *t
	s.tunnels[t.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteTunnel(id int) error {
	delete(s.tunnels, id)
	return nil
}

func (s *fakeStore) CreateForwarding(f *domain.Forwarding) error {
	s.nextFwd++
	f.ID = s.nextFwd
	cp := *f
	s.forwardings[f.ID] = &cp
	return nil
}

func (s *fakeStore) GetForwarding(id int) (*domain.Forwarding, error) {
	f, ok := s.forwardings[id]
	if !ok {
		return nil, domain.NotFoundf("forwarding %d not found", id)
	}
	cp := *f
	return &cp, nil
}

func (s *fakeStore) ListForwardings() ([]*domain.Forwarding, error) {
	var out []*domain.Forwarding
	for _, f := range s.forwardings {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ListForwardingsByTunnel(tunnelID int) ([]*domain.Forwarding, error) {
	all, _ := s.ListForwardings()
	var out []*domain.Forwarding
	for _, f := range all {
		if f.TunnelID == tunnelID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateForwarding(f *domain.Forwarding) error {
	if _, ok := s.forwardings[f.ID]; !ok {
		return domain.NotFoundf("forwarding %d not found", f.ID)
	}
	cp := *f
	s.forwardings[f.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteForwarding(id int) error {
	delete(s.forwardings, id)
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeReconciler records every call instead of touching the OS.
type fakeReconciler struct {
	started, stopped           []int
	enabledFwd, disabledFwd    []int
	startErr, enableForwardErr error
}

func (r *fakeReconciler) StartTunnel(ctx context.Context, t *domain.Tunnel, exec *execctl.Executor) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = append(r.started, t.ID)
	return nil
}

func (r *fakeReconciler) StopTunnel(ctx context.Context, t *domain.Tunnel) error {
	r.stopped = append(r.stopped, t.ID)
	return nil
}

func (r *fakeReconciler) EnableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error {
	if r.enableForwardErr != nil {
		return r.enableForwardErr
	}
	r.enabledFwd = append(r.enabledFwd, f.ID)
	return nil
}

func (r *fakeReconciler) DisableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error {
	r.disabledFwd = append(r.disabledFwd, f.ID)
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakeStore, *fakeReconciler) {
	t.Helper()
	pool, err := alloc.NewIPPool([]string{"10.8.0.0/24"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	recon := &fakeReconciler{}
	c := &Controller{
		Store:           store,
		Orchestrator:    recon,
		Exec:            execctl.New("test"),
		IPPool:          pool,
		IfacePrefix:     "vpn-proxy-tun",
		ServerPortStart: 1195,
		OpenVPNDir:      t.TempDir(),
		RemoteAddress:   "vpn.example.com",
		ScratchDir:      t.TempDir(),
	}
	return c, store, recon
}

// installFakeOpenVPN replaces GenerateStaticKey's dependency on a real
// openvpn binary with a shell shim that writes a static key to whichever
// path follows --secret, so CreateTunnel can be exercised without the real
// binary installed.
func installFakeOpenVPN(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		`path=""` + "\n" +
		`prev=""` + "\n" +
		`for a in "$@"; do if [ "$prev" = "--secret" ]; then path="$a"; fi; prev="$a"; done` + "\n" +
		`echo fake-static-key > "$path"` + "\n"
	if err := os.WriteFile(dir+"/openvpn", []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func TestCreateTunnelAllocatesAndReconciles(t *testing.T) {
	installFakeOpenVPN(t)
	c, store, recon := newTestController(t)

	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}
	if tn.ID != 1 {
		t.Errorf("tunnel ID = %d, want 1", tn.ID)
	}
	// The server starts at a random host of 10.8.0.0/24; the client is the
	// next host, wrapping to 10.8.0.1 when the server is 10.8.0.254.
	_, pool, _ := net.ParseCIDR("10.8.0.0/24")
	if !pool.Contains(tn.Server) {
		t.Fatalf("server = %s, want an address in %s", tn.Server, pool)
	}
	s4 := tn.Server.To4()
	wantClient := net.IPv4(10, 8, 0, s4[3]+1)
	if s4[3] == 254 {
		wantClient = net.IPv4(10, 8, 0, 1)
	}
	if !tn.Client.Equal(wantClient) {
		t.Errorf("client = %s, want %s", tn.Client, wantClient)
	}
	if len(recon.started) != 1 || recon.started[0] != tn.ID {
		t.Errorf("expected StartTunnel to be called for tunnel %d, got %v", tn.ID, recon.started)
	}
	if _, err := store.GetTunnel(tn.ID); err != nil {
		t.Errorf("tunnel not persisted: %v", err)
	}
}

func TestCreateTunnelInactiveDoesNotStart(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, recon := newTestController(t)

	tn, err := c.CreateTunnel(context.Background(), false)
	if err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}
	if len(recon.started) != 0 {
		t.Errorf("expected no StartTunnel call, got %v", recon.started)
	}
	if len(recon.stopped) != 1 || recon.stopped[0] != tn.ID {
		t.Errorf("expected StopTunnel to be called for an inactive tunnel, got %v", recon.stopped)
	}
}

func TestCreateTunnelInPoolsRejectsInvalidCIDR(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, _ := newTestController(t)

	_, err := c.CreateTunnelInPools(context.Background(), true, []string{"not-a-cidr"}, nil)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("error kind = %v, want KindValidation", domain.KindOf(err))
	}
}

func TestSetTunnelActiveTogglesReconciliation(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, recon := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.SetTunnelActive(context.Background(), tn.ID, false); err != nil {
		t.Fatalf("SetTunnelActive() error: %v", err)
	}
	if len(recon.stopped) != 1 {
		t.Errorf("expected one StopTunnel call, got %v", recon.stopped)
	}

	if _, err := c.SetTunnelActive(context.Background(), tn.ID, true); err != nil {
		t.Fatalf("SetTunnelActive() error: %v", err)
	}
	if len(recon.started) != 2 {
		t.Errorf("expected two StartTunnel calls total, got %v", recon.started)
	}
}

func TestDeleteTunnelCascadesForwardings(t *testing.T) {
	installFakeOpenVPN(t)
	c, store, recon := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	fwd, err := c.CreateForwarding(context.Background(), tn.ID, "192.168.1.5", 22, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteTunnel(context.Background(), tn.ID); err != nil {
		t.Fatalf("DeleteTunnel() error: %v", err)
	}
	if len(recon.disabledFwd) != 1 || recon.disabledFwd[0] != fwd.ID {
		t.Errorf("expected forwarding %d disabled, got %v", fwd.ID, recon.disabledFwd)
	}
	if _, err := store.GetTunnel(tn.ID); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("tunnel should be deleted")
	}
	if _, err := store.GetForwarding(fwd.ID); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("forwarding should be deleted along with its tunnel")
	}
}

func TestCreateForwardingAllocatesPortFromHint(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, recon := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	fwd, err := c.CreateForwarding(context.Background(), tn.ID, "192.168.1.5", 22, true)
	if err != nil {
		t.Fatalf("CreateForwarding() error: %v", err)
	}
	wantHint := 22 + 5000 + tn.ID
	if fwd.LocPort != wantHint {
		t.Errorf("LocPort = %d, want %d", fwd.LocPort, wantHint)
	}
	if len(recon.enabledFwd) != 1 || recon.enabledFwd[0] != fwd.ID {
		t.Errorf("expected EnableForwarding called for %d, got %v", fwd.ID, recon.enabledFwd)
	}
}

func TestCreateForwardingInvalidAddress(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, _ := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.CreateForwarding(context.Background(), tn.ID, "not-an-ip", 22, true)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("error kind = %v, want KindValidation", domain.KindOf(err))
	}
}

func TestSetForwardingActiveRefreshesUpdatedAt(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, recon := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	fwd, err := c.CreateForwarding(context.Background(), tn.ID, "192.168.1.5", 22, false)
	if err != nil {
		t.Fatal(err)
	}
	before := fwd.UpdatedAt

	updated, err := c.SetForwardingActive(context.Background(), fwd.ID, true)
	if err != nil {
		t.Fatalf("SetForwardingActive() error: %v", err)
	}
	if !updated.UpdatedAt.After(before) && updated.UpdatedAt != before {
		// Monotonic clock granularity can tie on very fast test runs; only
		// fail if time clearly moved backwards.
		if updated.UpdatedAt.Before(before) {
			t.Errorf("UpdatedAt went backwards: %v -> %v", before, updated.UpdatedAt)
		}
	}
	if len(recon.enabledFwd) != 1 {
		t.Errorf("expected forwarding reconciled enabled once, got %v", recon.enabledFwd)
	}
}

func TestDeleteForwarding(t *testing.T) {
	installFakeOpenVPN(t)
	c, store, recon := newTestController(t)
	tn, err := c.CreateTunnel(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	fwd, err := c.CreateForwarding(context.Background(), tn.ID, "192.168.1.5", 22, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteForwarding(context.Background(), fwd.ID); err != nil {
		t.Fatalf("DeleteForwarding() error: %v", err)
	}
	if len(recon.disabledFwd) != 1 {
		t.Errorf("expected DisableForwarding call, got %v", recon.disabledFwd)
	}
	if _, err := store.GetForwarding(fwd.ID); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("forwarding should be gone")
	}
}

func TestPoolWithOverridesFallsBackToConfigured(t *testing.T) {
	installFakeOpenVPN(t)
	c, _, _ := newTestController(t)

	pool, err := c.poolWithOverrides(nil, []string{"10.8.0.1/32"})
	if err != nil {
		t.Fatalf("poolWithOverrides() error: %v", err)
	}
	if len(pool.Routable) != 1 || pool.Routable[0].String() != "10.8.0.0/24" {
		t.Errorf("Routable = %v, want fallback to configured pool", pool.Routable)
	}
	if len(pool.Excluded) != 1 {
		t.Errorf("Excluded = %v, want one extra exclusion", pool.Excluded)
	}
}

func TestParseDstAddr(t *testing.T) {
	if ip := parseDstAddr("192.168.1.5"); ip == nil || ip.String() != "192.168.1.5" {
		t.Errorf("parseDstAddr() = %v, want 192.168.1.5", ip)
	}
	if ip := parseDstAddr("not-an-address"); ip != nil {
		t.Errorf("parseDstAddr() = %v, want nil", ip)
	}
}
