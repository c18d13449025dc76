// Package control implements the desired-state model (create, validate,
// persist, delete) on top of pkg/storage and pkg/orchestrator. It defines
// the concrete Reconcilable wrappers around domain.Tunnel and
// domain.Forwarding; they live here rather than in pkg/domain so that the
// model package never has to import the orchestrator or the store.
package control

import (
	"context"
	"net"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/alloc"
	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/openvpn"
	"github.com/dimrozakis/vpn-proxy-go/pkg/orchestrator"
	"github.com/dimrozakis/vpn-proxy-go/pkg/storage"
)

// reconciler is the subset of *orchestrator.Orchestrator the Reconcilable
// wrappers call into. It exists so tests can swap in a fake instead of
// driving real OS state through pkg/osadapt.
type reconciler interface {
	StartTunnel(ctx context.Context, t *domain.Tunnel, exec *execctl.Executor) error
	StopTunnel(ctx context.Context, t *domain.Tunnel) error
	EnableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error
	DisableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error
}

var _ reconciler = (*orchestrator.Orchestrator)(nil)

// Controller is the entry point the API facade calls into. It owns the
// store, the orchestrator, the allocators and the executor, and
// constructs the Reconcilable wrapper for each entity it touches.
type Controller struct {
	Store        storage.Store
	Orchestrator reconciler
	Exec         *execctl.Executor
	IPPool       *alloc.IPPool

	IfacePrefix     string
	ServerPortStart int
	OpenVPNDir      string
	RemoteAddress   string
	ScratchDir      string
}

// tunnelHandle implements domain.Reconcilable for a single Tunnel.
type tunnelHandle struct {
	c *Controller
	t *domain.Tunnel
}

func (h *tunnelHandle) Enable(ctx context.Context) error {
	return h.c.Orchestrator.StartTunnel(ctx, h.t, h.c.Exec)
}

func (h *tunnelHandle) Disable(ctx context.Context) error {
	return h.c.Orchestrator.StopTunnel(ctx, h.t)
}

func (h *tunnelHandle) Reconcile(ctx context.Context) error {
	if h.t.Active {
		return h.Enable(ctx)
	}
	return h.Disable(ctx)
}

func (h *tunnelHandle) Destroy(ctx context.Context) error {
	return h.Disable(ctx)
}

// forwardingHandle implements domain.Reconcilable for a single Forwarding.
type forwardingHandle struct {
	c *Controller
	f *domain.Forwarding
	t *domain.Tunnel
}

func (h *forwardingHandle) Enable(ctx context.Context) error {
	return h.c.Orchestrator.EnableForwarding(ctx, h.f, h.t)
}

func (h *forwardingHandle) Disable(ctx context.Context) error {
	return h.c.Orchestrator.DisableForwarding(ctx, h.f, h.t)
}

func (h *forwardingHandle) Reconcile(ctx context.Context) error {
	if h.f.Active {
		return h.Enable(ctx)
	}
	return h.Disable(ctx)
}

func (h *forwardingHandle) Destroy(ctx context.Context) error {
	return h.Disable(ctx)
}

var _ domain.Reconcilable = (*tunnelHandle)(nil)
var _ domain.Reconcilable = (*forwardingHandle)(nil)

// CreateTunnel allocates server and client addresses, generates a static
// key, persists the tunnel, and reconciles it. Reconciliation runs after
// the insert so the tunnel's id (used to derive its interface name and
// port) is known.
func (c *Controller) CreateTunnel(ctx context.Context, active bool) (*domain.Tunnel, error) {
	return c.CreateTunnelInPools(ctx, active, nil, nil)
}

// CreateTunnelInPools is CreateTunnel with a request-scoped override of the
// routable and excluded CIDR pools: an empty routableCIDRs falls back to the
// configured pool, extraExcluded is always added on top of the configured
// exclusions. This backs the HTTP `cidrs[]`/`excluded[]` form fields.
func (c *Controller) CreateTunnelInPools(ctx context.Context, active bool, routableCIDRs, extraExcluded []string) (*domain.Tunnel, error) {
	existing, err := c.Store.ListTunnels()
	if err != nil {
		return nil, domain.PersistenceErrorf("listing tunnels: %v", err)
	}

	pool := c.IPPool
	if len(routableCIDRs) > 0 || len(extraExcluded) > 0 {
		pool, err = c.poolWithOverrides(routableCIDRs, extraExcluded)
		if err != nil {
			return nil, domain.ValidationErrorf("invalid cidrs/excluded: %v", err)
		}
	}

	server, err := pool.AllocateServer(ctx, existing)
	if err != nil {
		return nil, err
	}
	client, err := pool.AllocateClient(ctx, server, existing)
	if err != nil {
		return nil, err
	}

	key, err := openvpn.GenerateStaticKey(ctx, c.Exec, c.ScratchDir)
	if err != nil {
		return nil, domain.WrapCommandError(err)
	}

	now := time.Now()
	t := &domain.Tunnel{
		Server:    server,
		Client:    client,
		Key:       key,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := c.Store.CreateTunnel(t); err != nil {
		return nil, domain.PersistenceErrorf("creating tunnel: %v", err)
	}

	handle := &tunnelHandle{c: c, t: t}
	if err := handle.Reconcile(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTunnelActive flips a tunnel's active flag, persists it (reconciliation
// runs before the row is re-saved so derived state is refreshed first).
// Attached Forwardings are not enabled or disabled by this call.
func (c *Controller) SetTunnelActive(ctx context.Context, id int, active bool) (*domain.Tunnel, error) {
	t, err := c.Store.GetTunnel(id)
	if err != nil {
		return nil, err
	}
	t.Active = active
	t.UpdatedAt = time.Now()

	handle := &tunnelHandle{c: c, t: t}
	if err := handle.Reconcile(ctx); err != nil {
		return nil, err
	}
	if err := c.Store.UpdateTunnel(t); err != nil {
		return nil, domain.PersistenceErrorf("updating tunnel %d: %v", id, err)
	}
	return t, nil
}

// DeleteTunnel disables and deletes every attached Forwarding, in creation
// order, then disables and deletes the tunnel itself.
func (c *Controller) DeleteTunnel(ctx context.Context, id int) error {
	t, err := c.Store.GetTunnel(id)
	if err != nil {
		return err
	}

	forwardings, err := c.Store.ListForwardingsByTunnel(id)
	if err != nil {
		return domain.PersistenceErrorf("listing forwardings for tunnel %d: %v", id, err)
	}
	for _, f := range forwardings {
		if err := c.DeleteForwarding(ctx, f.ID); err != nil {
			return err
		}
	}

	handle := &tunnelHandle{c: c, t: t}
	if err := handle.Destroy(ctx); err != nil {
		return err
	}
	return c.Store.DeleteTunnel(id)
}

// CreateForwarding allocates a local port, persists the forwarding, and
// reconciles it after insert so its id is known.
func (c *Controller) CreateForwarding(ctx context.Context, tunnelID int, dstAddr string, dstPort int, active bool) (*domain.Forwarding, error) {
	t, err := c.Store.GetTunnel(tunnelID)
	if err != nil {
		return nil, err
	}

	all, err := c.Store.ListForwardings()
	if err != nil {
		return nil, domain.PersistenceErrorf("listing forwardings: %v", err)
	}
	inUse := make(map[int]bool, len(all))
	for _, f := range all {
		inUse[f.LocPort] = true
	}

	hint := dstPort + 5000 + tunnelID
	locPort, err := alloc.AllocatePort(hint, inUse)
	if err != nil {
		return nil, err
	}

	ip := parseDstAddr(dstAddr)
	if ip == nil {
		return nil, domain.ValidationErrorf("invalid destination address %q", dstAddr)
	}

	now := time.Now()
	f := &domain.Forwarding{
		TunnelID:  tunnelID,
		DstAddr:   ip,
		DstPort:   dstPort,
		LocPort:   locPort,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := c.Store.CreateForwarding(f); err != nil {
		return nil, domain.PersistenceErrorf("creating forwarding: %v", err)
	}

	handle := &forwardingHandle{c: c, f: f, t: t}
	if err := handle.Reconcile(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// SetForwardingActive flips a forwarding's active flag and reconciles it.
// Touching a forwarding also refreshes updated_at, which is what lets the
// retention sweeper treat recent traffic (observed externally and
// re-enabled through this same call) as a reason to keep it alive.
func (c *Controller) SetForwardingActive(ctx context.Context, id int, active bool) (*domain.Forwarding, error) {
	f, err := c.Store.GetForwarding(id)
	if err != nil {
		return nil, err
	}
	t, err := c.Store.GetTunnel(f.TunnelID)
	if err != nil {
		return nil, err
	}

	f.Active = active
	f.UpdatedAt = time.Now()

	handle := &forwardingHandle{c: c, f: f, t: t}
	if err := handle.Reconcile(ctx); err != nil {
		return nil, err
	}
	if err := c.Store.UpdateForwarding(f); err != nil {
		return nil, domain.PersistenceErrorf("updating forwarding %d: %v", id, err)
	}
	return f, nil
}

// DeleteForwarding disables then deletes a forwarding.
func (c *Controller) DeleteForwarding(ctx context.Context, id int) error {
	f, err := c.Store.GetForwarding(id)
	if err != nil {
		return err
	}
	t, err := c.Store.GetTunnel(f.TunnelID)
	if err != nil {
		return err
	}

	handle := &forwardingHandle{c: c, f: f, t: t}
	if err := handle.Destroy(ctx); err != nil {
		return err
	}
	return c.Store.DeleteForwarding(id)
}

func (c *Controller) poolWithOverrides(routableCIDRs, extraExcluded []string) (*alloc.IPPool, error) {
	routable := routableCIDRs
	if len(routable) == 0 {
		routable = make([]string, len(c.IPPool.Routable))
		for i, n := range c.IPPool.Routable {
			routable[i] = n.String()
		}
	}
	excluded := make([]string, len(c.IPPool.Excluded))
	for i, n := range c.IPPool.Excluded {
		excluded[i] = n.String()
	}
	excluded = append(excluded, extraExcluded...)
	reserved := make([]string, len(c.IPPool.Reserved))
	for i, n := range c.IPPool.Reserved {
		reserved[i] = n.String()
	}
	return alloc.NewIPPool(routable, excluded, reserved)
}

func parseDstAddr(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return ip.To4()
}
