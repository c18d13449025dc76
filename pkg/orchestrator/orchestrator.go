// Package orchestrator drives the operating system through the ordered
// steps a Tunnel or Forwarding needs to converge on its desired state. It
// is the only package that drives pkg/osadapt, and it serializes every
// mutation behind a
// single process-wide lock because two overlapping passes touching
// iptables or ip rule could otherwise race.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/execctl"
	"github.com/dimrozakis/vpn-proxy-go/pkg/fsreconcile"
	"github.com/dimrozakis/vpn-proxy-go/pkg/log"
	"github.com/dimrozakis/vpn-proxy-go/pkg/metrics"
	"github.com/dimrozakis/vpn-proxy-go/pkg/openvpn"
	"github.com/dimrozakis/vpn-proxy-go/pkg/osadapt"
)

// Config carries the naming and path conventions every adapter call needs.
type Config struct {
	IfacePrefix     string
	ServerPortStart int
	OpenVPNDir      string
	RTTablesPath    string
	RemoteAddress   string

	// RPFilterRoot overrides the root the rp_filter adapter reads/writes
	// under (normally "/", for /proc/sys/...). Tests point it at a temp
	// directory; production leaves it empty.
	RPFilterRoot string
}

// Orchestrator converges Tunnel and Forwarding desired state onto the host.
type Orchestrator struct {
	cfg Config

	service  *osadapt.Service
	rtable   *osadapt.RTable
	rule     *osadapt.SourceRule
	route    *osadapt.DefaultRoute
	rpfilter osadapt.RPFilter
	fwmark   *osadapt.FwmarkRule
	rules    *osadapt.ForwardingRules

	mu sync.Mutex
}

// New wires every adapter from a single executor, the way the teacher's
// cmd/warren/main.go wires one store into every dependent package.
func New(cfg Config, exec *execctl.Executor) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		service:  &osadapt.Service{Exec: exec},
		rtable:   &osadapt.RTable{Path: cfg.RTTablesPath},
		rule:     &osadapt.SourceRule{Exec: exec},
		route:    &osadapt.DefaultRoute{Exec: exec},
		rpfilter: osadapt.RPFilter{Root: cfg.RPFilterRoot},
		fwmark:   &osadapt.FwmarkRule{Exec: exec},
		rules:    &osadapt.ForwardingRules{Exec: exec},
	}
}

// step times and counts one named reconciliation step, logging at info on
// change and debug on no-op, mirroring the teacher's zerolog usage in
// pkg/reconciler paired with metrics.NewTimer()/ReconciliationCyclesTotal.
func step(name string, fn func() (fsreconcile.Result, error)) error {
	timer := metrics.NewTimer()
	logger := log.WithComponent("orchestrator")

	result, err := fn()
	timer.ObserveDurationVec(metrics.ReconciliationDuration, name)

	if err != nil {
		metrics.ReconciliationTotal.WithLabelValues(name, "error").Inc()
		logger.Error().Str("step", name).Err(err).Msg("reconciliation step failed")
		return fmt.Errorf("%s: %w", name, err)
	}

	metrics.ReconciliationTotal.WithLabelValues(name, "ok").Inc()
	if result == fsreconcile.Changed {
		logger.Info().Str("step", name).Msg("reconciliation step changed state")
	} else {
		logger.Debug().Str("step", name).Msg("reconciliation step already converged")
	}
	return nil
}

// StartTunnel writes the key and config files, starts the OpenVPN service
// and installs the routing state a tunnel needs, in the order the
// specification requires: key, conf, service, rtable, source rule, default
// route, rp_filter. A failure aborts the remaining steps; the next call
// re-attempts from the beginning.
func (o *Orchestrator) StartTunnel(ctx context.Context, t *domain.Tunnel, exec *execctl.Executor) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := t.Name(o.cfg.IfacePrefix)
	keyPath := t.KeyPath(o.cfg.OpenVPNDir, o.cfg.IfacePrefix)
	confPath := t.ConfPath(o.cfg.OpenVPNDir, o.cfg.IfacePrefix)
	rtable := t.RTable(o.cfg.IfacePrefix)

	if err := step("write_key", func() (fsreconcile.Result, error) {
		return fsreconcile.EnsureFile(keyPath, t.Key, 0o600)
	}); err != nil {
		return err
	}

	conf := openvpn.RenderServerConfig(t, o.cfg.IfacePrefix, o.cfg.ServerPortStart, keyPath)
	if err := step("write_conf", func() (fsreconcile.Result, error) {
		return fsreconcile.EnsureFile(confPath, []byte(conf), 0o644)
	}); err != nil {
		return err
	}

	if err := step("start_service", func() (fsreconcile.Result, error) {
		return o.service.Start(ctx, name)
	}); err != nil {
		return err
	}

	if err := step("ensure_rtable", func() (fsreconcile.Result, error) {
		return o.rtable.Add(t.ID, rtable)
	}); err != nil {
		return err
	}

	if err := step("ensure_source_rule", func() (fsreconcile.Result, error) {
		return o.rule.Add(ctx, t.Server.String(), rtable)
	}); err != nil {
		return err
	}

	if err := step("ensure_default_route", func() (fsreconcile.Result, error) {
		return o.route.Add(ctx, name, rtable)
	}); err != nil {
		return err
	}

	if err := step("ensure_rp_filter", func() (fsreconcile.Result, error) {
		return o.rpfilter.EnsureLoose(name)
	}); err != nil {
		return err
	}

	return nil
}

// StopTunnel tears down tunnel state in strict reverse order: route, source
// rule, rtable, service, conf file, key file.
func (o *Orchestrator) StopTunnel(ctx context.Context, t *domain.Tunnel) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := t.Name(o.cfg.IfacePrefix)
	keyPath := t.KeyPath(o.cfg.OpenVPNDir, o.cfg.IfacePrefix)
	confPath := t.ConfPath(o.cfg.OpenVPNDir, o.cfg.IfacePrefix)
	rtable := t.RTable(o.cfg.IfacePrefix)

	if err := step("remove_default_route", func() (fsreconcile.Result, error) {
		return o.route.Remove(ctx, name, rtable)
	}); err != nil {
		return err
	}

	if err := step("remove_source_rule", func() (fsreconcile.Result, error) {
		return o.rule.Remove(ctx, t.Server.String(), rtable)
	}); err != nil {
		return err
	}

	if err := step("remove_rtable", func() (fsreconcile.Result, error) {
		return o.rtable.Remove(t.ID, rtable)
	}); err != nil {
		return err
	}

	if err := step("stop_service", func() (fsreconcile.Result, error) {
		return o.service.Stop(ctx, name)
	}); err != nil {
		return err
	}

	if err := step("remove_conf", func() (fsreconcile.Result, error) {
		return fsreconcile.RemoveFile(confPath)
	}); err != nil {
		return err
	}

	if err := step("remove_key", func() (fsreconcile.Result, error) {
		return fsreconcile.RemoveFile(keyPath)
	}); err != nil {
		return err
	}

	return nil
}

// EnableForwarding installs the iptables triplet and the fwmark rule that
// steers a forwarding's traffic into its tunnel.
func (o *Orchestrator) EnableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := t.Name(o.cfg.IfacePrefix)
	rtable := t.RTable(o.cfg.IfacePrefix)

	if err := step("install_iptables_triplet", func() (fsreconcile.Result, error) {
		return o.rules.Add(ctx, t.ID, name, f.LocPort, f.DstPort, f.DstAddr.String())
	}); err != nil {
		return err
	}

	if err := step("install_fwmark_rule", func() (fsreconcile.Result, error) {
		return o.fwmark.Add(ctx, t.FwmarkHex(), rtable)
	}); err != nil {
		return err
	}

	return nil
}

// DisableForwarding removes the iptables triplet and then the fwmark rule.
func (o *Orchestrator) DisableForwarding(ctx context.Context, f *domain.Forwarding, t *domain.Tunnel) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := t.Name(o.cfg.IfacePrefix)
	rtable := t.RTable(o.cfg.IfacePrefix)

	if err := step("remove_iptables_triplet", func() (fsreconcile.Result, error) {
		return o.rules.Remove(ctx, t.ID, name, f.LocPort, f.DstPort, f.DstAddr.String())
	}); err != nil {
		return err
	}

	if err := step("remove_fwmark_rule", func() (fsreconcile.Result, error) {
		return o.fwmark.Remove(ctx, t.FwmarkHex(), rtable)
	}); err != nil {
		return err
	}

	return nil
}
