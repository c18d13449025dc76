// Package reconciler runs the retention sweep: a ticker-driven background
// loop that disables forwardings whose updated_at has gone stale, freeing
// the OS state they claimed without forgetting the loc_port they held.
// Grounded on the teacher's ticker/stopCh reconciliation loop, trimmed from
// cluster-wide node/container healing to the single retention sweep this
// control plane needs.
package reconciler

import (
	"context"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/control"
	"github.com/dimrozakis/vpn-proxy-go/pkg/log"
	"github.com/dimrozakis/vpn-proxy-go/pkg/metrics"
	"github.com/rs/zerolog"
)

// Sweeper disables Forwardings that have not been touched within TTL.
type Sweeper struct {
	controller *control.Controller
	ttl        time.Duration
	interval   time.Duration
	tunnelID   int // 0 means "all tunnels"

	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a Sweeper with the given TTL and sweep interval. tunnelID, if
// non-zero, restricts the sweep to forwardings attached to that tunnel.
func New(c *control.Controller, ttl, interval time.Duration, tunnelID int) *Sweeper {
	return &Sweeper{
		controller: c,
		ttl:        ttl,
		interval:   interval,
		tunnelID:   tunnelID,
		logger:     log.WithComponent("retention"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("retention sweeper started")

	for {
		select {
		case <-ticker.C:
			if err := s.sweep(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("retention sweep failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("retention sweeper stopped")
			return
		}
	}
}

// sweep selects forwardings with updated_at older than TTL and disables
// each. It never deletes, so re-activation on subsequent traffic recreates
// the OS state without re-allocating loc_port.
func (s *Sweeper) sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.ReconciliationDuration, "retention_sweep")
		metrics.RetentionSweepsTotal.Inc()
	}()

	forwardings, err := s.controller.Store.ListForwardings()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.ttl)
	for _, f := range forwardings {
		if !f.Active {
			continue
		}
		if s.tunnelID != 0 && f.TunnelID != s.tunnelID {
			continue
		}
		if f.UpdatedAt.After(cutoff) {
			continue
		}

		s.logger.Info().Int("forwarding_id", f.ID).Time("updated_at", f.UpdatedAt).Msg("disabling stale forwarding")
		if _, err := s.controller.SetForwardingActive(ctx, f.ID, false); err != nil {
			s.logger.Error().Int("forwarding_id", f.ID).Err(err).Msg("failed to disable stale forwarding")
			continue
		}
		metrics.RetentionDisabledTotal.Inc()
	}
	return nil
}
