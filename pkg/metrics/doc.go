/*
Package metrics provides Prometheus metrics collection and exposition for
the VPN proxy control plane.

Metrics are registered on the default Prometheus registry at package init
and exposed over HTTP for scraping. There is no separate registration
step for callers: import the package, call the metric, and it shows up at
/metrics.

# Metrics Catalog

Reconciliation:

vpnproxy_reconcile_duration_seconds{step}:
  - Type: Histogram
  - Description: Time taken for one orchestrator reconciliation step
  - Labels: step (write_key, write_conf, start_service, ensure_rtable,
    ensure_source_rule, ensure_default_route, ensure_rp_filter,
    install_iptables_triplet, install_fwmark_rule, and their reverse
    teardown counterparts)

vpnproxy_reconcile_total{step, result}:
  - Type: Counter
  - Description: Total reconciliation steps by step name and result (ok/error)

vpnproxy_tunnels_active:
  - Type: Gauge
  - Description: Number of tunnels currently marked active

vpnproxy_forwardings_active:
  - Type: Gauge
  - Description: Number of forwardings currently marked active

Retention:

vpnproxy_retention_sweeps_total:
  - Type: Counter
  - Description: Total retention sweep cycles completed

vpnproxy_retention_disabled_total:
  - Type: Counter
  - Description: Total forwardings disabled by the retention sweeper for exceeding their TTL

API:

vpnproxy_api_requests_total{method, route, status}:
  - Type: Counter
  - Description: Total HTTP requests by method, matched route and status class (2xx/3xx/4xx/5xx)

vpnproxy_api_request_duration_seconds{method, route}:
  - Type: Histogram
  - Description: HTTP request duration by method and matched route

# Usage

	import "github.com/dimrozakis/vpn-proxy-go/pkg/metrics"

	timer := metrics.NewTimer()
	// ... do the work ...
	timer.ObserveDurationVec(metrics.ReconciliationDuration, "start_service")

	metrics.TunnelsActive.Set(float64(activeCount))
	metrics.RetentionDisabledTotal.Inc()

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - pkg/orchestrator: records reconciliation step duration and outcome
  - pkg/reconciler: counts retention sweeps and disabled forwardings
  - pkg/api: instruments every request via middleware
*/
package metrics
