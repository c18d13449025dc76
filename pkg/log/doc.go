/*
Package log provides structured logging for vpn-proxy-go using zerolog.

The log package wraps zerolog to give every component — the command executor,
the OS state adapters, the reconciliation orchestrator, the retention sweeper
and the HTTP facade — a consistent, component-tagged logger. Reconciliation
steps log at info level when they change observed state and at debug level
when a step is already converged, per the orchestrator's no-op discipline.

	Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("tunnel", t.Name(ifacePrefix)).Msg("started openvpn service")
*/
package log
