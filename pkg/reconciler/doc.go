/*
Package reconciler runs the retention sweeper: a background loop that
disables Forwardings whose updated_at has fallen behind the configured TTL.

	sweeper := reconciler.New(controller, 24*time.Hour, time.Minute, 0)
	sweeper.Start()
	defer sweeper.Stop()

The sweeper is level-triggered like the orchestrator it drives: it reads
current state on every tick rather than tracking which forwardings it has
already touched, so a missed tick is harmless and a restart loses no state.
*/
package reconciler
