/*
Package log provides structured logging for the fleet orchestrator using
zerolog. It wraps a single global zerolog.Logger with JSON or console
output, a configurable level, and helper constructors for loggers scoped
to a host, a guest, or a workflow phase.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	hostLog := log.WithHost("pve-node-03")
	hostLog.Info().Msg("starting maintenance run")

	phaseLog := hostLog.With().Str("phase", string(types.PhaseGuestUpgrade)).Logger()
	phaseLog.Warn().Str("guest_id", "114").Msg("guest upgrade failed, continuing")

Never log a resolved secret value; pkg/secrets returns values only to
their direct caller for exactly this reason.
*/
package log
