package session

import (
	"context"

	"github.com/nexops/pvefleet/pkg/log"
)

// DryRunSession decorates a Session so that Run never reaches the network:
// it logs a structured "would execute" entry and returns synthetic success
// (spec §4.2, Testable Property 3). It wraps a real Session only to report
// the same Target() string in logs; the wrapped session's Run is never
// called.
type DryRunSession struct {
	wrapped Session
}

// NewDryRun wraps target so every Run call becomes a no-op.
func NewDryRun(target Session) *DryRunSession {
	return &DryRunSession{wrapped: target}
}

// Run logs intent and returns a synthetic success result without touching
// the network.
func (d *DryRunSession) Run(_ context.Context, command string) (Result, error) {
	log.WithComponent("session").Info().
		Str("target", d.wrapped.Target()).
		Str("command", command).
		Bool("dry_run", true).
		Msg("would execute")
	return Result{ExitCode: 0, Duration: 0}, nil
}

// Target returns the wrapped session's target label.
func (d *DryRunSession) Target() string {
	return d.wrapped.Target()
}

// Close closes the wrapped session's transport.
func (d *DryRunSession) Close() error {
	return d.wrapped.Close()
}
