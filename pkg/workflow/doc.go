// Package workflow drives a single host through the maintenance state
// machine of spec §4.5: INIT, PREFLIGHT, DISCOVER, GUEST_UPGRADE,
// GUEST_DRAIN, HOST_UPGRADE, HOST_REBOOT, VERIFY, DONE, with FAILED and
// ABORTED side-exits. Every phase's result is recorded, once the phase
// finishes, on an injectable pkg/trace.Tracer so tests can assert phase ordering and cancellation
// behavior without depending on wall-clock timing.
package workflow
