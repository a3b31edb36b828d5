// Package ferrors defines the conceptual error taxonomy shared by every
// layer of the fleet orchestrator (spec §7). Each kind is a comparable
// sentinel; call sites wrap it with fmt.Errorf("...: %w", Kind) and callers
// use errors.Is to classify without depending on any one layer's message
// text.
package ferrors

import "errors"

var (
	// Manifest errors — terminal, halt the scheduler.
	ErrManifestSyntax     = errors.New("manifest syntax error")
	ErrManifestInvalid    = errors.New("manifest invalid")
	ErrForbiddenOverride  = errors.New("forbidden override")

	// Secret errors — mark a single host skipped, never halt the scheduler.
	ErrCredentialMissing = errors.New("credential missing")

	// API-level errors.
	ErrAuthFailed  = errors.New("authentication failed")
	ErrNodeUnknown = errors.New("node unknown")
	ErrGuestUnknown = errors.New("guest unknown")
	ErrTaskFailed  = errors.New("task failed")

	// Transport-level errors, subject to the API client's retry policy.
	ErrUnreachable = errors.New("unreachable")
	ErrTimeout     = errors.New("timeout")
	ErrTransport   = errors.New("transport error")

	// Upgrade errors.
	ErrUpgradeFailed     = errors.New("upgrade failed")
	ErrOSDetectionFailed = errors.New("os detection failed")

	// Workflow-level fatals.
	ErrPreflightFailed      = errors.New("preflight failed")
	ErrHostDeadlineExceeded = errors.New("host deadline exceeded")
)

// Kind returns the canonical short name of the sentinel wrapped somewhere
// in err's chain, or "" if err does not wrap one of this package's
// sentinels. Used to populate RunOutcome.ErrorSummary and to pick a CLI
// exit code without layers above reaching back into lower-layer types.
// ForbiddenOverride is checked ahead of ManifestInvalid: Validate always
// wraps every collected error (including a ForbiddenOverride one) in
// ErrManifestInvalid, so the more specific kind must win the race or it
// would never surface.
func Kind(err error) string {
	for _, c := range []struct {
		sentinel error
		name     string
	}{
		{ErrManifestSyntax, "ManifestSyntax"},
		{ErrForbiddenOverride, "ForbiddenOverride"},
		{ErrManifestInvalid, "ManifestInvalid"},
		{ErrCredentialMissing, "CredentialMissing"},
		{ErrAuthFailed, "AuthFailed"},
		{ErrNodeUnknown, "NodeUnknown"},
		{ErrGuestUnknown, "GuestUnknown"},
		{ErrTaskFailed, "TaskFailed"},
		{ErrUnreachable, "Unreachable"},
		{ErrTimeout, "Timeout"},
		{ErrTransport, "Transport"},
		{ErrUpgradeFailed, "UpgradeFailed"},
		{ErrOSDetectionFailed, "OSDetectionFailed"},
		{ErrPreflightFailed, "PreflightFailed"},
		{ErrHostDeadlineExceeded, "HostDeadlineExceeded"},
	} {
		if errors.Is(err, c.sentinel) {
			return c.name
		}
	}
	return ""
}

// Retryable reports whether err is a transport-level error the Proxmox API
// client's retry policy should retry (spec §4.3): Transport and Timeout are
// retried, AuthFailed and domain 4xx errors never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
