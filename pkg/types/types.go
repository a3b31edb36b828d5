package types

import "time"

// SecretName is a key into the secret source, resolved lazily at preflight.
type SecretName string

// SSHProfile holds the connection parameters for an SSH-reachable target.
type SSHProfile struct {
	User          string
	IdentityFile  string
	ExtraArgs     []string
	ConnectTimeout int // seconds
	CommandTimeout int // seconds
}

// GuestCredentials is an SSH profile plus an optional password secret. The
// password secret is resolved during preflight; sessions authenticate with
// the identity file only and do not use the password.
type GuestCredentials struct {
	SSH        SSHProfile
	PasswordEnv SecretName
}

// APICredentials identifies a Proxmox node and the token pair used to
// authenticate against it.
type APICredentials struct {
	Node        string
	TokenID     string // literal value, or resolved from TokenIDEnv
	TokenIDEnv  SecretName
	TokenSecretEnv SecretName
	VerifyTLS   bool
}

// GuestPolicy controls how a host workflow reacts to a single guest's
// failure during GUEST_UPGRADE.
type GuestPolicy struct {
	// ContinueOnFailure, when true (the default), records a failed guest
	// upgrade but does not abort the remainder of the host's workflow.
	ContinueOnFailure bool
}

// Defaults is the manifest-wide fallback for every field an individual
// HostEntry may omit.
type Defaults struct {
	SSH               SSHProfile
	Guest             GuestCredentials
	MaxParallel       int
	DryRun            bool
	ShutdownDeadlineS int
	RebootDeadlineS   int
	GuestParallel     int
	Policy            GuestPolicy
}

// forbiddenOverrideFields is the set of field names a HostEntry is never
// allowed to set itself; they must live in Defaults. See spec §4.6.
var forbiddenOverrideFields = map[string]bool{
	"identity_file":        true,
	"ssh.extra_args":       true,
	"guest.user":           true,
	"guest.identity_file":  true,
}

// ForbiddenOverrideFields returns the canonical forbidden-override set.
func ForbiddenOverrideFields() map[string]bool {
	out := make(map[string]bool, len(forbiddenOverrideFields))
	for k, v := range forbiddenOverrideFields {
		out[k] = v
	}
	return out
}

// HostEntry is one [[hosts]] table in the manifest. Any field left at its
// zero value is resolved from Defaults at Effective() time, except the
// forbidden-override fields, which a HostEntry must never set.
type HostEntry struct {
	Name string
	Host string
	API  APICredentials

	// Overridable fields. A nil pointer means "not set, inherit".
	DryRun        *bool
	MaxParallel   *int
	GuestParallel *int

	GuestInventory []GuestInventoryEntry

	// Record whether the host table carries a §4.6 forbidden-override key.
	// Validation rejects such keys from the raw document directly; these
	// flags are not read by validation or by Effective().
	SetIdentityFile    bool
	SetSSHExtraArgs    bool
	SetGuestUser       bool
	SetGuestIdentityFile bool
}

// GuestKind distinguishes a Proxmox VM from an LXC container.
type GuestKind string

const (
	GuestKindVM        GuestKind = "vm"
	GuestKindContainer GuestKind = "container"
)

// GuestInventoryEntry is a declared, per-host override of how one guest is
// treated during a run.
type GuestInventoryEntry struct {
	Identifier  string
	Kind        GuestKind
	Managed     bool
	Notes       string
	Credentials *GuestCredentials
}

// EffectiveHostView is the fully inheritance-resolved configuration for one
// host, the only thing the host workflow needs to run. Effective clamps
// MaxParallel and GuestParallel to >= 1; it does not check that API.Node,
// the API token id/secret or SSH.User are set.
type EffectiveHostView struct {
	Name              string
	Host              string
	API               APICredentials
	SSH               SSHProfile
	Guest             GuestCredentials
	MaxParallel       int
	GuestParallel     int
	DryRun            bool
	ShutdownDeadlineS int
	RebootDeadlineS   int
	Policy            GuestPolicy
	GuestInventory    []GuestInventoryEntry
}

// GuestStatus is the last-observed power state of a guest.
type GuestStatus string

const (
	GuestStatusRunning GuestStatus = "running"
	GuestStatusStopped GuestStatus = "stopped"
	GuestStatusPaused  GuestStatus = "paused"
	GuestStatusUnknown GuestStatus = "unknown"
)

// GuestDescriptor is a guest as discovered from the Proxmox API at the
// start of a host workflow's DISCOVER phase.
type GuestDescriptor struct {
	ID            string
	Kind          GuestKind
	Name          string
	Status        GuestStatus
	IPAddresses   []string
	BootOnStart   bool
	Managed       bool // resolved against the manifest's guest inventory
}

// Phase is one state in the host workflow state machine (spec §4.5).
type Phase string

const (
	PhaseInit         Phase = "INIT"
	PhasePreflight    Phase = "PREFLIGHT"
	PhaseDiscover     Phase = "DISCOVER"
	PhaseGuestUpgrade Phase = "GUEST_UPGRADE"
	PhaseGuestDrain   Phase = "GUEST_DRAIN"
	PhaseHostUpgrade  Phase = "HOST_UPGRADE"
	PhaseHostReboot   Phase = "HOST_REBOOT"
	PhaseVerify       Phase = "VERIFY"
	PhaseDone         Phase = "DONE"
	PhaseFailed       Phase = "FAILED"
	PhaseAborted      Phase = "ABORTED"
)

// PhaseStatus is the terminal status recorded for one phase of one host's
// run.
type PhaseStatus string

const (
	PhaseStatusOK       PhaseStatus = "ok"
	PhaseStatusDryRan   PhaseStatus = "dry-ran"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// GuestOutcome records what happened to a single guest over the course of
// a host's run.
type GuestOutcome struct {
	ID            string
	Kind          GuestKind
	Upgraded      bool
	UpgradeError  string
	Drained       bool
	DrainedVia    string // "graceful", "force", or "dry-run"
	Restarted     bool
	VerifiedAt    time.Time
	VerifyError   string
}

// HostFinalState is the terminal state of a host's run.
type HostFinalState string

const (
	HostSucceeded             HostFinalState = "succeeded"
	HostSucceededWithWarnings HostFinalState = "succeeded_with_warnings"
	HostFailed                HostFinalState = "failed"
	HostSkipped               HostFinalState = "skipped"
	HostAborted               HostFinalState = "aborted"
)

// RunOutcome is the final, reportable record of one host's maintenance
// run.
type RunOutcome struct {
	// RunID correlates every transition and metric emitted during one
	// host's run, for log aggregation when many hosts run concurrently.
	RunID        string
	Host         string
	Final        HostFinalState
	LastPhase    Phase
	PhaseStatus  map[Phase]PhaseStatus
	Guests       []GuestOutcome
	ErrorSummary string
	Duration     time.Duration
}

// Succeeded reports whether this outcome counts as a scheduler success for
// exit-code purposes (spec §4.7).
func (o RunOutcome) Succeeded() bool {
	return o.Final == HostSucceeded || o.Final == HostSucceededWithWarnings
}
