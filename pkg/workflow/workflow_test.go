package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/pvefleet/pkg/health"
	"github.com/nexops/pvefleet/pkg/session"
	"github.com/nexops/pvefleet/pkg/trace"
	"github.com/nexops/pvefleet/pkg/types"
)

// fakeAPI is a hand-rolled in-memory Proxmox API Client fake (no mocking
// framework, matching the teacher's test style).
type fakeAPI struct {
	mu       sync.Mutex
	guests   map[string]types.GuestDescriptor
	stopped  []string
	started  []string
	failList bool
}

func newFakeAPI(guests ...types.GuestDescriptor) *fakeAPI {
	m := make(map[string]types.GuestDescriptor, len(guests))
	for _, g := range guests {
		m[g.ID] = g
	}
	return &fakeAPI{guests: m}
}

func (f *fakeAPI) ListVMs(ctx context.Context) ([]types.GuestDescriptor, error) {
	if f.failList {
		return nil, fmt.Errorf("list vms failed")
	}
	var out []types.GuestDescriptor
	for _, g := range f.guests {
		if g.Kind == types.GuestKindVM {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListContainers(ctx context.Context) ([]types.GuestDescriptor, error) {
	var out []types.GuestDescriptor
	for _, g := range f.guests {
		if g.Kind == types.GuestKindContainer {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeAPI) GuestStatus(ctx context.Context, id string, kind types.GuestKind) (types.GuestDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guests[id], nil
}

func (f *fakeAPI) StopGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	g := f.guests[id]
	g.Status = types.GuestStatusStopped
	f.guests[id] = g
	return "graceful", nil
}

func (f *fakeAPI) StartGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	g := f.guests[id]
	g.Status = types.GuestStatusRunning
	f.guests[id] = g
	return nil
}

// fakeSession is a hand-rolled Remote Session fake recording every command
// it was asked to run.
type fakeSession struct {
	mu       sync.Mutex
	target   string
	commands []string
	osRelease string
	fail     map[string]bool
}

func newFakeSession(target, osRelease string) *fakeSession {
	return &fakeSession{target: target, osRelease: osRelease, fail: map[string]bool{}}
}

func (f *fakeSession) Run(ctx context.Context, command string) (session.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.fail[command] {
		return session.Result{ExitCode: 1, Stderr: "permission denied"}, nil
	}
	if command == "cat /etc/os-release" {
		return session.Result{ExitCode: 0, Stdout: f.osRelease}, nil
	}
	return session.Result{ExitCode: 0}, nil
}

func (f *fakeSession) Target() string { return f.target }
func (f *fakeSession) Close() error   { return nil }

func baseHostView(dryRun bool) types.EffectiveHostView {
	return types.EffectiveHostView{
		Name:              "pve-a",
		Host:              "10.0.0.1",
		DryRun:            dryRun,
		MaxParallel:       1,
		GuestParallel:     1,
		ShutdownDeadlineS: 5,
		RebootDeadlineS:   5,
		Policy:            types.GuestPolicy{ContinueOnFailure: true},
		SSH:               types.SSHProfile{User: "root"},
		Guest:             types.GuestCredentials{SSH: types.SSHProfile{User: "admin"}},
	}
}

func newTestWorkflow(host types.EffectiveHostView, api *fakeAPI, hv *fakeSession, guestSessions map[string]*fakeSession) *Workflow {
	tracer := trace.New()
	w := New(host, fakeSecretSource{}, tracer)
	w.DialAPI = func(ctx context.Context) (APIClient, error) { return api, nil }
	w.DialHypervisor = func(ctx context.Context) (session.Session, error) { return hv, nil }
	w.DialGuest = func(ctx context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error) {
		if s, ok := guestSessions[address]; ok {
			return s, nil
		}
		return newFakeSession(address, "ID=debian"), nil
	}
	w.ReachabilityProbe = func(ctx context.Context, address string) health.Result {
		return health.Result{Healthy: true}
	}
	return w
}

type fakeSecretSource struct{}

func (fakeSecretSource) Resolve(name types.SecretName) (string, error) { return "secret", nil }

func TestWorkflowHappyPath(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Name: "web1", Status: types.GuestStatusRunning}
	api := newFakeAPI(vm)
	hv := newFakeSession("hypervisor", "ID=debian")
	guest := newFakeSession("web1", "ID=debian")

	w := newTestWorkflow(baseHostView(false), api, hv, map[string]*fakeSession{"web1": guest})
	// Override reboot-wait: reuse the same hypervisor fake on redial.
	w.DialHypervisor = func(ctx context.Context) (session.Session, error) { return hv, nil }

	outcome := w.Run(context.Background())

	require.Equal(t, types.HostSucceeded, outcome.Final)
	assert.Equal(t, types.PhaseStatusOK, outcome.PhaseStatus[types.PhaseDone])
	assert.Contains(t, guest.commands, "apt-get update")
	assert.Contains(t, hv.commands, "reboot")
	assert.Equal(t, []string{"100"}, api.stopped)
	assert.Equal(t, []string{"100"}, api.started)
}

func TestWorkflowDryRunIssuesNoMutations(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Name: "web1", Status: types.GuestStatusRunning}
	stopped := types.GuestDescriptor{ID: "101", Kind: types.GuestKindVM, Name: "web2", Status: types.GuestStatusStopped}
	api := newFakeAPI(vm, stopped)
	hv := newFakeSession("hypervisor", "ID=debian")
	guest := newFakeSession("web1", "ID=debian")

	w := newTestWorkflow(baseHostView(true), api, hv, map[string]*fakeSession{"web1": guest})

	outcome := w.Run(context.Background())

	require.Equal(t, types.HostSucceeded, outcome.Final)
	for _, status := range outcome.PhaseStatus {
		if status != types.PhaseStatusOK {
			assert.Equal(t, types.PhaseStatusDryRan, status)
		}
	}
	assert.Empty(t, api.stopped, "dry-run must not stop any guest")
	assert.Empty(t, api.started, "dry-run must not start any guest")

	var outcome101 *types.GuestOutcome
	for i := range outcome.Guests {
		if outcome.Guests[i].ID == "101" {
			outcome101 = &outcome.Guests[i]
		}
	}
	require.NotNil(t, outcome101)
	assert.False(t, outcome101.Drained, "a guest already stopped is never listed as drained")
}

// TestWorkflowDryRunSucceedsThroughRealDryRunSession drives a dry-run host
// through session.DryRunSession, the wrapper production code actually dials
// into: it answers every command (including /etc/os-release detection) with
// an empty, zero-exit result. Without a dry-run short-circuit ahead of
// upgrader.DetectFamily/Upgrade, that misclassifies as FamilyUnknown and
// fails HOST_UPGRADE and every guest's GUEST_UPGRADE.
func TestWorkflowDryRunSucceedsThroughRealDryRunSession(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Name: "web1", Status: types.GuestStatusRunning}
	api := newFakeAPI(vm)
	hv := newFakeSession("hypervisor", "ID=debian")
	guest := newFakeSession("web1", "ID=debian")

	w := newTestWorkflow(baseHostView(true), api, hv, nil)
	w.DialHypervisor = func(ctx context.Context) (session.Session, error) {
		return session.NewDryRun(hv), nil
	}
	w.DialGuest = func(ctx context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error) {
		return session.NewDryRun(guest), nil
	}

	outcome := w.Run(context.Background())

	require.Equal(t, types.HostSucceeded, outcome.Final)
	for phase, status := range outcome.PhaseStatus {
		if status != types.PhaseStatusOK {
			assert.Equal(t, types.PhaseStatusDryRan, status, "phase %s", phase)
		}
	}
	require.Len(t, outcome.Guests, 1)
	assert.True(t, outcome.Guests[0].Upgraded)
	assert.Empty(t, outcome.Guests[0].UpgradeError)
	assert.Empty(t, guest.commands, "dry-run must never issue a command over the real session")
	assert.Empty(t, hv.commands, "dry-run must never issue a command over the real session")
}

func TestWorkflowPhaseOrdering(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Name: "web1", Status: types.GuestStatusRunning}
	api := newFakeAPI(vm)
	hv := newFakeSession("hypervisor", "ID=debian")
	guest := newFakeSession("web1", "ID=debian")

	tracer := trace.New()
	w := New(baseHostView(false), fakeSecretSource{}, tracer)
	w.DialAPI = func(ctx context.Context) (APIClient, error) { return api, nil }
	w.DialHypervisor = func(ctx context.Context) (session.Session, error) { return hv, nil }
	w.DialGuest = func(ctx context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error) {
		return guest, nil
	}
	w.ReachabilityProbe = func(ctx context.Context, address string) health.Result {
		return health.Result{Healthy: true}
	}

	w.Run(context.Background())

	history := tracer.ForHost("pve-a")
	indexOf := func(phase types.Phase) int {
		for i, tr := range history {
			if tr.Phase == phase {
				return i
			}
		}
		return -1
	}

	require.GreaterOrEqual(t, indexOf(types.PhaseDiscover), 0)
	assert.Less(t, indexOf(types.PhaseDiscover), indexOf(types.PhaseGuestUpgrade))
	assert.Less(t, indexOf(types.PhaseGuestUpgrade), indexOf(types.PhaseHostUpgrade))
	assert.Less(t, indexOf(types.PhaseHostUpgrade), indexOf(types.PhaseHostReboot))
	assert.Less(t, indexOf(types.PhaseHostReboot), indexOf(types.PhaseVerify))
	assert.Less(t, indexOf(types.PhaseVerify), indexOf(types.PhaseDone))
}

func TestWorkflowCancellationYieldsAborted(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Status: types.GuestStatusRunning}
	api := newFakeAPI(vm)
	hv := newFakeSession("hypervisor", "ID=debian")

	w := newTestWorkflow(baseHostView(false), api, hv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := w.Run(ctx)
	assert.Equal(t, types.HostAborted, outcome.Final)
}

// TestWorkflowGuestUpgradeRetriesAlternateCredentials exercises spec
// §4.2/§4.4's one-retry-on-permission-denied: a guest with its own
// inventory override fails its first upgrade attempt with a permission
// error, and is retried against the host-wide default credentials.
func TestWorkflowGuestUpgradeRetriesAlternateCredentials(t *testing.T) {
	vm := types.GuestDescriptor{ID: "100", Kind: types.GuestKindVM, Name: "web1", Status: types.GuestStatusRunning}
	api := newFakeAPI(vm)
	hv := newFakeSession("hypervisor", "ID=debian")

	overrideSession := newFakeSession("web1", "ID=debian")
	overrideSession.fail["apt-get -y upgrade"] = true

	fallbackSession := newFakeSession("web1", "ID=debian")

	host := baseHostView(false)
	host.GuestInventory = []types.GuestInventoryEntry{
		{
			Identifier: "100",
			Kind:       types.GuestKindVM,
			Managed:    true,
			Credentials: &types.GuestCredentials{
				SSH: types.SSHProfile{User: "override-user"},
			},
		},
	}

	dialCount := 0
	w := newTestWorkflow(host, api, hv, nil)
	w.DialGuest = func(ctx context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error) {
		dialCount++
		if creds.SSH.User == "override-user" {
			return overrideSession, nil
		}
		return fallbackSession, nil
	}

	outcome := w.Run(context.Background())

	require.Equal(t, types.HostSucceeded, outcome.Final)
	require.Len(t, outcome.Guests, 1)
	assert.True(t, outcome.Guests[0].Upgraded, "guest must succeed via the alternate-credential retry")
	assert.Empty(t, outcome.Guests[0].UpgradeError)
	assert.Contains(t, overrideSession.commands, "apt-get -y upgrade", "first attempt must use the guest's own override credentials")
	assert.Contains(t, fallbackSession.commands, "apt-get -y upgrade", "retry must use the host default credentials")
	assert.Equal(t, 2, dialCount, "exactly one retry dial against the alternate credentials")
}

func TestWorkflowPreflightFailureStopsEarly(t *testing.T) {
	api := newFakeAPI()
	api.failList = true
	hv := newFakeSession("hypervisor", "ID=debian")

	w := newTestWorkflow(baseHostView(false), api, hv, nil)
	outcome := w.Run(context.Background())

	assert.Equal(t, types.HostFailed, outcome.Final)
	assert.Equal(t, types.PhasePreflight, outcome.LastPhase)
}
