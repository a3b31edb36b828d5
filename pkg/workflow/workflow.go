package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/health"
	"github.com/nexops/pvefleet/pkg/log"
	"github.com/nexops/pvefleet/pkg/metrics"
	"github.com/nexops/pvefleet/pkg/proxmox"
	"github.com/nexops/pvefleet/pkg/secrets"
	"github.com/nexops/pvefleet/pkg/session"
	"github.com/nexops/pvefleet/pkg/trace"
	"github.com/nexops/pvefleet/pkg/types"
	"github.com/nexops/pvefleet/pkg/upgrader"
)

// APIClient is the subset of pkg/proxmox.Client a workflow needs. Declared
// here, satisfied by *proxmox.Client, so tests can drive a workflow
// against a hand-rolled fake without touching a real Proxmox API.
type APIClient interface {
	ListVMs(ctx context.Context) ([]types.GuestDescriptor, error)
	ListContainers(ctx context.Context) ([]types.GuestDescriptor, error)
	GuestStatus(ctx context.Context, id string, kind types.GuestKind) (types.GuestDescriptor, error)
	StopGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) (string, error)
	StartGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) error
}

// Workflow runs the maintenance state machine for one host. The Dial*
// fields are overridable before calling Run, which is how tests substitute
// fakes for the real API client and SSH transport.
type Workflow struct {
	Host    types.EffectiveHostView
	Secrets secrets.Source
	Tracer  *trace.Tracer

	DialAPI        func(ctx context.Context) (APIClient, error)
	DialHypervisor func(ctx context.Context) (session.Session, error)
	DialGuest      func(ctx context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error)

	// ReachabilityProbe gates the HOST_REBOOT SSH dial on a cheap TCP
	// handshake against sshd first. Defaults to a real health.TCPChecker;
	// tests substitute a fake so the reboot-wait poll never touches a
	// real socket.
	ReachabilityProbe func(ctx context.Context, address string) health.Result

	api        APIClient
	hypervisor session.Session
	runID      string

	guests        []types.GuestDescriptor
	preRunStatus  map[string]types.GuestStatus
	guestOutcomes map[string]*types.GuestOutcome
}

// New builds a Workflow wired to real SSH and a real Proxmox API client,
// deferring any dialing until Run is called.
func New(host types.EffectiveHostView, src secrets.Source, tracer *trace.Tracer) *Workflow {
	w := &Workflow{Host: host, Secrets: src, Tracer: tracer}
	w.DialAPI = w.defaultDialAPI
	w.DialHypervisor = w.defaultDialHypervisor
	w.DialGuest = w.defaultDialGuest
	w.ReachabilityProbe = defaultReachabilityProbe
	return w
}

func defaultReachabilityProbe(ctx context.Context, address string) health.Result {
	return health.NewTCPChecker(address).WithTimeout(2 * time.Second).Check(ctx)
}

func (w *Workflow) defaultDialAPI(ctx context.Context) (APIClient, error) {
	tokenID := w.Host.API.TokenID
	if tokenID == "" {
		var err error
		tokenID, err = w.Secrets.Resolve(w.Host.API.TokenIDEnv)
		if err != nil {
			return nil, err
		}
	}
	tokenSecret, err := w.Secrets.Resolve(w.Host.API.TokenSecretEnv)
	if err != nil {
		return nil, err
	}

	baseURL := fmt.Sprintf("https://%s:8006", w.Host.Host)
	return proxmox.New(ctx, baseURL, w.Host.API, tokenID, tokenSecret)
}

func (w *Workflow) defaultDialHypervisor(ctx context.Context) (session.Session, error) {
	address := fmt.Sprintf("%s:22", w.Host.Host)
	sess, err := session.DialHypervisor(ctx, address, w.Host.SSH)
	if err != nil {
		return nil, err
	}
	if w.Host.DryRun {
		return session.NewDryRun(sess), nil
	}
	return sess, nil
}

func (w *Workflow) defaultDialGuest(_ context.Context, hypervisor session.Session, address string, creds types.GuestCredentials) (session.Session, error) {
	sess := session.NewViaHypervisor(hypervisor, address, creds)
	if w.Host.DryRun {
		return session.NewDryRun(sess), nil
	}
	return sess, nil
}

type phaseStep struct {
	phase types.Phase
	run   func(context.Context) error
}

// Run drives the host through every phase in order, returning the final
// Run Outcome. It never panics on a phase error — every failure is
// recorded in the outcome instead.
func (w *Workflow) Run(ctx context.Context) types.RunOutcome {
	timer := metrics.NewTimer()
	logger := log.WithHost(w.Host.Name)

	w.runID = uuid.NewString()
	outcome := types.RunOutcome{
		RunID:       w.runID,
		Host:        w.Host.Name,
		PhaseStatus: map[types.Phase]types.PhaseStatus{},
	}

	w.preRunStatus = map[string]types.GuestStatus{}
	w.guestOutcomes = map[string]*types.GuestOutcome{}

	steps := []phaseStep{
		{types.PhaseInit, w.runInit},
		{types.PhasePreflight, w.runPreflight},
		{types.PhaseDiscover, w.runDiscover},
		{types.PhaseGuestUpgrade, w.runGuestUpgrade},
		{types.PhaseGuestDrain, w.runGuestDrain},
		{types.PhaseHostUpgrade, w.runHostUpgrade},
		{types.PhaseHostReboot, w.runHostReboot},
		{types.PhaseVerify, w.runVerify},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			w.emit(step.phase, types.PhaseStatusSkipped, err.Error())
			outcome.LastPhase = step.phase
			w.finalizeOnStop(&outcome, err)
			break
		}

		phaseTimer := metrics.NewTimer()
		err := step.run(ctx)
		phaseTimer.ObserveDurationVec(metrics.PhaseDuration, string(step.phase))

		status := types.PhaseStatusOK
		if w.Host.DryRun {
			status = types.PhaseStatusDryRan
		}
		if err != nil {
			status = types.PhaseStatusFailed
		}
		outcome.PhaseStatus[step.phase] = status
		outcome.LastPhase = step.phase
		metrics.PhaseResultsTotal.WithLabelValues(string(step.phase), string(status)).Inc()

		if err != nil {
			detail := err.Error()
			w.emit(step.phase, status, detail)
			logger.Error().Err(err).Str("phase", string(step.phase)).Str("run_id", w.runID).Msg("phase failed")
			w.finalizeOnStop(&outcome, err)
			break
		}
		w.emit(step.phase, status, "")
	}

	if outcome.Final == "" {
		outcome.Final = types.HostSucceeded
		outcome.Guests = w.finalGuestOutcomes()
		for _, g := range outcome.Guests {
			if g.UpgradeError != "" || g.VerifyError != "" {
				outcome.Final = types.HostSucceededWithWarnings
			}
		}
		outcome.PhaseStatus[types.PhaseDone] = types.PhaseStatusOK
		outcome.LastPhase = types.PhaseDone
		w.emit(types.PhaseDone, types.PhaseStatusOK, "")
	}

	w.closeTransports()
	outcome.Duration = timer.Duration()
	metrics.RunDuration.Observe(outcome.Duration.Seconds())
	metrics.HostsTotal.WithLabelValues(string(outcome.Final)).Inc()
	return outcome
}

// finalizeOnStop classifies a phase-terminating error into FAILED or
// ABORTED, per spec §4.5's "any state on fatal error / on cancellation"
// side exits.
func (w *Workflow) finalizeOnStop(outcome *types.RunOutcome, err error) {
	outcome.Guests = w.finalGuestOutcomes()
	if errors.Is(err, context.Canceled) {
		outcome.Final = types.HostAborted
		w.emit(types.PhaseAborted, types.PhaseStatusOK, err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ferrors.ErrHostDeadlineExceeded, err)
	}
	outcome.Final = types.HostFailed
	outcome.ErrorSummary = err.Error()
	w.emit(types.PhaseFailed, types.PhaseStatusOK, err.Error())
}

func (w *Workflow) finalGuestOutcomes() []types.GuestOutcome {
	out := make([]types.GuestOutcome, 0, len(w.guests))
	for _, g := range w.guests {
		if o, ok := w.guestOutcomes[g.ID]; ok {
			out = append(out, *o)
		}
	}
	return out
}

func (w *Workflow) emit(phase types.Phase, status types.PhaseStatus, detail string) {
	if w.Tracer == nil {
		return
	}
	w.Tracer.Record(trace.Transition{
		RunID:  w.runID,
		Host:   w.Host.Name,
		Phase:  phase,
		Status: status,
		Detail: detail,
	})
}

func (w *Workflow) closeTransports() {
	if w.hypervisor != nil {
		_ = w.hypervisor.Close()
	}
}

// runInit opens the Proxmox API client and the hypervisor's Remote
// Session (spec §4.5 INIT).
func (w *Workflow) runInit(ctx context.Context) error {
	api, err := w.DialAPI(ctx)
	if err != nil {
		return fmt.Errorf("open api client: %w", err)
	}
	w.api = api

	hv, err := w.DialHypervisor(ctx)
	if err != nil {
		return fmt.Errorf("open hypervisor session: %w", err)
	}
	w.hypervisor = hv
	return nil
}

// runPreflight checks API and SSH reachability (spec §4.5 PREFLIGHT).
func (w *Workflow) runPreflight(ctx context.Context) error {
	if _, err := w.api.ListVMs(ctx); err != nil {
		return fmt.Errorf("%w: list_vms: %v", ferrors.ErrPreflightFailed, err)
	}
	if _, err := w.api.ListContainers(ctx); err != nil {
		return fmt.Errorf("%w: list_containers: %v", ferrors.ErrPreflightFailed, err)
	}
	result, err := w.hypervisor.Run(ctx, "true")
	if err != nil {
		return fmt.Errorf("%w: ssh probe: %v", ferrors.ErrPreflightFailed, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: ssh probe exited %d", ferrors.ErrPreflightFailed, result.ExitCode)
	}
	return nil
}

// runDiscover materializes the guest set and intersects it with the
// manifest's guest inventory (spec §4.5 DISCOVER).
func (w *Workflow) runDiscover(ctx context.Context) error {
	vms, err := w.api.ListVMs(ctx)
	if err != nil {
		return err
	}
	containers, err := w.api.ListContainers(ctx)
	if err != nil {
		return err
	}

	inventory := indexInventory(w.Host.GuestInventory)

	all := make([]types.GuestDescriptor, 0, len(vms)+len(containers))
	all = append(all, vms...)
	all = append(all, containers...)

	guests := make([]types.GuestDescriptor, 0, len(all))
	for _, g := range all {
		if entry, ok := inventory[g.ID]; ok {
			g.Managed = entry.Managed
		} else {
			g.Managed = true
		}
		guests = append(guests, g)
		w.preRunStatus[g.ID] = g.Status
		w.guestOutcomes[g.ID] = &types.GuestOutcome{ID: g.ID, Kind: g.Kind}
	}

	w.guests = guests
	return nil
}

func indexInventory(entries []types.GuestInventoryEntry) map[string]types.GuestInventoryEntry {
	out := make(map[string]types.GuestInventoryEntry, len(entries))
	for _, e := range entries {
		out[e.Identifier] = e
	}
	return out
}

// runGuestUpgrade upgrades every managed, currently-running guest through
// a bounded worker pool sized by GuestParallel (spec §4.5 GUEST_UPGRADE,
// §5 concurrency model).
func (w *Workflow) runGuestUpgrade(ctx context.Context) error {
	inventory := indexInventory(w.Host.GuestInventory)
	sem := semaphore.NewWeighted(int64(w.Host.GuestParallel))
	group, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex

	for _, guest := range w.guests {
		guest := guest
		if !guest.Managed || guest.Status != types.GuestStatusRunning {
			continue
		}

		// The alternate credential set spec §4.4's one-retry-on-permission-
		// denied uses: when a guest has its own inventory override, the
		// host-wide default is the fallback; a guest using the host
		// default already has no further fallback to try.
		creds := w.Host.Guest
		var altCreds *types.GuestCredentials
		if entry, ok := inventory[guest.ID]; ok && entry.Credentials != nil {
			creds = *entry.Credentials
			hostDefault := w.Host.Guest
			altCreds = &hostDefault
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)

			outcome := w.upgradeGuest(gctx, guest, creds, altCreds)

			mu.Lock()
			w.guestOutcomes[guest.ID] = &outcome
			mu.Unlock()

			if outcome.UpgradeError != "" && !w.Host.Policy.ContinueOnFailure {
				return fmt.Errorf("guest %s: %s", guest.ID, outcome.UpgradeError)
			}
			return nil
		})
	}

	return group.Wait()
}

func (w *Workflow) upgradeGuest(ctx context.Context, guest types.GuestDescriptor, creds types.GuestCredentials, altCreds *types.GuestCredentials) types.GuestOutcome {
	outcome := types.GuestOutcome{ID: guest.ID, Kind: guest.Kind}

	// Dry-run never dials the guest for real: a DryRunSession answers every
	// command (including /etc/os-release detection) with an empty, zero-exit
	// result, which would misclassify as FamilyUnknown and fail the upgrade.
	if w.Host.DryRun {
		outcome.Upgraded = true
		return outcome
	}

	address := guestAddress(guest)
	sess, err := w.DialGuest(ctx, w.hypervisor, address, creds)
	if err != nil {
		outcome.UpgradeError = err.Error()
		return outcome
	}
	defer sess.Close()

	altDial := func(context.Context) (session.Session, error) {
		return nil, fmt.Errorf("no alternate credentials configured for guest %s", guest.ID)
	}
	if altCreds != nil {
		altDial = func(ctx context.Context) (session.Session, error) {
			return w.DialGuest(ctx, w.hypervisor, address, *altCreds)
		}
	}

	if err := upgrader.Upgrade(ctx, sess, altDial); err != nil {
		outcome.UpgradeError = err.Error()
		return outcome
	}
	outcome.Upgraded = true
	return outcome
}

// guestAddress picks the address a Remote Session dials to reach a guest:
// its last-known IP when the API reported one, otherwise its Proxmox
// name, on the assumption that guest hostnames resolve within the
// hypervisor's network (see DESIGN.md).
func guestAddress(guest types.GuestDescriptor) string {
	if len(guest.IPAddresses) > 0 {
		return guest.IPAddresses[0]
	}
	return guest.Name
}

// runGuestDrain stops every managed guest that was running at DISCOVER
// time (spec §4.5 GUEST_DRAIN). A drain failure is fatal to the host: a
// guest left running into HOST_UPGRADE would corrupt the upgrade.
func (w *Workflow) runGuestDrain(ctx context.Context) error {
	for _, guest := range w.guests {
		if !guest.Managed || w.preRunStatus[guest.ID] != types.GuestStatusRunning {
			continue
		}

		outcome := w.guestOutcomes[guest.ID]

		if w.Host.DryRun {
			outcome.Drained = true
			outcome.DrainedVia = "dry-run"
			continue
		}

		deadline := time.Duration(w.Host.ShutdownDeadlineS) * time.Second
		via, err := w.api.StopGuest(ctx, guest.ID, guest.Kind, deadline)
		if err != nil {
			return fmt.Errorf("drain guest %s: %w", guest.ID, err)
		}
		metrics.GuestsDrainedTotal.WithLabelValues(via).Inc()

		outcome.Drained = true
		outcome.DrainedVia = via
	}
	return nil
}

// runHostUpgrade runs the hypervisor's own OS upgrade using the upgrader
// family table (spec §4.5 HOST_UPGRADE). Dry-run never dials /etc/os-release
// for real (a DryRunSession answers every command with an empty, successful
// result, which would misclassify as FamilyUnknown and fail the upgrade) so
// it short-circuits before detection.
func (w *Workflow) runHostUpgrade(ctx context.Context) error {
	if w.Host.DryRun {
		return nil
	}

	family, err := upgrader.DetectFamily(ctx, w.hypervisor)
	if err != nil {
		return err
	}
	return upgrader.Run(ctx, w.hypervisor, family)
}

// runHostReboot issues a reboot and waits for the hypervisor to become
// reachable again via SSH and the API (spec §4.5 HOST_REBOOT).
func (w *Workflow) runHostReboot(ctx context.Context) error {
	_, _ = w.hypervisor.Run(ctx, "reboot")

	if w.Host.DryRun {
		return nil
	}

	w.closeTransports()
	w.hypervisor = nil

	checker := &rebootChecker{workflow: w}
	cfg := pollConfig()
	deadline := time.Duration(w.Host.RebootDeadlineS) * time.Second

	if err := pollUntilHealthy(ctx, checker, cfg, deadline); err != nil {
		return fmt.Errorf("%w: %v", ferrors.ErrHostDeadlineExceeded, err)
	}
	return nil
}

// runVerify restarts every guest that was running at DISCOVER time and
// waits for it to report running again (spec §4.5 VERIFY). Per-guest
// failures are recorded as warnings, not phase failures — VERIFY always
// completes once every restart has been attempted.
func (w *Workflow) runVerify(ctx context.Context) error {
	deadline := 180 * time.Second

	for _, guest := range w.guests {
		if w.preRunStatus[guest.ID] != types.GuestStatusRunning {
			continue
		}
		outcome := w.guestOutcomes[guest.ID]

		if w.Host.DryRun {
			outcome.Restarted = true
			continue
		}

		if err := w.api.StartGuest(ctx, guest.ID, guest.Kind, deadline); err != nil {
			outcome.VerifyError = err.Error()
			continue
		}
		outcome.Restarted = true

		checker := &guestStatusChecker{api: w.api, id: guest.ID, kind: guest.Kind}
		if err := pollUntilHealthy(ctx, checker, pollConfig(), deadline); err != nil {
			outcome.VerifyError = err.Error()
			continue
		}
		outcome.VerifiedAt = time.Now()
	}
	return nil
}
