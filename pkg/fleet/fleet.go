package fleet

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexops/pvefleet/pkg/manifest"
	"github.com/nexops/pvefleet/pkg/metrics"
	"github.com/nexops/pvefleet/pkg/secrets"
	"github.com/nexops/pvefleet/pkg/trace"
	"github.com/nexops/pvefleet/pkg/types"
	"github.com/nexops/pvefleet/pkg/workflow"
)

// defaultCap bounds the worker pool regardless of manifest or CLI
// settings — scheduler.cap in spec §4.7's sizing formula.
const defaultCap = 16

const defaultPerHostTimeout = 3600 * time.Second

// Runner is whatever drives one host's maintenance run to a RunOutcome.
// Satisfied by *pkg/workflow.Workflow; an interface here so tests can
// substitute a fake without dialing SSH or the Proxmox API.
type Runner interface {
	Run(ctx context.Context) types.RunOutcome
}

// RunOptions parameterizes one Fleet Scheduler invocation (spec §4.7's
// "host filter, global overrides").
type RunOptions struct {
	// Hosts restricts the run to these names, in manifest order. Empty
	// means every declared host.
	Hosts []string

	// DryRunOverride, when non-nil, forces every selected host's
	// EffectiveHostView.DryRun to this value regardless of the manifest.
	DryRunOverride *bool

	// MaxParallelOverride, when non-nil, replaces the manifest's
	// defaults.max_parallel for this run's pool-sizing formula.
	MaxParallelOverride *int

	// PerHostTimeout bounds a single host's entire workflow. Zero means
	// the spec's 3600s default.
	PerHostTimeout time.Duration
}

// Result is the aggregated outcome of one Fleet Scheduler run.
type Result struct {
	Outcomes  []types.RunOutcome
	Cancelled bool
}

// ExitCode derives the process exit status from the aggregated outcomes,
// per spec §4.7's table.
func (r Result) ExitCode() int {
	if r.Cancelled {
		return 130
	}
	if len(r.Outcomes) == 0 {
		return 3
	}

	anySucceeded := false
	anyFailed := false
	allSkipped := true

	for _, o := range r.Outcomes {
		if o.Succeeded() {
			anySucceeded = true
		}
		if o.Final == types.HostFailed {
			anyFailed = true
		}
		if o.Final != types.HostSkipped {
			allSkipped = false
		}
	}

	switch {
	case anyFailed:
		return 2
	case allSkipped:
		return 3
	case anySucceeded:
		return 0
	default:
		return 2
	}
}

// Scheduler drives the Host Workflow across a Manifest's hosts with
// bounded parallelism (spec §4.7).
type Scheduler struct {
	Manifest *manifest.Manifest
	Secrets  secrets.Source
	Tracer   *trace.Tracer
	Cap      int

	// NewWorkflow constructs the Runner for one host. Overridable in
	// tests; defaults to wrapping pkg/workflow.New.
	NewWorkflow func(host types.EffectiveHostView) Runner
}

// New returns a Scheduler wired to real Host Workflows.
func New(m *manifest.Manifest, src secrets.Source, tracer *trace.Tracer) *Scheduler {
	s := &Scheduler{Manifest: m, Secrets: src, Tracer: tracer, Cap: defaultCap}
	s.NewWorkflow = func(host types.EffectiveHostView) Runner {
		return workflow.New(host, src, tracer)
	}
	return s
}

// Run selects hosts, resolves secrets, and dispatches one workflow per
// selected host through a semaphore-bounded pool.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) Result {
	names := s.selectHosts(opts.Hosts)

	var toRun []types.EffectiveHostView
	var outcomes []types.RunOutcome

	for _, name := range names {
		view, err := s.Manifest.Effective(name)
		if err != nil {
			outcomes = append(outcomes, types.RunOutcome{
				Host:         name,
				Final:        types.HostFailed,
				ErrorSummary: err.Error(),
			})
			continue
		}

		if opts.DryRunOverride != nil {
			view.DryRun = *opts.DryRunOverride
		}

		if err := s.resolveSecrets(view); err != nil {
			outcomes = append(outcomes, types.RunOutcome{
				Host:         name,
				Final:        types.HostSkipped,
				ErrorSummary: err.Error(),
			})
			continue
		}

		toRun = append(toRun, view)
	}

	poolSize := s.poolSize(opts, len(toRun))
	if poolSize < 1 {
		cancelled := ctx.Err() != nil
		return Result{Outcomes: outcomes, Cancelled: cancelled}
	}

	sem := semaphore.NewWeighted(int64(poolSize))
	group, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	perHostTimeout := opts.PerHostTimeout
	if perHostTimeout <= 0 {
		perHostTimeout = defaultPerHostTimeout
	}

	for _, view := range toRun {
		view := view
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)

			metrics.ConcurrentHosts.Inc()
			defer metrics.ConcurrentHosts.Dec()

			hostCtx, cancel := context.WithTimeout(gctx, perHostTimeout)
			defer cancel()

			runner := s.NewWorkflow(view)
			outcome := runner.Run(hostCtx)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}

	// A single host's failure is recorded in its own RunOutcome and never
	// propagated here (spec §4.7: "the scheduler never re-raises a single
	// host's failure as the process's failure — it aggregates").
	_ = group.Wait()

	return Result{Outcomes: outcomes, Cancelled: ctx.Err() != nil}
}

func (s *Scheduler) poolSize(opts RunOptions, nHosts int) int {
	size := s.Manifest.Defaults.MaxParallel
	if opts.MaxParallelOverride != nil {
		size = *opts.MaxParallelOverride
	}
	if size < 1 {
		size = 1
	}

	poolCap := s.Cap
	if poolCap <= 0 {
		poolCap = defaultCap
	}
	if size > poolCap {
		size = poolCap
	}
	if size > nHosts {
		size = nHosts
	}
	return size
}

func (s *Scheduler) selectHosts(filter []string) []string {
	all := s.Manifest.HostNames()
	if len(filter) == 0 {
		return all
	}

	requested := make(map[string]bool, len(filter))
	for _, f := range filter {
		requested[f] = true
	}

	known := make(map[string]bool, len(all))
	var out []string
	for _, n := range all {
		known[n] = true
		if requested[n] {
			out = append(out, n)
		}
	}

	// A requested name absent from the manifest still surfaces, as an
	// explicit per-host failure, rather than silently vanishing.
	for _, f := range filter {
		if !known[f] {
			out = append(out, f)
		}
	}
	return out
}

// resolveSecrets resolves every Secret Name an Effective Host View
// references, without retaining any resolved value past this call (spec
// §4.7 preflight, Testable Property 2).
func (s *Scheduler) resolveSecrets(view types.EffectiveHostView) error {
	var names []types.SecretName

	if view.API.TokenID == "" && view.API.TokenIDEnv != "" {
		names = append(names, view.API.TokenIDEnv)
	}
	if view.API.TokenSecretEnv != "" {
		names = append(names, view.API.TokenSecretEnv)
	}
	if view.Guest.PasswordEnv != "" {
		names = append(names, view.Guest.PasswordEnv)
	}
	for _, g := range view.GuestInventory {
		if g.Credentials != nil && g.Credentials.PasswordEnv != "" {
			names = append(names, g.Credentials.PasswordEnv)
		}
	}

	for _, name := range names {
		if _, err := s.Secrets.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}
