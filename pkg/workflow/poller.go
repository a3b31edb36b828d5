package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/nexops/pvefleet/pkg/health"
	"github.com/nexops/pvefleet/pkg/session"
	"github.com/nexops/pvefleet/pkg/types"
)

// pollConfig is the interval/retry policy shared by both reachability
// polls in the workflow. A single successful check is enough to flip
// health.Status healthy (see health.Status.Update); Retries only bounds
// how many consecutive failures this package tolerates before giving up
// early is irrelevant here since the deadline, not a failure count,
// governs when pollUntilHealthy gives up.
func pollConfig() health.Config {
	return health.Config{Interval: 5 * time.Second, Retries: 1}
}

// pollUntilHealthy polls checker until it reports healthy, ctx is
// cancelled, or deadline elapses.
func pollUntilHealthy(ctx context.Context, checker health.Checker, cfg health.Config, deadline time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	status := &health.Status{Healthy: false, StartedAt: time.Now()}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		result := checker.Check(deadlineCtx)
		status.Update(result, cfg)
		if status.Healthy {
			return nil
		}

		select {
		case <-ticker.C:
			continue
		case <-deadlineCtx.Done():
			return deadlineCtx.Err()
		}
	}
}

// rebootChecker polls for the hypervisor becoming reachable again after a
// reboot: a fresh SSH dial plus one successful API call (spec §4.5
// HOST_REBOOT). On success it replaces the workflow's hypervisor session
// with the freshly dialed one.
type rebootChecker struct {
	workflow *Workflow
}

func (c *rebootChecker) Check(ctx context.Context) health.Result {
	start := time.Now()

	// Cheap TCP handshake against sshd before paying for a full SSH dial
	// and key exchange — most polls during a reboot window fail here.
	address := fmt.Sprintf("%s:22", c.workflow.Host.Host)
	if tcpResult := c.workflow.ReachabilityProbe(ctx, address); !tcpResult.Healthy {
		return health.Result{Healthy: false, Message: tcpResult.Message, CheckedAt: time.Now(), Duration: time.Since(start)}
	}

	sess, err := c.workflow.DialHypervisor(ctx)
	if err != nil {
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: time.Now(), Duration: time.Since(start)}
	}

	probe := health.NewExecChecker(session.AsRunner(sess)).WithTimeout(10 * time.Second)
	if result := probe.Check(ctx); !result.Healthy {
		sess.Close()
		return health.Result{Healthy: false, Message: result.Message, CheckedAt: time.Now(), Duration: time.Since(start)}
	}

	if _, err := c.workflow.api.ListVMs(ctx); err != nil {
		sess.Close()
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: time.Now(), Duration: time.Since(start)}
	}

	c.workflow.hypervisor = sess
	return health.Result{Healthy: true, CheckedAt: time.Now(), Duration: time.Since(start)}
}

func (c *rebootChecker) Type() health.CheckType {
	return health.CheckTypeExec
}

// guestStatusChecker polls a single guest's API-reported status until it
// reports running (spec §4.5 VERIFY).
type guestStatusChecker struct {
	api  APIClient
	id   string
	kind types.GuestKind
}

func (c *guestStatusChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	status, err := c.api.GuestStatus(ctx, c.id, c.kind)
	if err != nil {
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: time.Now(), Duration: time.Since(start)}
	}
	return health.Result{
		Healthy:   status.Status == types.GuestStatusRunning,
		CheckedAt: time.Now(),
		Duration:  time.Since(start),
	}
}

func (c *guestStatusChecker) Type() health.CheckType {
	return health.CheckTypeExec
}
