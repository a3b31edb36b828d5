package proxmox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goproxmox "github.com/luthermonson/go-proxmox"
	"github.com/rs/zerolog"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/log"
	"github.com/nexops/pvefleet/pkg/metrics"
	"github.com/nexops/pvefleet/pkg/types"
)

// httpStatusError is satisfied by go-proxmox's internal HTTP error type,
// which carries the response status code. Declared locally so this
// package depends only on the shape it needs, not the concrete type.
type httpStatusError interface {
	error
	StatusCode() int
}

// Client is a typed, retrying wrapper over the Proxmox VE REST API for the
// subset of operations a host workflow needs (spec §4.3).
type Client struct {
	upstream *goproxmox.Client
	node     string
	logger   zerolog.Logger
}

// New authenticates against a Proxmox node using a token pair and returns
// a Client scoped to that node.
func New(ctx context.Context, baseURL string, creds types.APICredentials, tokenID, tokenSecret string) (*Client, error) {
	opts := []goproxmox.Option{
		goproxmox.WithAPIToken(tokenID, tokenSecret),
	}
	if !creds.VerifyTLS {
		opts = append(opts, goproxmox.WithHTTPClient(insecureHTTPClient()))
	}

	upstream := goproxmox.NewClient(baseURL, opts...)
	if _, err := upstream.Version(ctx); err != nil {
		return nil, classify(err, "authenticate")
	}

	return &Client{
		upstream: upstream,
		node:     creds.Node,
		logger:   log.WithComponent("proxmox"),
	}, nil
}

func insecureHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// ListVMs enumerates every QEMU VM on the client's node.
func (c *Client) ListVMs(ctx context.Context) ([]types.GuestDescriptor, error) {
	var out []types.GuestDescriptor
	err := c.call(ctx, "list_vms", func() error {
		node, err := c.upstream.Node(ctx, c.node)
		if err != nil {
			return classify(err, "list_vms")
		}
		vms, err := node.VirtualMachines(ctx)
		if err != nil {
			return classify(err, "list_vms")
		}
		out = make([]types.GuestDescriptor, 0, len(vms))
		for _, vm := range vms {
			out = append(out, vmDescriptor(vm))
		}
		return nil
	})
	return out, err
}

// ListContainers enumerates every LXC container on the client's node.
func (c *Client) ListContainers(ctx context.Context) ([]types.GuestDescriptor, error) {
	var out []types.GuestDescriptor
	err := c.call(ctx, "list_containers", func() error {
		node, err := c.upstream.Node(ctx, c.node)
		if err != nil {
			return classify(err, "list_containers")
		}
		cts, err := node.Containers(ctx)
		if err != nil {
			return classify(err, "list_containers")
		}
		out = make([]types.GuestDescriptor, 0, len(cts))
		for _, ct := range cts {
			out = append(out, containerDescriptor(ct))
		}
		return nil
	})
	return out, err
}

// GuestStatus looks up the current status of one guest by id and kind.
func (c *Client) GuestStatus(ctx context.Context, id string, kind types.GuestKind) (types.GuestDescriptor, error) {
	var out types.GuestDescriptor
	err := c.call(ctx, "guest_status", func() error {
		node, err := c.upstream.Node(ctx, c.node)
		if err != nil {
			return classify(err, "guest_status")
		}
		switch kind {
		case types.GuestKindVM:
			vm, err := node.VirtualMachine(ctx, mustAtoi(id))
			if err != nil {
				return classifyNotFound(err, "guest_status")
			}
			out = vmDescriptor(vm)
		case types.GuestKindContainer:
			ct, err := node.Container(ctx, mustAtoi(id))
			if err != nil {
				return classifyNotFound(err, "guest_status")
			}
			out = containerDescriptor(ct)
		}
		return nil
	})
	return out, err
}

// StopGuest implements the shutdown-ordering policy of spec §4.3: request
// a graceful shutdown, wait up to deadline, escalate to a forced stop if
// the guest is still running once the deadline elapses.
func (c *Client) StopGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) (drainedVia string, err error) {
	node, err := c.upstream.Node(ctx, c.node)
	if err != nil {
		return "", classify(err, "stop_guest")
	}

	var task *goproxmox.Task
	err = c.call(ctx, "stop_guest_graceful", func() error {
		var e error
		task, e = shutdownTask(ctx, node, id, kind)
		return classify(e, "stop_guest_graceful")
	})
	if err != nil {
		return "", err
	}

	if task != nil {
		waitErr := c.waitTask(ctx, task.UPID, deadline)
		if waitErr == nil {
			return "graceful", nil
		}
		c.logger.Warn().Str("guest_id", id).Dur("deadline", deadline).Msg("graceful shutdown deadline exceeded, forcing stop")
	}

	var forceTask *goproxmox.Task
	err = c.call(ctx, "stop_guest_force", func() error {
		var e error
		forceTask, e = stopTask(ctx, node, id, kind)
		return classify(e, "stop_guest_force")
	})
	if err != nil {
		return "", err
	}
	if forceTask != nil {
		if err := c.waitTask(ctx, forceTask.UPID, deadline); err != nil {
			return "force", err
		}
	}
	return "force", nil
}

// StartGuest issues a start transition and waits for the task to finish.
func (c *Client) StartGuest(ctx context.Context, id string, kind types.GuestKind, deadline time.Duration) error {
	node, err := c.upstream.Node(ctx, c.node)
	if err != nil {
		return classify(err, "start_guest")
	}

	var task *goproxmox.Task
	err = c.call(ctx, "start_guest", func() error {
		var e error
		task, e = startTask(ctx, node, id, kind)
		return classify(e, "start_guest")
	})
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	return c.waitTask(ctx, task.UPID, deadline)
}

// waitTask polls the task's status by UPID until it completes, fails, or
// deadline elapses.
func (c *Client) waitTask(ctx context.Context, upid string, deadline time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		task, err := c.upstream.Task(deadlineCtx, goproxmox.UPID(upid))
		if err != nil {
			return classify(err, "wait_task")
		}
		if task.IsFailed {
			return fmt.Errorf("task %s: %s: %w", upid, task.ExitStatus, ferrors.ErrTaskFailed)
		}
		if task.IsSuccessful {
			return nil
		}

		select {
		case <-ticker.C:
			continue
		case <-deadlineCtx.Done():
			return fmt.Errorf("task %s: %w", upid, ferrors.ErrTimeout)
		}
	}
}

// call wraps op with the retry policy and records API metrics.
func (c *Client) call(ctx context.Context, operation string, op func() error) error {
	timer := metrics.NewTimer()
	err := withRetryMetrics(ctx, operation, op)
	timer.ObserveDurationVec(metrics.APIRequestDuration, operation)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.APIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	return err
}

func withRetryMetrics(ctx context.Context, operation string, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		if attempt > 1 {
			metrics.APIRetriesTotal.WithLabelValues(operation).Inc()
		}
		return op()
	}
	return withRetry(ctx, wrapped)
}

func retryable(err error) bool {
	return ferrors.Retryable(err)
}

// classify maps a go-proxmox error into this package's conceptual error
// taxonomy so callers can use errors.Is without depending on the
// upstream library's error types.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", operation, ferrors.ErrAuthFailed)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", operation, ferrors.ErrNodeUnknown)
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%s: %w", operation, ferrors.ErrTransport)
		}
	}
	return fmt.Errorf("%s: %w: %v", operation, ferrors.ErrTransport, err)
}

func classifyNotFound(err error, operation string) error {
	if err == nil {
		return nil
	}
	wrapped := classify(err, operation)
	if errors.Is(wrapped, ferrors.ErrNodeUnknown) {
		return fmt.Errorf("%s: %w", operation, ferrors.ErrGuestUnknown)
	}
	return wrapped
}

func vmDescriptor(vm *goproxmox.VirtualMachine) types.GuestDescriptor {
	return types.GuestDescriptor{
		ID:     fmt.Sprintf("%d", vm.VMID),
		Kind:   types.GuestKindVM,
		Name:   vm.Name,
		Status: guestStatus(vm.Status),
	}
}

func containerDescriptor(ct *goproxmox.Container) types.GuestDescriptor {
	return types.GuestDescriptor{
		ID:     fmt.Sprintf("%d", ct.VMID),
		Kind:   types.GuestKindContainer,
		Name:   ct.Name,
		Status: guestStatus(ct.Status),
	}
}

func guestStatus(raw string) types.GuestStatus {
	switch raw {
	case "running":
		return types.GuestStatusRunning
	case "stopped":
		return types.GuestStatusStopped
	case "paused", "suspended":
		return types.GuestStatusPaused
	default:
		return types.GuestStatusUnknown
	}
}

func shutdownTask(ctx context.Context, node *goproxmox.Node, id string, kind types.GuestKind) (*goproxmox.Task, error) {
	switch kind {
	case types.GuestKindVM:
		vm, err := node.VirtualMachine(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		if vm.IsStopped() {
			return nil, nil
		}
		return vm.Shutdown(ctx)
	case types.GuestKindContainer:
		ct, err := node.Container(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		return ct.Shutdown(ctx)
	}
	return nil, fmt.Errorf("unknown guest kind %q", kind)
}

func stopTask(ctx context.Context, node *goproxmox.Node, id string, kind types.GuestKind) (*goproxmox.Task, error) {
	switch kind {
	case types.GuestKindVM:
		vm, err := node.VirtualMachine(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		if vm.IsStopped() {
			return nil, nil
		}
		return vm.Stop(ctx)
	case types.GuestKindContainer:
		ct, err := node.Container(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		return ct.Stop(ctx)
	}
	return nil, fmt.Errorf("unknown guest kind %q", kind)
}

func startTask(ctx context.Context, node *goproxmox.Node, id string, kind types.GuestKind) (*goproxmox.Task, error) {
	switch kind {
	case types.GuestKindVM:
		vm, err := node.VirtualMachine(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		if vm.IsPaused() {
			return vm.Resume(ctx)
		}
		if !vm.IsStopped() {
			return nil, nil
		}
		return vm.Start(ctx)
	case types.GuestKindContainer:
		ct, err := node.Container(ctx, mustAtoi(id))
		if err != nil {
			return nil, err
		}
		return ct.Start(ctx)
	}
	return nil, fmt.Errorf("unknown guest kind %q", kind)
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
