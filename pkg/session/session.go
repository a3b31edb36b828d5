// Package session implements the Remote Session (spec §4.2): executing one
// shell command against a named target — a hypervisor or a guest, directly
// reachable or nested through the hypervisor's own SSH client — with
// bounded connect and command timeouts, and a dry-run decorator that
// records intent without touching the network.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/health"
	"github.com/nexops/pvefleet/pkg/log"
	"github.com/nexops/pvefleet/pkg/metrics"
	"github.com/nexops/pvefleet/pkg/types"
)

// Result is the outcome of running one command (spec §4.2). A non-zero
// ExitCode is not itself an error of this layer.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Session executes shell commands against one fixed target.
type Session interface {
	// Run executes command and blocks until it completes, the session's
	// command timeout elapses, or ctx is cancelled.
	Run(ctx context.Context, command string) (Result, error)

	// Target returns a human-readable label for the session's target,
	// used in dry-run log lines and error messages.
	Target() string

	// Close releases the underlying transport.
	Close() error
}

// SSHSession is a Session backed by a real golang.org/x/crypto/ssh
// connection, opening one ssh.Client per Session and one ssh.Session per
// Run call (the upstream library serializes concurrent sessions on one
// client itself; callers must still not issue concurrent Run calls per
// spec §5).
type SSHSession struct {
	client      *ssh.Client
	target      string
	cmdTimeout  time.Duration
	targetKind  string // "host" or "guest", for metrics
}

// DialHypervisor opens a direct SSH connection to a hypervisor.
func DialHypervisor(ctx context.Context, address string, profile types.SSHProfile) (*SSHSession, error) {
	return dial(ctx, address, profile, "host")
}

// DialGuest opens a direct SSH connection to a guest (no via-hypervisor
// forwarding). Use NewViaHypervisor instead when the guest has no
// directly routable address.
func DialGuest(ctx context.Context, address string, creds types.GuestCredentials) (*SSHSession, error) {
	return dial(ctx, address, creds.SSH, "guest")
}

func dial(ctx context.Context, address string, profile types.SSHProfile, kind string) (*SSHSession, error) {
	config, err := clientConfig(profile)
	if err != nil {
		return nil, fmt.Errorf("build ssh config for %s: %w", address, err)
	}

	connectTimeout := time.Duration(profile.ConnectTimeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		metrics.SSHSessionsTotal.WithLabelValues(kind, "unreachable").Inc()
		return nil, fmt.Errorf("dial %s: %w", address, ferrors.ErrUnreachable)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		metrics.SSHSessionsTotal.WithLabelValues(kind, "unreachable").Inc()
		return nil, fmt.Errorf("handshake %s: %w", address, ferrors.ErrUnreachable)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	metrics.SSHSessionsTotal.WithLabelValues(kind, "connected").Inc()

	cmdTimeout := time.Duration(profile.CommandTimeout) * time.Second
	if cmdTimeout <= 0 {
		cmdTimeout = 120 * time.Second
	}

	return &SSHSession{
		client:     client,
		target:     address,
		cmdTimeout: cmdTimeout,
		targetKind: kind,
	}, nil
}

func clientConfig(profile types.SSHProfile) (*ssh.ClientConfig, error) {
	user := profile.User
	if user == "" {
		user = "root"
	}

	var authMethods []ssh.AuthMethod
	if profile.IdentityFile != "" {
		key, err := os.ReadFile(expandHome(profile.IdentityFile))
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}

// Run executes command over a fresh ssh.Session on the shared connection.
func (s *SSHSession) Run(ctx context.Context, command string) (Result, error) {
	start := time.Now()

	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session to %s: %w", s.target, ferrors.ErrTransport)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if ok := asExitError(err, &exitErr); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, fmt.Errorf("run command on %s: %w", s.target, ferrors.ErrTransport)
			}
		}
		logDry := log.WithComponent("ssh")
		logDry.Debug().Str("target", s.target).Str("command", command).Int("exit_code", exitCode).Msg("command completed")
		return Result{
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}, nil
	case <-time.After(s.cmdTimeout):
		sess.Signal(ssh.SIGKILL)
		return Result{}, fmt.Errorf("command on %s exceeded %s: %w", s.target, s.cmdTimeout, ferrors.ErrTimeout)
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// Target returns the dialed address.
func (s *SSHSession) Target() string {
	return s.target
}

// Close closes the underlying SSH connection.
func (s *SSHSession) Close() error {
	return s.client.Close()
}

// RunOutput adapts Session to pkg/health.Runner: a nonzero exit code
// becomes an error carrying the captured stderr.
func RunOutput(ctx context.Context, s Session, command string) (string, error) {
	result, err := s.Run(ctx, command)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return result.Stdout, fmt.Errorf("command %q exited %d: %s", command, result.ExitCode, result.Stderr)
	}
	return result.Stdout, nil
}

// runnerAdapter satisfies pkg/health.Runner by delegating to a Session.
type runnerAdapter struct {
	session Session
}

// AsRunner wraps a Session so it can be used as a pkg/health.Runner.
func AsRunner(s Session) health.Runner {
	return runnerAdapter{session: s}
}

func (r runnerAdapter) Run(ctx context.Context, command string) (string, error) {
	return RunOutput(ctx, r.session, command)
}
